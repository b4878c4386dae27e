package hooks

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *log.Logger { return log.New(discardWriter{}, "", 0) }

func TestCreateHookCommandEmbedsEventAndPipe(t *testing.T) {
	m := New("/tmp/settings.json", "/tmp/claudeminer_pipe", testLogger())
	cmd := m.createHookCommand("start")
	if !strings.Contains(cmd, `"evt":"start"`) || !strings.Contains(cmd, "/tmp/claudeminer_pipe") {
		t.Errorf("unexpected hook command: %q", cmd)
	}
}

func TestReadSettingsMissingFileReturnsEmptyDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	m := New(path, "/tmp/claudeminer_pipe", testLogger())

	settings, err := m.ReadSettings()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(settings.Hooks.SessionStart) != 0 {
		t.Error("expected no hooks in a default settings struct")
	}
}

func TestHasClaudeminerHooksInitiallyFalse(t *testing.T) {
	m := New("/tmp/settings.json", "/tmp/claudeminer_pipe", testLogger())
	settings := &Settings{Extra: map[string]json.RawMessage{}}
	if m.hasClaudeminerHooks(settings) {
		t.Error("expected no hooks registered on a fresh settings struct")
	}
}

func TestRegisterHooksIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	m := New(path, "/tmp/claudeminer_pipe", testLogger())

	if err := m.RegisterHooks(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.RegisterHooks(); err != nil {
		t.Fatalf("unexpected error on second registration: %v", err)
	}

	settings, err := m.ReadSettings()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(settings.Hooks.SessionStart) != 1 {
		t.Errorf("expected exactly one SessionStart hook config after re-registering, got %d", len(settings.Hooks.SessionStart))
	}
	registered, err := m.VerifyHooks()
	if err != nil || !registered {
		t.Errorf("expected hooks to verify as registered, got (%v, %v)", registered, err)
	}
}

func TestRegisterHooksPreservesUnrelatedSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"theme":"dark","other":{"nested":true}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m := New(path, "/tmp/claudeminer_pipe", testLogger())

	if err := m.RegisterHooks(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"theme"`) || !strings.Contains(string(data), `"dark"`) {
		t.Errorf("expected unrelated top-level settings preserved, got %s", data)
	}
}

func TestRegisterHooksCreatesBackupOfExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m := New(path, "/tmp/claudeminer_pipe", testLogger())

	if err := m.RegisterHooks(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(strings.TrimSuffix(path, ".json") + ".json.backup"); err != nil {
		t.Errorf("expected a .json.backup file to be created: %v", err)
	}
}

func TestUnregisterHooksRemovesOnlyOurHooks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	m := New(path, "/tmp/claudeminer_pipe", testLogger())

	if err := m.RegisterHooks(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.UnregisterHooks(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	settings, err := m.ReadSettings()
	if err != nil {
		t.Fatal(err)
	}
	if len(settings.Hooks.SessionStart) != 0 {
		t.Errorf("expected hooks fully removed, got %+v", settings.Hooks.SessionStart)
	}
}

func TestEnsureRegisteredSkipsWhenAlreadyPresent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	m := New(path, "/tmp/claudeminer_pipe", testLogger())

	if err := m.RegisterHooks(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.EnsureRegistered(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	settings, err := m.ReadSettings()
	if err != nil {
		t.Fatal(err)
	}
	if len(settings.Hooks.SessionStart) != 1 {
		t.Errorf("expected EnsureRegistered to stay idempotent, got %d configs", len(settings.Hooks.SessionStart))
	}
}
