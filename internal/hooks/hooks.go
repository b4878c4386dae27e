// Package hooks installs and verifies the Claude Code hook commands that
// feed the HookReceiver, grounded on original_source/.../hooks/manager.rs.
package hooks

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Hook is a single Claude Code hook command entry.
type Hook struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// HookConfig groups a matcher with the hooks it triggers.
type HookConfig struct {
	Matcher string `json:"matcher"`
	Hooks   []Hook `json:"hooks"`
}

// HookEvents is the subset of Claude Code's settings.json hook table
// ClaudeMiner participates in.
type HookEvents struct {
	SessionStart     []HookConfig `json:"SessionStart,omitempty"`
	UserPromptSubmit []HookConfig `json:"UserPromptSubmit,omitempty"`
	Stop             []HookConfig `json:"Stop,omitempty"`
	SessionEnd       []HookConfig `json:"SessionEnd,omitempty"`
}

// Settings mirrors Claude Code's settings.json. Go has no serde(flatten)
// equivalent, so unrecognized top-level keys are preserved in Extra and
// re-emitted verbatim by MarshalJSON/UnmarshalJSON.
type Settings struct {
	Hooks HookEvents
	Extra map[string]json.RawMessage
}

func (s Settings) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.Extra)+1)
	for k, v := range s.Extra {
		out[k] = v
	}
	hooksJSON, err := json.Marshal(s.Hooks)
	if err != nil {
		return nil, err
	}
	out["hooks"] = hooksJSON
	return json.MarshalIndent(out, "", "  ")
}

func (s *Settings) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if hooksRaw, ok := raw["hooks"]; ok {
		if err := json.Unmarshal(hooksRaw, &s.Hooks); err != nil {
			return fmt.Errorf("parsing hooks: %w", err)
		}
		delete(raw, "hooks")
	}
	s.Extra = raw
	return nil
}

// Manager installs, verifies, and removes ClaudeMiner's hook commands from
// a Claude Code settings.json file.
type Manager struct {
	settingsPath string
	pipePath     string
	logger       *log.Logger
}

// New builds a Manager targeting settingsPath, wiring hook commands that
// write to pipePath.
func New(settingsPath, pipePath string, logger *log.Logger) *Manager {
	return &Manager{settingsPath: settingsPath, pipePath: pipePath, logger: logger}
}

// createHookCommand builds the exact shell command Claude Code runs,
// matching manager.rs's create_hook_command.
func (m *Manager) createHookCommand(eventName string) string {
	return fmt.Sprintf(`echo '{"sid":"$SESSION_ID","evt":"%s"}' > %s`, eventName, m.pipePath)
}

// ReadSettings loads settings.json, or an empty-hooks default if the file
// does not exist yet.
func (m *Manager) ReadSettings() (*Settings, error) {
	data, err := os.ReadFile(m.settingsPath)
	if os.IsNotExist(err) {
		return &Settings{Extra: map[string]json.RawMessage{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", m.settingsPath, err)
	}

	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", m.settingsPath, err)
	}
	return &settings, nil
}

// WriteSettings backs up any existing settings.json to a ".json.backup"
// sibling, then writes the new contents.
func (m *Manager) WriteSettings(settings *Settings) error {
	if _, err := os.Stat(m.settingsPath); err == nil {
		backupPath := strings.TrimSuffix(m.settingsPath, filepath.Ext(m.settingsPath)) + ".json.backup"
		data, err := os.ReadFile(m.settingsPath)
		if err != nil {
			return fmt.Errorf("backing up %s: %w", m.settingsPath, err)
		}
		if err := os.WriteFile(backupPath, data, 0o644); err != nil {
			return fmt.Errorf("writing backup %s: %w", backupPath, err)
		}
		m.logger.Printf("[hooks] created backup at %s", backupPath)
	}

	if dir := filepath.Dir(m.settingsPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := os.WriteFile(m.settingsPath, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", m.settingsPath, err)
	}
	m.logger.Printf("[hooks] updated settings.json at %s", m.settingsPath)
	return nil
}

// hasClaudeminerHooks reports whether any hook command already targets our
// pipe, matching manager.rs's has_claudeminer_hooks.
func (m *Manager) hasClaudeminerHooks(settings *Settings) bool {
	groups := [][]HookConfig{
		settings.Hooks.SessionStart,
		settings.Hooks.UserPromptSubmit,
		settings.Hooks.Stop,
		settings.Hooks.SessionEnd,
	}
	for _, configs := range groups {
		for _, cfg := range configs {
			for _, h := range cfg.Hooks {
				if strings.Contains(h.Command, m.pipePath) {
					return true
				}
			}
		}
	}
	return false
}

// addHook drops any existing ClaudeMiner hook from configs and appends a
// fresh one wired to eventName.
func (m *Manager) addHook(configs []HookConfig, eventName string) []HookConfig {
	kept := configs[:0:0]
	for _, cfg := range configs {
		isOurs := false
		for _, h := range cfg.Hooks {
			if strings.Contains(h.Command, m.pipePath) {
				isOurs = true
				break
			}
		}
		if !isOurs {
			kept = append(kept, cfg)
		}
	}
	return append(kept, HookConfig{
		Matcher: "*",
		Hooks:   []Hook{{Type: "command", Command: m.createHookCommand(eventName)}},
	})
}

func (m *Manager) removeHooks(configs []HookConfig) []HookConfig {
	kept := configs[:0:0]
	for _, cfg := range configs {
		isOurs := false
		for _, h := range cfg.Hooks {
			if strings.Contains(h.Command, m.pipePath) {
				isOurs = true
				break
			}
		}
		if !isOurs {
			kept = append(kept, cfg)
		}
	}
	return kept
}

// RegisterHooks (re)installs ClaudeMiner's four hook commands.
func (m *Manager) RegisterHooks() error {
	m.logger.Printf("[hooks] registering claudeminer hooks")

	settings, err := m.ReadSettings()
	if err != nil {
		return err
	}

	settings.Hooks.SessionStart = m.addHook(settings.Hooks.SessionStart, "start")
	settings.Hooks.UserPromptSubmit = m.addHook(settings.Hooks.UserPromptSubmit, "working")
	settings.Hooks.Stop = m.addHook(settings.Hooks.Stop, "resting")
	settings.Hooks.SessionEnd = m.addHook(settings.Hooks.SessionEnd, "end")

	if err := m.WriteSettings(settings); err != nil {
		return err
	}
	m.logger.Printf("[hooks] successfully registered claudeminer hooks")
	return nil
}

// UnregisterHooks removes ClaudeMiner's hook commands, leaving everything
// else in settings.json untouched.
func (m *Manager) UnregisterHooks() error {
	m.logger.Printf("[hooks] unregistering claudeminer hooks")

	settings, err := m.ReadSettings()
	if err != nil {
		return err
	}

	settings.Hooks.SessionStart = m.removeHooks(settings.Hooks.SessionStart)
	settings.Hooks.UserPromptSubmit = m.removeHooks(settings.Hooks.UserPromptSubmit)
	settings.Hooks.Stop = m.removeHooks(settings.Hooks.Stop)
	settings.Hooks.SessionEnd = m.removeHooks(settings.Hooks.SessionEnd)

	if err := m.WriteSettings(settings); err != nil {
		return err
	}
	m.logger.Printf("[hooks] successfully unregistered claudeminer hooks")
	return nil
}

// EnsureRegistered installs the hooks only if they aren't already present.
func (m *Manager) EnsureRegistered() error {
	settings, err := m.ReadSettings()
	if err != nil {
		return err
	}
	if m.hasClaudeminerHooks(settings) {
		m.logger.Printf("[hooks] claudeminer hooks already registered")
		return nil
	}
	m.logger.Printf("[hooks] claudeminer hooks not found, registering")
	return m.RegisterHooks()
}

// VerifyHooks reports whether ClaudeMiner's hooks are currently registered.
func (m *Manager) VerifyHooks() (bool, error) {
	settings, err := m.ReadSettings()
	if err != nil {
		return false, err
	}
	registered := m.hasClaudeminerHooks(settings)
	if registered {
		m.logger.Printf("[hooks] hooks are properly registered")
	} else {
		m.logger.Printf("[hooks] hooks are not registered")
	}
	return registered, nil
}
