package logwatcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juki-j/claudeminer/internal/session"
)

func TestExtractSessionIDAcceptsUUIDShape(t *testing.T) {
	id, ok := extractSessionID("/home/.claude/debug/286e962f-c045-4274-8f37-c4e41fb6104a.txt")
	if !ok || id != "286e962f-c045-4274-8f37-c4e41fb6104a" {
		t.Errorf("extractSessionID = (%q, %v), want the 36-char stem", id, ok)
	}
}

func TestExtractSessionIDRejectsWrongLength(t *testing.T) {
	if _, ok := extractSessionID("/home/.claude/debug/short.txt"); ok {
		t.Error("expected a non-UUID-length stem to be rejected")
	}
}

func TestAnalyzeContentDetectsStreamStarted(t *testing.T) {
	tail := []string{"some line", "Stream started - received first chunk", "trailing"}
	if got := analyzeContent(tail); got != session.ActivelyWorking {
		t.Errorf("expected ActivelyWorking, got %v", got)
	}
}

func TestAnalyzeContentDetectsCompactingCaseInsensitive(t *testing.T) {
	tail := []string{"Database COMPACTING in progress"}
	if got := analyzeContent(tail); got != session.ActivelyWorking {
		t.Errorf("expected ActivelyWorking, got %v", got)
	}
}

func TestAnalyzeContentDefaultsToUnknown(t *testing.T) {
	tail := []string{"nothing interesting here"}
	if got := analyzeContent(tail); got != session.LogUnknown {
		t.Errorf("expected LogUnknown, got %v", got)
	}
}

func TestHasApprovalPendingRequiresAllThreeConditions(t *testing.T) {
	tail := []string{"executePreToolHooks fired", "Notification sent"}
	if !hasApprovalPending(tail) {
		t.Error("expected approval-pending pattern to match")
	}
}

func TestHasApprovalPendingFalseWhenToolExecutionPresent(t *testing.T) {
	tail := []string{"executePreToolHooks fired", "Notification sent", "Tool execution complete"}
	if hasApprovalPending(tail) {
		t.Error("Tool execution presence should suppress the approval-pending signal")
	}
}

func TestTailLinesTruncatesFromEnd(t *testing.T) {
	content := "a\nb\nc\nd\ne"
	got := tailLines(content, 2)
	if len(got) != 2 || got[0] != "d" || got[1] != "e" {
		t.Errorf("tailLines(content, 2) = %v, want [d e]", got)
	}
}

func TestTailLinesShorterThanWindowReturnsAll(t *testing.T) {
	content := "a\nb"
	got := tailLines(content, 50)
	if len(got) != 2 {
		t.Errorf("expected all lines returned, got %v", got)
	}
}

func TestAnalyzeLogFileReadsMtimeAndContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "286e962f-c045-4274-8f37-c4e41fb6104a.txt")
	if err := os.WriteFile(path, []byte("Stream started - received first chunk\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ev, err := analyzeLogFile(path, "286e962f-c045-4274-8f37-c4e41fb6104a", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.State != session.ActivelyWorking {
		t.Errorf("expected ActivelyWorking state, got %v", ev.State)
	}
	if ev.PID != 0 {
		t.Errorf("expected pid to be unresolved (0), got %d", ev.PID)
	}
}

func TestShouldProcessDebounces(t *testing.T) {
	w := &Watcher{debounce: 200 * time.Millisecond, lastProcessed: map[string]time.Time{}}
	now := time.Now()

	if !w.shouldProcess("s1", now) {
		t.Error("expected first event for a session to be processed")
	}
	w.lastProcessed["s1"] = now

	if w.shouldProcess("s1", now.Add(50*time.Millisecond)) {
		t.Error("expected an event within the debounce window to be skipped")
	}
	if !w.shouldProcess("s1", now.Add(250*time.Millisecond)) {
		t.Error("expected an event past the debounce window to be processed")
	}
}
