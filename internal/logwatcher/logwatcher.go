// Package logwatcher implements the LogWatcher producer: an fsnotify watch
// over the observed tool's debug-log directory, grounded on
// original_source/.../monitor/log.rs's event loop and
// original_source/.../session/analyzer.rs's content analysis.
package logwatcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/juki-j/claudeminer/internal/config"
	"github.com/juki-j/claudeminer/internal/session"
)

const sessionIDLength = 36 // UUID length, matching extract_session_id's filter

// Watcher tails $debug_dir for debug-log writes and emits debounced LogEvents.
type Watcher struct {
	dir      string
	debounce time.Duration
	events   chan<- session.MonitorEvent
	logger   *log.Logger

	mu            sync.Mutex
	lastProcessed map[string]time.Time
}

// New builds a Watcher over cfg's debug directory.
func New(debugCfg config.DebugConfig, logCfg config.LogWatchConfig, events chan<- session.MonitorEvent, logger *log.Logger) *Watcher {
	return &Watcher{
		dir:           debugCfg.Dir,
		debounce:      logCfg.Debounce,
		events:        events,
		logger:        logger,
		lastProcessed: make(map[string]time.Time),
	}
}

// Run watches the debug directory, creating it if missing, until ctx is
// cancelled. It returns an error if the directory cannot be created or
// watched, or the fsnotify watcher cannot be created; it does not retry.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("ensuring debug dir %s: %w", w.dir, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	w.logger.Printf("[log-watcher] watching %s", w.dir)

	for {
		select {
		case <-ctx.Done():
			w.logger.Printf("[log-watcher] stopping")
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleFSEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("[log-watcher] watch error: %v", err)
		}
	}
}

func (w *Watcher) handleFSEvent(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	sessionID, ok := extractSessionID(ev.Name)
	if !ok {
		return
	}

	now := time.Now()
	if !w.shouldProcess(sessionID, now) {
		return
	}

	logEvent, err := analyzeLogFile(ev.Name, sessionID, now)
	if err != nil {
		w.logger.Printf("[log-watcher] analyzing %s: %v", ev.Name, err)
		return
	}

	w.mu.Lock()
	w.lastProcessed[sessionID] = now
	w.mu.Unlock()

	select {
	case w.events <- logEvent:
	default:
		w.logger.Printf("[log-watcher] event channel full, dropping log event for %s", sessionID)
	}
}

// shouldProcess applies the 200ms-per-session debounce window.
func (w *Watcher) shouldProcess(sessionID string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	last, ok := w.lastProcessed[sessionID]
	if !ok {
		return true
	}
	return now.Sub(last) >= w.debounce
}

// extractSessionID keeps only UUID-shaped (36 char) file stems, matching
// log.rs's extract_session_id.
func extractSessionID(path string) (string, bool) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if len(stem) != sessionIDLength {
		return "", false
	}
	return stem, true
}

func analyzeLogFile(path, sessionID string, now time.Time) (session.LogEvent, error) {
	info, err := os.Stat(path)
	if err != nil {
		return session.LogEvent{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return session.LogEvent{}, err
	}
	content := string(data)

	tail100 := tailLines(content, 100)
	tail50 := tailLines(content, 50)

	return session.LogEvent{
		SessionID:          sessionID,
		PID:                0, // resolved by the coordinator
		Timestamp:          now.Unix(),
		State:              analyzeContent(tail100),
		HasApprovalPending: hasApprovalPending(tail50),
		FileMtime:          info.ModTime().Unix(),
	}, nil
}

// analyzeContent mirrors analyzer.rs's analyze_log_content: scan the last
// 100 lines for the stream-start or compacting markers that indicate active
// work. Everything else resolves to LogUnknown; the coordinator's idle
// guard (mtime + CPU) decides the Working→Resting transition from there.
func analyzeContent(tail100 []string) session.LogState {
	for _, line := range tail100 {
		if strings.Contains(line, "Stream started - received first chunk") {
			return session.ActivelyWorking
		}
		if strings.Contains(strings.ToLower(line), "compacting") {
			return session.ActivelyWorking
		}
	}
	return session.LogUnknown
}

// hasApprovalPending detects the hook-approval-prompt pattern over the last
// 50 lines, matching log.rs's analyze_log_file substring check.
func hasApprovalPending(tail50 []string) bool {
	joined := strings.Join(tail50, "\n")
	return strings.Contains(joined, "executePreToolHooks") &&
		strings.Contains(joined, "Notification") &&
		!strings.Contains(joined, "Tool execution")
}

// tailLines returns up to the last n lines of content, in original order.
func tailLines(content string, n int) []string {
	lines := strings.Split(content, "\n")
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
