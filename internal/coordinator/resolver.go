package coordinator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// PIDCache resolves a pid to the session id of the debug-log file that
// mentions it, caching hits. Grounded on
// session/finder.rs's find_session_id_for_pid: the lock guards only the
// map itself and is never held across the directory scan (§5's "the
// helper clones the needed entries, drops, then reads" rule).
type PIDCache struct {
	mu  sync.Mutex
	m   map[uint32]string
	dir string
}

// NewPIDCache builds a cache rooted at dir (the debug-log directory). If
// dir is empty, DefaultDebugDir is used.
func NewPIDCache(dir string) *PIDCache {
	if dir == "" {
		dir = DefaultDebugDir()
	}
	return &PIDCache{m: make(map[uint32]string), dir: dir}
}

// DefaultDebugDir returns $HOME/.claude/debug (or %USERPROFILE%\.claude\debug
// on Windows, via os.UserHomeDir).
func DefaultDebugDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "debug")
}

// Resolve returns the session id associated with pid, or "" if none is
// found. A successful lookup is cached for the lifetime of the cache.
func (c *PIDCache) Resolve(pid uint32) (string, bool) {
	c.mu.Lock()
	if sid, ok := c.m[pid]; ok {
		c.mu.Unlock()
		return sid, true
	}
	dir := c.dir
	c.mu.Unlock()

	if dir == "" {
		return "", false
	}

	sid, ok := findSessionIDForPID(dir, pid)
	if !ok {
		return "", false
	}

	c.mu.Lock()
	c.m[pid] = sid
	c.mu.Unlock()
	return sid, true
}

func findSessionIDForPID(dir string, pid uint32) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	pattern := fmt.Sprintf(".tmp.%d.", pid)

	var bestPath string
	var bestMtime time.Time
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".txt" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil || !strings.Contains(string(data), pattern) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if bestPath == "" || info.ModTime().After(bestMtime) {
			bestPath = path
			bestMtime = info.ModTime()
		}
	}

	if bestPath == "" {
		return "", false
	}
	stem := strings.TrimSuffix(filepath.Base(bestPath), filepath.Ext(bestPath))
	return stem, true
}
