// Package session defines the session record, its lifecycle, and the
// event variants producers push onto the coordinator's aggregate channel.
package session

import (
	"strings"

	"github.com/google/uuid"
)

// Origin distinguishes sessions discovered purely by observation from
// those explicitly reported by the observed tool via a hook.
type Origin int

const (
	// Legacy sessions are inferred from the process table or debug-log
	// filesystem; their status is computed by heuristics.
	Legacy Origin = iota
	// Hook sessions are reported by the tool itself; their status is
	// authoritative and heuristics never override it.
	Hook
)

func (o Origin) String() string {
	if o == Hook {
		return "hook"
	}
	return "legacy"
}

// Status is the three-way classification the coordinator assigns to every
// session. It is never "unknown" once a session exists.
type Status int

const (
	Resting Status = iota
	Working
	Zombie
)

func (s Status) String() string {
	switch s {
	case Working:
		return "working"
	case Zombie:
		return "zombie"
	default:
		return "resting"
	}
}

// LogState is the coarse activity signal a LogWatcher tail-read derives
// from a debug-log file's trailing lines.
type LogState int

const (
	LogUnknown LogState = iota
	ActivelyWorking
)

// LogSample is the most recent log-derived snapshot for a session.
type LogSample struct {
	State              LogState
	FileMtime          int64 // seconds since epoch
	HasApprovalPending bool
	SampleTimestamp    int64
}

// CPUSample is the most recent process-table snapshot for a session.
type CPUSample struct {
	CPUPercent      float64
	SampleTimestamp int64 // seconds since epoch
}

// Session is the central entity: one end-to-end interaction lifetime with
// the observed assistant tool.
type Session struct {
	SessionID           string
	PID                 uint32
	Origin              Origin
	LastLogEvent        *LogSample
	LastCPUEvent        *CPUSample
	CurrentStatus       Status
	HasTerminal         bool
	LastUpdate          int64
	LastActiveTimestamp *int64
}

// Clone returns a deep copy so callers can mutate it without affecting the
// coordinator's authoritative record.
func (s *Session) Clone() *Session {
	c := *s
	if s.LastLogEvent != nil {
		ls := *s.LastLogEvent
		c.LastLogEvent = &ls
	}
	if s.LastCPUEvent != nil {
		cs := *s.LastCPUEvent
		c.LastCPUEvent = &cs
	}
	if s.LastActiveTimestamp != nil {
		t := *s.LastActiveTimestamp
		c.LastActiveTimestamp = &t
	}
	return &c
}

// NewLegacySession constructs a freshly discovered Legacy session. Initial
// status is resting and has_terminal defaults true until a probe says
// otherwise.
func NewLegacySession(id string, pid uint32, now int64) *Session {
	return &Session{
		SessionID:     id,
		PID:           pid,
		Origin:        Legacy,
		CurrentStatus: Resting,
		HasTerminal:   true,
		LastUpdate:    now,
	}
}

// NewHookSession constructs a session reported directly by the observed
// tool. Hook sessions start with pid 0; ProcessScanner or the pid→session
// resolver backfills it later.
func NewHookSession(id string, now int64) *Session {
	return &Session{
		SessionID:     id,
		Origin:        Hook,
		CurrentStatus: Resting,
		HasTerminal:   true,
		LastUpdate:    now,
	}
}

// CanUpgradeToHook implements the upgrade law exactly as stated (Testable
// Property #6): len(id) == 36 AND id does not start with "pid-" AND id
// does not start with "$". This must be an explicit length/prefix check,
// not just uuid.Parse: uuid.Parse also accepts 32-char hex-no-dash,
// 38-char braced, and "urn:uuid:"-prefixed forms, all of which are not
// 36 characters long and must be rejected here. uuid.Parse is still used,
// in addition to the length/prefix check, to reject 36-char strings that
// aren't actually well-formed UUIDs.
func CanUpgradeToHook(id string) bool {
	if len(id) != 36 || strings.HasPrefix(id, "pid-") || strings.HasPrefix(id, "$") {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// UpgradeToHook promotes a Legacy session to Hook origin in place, leaving
// every other field (pid, status, samples) untouched. Callers must check
// CanUpgradeToHook first; UpgradeToHook is a no-op if the id is malformed.
func (s *Session) UpgradeToHook() bool {
	if s.Origin == Hook {
		return true
	}
	if !CanUpgradeToHook(s.SessionID) {
		return false
	}
	s.Origin = Hook
	return true
}

// MonitorEvent is the interface implemented by every producer event placed
// on the coordinator's aggregate channel.
type MonitorEvent interface {
	monitorEvent()
}

// LogEvent is produced by the LogWatcher on a debounced debug-log change.
type LogEvent struct {
	SessionID          string
	PID                uint32 // 0 if unresolved; coordinator resolves via the debug-log scan
	Timestamp          int64
	State              LogState
	HasApprovalPending bool
	FileMtime          int64
}

func (LogEvent) monitorEvent() {}

// CPUEvent is produced by the ProcessScanner on a dampened CPU observation.
type CPUEvent struct {
	PID        uint32
	Timestamp  int64
	CPUPercent float64
	// HasTerminal carries the scanner's own TTY/STAT probe result; the
	// coordinator caches it on the session for decide()'s rule 1, and rule 2
	// still re-probes the terminal live.
	HasTerminal bool
}

func (CPUEvent) monitorEvent() {}

// HookEvtKind enumerates the event names the hook protocol carries.
type HookEvtKind string

const (
	HookStart   HookEvtKind = "start"
	HookWorking HookEvtKind = "working"
	HookResting HookEvtKind = "resting"
	HookEnd     HookEvtKind = "end"
	HookKilled  HookEvtKind = "killed"
)

// HookEvent is produced by the HookReceiver from a parsed pipe line.
type HookEvent struct {
	SID       string
	Evt       HookEvtKind
	Timestamp int64
}

func (HookEvent) monitorEvent() {}
