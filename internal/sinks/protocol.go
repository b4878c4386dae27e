// Package sinks implements the "sinks adapter" share of the system: the
// lifecycle-event broadcast to the UI shell and the list_sessions /
// kill_miner command surface (§6). The notification sink itself — desktop
// delivery mechanics — is an excluded collaborator; this package only
// defines its interface and a logging stub.
package sinks

import "github.com/juki-j/claudeminer/internal/session"

// MessageType classifies an outbound WebSocket message.
type MessageType string

const (
	MsgSnapshot      MessageType = "snapshot"
	MsgCreated       MessageType = "session-created"
	MsgStatusChanged MessageType = "session-status-changed"
	MsgTerminated    MessageType = "session-terminated"
	MsgError         MessageType = "error"
)

// WSMessage is the envelope every lifecycle broadcast travels in. Seq is a
// monotonic per-broadcaster sequence number the UI can use to detect gaps.
type WSMessage struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq"`
	Payload interface{} `json:"payload"`
}

// MinerView is the UI-facing session shape from §6's list_sessions:
// Miner = {pid, cpu_usage, memory_bytes, status, has_terminal, name}.
type MinerView struct {
	PID         uint32  `json:"pid"`
	CPUUsage    float64 `json:"cpuUsage"`
	MemoryBytes uint64  `json:"memoryBytes"`
	Status      string  `json:"status"`
	HasTerminal bool    `json:"hasTerminal"`
	Name        string  `json:"name"`
}

// NewMinerView projects a Session into the UI-facing shape. memoryBytes is
// supplied by the caller (typically a live gopsutil lookup at query time,
// since the coordinator's session record does not retain memory samples).
func NewMinerView(s *session.Session, memoryBytes uint64) MinerView {
	cpu := 0.0
	if s.LastCPUEvent != nil {
		cpu = s.LastCPUEvent.CPUPercent
	}
	return MinerView{
		PID:         s.PID,
		CPUUsage:    cpu,
		MemoryBytes: memoryBytes,
		Status:      s.CurrentStatus.String(),
		HasTerminal: s.HasTerminal,
		Name:        s.SessionID,
	}
}

// SnapshotPayload carries the full current session list.
type SnapshotPayload struct {
	Sessions []MinerView `json:"sessions"`
}

// CreatedPayload accompanies MsgCreated.
type CreatedPayload struct {
	Session MinerView `json:"session"`
}

// StatusChangedPayload accompanies MsgStatusChanged.
type StatusChangedPayload struct {
	SessionID string    `json:"sessionId"`
	OldStatus string    `json:"oldStatus"`
	Session   MinerView `json:"session"`
}

// TerminatedPayload accompanies MsgTerminated.
type TerminatedPayload struct {
	SessionID string `json:"sessionId"`
}

// IsListable reports whether a session should appear in list_sessions
// output: sessions with pid=0 that are not working are filtered out, as
// are sessions with the literal placeholder id "$SESSION_ID" (§6).
func IsListable(s *session.Session) bool {
	if s.SessionID == "$SESSION_ID" {
		return false
	}
	if s.PID == 0 && s.CurrentStatus != session.Working {
		return false
	}
	return true
}
