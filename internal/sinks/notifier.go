package sinks

import "log"

// Notifier is the desktop-notification collaborator referenced in §1's
// component list. Actual delivery (platform notification centers, sound,
// etc.) is an excluded collaborator; only the interface the coordinator
// depends on is in scope here, plus a logging stand-in for local runs.
type Notifier interface {
	ZombieKilled(sessionID string, pid uint32)
	TaskCompleted(sessionID string)
}

// LogNotifier satisfies Notifier by writing a line to a *log.Logger. It is
// the default wired in cmd/claudeminerd until a platform-native sink
// replaces it.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) ZombieKilled(sessionID string, pid uint32) {
	n.logger.Printf("[notify] zombie session %s (pid %d) reaped", sessionID, pid)
}

func (n *LogNotifier) TaskCompleted(sessionID string) {
	n.logger.Printf("[notify] session %s finished its task", sessionID)
}
