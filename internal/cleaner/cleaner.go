// Package cleaner implements the event-driven session purge described in
// §4.5: a pure sink for CleanupEvent values that is the only component
// besides the coordinator permitted to remove entries from the shared
// session store. It never mutates status.
package cleaner

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/juki-j/claudeminer/internal/session"
)

// CleanupEvent is the interface implemented by every cleanup request the
// coordinator or the periodic timer places on the cleaner's channel.
type CleanupEvent interface {
	cleanupEvent()
}

// ProcessTerminated asks the cleaner to remove every session bound to pid,
// once liveness is reconfirmed dead.
type ProcessTerminated struct{ PID uint32 }

func (ProcessTerminated) cleanupEvent() {}

// SessionBecameZombie asks the cleaner to verify liveness of a single
// session's pid and remove it if dead. Sessions with pid 0 are left alone
// (a Hook session still awaiting pid discovery).
type SessionBecameZombie struct{ SessionID string }

func (SessionBecameZombie) cleanupEvent() {}

// CheckDeadSessions scans every session and removes those with a non-zero
// pid whose process is gone.
type CheckDeadSessions struct{}

func (CheckDeadSessions) cleanupEvent() {}

// CleanupZombies removes sessions with CurrentStatus == Zombie whose
// process is confirmed gone, plus any "pid-" temporary session that is
// marked zombie outright.
type CleanupZombies struct{}

func (CleanupZombies) cleanupEvent() {}

// ForceCleanup unconditionally removes a session.
type ForceCleanup struct{ SessionID string }

func (ForceCleanup) cleanupEvent() {}

// LivenessProbe reports whether pid still refers to a running process.
// A pid of 0 is always reported dead.
type LivenessProbe func(pid uint32) bool

// Cleaner drains a CleanupEvent channel and mutates store under the
// removal-only contract of §5 and §9.
type Cleaner struct {
	store   *session.Store
	isAlive LivenessProbe
	logger  *log.Logger
}

// New constructs a Cleaner. isAlive is typically backed by
// gopsutil/process.PidExists; with a nil isAlive every pid is treated as
// dead.
func New(store *session.Store, isAlive LivenessProbe, logger *log.Logger) *Cleaner {
	if logger == nil {
		logger = log.Default()
	}
	return &Cleaner{store: store, isAlive: isAlive, logger: logger}
}

// Run blocks draining events until ctx is canceled or the channel closes,
// matching the reference implementation's "channel closed, shutting down"
// shutdown discipline.
func (c *Cleaner) Run(ctx context.Context, events <-chan CleanupEvent) {
	c.logger.Printf("[cleaner] started in event-driven mode")
	for {
		select {
		case <-ctx.Done():
			c.logger.Printf("[cleaner] context canceled, shutting down")
			return
		case ev, ok := <-events:
			if !ok {
				c.logger.Printf("[cleaner] channel closed, shutting down")
				return
			}
			c.handle(ev)
		}
	}
}

func (c *Cleaner) handle(ev CleanupEvent) {
	switch e := ev.(type) {
	case ProcessTerminated:
		c.cleanupTerminatedProcess(e.PID)
	case SessionBecameZombie:
		c.cleanupZombieSession(e.SessionID)
	case CheckDeadSessions:
		c.checkAndCleanupDeadSessions()
	case CleanupZombies:
		c.cleanupAllZombies()
	case ForceCleanup:
		c.forceCleanupSession(e.SessionID)
	}
}

func (c *Cleaner) cleanupTerminatedProcess(pid uint32) {
	var dead []string
	for _, s := range c.store.GetAll() {
		if s.PID == pid && !c.alive(pid) {
			dead = append(dead, s.SessionID)
		}
	}
	if len(dead) == 0 {
		return
	}
	c.store.BatchRemoveAndNotify(dead, func() {
		c.logger.Printf("[cleaner] removed %d session(s) for terminated pid %d", len(dead), pid)
	})
}

func (c *Cleaner) cleanupZombieSession(sessionID string) {
	s, ok := c.store.Get(sessionID)
	if !ok {
		return
	}
	if s.PID == 0 {
		return
	}
	if c.alive(s.PID) {
		return
	}
	c.store.BatchRemoveAndNotify([]string{sessionID}, func() {
		c.logger.Printf("[cleaner] removed zombie session %s (pid %d confirmed dead)", sessionID, s.PID)
	})
}

func (c *Cleaner) checkAndCleanupDeadSessions() {
	var dead []string
	for _, s := range c.store.GetAll() {
		if s.PID == 0 {
			continue
		}
		if !c.alive(s.PID) {
			dead = append(dead, s.SessionID)
		}
	}
	if len(dead) == 0 {
		return
	}
	c.store.BatchRemoveAndNotify(dead, func() {
		c.logger.Printf("[cleaner] cleaned up %d dead session(s)", len(dead))
	})
}

func (c *Cleaner) cleanupAllZombies() {
	var zombies []string
	for _, s := range c.store.GetAll() {
		if strings.HasPrefix(s.SessionID, "pid-") && s.CurrentStatus == session.Zombie {
			zombies = append(zombies, s.SessionID)
			continue
		}
		if s.CurrentStatus == session.Zombie && (s.PID == 0 || !c.alive(s.PID)) {
			zombies = append(zombies, s.SessionID)
		}
	}
	if len(zombies) == 0 {
		return
	}
	c.store.BatchRemoveAndNotify(zombies, func() {
		c.logger.Printf("[cleaner] cleaned up %d zombie session(s)", len(zombies))
	})
}

func (c *Cleaner) forceCleanupSession(sessionID string) {
	c.store.BatchRemoveAndNotify([]string{sessionID}, func() {
		c.logger.Printf("[cleaner] force removed session %s", sessionID)
	})
}

func (c *Cleaner) alive(pid uint32) bool {
	if pid == 0 || c.isAlive == nil {
		return false
	}
	return c.isAlive(pid)
}

// StartPeriodicTimer enqueues CheckDeadSessions then CleanupZombies on the
// given interval as a fallback to the event-driven triggers (§4.5: "A timer
// thread enqueues CheckDeadSessions and CleanupZombies every 15s"). It
// returns once ctx is canceled.
func StartPeriodicTimer(ctx context.Context, events chan<- CleanupEvent, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case events <- CheckDeadSessions{}:
			case <-ctx.Done():
				return
			}
			select {
			case events <- CleanupZombies{}:
			case <-ctx.Done():
				return
			}
		}
	}
}
