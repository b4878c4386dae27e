// Package coordinator implements the single serial consumer of the
// aggregate MonitorEvent channel (§4.1): it owns the authoritative,
// coordinator-private session map, applies the decide() status ladder,
// mirrors mutations into the shared session.Store, and drives the
// lifecycle-event sink and the cleanup channel.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/juki-j/claudeminer/internal/cleaner"
	"github.com/juki-j/claudeminer/internal/session"
)

// Sink receives lifecycle events. sinks.Broadcaster satisfies this
// interface structurally.
type Sink interface {
	SessionCreated(*session.Session)
	StatusChanged(s *session.Session, old session.Status)
	SessionTerminated(sessionID string)
}

// Notifier receives out-of-band notification requests. sinks.LogNotifier
// (and any platform-native replacement) satisfies this structurally.
type Notifier interface {
	TaskCompleted(sessionID string)
	ZombieKilled(sessionID string, pid uint32)
}

const (
	summaryInterval   = 30 * time.Second
	staleSweepMinSize = 100
	staleTimeoutSecs  = 3600
	cpuSampleMaxAge   = 10 // seconds
	legacyIdleMtime   = 45 // seconds
	legacyIdleUpdate  = 60 // seconds
	logActiveMtimeMax = 30 // seconds
	logFreshPidWindow = 5  // seconds
)

// Coordinator consumes the aggregate event channel serially and owns the
// only mutable copy of session state; session.Store is a read-mostly
// mirror for everyone else.
type Coordinator struct {
	sessions  map[string]*session.Session
	announced map[string]bool

	store         *session.Store
	cleanupEvents chan<- cleaner.CleanupEvent
	sink          Sink
	notifier      Notifier
	pidCache      *PIDCache
	isAlive       cleaner.LivenessProbe
	probeTerminal func(pid uint32) bool
	clock         func() int64
	logger        *log.Logger

	eventCount  int
	lastSummary int64
}

// New constructs a Coordinator. isAlive, pidCache, and probeTerminal may be
// nil, in which case dead-pid filtering, unknown-pid resolution, and the
// rule-2 live TTY re-probe are skipped respectively (suitable for unit
// tests that never exercise those paths).
func New(store *session.Store, cleanupEvents chan<- cleaner.CleanupEvent, sink Sink, notifier Notifier, pidCache *PIDCache, isAlive cleaner.LivenessProbe, probeTerminal func(pid uint32) bool, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		sessions:      make(map[string]*session.Session),
		announced:     make(map[string]bool),
		store:         store,
		cleanupEvents: cleanupEvents,
		sink:          sink,
		notifier:      notifier,
		pidCache:      pidCache,
		isAlive:       isAlive,
		probeTerminal: probeTerminal,
		clock:         func() int64 { return time.Now().Unix() },
		logger:        logger,
		lastSummary:   time.Now().Unix(),
	}
}

// Run drains events until the channel closes, matching the
// channel-disconnect-is-orderly-shutdown discipline of §5/§7.
func (c *Coordinator) Run(ctx context.Context, events <-chan session.MonitorEvent) {
	c.logger.Printf("[coordinator] started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Printf("[coordinator] context canceled, shutting down")
			return
		case ev, ok := <-events:
			if !ok {
				c.logger.Printf("[coordinator] channel disconnected, shutting down")
				return
			}
			c.handle(ev)
		}
	}
}

func (c *Coordinator) handle(ev session.MonitorEvent) {
	c.eventCount++
	now := c.clock()

	switch e := ev.(type) {
	case session.LogEvent:
		c.handleLogEvent(e, now)
	case session.CPUEvent:
		c.handleCPUEvent(e, now)
	case session.HookEvent:
		c.handleHookEvent(e, now)
	}

	c.mirrorAndReconcile()
	sweepDue := now-c.lastSummary >= int64(summaryInterval.Seconds())
	c.maybeSummarize(now)
	if sweepDue || len(c.sessions) > staleSweepMinSize {
		c.cleanupStaleSessions(now)
	}
}

// ensureCreated emits session-created exactly once per session id, and
// only once a non-zero pid is known for Legacy sessions (§4.1 per-event
// LogEvent rule); Hook sessions announce immediately since their pid is
// discovered later by CPU-event resolution.
func (c *Coordinator) ensureCreated(s *session.Session) {
	if c.announced[s.SessionID] {
		return
	}
	if s.Origin == session.Legacy && s.PID == 0 {
		return
	}
	c.announced[s.SessionID] = true
	if c.sink != nil {
		c.sink.SessionCreated(s.Clone())
	}
}

func (c *Coordinator) setStatus(s *session.Session, newStatus session.Status) {
	old := s.CurrentStatus
	if newStatus == old {
		return
	}
	s.CurrentStatus = newStatus
	if c.sink != nil {
		c.sink.StatusChanged(s.Clone(), old)
	}
	if newStatus == session.Zombie {
		c.enqueueCleanup(cleaner.SessionBecameZombie{SessionID: s.SessionID})
	}
}

func (c *Coordinator) enqueueCleanup(ev cleaner.CleanupEvent) {
	if c.cleanupEvents == nil {
		return
	}
	select {
	case c.cleanupEvents <- ev:
	default:
		c.logger.Printf("[coordinator] cleanup channel full, dropping %T", ev)
	}
}

// handleLogEvent implements §4.1's LogEvent per-event behavior: dead-pid
// drop, pid-<P> temporary-session merge, new-Legacy-session creation, and
// re-decision.
func (c *Coordinator) handleLogEvent(e session.LogEvent, now int64) {
	if e.PID != 0 && c.isAlive != nil && !c.isAlive(e.PID) {
		c.logger.Printf("[coordinator] dropping log event for dead pid %d", e.PID)
		return
	}

	s, exists := c.sessions[e.SessionID]
	if !exists && e.PID != 0 {
		tempID := fmt.Sprintf("pid-%d", e.PID)
		if temp, ok := c.sessions[tempID]; ok && temp.PID == e.PID {
			delete(c.sessions, tempID)
			c.store.Remove(tempID)
			if c.announced[tempID] {
				delete(c.announced, tempID)
				c.announced[e.SessionID] = true
			}
			temp.SessionID = e.SessionID
			c.sessions[e.SessionID] = temp
			s = temp
			exists = true
		}
	}
	if !exists {
		s = session.NewLegacySession(e.SessionID, e.PID, now)
		c.sessions[e.SessionID] = s
	}

	if s.PID != 0 && c.isAlive != nil && !c.isAlive(s.PID) {
		c.logger.Printf("[coordinator] existing session %s has dead pid %d, skipping update", s.SessionID, s.PID)
		return
	}

	if e.PID != 0 && s.PID == 0 {
		s.PID = e.PID
	}
	s.LastLogEvent = &session.LogSample{
		State:              e.State,
		FileMtime:          e.FileMtime,
		HasApprovalPending: e.HasApprovalPending,
		SampleTimestamp:    e.Timestamp,
	}
	s.LastUpdate = now

	c.ensureCreated(s)
	c.setStatus(s, decide(s, now, c.probeTerminal))
}

// handleCPUEvent implements §4.1's CpuEvent per-event behavior: known-pid
// update, unknown-pid resolution via the debug-log scan, and the
// temporary pid-<P> session fallback when resolution fails.
func (c *Coordinator) handleCPUEvent(e session.CPUEvent, now int64) {
	var s *session.Session
	for _, cand := range c.sessions {
		if cand.PID == e.PID {
			s = cand
			break
		}
	}

	if s == nil {
		if c.pidCache != nil {
			if sid, ok := c.pidCache.Resolve(e.PID); ok {
				if existing, ok2 := c.sessions[sid]; ok2 {
					s = existing
					if s.PID == 0 {
						s.PID = e.PID
					}
				} else {
					s = session.NewLegacySession(sid, e.PID, now)
					c.sessions[sid] = s
				}
			}
		}
	}

	if s == nil {
		tempID := fmt.Sprintf("pid-%d", e.PID)
		if existing, ok := c.sessions[tempID]; ok {
			s = existing
		} else {
			s = session.NewLegacySession(tempID, e.PID, now)
			c.sessions[tempID] = s
		}
	}

	s.LastCPUEvent = &session.CPUSample{CPUPercent: e.CPUPercent, SampleTimestamp: e.Timestamp}
	s.HasTerminal = e.HasTerminal
	s.LastUpdate = now
	if e.CPUPercent > 1.0 {
		ts := now
		s.LastActiveTimestamp = &ts
	}

	c.ensureCreated(s)
	c.setStatus(s, decide(s, now, c.probeTerminal))
}

// handleHookEvent implements §4.1's HookEvent per-event behavior. Hook
// state is authoritative: it bypasses decide() entirely (rule 3 would
// just hand status back unchanged anyway).
func (c *Coordinator) handleHookEvent(e session.HookEvent, now int64) {
	if e.Evt == session.HookKilled {
		if c.notifier != nil {
			c.notifier.ZombieKilled(e.SID, parsePIDFromKilled(e.SID))
		}
		return
	}

	if e.SID == "" || e.SID == "$SESSION_ID" {
		return
	}

	switch e.Evt {
	case session.HookStart:
		s, exists := c.sessions[e.SID]
		if !exists {
			s = session.NewHookSession(e.SID, now)
			c.sessions[e.SID] = s
		} else {
			s.UpgradeToHook()
		}
		s.LastUpdate = now
		c.ensureCreated(s)
		c.setStatus(s, session.Resting)

	case session.HookWorking, session.HookResting:
		s, exists := c.sessions[e.SID]
		if !exists {
			s = session.NewHookSession(e.SID, now)
			c.sessions[e.SID] = s
		}
		old := s.CurrentStatus
		s.LastUpdate = now
		c.ensureCreated(s)

		var next session.Status
		if e.Evt == session.HookWorking {
			next = session.Working
		} else {
			next = session.Resting
		}
		c.setStatus(s, next)

		if old == session.Working && next == session.Resting && c.notifier != nil {
			c.notifier.TaskCompleted(e.SID)
		}

	case session.HookEnd:
		if _, exists := c.sessions[e.SID]; exists {
			delete(c.sessions, e.SID)
			delete(c.announced, e.SID)
			c.store.Remove(e.SID)
			if c.sink != nil {
				c.sink.SessionTerminated(e.SID)
			}
		}
	}
}

// parsePIDFromKilled extracts the numeric pid from a "PID-<n>" or
// "pid-<n>" literal.
func parsePIDFromKilled(sid string) uint32 {
	idx := strings.IndexByte(sid, '-')
	if idx < 0 {
		return 0
	}
	n, err := strconv.ParseUint(sid[idx+1:], 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// mirrorAndReconcile mirrors the full local table into the shared store,
// then drops any local session the store no longer has — a cleaner
// deletion observed since the last step (§4.1, §5 "lags by at most one
// event").
func (c *Coordinator) mirrorAndReconcile() {
	if len(c.sessions) > 0 {
		all := make([]*session.Session, 0, len(c.sessions))
		for _, s := range c.sessions {
			all = append(all, s)
		}
		c.store.BatchUpdateAndNotify(all, nil)
	}

	storeKeys := c.store.Keys()
	for id := range c.sessions {
		if _, ok := storeKeys[id]; !ok {
			delete(c.sessions, id)
			delete(c.announced, id)
		}
	}
}

func (c *Coordinator) maybeSummarize(now int64) {
	if now-c.lastSummary < int64(summaryInterval.Seconds()) {
		return
	}
	c.logger.Printf("[coordinator] summary: %d events processed, %d active session(s)", c.eventCount, len(c.sessions))
	c.lastSummary = now
}

// cleanupStaleSessions destroys every session whose LastUpdate is more
// than an hour old (§3's Lifecycle stale timeout). handle runs it once per
// summary interval, and after every event while the table holds more than
// staleSweepMinSize sessions, the opportunistic size-triggered sweep from
// the reference coordinator loop.
func (c *Coordinator) cleanupStaleSessions(now int64) {
	for id, s := range c.sessions {
		if now-s.LastUpdate > staleTimeoutSecs {
			delete(c.sessions, id)
			delete(c.announced, id)
			c.store.Remove(id)
			if c.sink != nil {
				c.sink.SessionTerminated(id)
			}
		}
	}
}
