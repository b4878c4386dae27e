package cleaner

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/juki-j/claudeminer/internal/session"
)

func discardLogger() *log.Logger {
	return log.New(testWriter{}, "", 0)
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func alwaysDead(uint32) bool { return false }
func alwaysAlive(uint32) bool { return true }

func TestCleanupZombieSessionSkipsPIDZero(t *testing.T) {
	store := session.NewStore()
	store.Update(&session.Session{SessionID: "a", PID: 0, CurrentStatus: session.Zombie})

	c := New(store, alwaysDead, discardLogger())
	c.handle(SessionBecameZombie{SessionID: "a"})

	if _, ok := store.Get("a"); !ok {
		t.Error("zombie session with pid=0 was removed; it should be left for pid discovery")
	}
}

func TestCleanupZombieSessionRemovesDead(t *testing.T) {
	store := session.NewStore()
	store.Update(&session.Session{SessionID: "a", PID: 42, CurrentStatus: session.Zombie})

	c := New(store, alwaysDead, discardLogger())
	c.handle(SessionBecameZombie{SessionID: "a"})

	if _, ok := store.Get("a"); ok {
		t.Error("zombie session with dead pid was not removed")
	}
}

func TestCleanupZombieSessionKeepsAlive(t *testing.T) {
	store := session.NewStore()
	store.Update(&session.Session{SessionID: "a", PID: 42, CurrentStatus: session.Zombie})

	c := New(store, alwaysAlive, discardLogger())
	c.handle(SessionBecameZombie{SessionID: "a"})

	if _, ok := store.Get("a"); !ok {
		t.Error("zombie session with live pid was incorrectly removed")
	}
}

func TestProcessTerminatedRemovesMatchingSessions(t *testing.T) {
	store := session.NewStore()
	store.Update(&session.Session{SessionID: "a", PID: 42})
	store.Update(&session.Session{SessionID: "b", PID: 99})

	c := New(store, alwaysDead, discardLogger())
	c.handle(ProcessTerminated{PID: 42})

	if _, ok := store.Get("a"); ok {
		t.Error("session bound to terminated pid was not removed")
	}
	if _, ok := store.Get("b"); !ok {
		t.Error("unrelated session was removed")
	}
}

func TestCheckAndCleanupDeadSessionsSkipsPIDZero(t *testing.T) {
	store := session.NewStore()
	store.Update(&session.Session{SessionID: "a", PID: 0})
	store.Update(&session.Session{SessionID: "b", PID: 7})

	c := New(store, alwaysDead, discardLogger())
	c.handle(CheckDeadSessions{})

	if _, ok := store.Get("a"); !ok {
		t.Error("pid=0 session should never be removed by CheckDeadSessions")
	}
	if _, ok := store.Get("b"); ok {
		t.Error("dead-pid session should have been removed")
	}
}

func TestCleanupAllZombiesRemovesTemporaryPidSessions(t *testing.T) {
	store := session.NewStore()
	store.Update(&session.Session{SessionID: "pid-42", PID: 42, CurrentStatus: session.Zombie})
	store.Update(&session.Session{SessionID: "real", PID: 7, CurrentStatus: session.Working})

	c := New(store, alwaysAlive, discardLogger())
	c.handle(CleanupZombies{})

	if _, ok := store.Get("pid-42"); ok {
		t.Error("temporary pid- zombie session should always be removed")
	}
	if _, ok := store.Get("real"); !ok {
		t.Error("unrelated working session was removed")
	}
}

func TestForceCleanupUnconditional(t *testing.T) {
	store := session.NewStore()
	store.Update(&session.Session{SessionID: "a", PID: 7, CurrentStatus: session.Working})

	c := New(store, alwaysAlive, discardLogger())
	c.handle(ForceCleanup{SessionID: "a"})

	if _, ok := store.Get("a"); ok {
		t.Error("ForceCleanup did not remove a live, working session")
	}
}

func TestRunExitsOnChannelClose(t *testing.T) {
	store := session.NewStore()
	c := New(store, alwaysDead, discardLogger())
	events := make(chan CleanupEvent)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background(), events)
		close(done)
	}()

	close(events)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after channel close")
	}
}

func TestStartPeriodicTimerEnqueuesBothEvents(t *testing.T) {
	events := make(chan CleanupEvent, 4)
	ctx, cancel := context.WithCancel(context.Background())

	go StartPeriodicTimer(ctx, events, 10*time.Millisecond)

	var gotCheck, gotZombies bool
	timeout := time.After(2 * time.Second)
	for !gotCheck || !gotZombies {
		select {
		case ev := <-events:
			switch ev.(type) {
			case CheckDeadSessions:
				gotCheck = true
			case CleanupZombies:
				gotZombies = true
			}
		case <-timeout:
			t.Fatal("timed out waiting for periodic cleanup events")
		}
	}
	cancel()
}
