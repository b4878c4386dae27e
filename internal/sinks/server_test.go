package sinks

import (
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/juki-j/claudeminer/internal/cleaner"
	"github.com/juki-j/claudeminer/internal/session"
)

func discardLogger() *log.Logger {
	return log.New(testWriter{}, "", 0)
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestServer(t *testing.T, store *session.Store, kill KillFunc) (*Server, chan cleaner.CleanupEvent) {
	t.Helper()
	b := NewBroadcaster(store, time.Hour, 10, nil, discardLogger())
	t.Cleanup(b.Stop)
	events := make(chan cleaner.CleanupEvent, 8)
	s := NewServer(store, b, events, kill, nil, nil, "", discardLogger())
	return s, events
}

func TestHandleListSessionsFiltersAndReturnsJSON(t *testing.T) {
	store := session.NewStore()
	store.Update(&session.Session{SessionID: "a", PID: 42, CurrentStatus: session.Working})
	store.Update(&session.Session{SessionID: "$SESSION_ID", PID: 99, CurrentStatus: session.Working})

	s, _ := newTestServer(t, store, nil)
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !contains(body, `"name":"a"`) {
		t.Errorf("expected session a in response, got %s", body)
	}
	if contains(body, "SESSION_ID") {
		t.Errorf("placeholder session leaked into response: %s", body)
	}
}

func TestHandleKillMinerNotFound(t *testing.T) {
	store := session.NewStore()
	s, _ := newTestServer(t, store, func(uint32) error { return nil })
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/42/kill", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown pid, got %d", rec.Code)
	}
}

func TestHandleKillMinerEnqueuesForceCleanup(t *testing.T) {
	store := session.NewStore()
	store.Update(&session.Session{SessionID: "a", PID: 42, CurrentStatus: session.Working})

	var killedPID uint32
	s, events := newTestServer(t, store, func(pid uint32) error {
		killedPID = pid
		return nil
	})
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/42/kill", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if killedPID != 42 {
		t.Errorf("expected pid 42 to be killed, got %d", killedPID)
	}

	select {
	case ev := <-events:
		fc, ok := ev.(cleaner.ForceCleanup)
		if !ok || fc.SessionID != "a" {
			t.Errorf("expected ForceCleanup{a}, got %#v", ev)
		}
	default:
		t.Error("expected a ForceCleanup event to be enqueued")
	}
}

func TestHandleKillMinerWrongMethod(t *testing.T) {
	store := session.NewStore()
	store.Update(&session.Session{SessionID: "a", PID: 42})
	s, _ := newTestServer(t, store, func(uint32) error { return nil })
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/42/kill", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestAuthorizeRejectsWrongToken(t *testing.T) {
	store := session.NewStore()
	b := NewBroadcaster(store, time.Hour, 10, nil, discardLogger())
	defer b.Stop()
	events := make(chan cleaner.CleanupEvent, 1)
	s := NewServer(store, b, events, nil, nil, nil, "secret", discardLogger())
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
