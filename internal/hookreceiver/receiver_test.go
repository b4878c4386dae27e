package hookreceiver

import (
	"log"
	"strings"
	"testing"
	"time"

	"github.com/juki-j/claudeminer/internal/config"
	"github.com/juki-j/claudeminer/internal/session"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *log.Logger { return log.New(discardWriter{}, "", 0) }

type recordingNotifier struct {
	killed []uint32
}

func (r *recordingNotifier) ZombieKilled(sessionID string, pid uint32) {
	r.killed = append(r.killed, pid)
}

func testPipeConfig() config.PipeConfig {
	return config.PipeConfig{
		Path:              "/tmp/unused",
		OpenRetryAttempts: 10,
		OpenRetryBackoff:  100 * time.Millisecond,
		ReadTimeout:       60 * time.Second,
		MaxReconnects:     5,
		ReconnectBackoff:  time.Second,
		StatsSummaryEvery: 5 * time.Minute,
	}
}

func TestParseKilledPIDExtractsNumericPID(t *testing.T) {
	pid, ok := parseKilledPID("PID-4242")
	if !ok || pid != 4242 {
		t.Errorf("parseKilledPID(PID-4242) = (%d, %v), want (4242, true)", pid, ok)
	}
}

func TestParseKilledPIDRejectsWrongPrefix(t *testing.T) {
	if _, ok := parseKilledPID("session-4242"); ok {
		t.Error("expected non PID- prefixed id to be rejected")
	}
}

func TestProcessBufferEmitsHookEvent(t *testing.T) {
	events := make(chan session.MonitorEvent, 1)
	r := New(testPipeConfig(), events, nil, testLogger())

	var buf strings.Builder
	buf.WriteString(`{"sid":"550e8400-e29b-41d4-a716-446655440000","evt":"start","timestamp":123}`)
	r.processBuffer(&buf)

	if buf.Len() != 0 {
		t.Errorf("expected buffer cleared after successful parse, got %q", buf.String())
	}
	select {
	case ev := <-events:
		he, ok := ev.(session.HookEvent)
		if !ok || he.SID != "550e8400-e29b-41d4-a716-446655440000" || he.Evt != session.HookStart {
			t.Errorf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected an event to be published")
	}
}

func TestProcessBufferFiltersPlaceholderSessionID(t *testing.T) {
	events := make(chan session.MonitorEvent, 1)
	r := New(testPipeConfig(), events, nil, testLogger())

	var buf strings.Builder
	buf.WriteString(`{"sid":"$SESSION_ID","evt":"start"}`)
	r.processBuffer(&buf)

	select {
	case ev := <-events:
		t.Errorf("expected placeholder session id to be dropped, got %+v", ev)
	default:
	}
}

func TestProcessBufferRoutesKilledToNotifier(t *testing.T) {
	events := make(chan session.MonitorEvent, 1)
	notifier := &recordingNotifier{}
	r := New(testPipeConfig(), events, notifier, testLogger())

	var buf strings.Builder
	buf.WriteString(`{"sid":"PID-99","evt":"killed"}`)
	r.processBuffer(&buf)

	if len(notifier.killed) != 1 || notifier.killed[0] != 99 {
		t.Errorf("expected pid 99 relayed to notifier, got %v", notifier.killed)
	}
	select {
	case ev := <-events:
		t.Errorf("killed events must not reach the monitor channel, got %+v", ev)
	default:
	}
}

func TestProcessBufferAccumulatesIncompleteJSON(t *testing.T) {
	events := make(chan session.MonitorEvent, 1)
	r := New(testPipeConfig(), events, nil, testLogger())

	var buf strings.Builder
	buf.WriteString(`{"sid":"550e8400-e29b-41d4-a716-446655440000"`)
	r.processBuffer(&buf)

	if buf.Len() == 0 {
		t.Error("expected incomplete JSON to remain buffered")
	}

	buf.WriteString(`,"evt":"end"}`)
	r.processBuffer(&buf)

	if buf.Len() != 0 {
		t.Errorf("expected buffer cleared once JSON completed, got %q", buf.String())
	}
	select {
	case ev := <-events:
		he, ok := ev.(session.HookEvent)
		if !ok || he.Evt != session.HookEnd {
			t.Errorf("unexpected event after buffer completion: %+v", ev)
		}
	default:
		t.Fatal("expected the completed event to be published")
	}
}

func TestProcessBufferClearsOnUnrecoverableParseError(t *testing.T) {
	events := make(chan session.MonitorEvent, 1)
	r := New(testPipeConfig(), events, nil, testLogger())

	var buf strings.Builder
	buf.WriteString(`not json at all`)
	r.processBuffer(&buf)

	if buf.Len() != 0 {
		t.Error("expected buffer cleared after an unrecoverable parse error")
	}
}
