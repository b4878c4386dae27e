// Package hookreceiver implements the HookReceiver producer: a named-pipe
// (FIFO) line-JSON server, grounded on original_source/.../hooks/receiver.rs
// in full.
package hookreceiver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/juki-j/claudeminer/internal/config"
	"github.com/juki-j/claudeminer/internal/session"
)

// Notifier receives the out-of-band "killed" relay; a minimal interface so
// this package doesn't need to import the sinks package.
type Notifier interface {
	ZombieKilled(sessionID string, pid uint32)
}

// stats mirrors receiver.rs's ReceiverStats.
type stats struct {
	eventsReceived uint64
	parseErrors    uint64
	readErrors     uint64
	reconnects     uint64
	lastEventTime  time.Time
	startTime      time.Time
}

func newStats() *stats { return &stats{startTime: time.Now()} }

func (s *stats) logSummary(logger *log.Logger) {
	uptime := time.Since(s.startTime)
	logger.Printf("[hook-receiver] === statistics ===")
	logger.Printf("[hook-receiver]   uptime: %dh%dm", int(uptime.Hours()), int(uptime.Minutes())%60)
	logger.Printf("[hook-receiver]   events received: %d", s.eventsReceived)
	logger.Printf("[hook-receiver]   parse errors: %d", s.parseErrors)
	logger.Printf("[hook-receiver]   read errors: %d", s.readErrors)
	logger.Printf("[hook-receiver]   reconnections: %d", s.reconnects)
	if !s.lastEventTime.IsZero() {
		logger.Printf("[hook-receiver]   last event: %s ago", time.Since(s.lastEventTime).Round(time.Second))
	}
}

// hookLine is the wire shape written by the installed Claude Code hooks.
type hookLine struct {
	SID       string `json:"sid"`
	Evt       string `json:"evt"`
	Timestamp int64  `json:"timestamp"`
}

// Receiver listens on a named pipe for line-delimited hook events.
type Receiver struct {
	cfg      config.PipeConfig
	events   chan<- session.MonitorEvent
	notifier Notifier
	logger   *log.Logger
	stats    *stats
}

// New builds a Receiver over cfg's pipe path.
func New(cfg config.PipeConfig, events chan<- session.MonitorEvent, notifier Notifier, logger *log.Logger) *Receiver {
	return &Receiver{cfg: cfg, events: events, notifier: notifier, logger: logger, stats: newStats()}
}

// Run drives the receiver until ctx is cancelled, reconnecting through
// transient pipe failures per receiver.rs's run_receiver_with_recovery.
func (r *Receiver) Run(ctx context.Context) error {
	r.logger.Printf("[hook-receiver] starting, pipe=%s", r.cfg.Path)
	lastStatsLog := time.Now()
	consecutiveFailures := 0

	defer r.stats.logSummary(r.logger)

	for {
		if ctx.Err() != nil {
			return nil
		}

		if time.Since(lastStatsLog) > r.cfg.StatsSummaryEvery {
			r.stats.logSummary(r.logger)
			lastStatsLog = time.Now()
		}

		if err := r.ensurePipeHealthy(); err != nil {
			r.logger.Printf("[hook-receiver] pipe unhealthy: %v", err)
			if !sleepCtx(ctx, r.cfg.ReconnectBackoff) {
				return nil
			}
			continue
		}

		err := r.runSession(ctx)
		if err == nil {
			r.logger.Printf("[hook-receiver] receiver completed normally")
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}

		consecutiveFailures++
		r.stats.reconnects++

		if consecutiveFailures >= r.cfg.MaxReconnects {
			r.logger.Printf("[hook-receiver] max failures reached, recreating pipe")
			if err := r.recreatePipe(); err != nil {
				r.logger.Printf("[hook-receiver] recreating pipe: %v", err)
			}
			consecutiveFailures = 0
		}

		r.logger.Printf("[hook-receiver] session failed (attempt %d/%d): %v", consecutiveFailures, r.cfg.MaxReconnects, err)
		if !sleepCtx(ctx, r.cfg.ReconnectBackoff*time.Duration(consecutiveFailures+1)) {
			return nil
		}
	}
}

// runSession opens the pipe and processes lines until it closes, errors, or
// goes quiet for longer than ReadTimeout.
func (r *Receiver) runSession(ctx context.Context) error {
	r.logger.Printf("[hook-receiver] opening pipe: %s", r.cfg.Path)
	file, err := r.openPipeRobust()
	if err != nil {
		return err
	}
	defer file.Close()

	r.logger.Printf("[hook-receiver] pipe opened, listening for events")

	lines := make(chan string)
	readErrs := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 4096), 1<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			readErrs <- err
		} else {
			readErrs <- io.EOF
		}
	}()

	var buffer strings.Builder
	timer := time.NewTimer(r.cfg.ReadTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			return errors.New("no data received within the read timeout")
		case line, ok := <-lines:
			if !ok {
				return errors.New("pipe closed by writer")
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(r.cfg.ReadTimeout)

			if strings.TrimSpace(line) == "" {
				continue
			}
			buffer.WriteString(line)
			r.processBuffer(&buffer)
		case err := <-readErrs:
			r.stats.readErrors++
			if errors.Is(err, io.EOF) {
				return errors.New("pipe closed by writer")
			}
			return fmt.Errorf("reading pipe: %w", err)
		}
	}
}

// processBuffer tries to parse buffer as a complete JSON object. It handles
// the killed/PID-<n> special case, filters placeholder/empty session ids,
// and on success or unrecoverable parse failure clears buffer so the next
// line starts fresh. Incomplete JSON (an open '{' with no matching '}') is
// left in buffer to accumulate more data, per receiver.rs's multi-line
// buffering.
func (r *Receiver) processBuffer(buffer *strings.Builder) {
	raw := buffer.String()

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err == nil {
		if evtRaw, ok := probe["evt"]; ok {
			var evt string
			if json.Unmarshal(evtRaw, &evt) == nil && evt == "killed" {
				if sidRaw, ok := probe["sid"]; ok {
					var sid string
					if json.Unmarshal(sidRaw, &sid) == nil {
						if pid, ok := parseKilledPID(sid); ok {
							r.logger.Printf("[hook-receiver] received killed event for pid %d", pid)
							if r.notifier != nil {
								r.notifier.ZombieKilled(sid, pid)
							}
							r.stats.eventsReceived++
							r.stats.lastEventTime = time.Now()
							buffer.Reset()
							return
						}
					}
				}
			}
		}
	}

	var parsed hookLine
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		if strings.Contains(raw, "{") && !strings.Contains(raw, "}") {
			return // wait for more data
		}
		r.stats.parseErrors++
		r.logger.Printf("[hook-receiver] parse error #%d: %v - data: %s", r.stats.parseErrors, err, raw)
		buffer.Reset()
		return
	}
	buffer.Reset()

	r.stats.eventsReceived++
	r.stats.lastEventTime = time.Now()

	if parsed.SID == "$SESSION_ID" || parsed.SID == "" {
		r.logger.Printf("[hook-receiver] ignoring event with invalid session id: %q", parsed.SID)
		return
	}

	ts := parsed.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}

	ev := session.HookEvent{SID: parsed.SID, Evt: session.HookEvtKind(parsed.Evt), Timestamp: ts}
	select {
	case r.events <- ev:
	default:
		r.logger.Printf("[hook-receiver] event channel full, dropping hook event for %s", parsed.SID)
	}
}

// parseKilledPID extracts the numeric pid out of a "PID-<n>" session id.
func parseKilledPID(sid string) (uint32, bool) {
	rest, ok := strings.CutPrefix(sid, "PID-")
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// openPipeRobust retries opening the pipe for reading, backing off linearly,
// matching receiver.rs's open_pipe_robust.
func (r *Receiver) openPipeRobust() (*os.File, error) {
	var lastErr error
	attempts := r.cfg.OpenRetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		f, err := os.OpenFile(r.cfg.Path, os.O_RDONLY, 0)
		if err == nil {
			return f, nil
		}
		lastErr = err
		if attempt < attempts {
			r.logger.Printf("[hook-receiver] open attempt %d/%d failed: %v", attempt, attempts, err)
			time.Sleep(r.cfg.OpenRetryBackoff * time.Duration(attempt))
		}
	}
	return nil, fmt.Errorf("opening pipe after %d attempts: %w", attempts, lastErr)
}

// ensurePipeHealthy creates the pipe if missing, or recreates it if the path
// exists but is not a FIFO.
func (r *Receiver) ensurePipeHealthy() error {
	info, err := os.Stat(r.cfg.Path)
	if errors.Is(err, os.ErrNotExist) {
		r.logger.Printf("[hook-receiver] creating new pipe: %s", r.cfg.Path)
		return createNamedPipe(r.cfg.Path)
	}
	if err != nil {
		return err
	}
	if !isFIFO(info) {
		r.logger.Printf("[hook-receiver] path exists but is not a fifo, recreating")
		if err := os.Remove(r.cfg.Path); err != nil {
			return err
		}
		return createNamedPipe(r.cfg.Path)
	}
	return nil
}

// recreatePipe removes and recreates the pipe from scratch.
func (r *Receiver) recreatePipe() error {
	if _, err := os.Stat(r.cfg.Path); err == nil {
		r.logger.Printf("[hook-receiver] removing old pipe")
		if err := os.Remove(r.cfg.Path); err != nil {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
	r.logger.Printf("[hook-receiver] creating fresh pipe")
	return createNamedPipe(r.cfg.Path)
}

// sleepCtx sleeps for d or returns false early if ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
