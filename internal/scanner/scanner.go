// Package scanner implements the ProcessScanner producer: an adaptive-cadence
// sweep of the process table that emits dampened CPUEvents, grounded on
// monitor/process.go's periodic-loop shape and re-pointed at
// original_source/.../monitor/cpu.rs for the exact cadence and dampening
// arithmetic.
package scanner

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/juki-j/claudeminer/internal/config"
	"github.com/juki-j/claudeminer/internal/session"
)

// Scanner sweeps the process table on an adaptive cadence and publishes
// CPUEvents for candidate agent processes.
type Scanner struct {
	cfg    config.ScannerConfig
	events chan<- session.MonitorEvent
	logger *log.Logger

	mu            sync.Mutex
	candidatePIDs map[uint32]struct{}

	lastCPU    map[uint32]float64
	lastZombie map[uint32]bool
	scanCount  uint64
}

// New builds a Scanner that publishes onto events.
func New(cfg config.ScannerConfig, events chan<- session.MonitorEvent, logger *log.Logger) *Scanner {
	return &Scanner{
		cfg:           cfg,
		events:        events,
		logger:        logger,
		candidatePIDs: make(map[uint32]struct{}),
		lastCPU:       make(map[uint32]float64),
		lastZombie:    make(map[uint32]bool),
	}
}

// CandidatePIDs returns a snapshot of the pids the scanner currently
// considers agent processes. Forward-looking infrastructure for future
// network/auxiliary monitors; nothing in this module consumes it today.
func (s *Scanner) CandidatePIDs() map[uint32]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint32]struct{}, len(s.candidatePIDs))
	for pid := range s.candidatePIDs {
		out[pid] = struct{}{}
	}
	return out
}

// Run drives the scan loop until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	s.logger.Printf("[process-scanner] started (interpreter=%s signature=%q)", s.cfg.Interpreter, s.cfg.ArgSignature)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("[process-scanner] stopping")
			return
		case <-timer.C:
			interval := s.scanOnce(ctx)
			timer.Reset(interval)
		}
	}
}

// scanOnce performs a single scan and returns the next polling interval.
func (s *Scanner) scanOnce(ctx context.Context) time.Duration {
	s.scanCount++

	candidates, err := findCandidates(s.cfg)
	if err != nil {
		s.logger.Printf("[process-scanner] enumerating processes: %v", err)
		return s.cfg.LowCPUCadence
	}

	current := make(map[uint32]struct{}, len(candidates))
	procs := make(map[uint32]*process.Process, len(candidates))
	for _, c := range candidates {
		current[c.PID] = struct{}{}
		if p, err := process.NewProcess(int32(c.PID)); err == nil {
			p.Percent(0) // first refresh: records the baseline CPU times
			procs[c.PID] = p
		}
	}

	if len(candidates) > 0 {
		select {
		case <-ctx.Done():
			return s.cfg.LowCPUCadence
		case <-time.After(s.cfg.RefreshGap):
		}
	}

	found := 0
	for _, c := range candidates {
		found++
		p, ok := procs[c.PID]
		if !ok {
			continue
		}
		cpuPct, err := cpuPercent(p)
		if err != nil {
			continue
		}
		hasTerminal := ProbeTerminal(c.PID)
		if s.evaluateCandidate(c.PID, cpuPct, hasTerminal) {
			s.publish(c.PID, cpuPct, hasTerminal)
		}
	}

	s.mu.Lock()
	s.candidatePIDs = current
	s.mu.Unlock()

	if s.scanCount%10 == 0 {
		s.logger.Printf("[process-scanner] scan #%d: found=%d tracked=%d", s.scanCount, found, len(current))
	}

	return adaptiveInterval(s.lastCPU, s.cfg)
}

// evaluateCandidate decides whether pid's latest reading warrants a
// publish: an immediate fire on any zombie-state change, otherwise the
// dampened CPU comparison against s.lastCPU. Split out of scanOnce so the
// dampening/first-reading behavior can be driven directly in tests without
// a real process table.
func (s *Scanner) evaluateCandidate(pid uint32, cpuPct float64, hasTerminal bool) bool {
	isZombie := !hasTerminal

	zombieChanged := s.lastZombie[pid] != isZombie
	if zombieChanged {
		s.lastZombie[pid] = isZombie
		if isZombie {
			s.logger.Printf("[process-scanner] pid %d lost its terminal, reporting zombie immediately", pid)
		} else {
			s.logger.Printf("[process-scanner] pid %d regained a terminal", pid)
		}
		return true
	}

	_, seen := s.lastCPU[pid]
	isNewPID := !seen

	// cpuChangedSignificantly is always called, never short-circuited away
	// by isNewPID. It compares a first reading against 0 and records it only
	// when it passes the delta or working threshold, so a new pid's reading
	// is also written just below; otherwise the pid would stay absent from
	// s.lastCPU, forcing isNewPID true (and a publish) on every future scan
	// and leaving it out of adaptiveInterval's sweep.
	changed := cpuChangedSignificantly(pid, cpuPct, s.lastCPU, s.cfg.CPUDeltaThreshold, s.cfg.WorkingThreshold)
	if isNewPID {
		s.lastCPU[pid] = cpuPct
		changed = true
	}
	return changed
}

func (s *Scanner) publish(pid uint32, cpuPct float64, hasTerminal bool) {
	ev := session.CPUEvent{
		PID:         pid,
		Timestamp:   time.Now().Unix(),
		CPUPercent:  cpuPct,
		HasTerminal: hasTerminal,
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Printf("[process-scanner] event channel full, dropping cpu event for pid %d", pid)
	}
}

// candidate is an agent process discovered in the current sweep.
type candidate struct {
	PID     uint32
	Cmdline []string
}

// findCandidates enumerates the process table and filters to agent
// processes by cmdline signature (interpreter + arg substring), generalizing
// monitor/process.go's isClaudeProcess/isAgentProcess to a configurable
// interpreter/signature pair.
func findCandidates(cfg config.ScannerConfig) ([]candidate, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	var out []candidate
	for _, p := range procs {
		cmdline, err := p.CmdlineSlice()
		if err != nil || len(cmdline) == 0 {
			continue
		}
		if !isCandidateCmdline(cmdline, cfg.Interpreter, cfg.ArgSignature) {
			continue
		}
		out = append(out, candidate{PID: uint32(p.Pid), Cmdline: cmdline})
	}
	return out, nil
}

// isCandidateCmdline matches a direct interpreter binary ("claude") or an
// interpreter wrapping it ("node ... claude ..."), skipping
// node_modules/.bin shims the way monitor/process.go's isAgentProcess does.
func isCandidateCmdline(cmdline []string, interpreter, signature string) bool {
	if len(cmdline) == 0 {
		return false
	}

	exe := baseName(cmdline[0])
	if exe == signature || exe == signature+"-code" {
		return true
	}

	if interpreter != "" && exe == interpreter {
		for _, part := range cmdline[1:] {
			if strings.Contains(part, "node_modules/.bin") {
				continue
			}
			if strings.Contains(strings.ToLower(part), strings.ToLower(signature)) {
				return true
			}
		}
	}

	return false
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	if i := strings.LastIndexByte(path, '\\'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// cpuPercent takes the second refresh of p, whose first Percent call
// scanOnce made before the RefreshGap sleep, and returns the CPU usage over
// that gap, matching cpu.rs's two-refresh sampling window.
func cpuPercent(p *process.Process) (float64, error) {
	return p.Percent(0)
}

// ProcessAlive reports whether pid still refers to a running process. It is
// the gopsutil-backed cleaner.LivenessProbe wired into cmd/claudeminerd,
// replacing the teacher's tmux/health-check liveness stand-ins with the
// same process-table backend the scanner itself already uses.
func ProcessAlive(pid uint32) bool {
	if pid == 0 {
		return false
	}
	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return false
	}
	return alive
}

// MemoryBytes returns pid's resident set size, or 0 if it cannot be read.
// Wired into the sinks.Broadcaster's memoryLookup so dashboard snapshots
// carry a live RSS figure rather than a placeholder.
func MemoryBytes(pid uint32) uint64 {
	if pid == 0 {
		return 0
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	info, err := p.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	return info.RSS
}

// cpuChangedSignificantly mirrors cpu.rs's cpu_changed_significantly: fire on
// a >delta point swing or a crossing of the working threshold in either
// direction. last is mutated in place to record the new reading once a
// change is confirmed.
func cpuChangedSignificantly(pid uint32, newCPU float64, last map[uint32]float64, delta, workingThreshold float64) bool {
	prev := last[pid]

	changed := absFloat(newCPU-prev) > delta ||
		(prev < workingThreshold && newCPU >= workingThreshold) ||
		(prev >= workingThreshold && newCPU < workingThreshold)

	if changed {
		last[pid] = newCPU
		return true
	}
	return false
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// adaptiveInterval mirrors cpu.rs's adaptive_interval: poll faster while any
// tracked pid is running hot.
func adaptiveInterval(lastCPU map[uint32]float64, cfg config.ScannerConfig) time.Duration {
	var maxCPU float64
	for _, v := range lastCPU {
		if v > maxCPU {
			maxCPU = v
		}
	}

	switch {
	case maxCPU > cfg.HighCPUThreshold:
		return cfg.HighCPUCadence
	case maxCPU > cfg.MidCPUThreshold:
		return cfg.MidCPUCadence
	default:
		return cfg.LowCPUCadence
	}
}
