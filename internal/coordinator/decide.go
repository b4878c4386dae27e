package coordinator

import "github.com/juki-j/claudeminer/internal/session"

// decide implements the §4.1 decision ladder. Rules are evaluated in
// order; the first match wins. probeTerminal is the coordinator's own
// live TTY re-probe (rule 2); it may be nil, in which case rule 2 is
// skipped (tests that never exercise it, or a pid of 0 where there is
// nothing to probe).
func decide(s *session.Session, now int64, probeTerminal func(pid uint32) bool) session.Status {
	// Rule 1: no terminal (cached, scanner-set).
	if !s.HasTerminal {
		return session.Zombie
	}

	// Rule 2: live TTY re-probe, independent of the cached HasTerminal
	// field. This runs on every decide() call for any session with a
	// known pid, including ones triggered by a LogEvent or HookEvent that
	// carries no TTY observation of its own, matching
	// original_source/.../coordinator/core.rs's decide_status calling
	// is_zombie_by_tty(session.pid) unconditionally.
	if s.PID != 0 && probeTerminal != nil && !probeTerminal(s.PID) {
		return session.Zombie
	}

	// Rule 3: Hook state is authoritative.
	if s.Origin == session.Hook {
		return s.CurrentStatus
	}

	// Rule 4: Legacy idle guard, only while currently working.
	if s.CurrentStatus == session.Working && cpuFresh(s, now, cpuSampleMaxAge) && s.LastCPUEvent.CPUPercent <= 0.5 {
		if s.LastLogEvent != nil {
			if now-s.LastLogEvent.FileMtime > legacyIdleMtime {
				return session.Resting
			}
		} else if now-s.LastUpdate > legacyIdleUpdate {
			return session.Resting
		}
	}

	// Rule 5: a fresh ActivelyWorking log sample drives the decision.
	if s.LastLogEvent != nil && s.LastLogEvent.State == session.ActivelyWorking {
		age := now - s.LastLogEvent.FileMtime

		if age >= logActiveMtimeMax {
			return session.Resting
		}
		if cpuFresh(s, now, cpuSampleMaxAge) {
			if s.LastCPUEvent.CPUPercent > 10 {
				return session.Working
			}
			if age < logActiveMtimeMax {
				return session.Working
			}
			return session.Resting
		}
		if s.PID != 0 && age < logFreshPidWindow {
			return session.Working
		}
		return session.Resting
	}

	// Rule 6: fresh, high CPU without a log signal.
	if cpuFresh(s, now, cpuSampleMaxAge) && s.LastCPUEvent.CPUPercent > 10 {
		return session.Working
	}

	// Rule 7: default.
	return session.Resting
}

func cpuFresh(s *session.Session, now int64, maxAge int64) bool {
	return s.LastCPUEvent != nil && now-s.LastCPUEvent.SampleTimestamp <= maxAge
}
