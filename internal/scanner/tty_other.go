//go:build !darwin

package scanner

import (
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// ProbeTerminal uses gopsutil's Terminal()/Status() accessors, the
// cross-platform replacement for the reference implementation's
// macOS-only `ps`-based is_zombie_by_tty (which left every other platform
// permanently returning "not a zombie"). Exported so the coordinator can
// reuse it for its own decide-time re-probe (§4.1 rule 2).
func ProbeTerminal(pid uint32) bool {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}

	if statuses, err := p.Status(); err == nil {
		for _, st := range statuses {
			if strings.HasPrefix(st, "T") {
				return false
			}
		}
	}

	term, err := p.Terminal()
	if err != nil || term == "" || term == "??" || term == "?" {
		return false
	}
	return true
}
