//go:build darwin

package scanner

import (
	"os/exec"
	"strconv"
	"strings"
)

// ProbeTerminal shells out to `ps -p <pid> -o tty=,stat=`, mirroring
// status/hybrid.rs's is_zombie_by_tty: gopsutil does not expose STAT on
// Darwin, so this is the one platform where the original's subprocess
// approach is kept rather than replaced. Exported so the coordinator can
// reuse it for its own decide-time re-probe (§4.1 rule 2).
func ProbeTerminal(pid uint32) bool {
	out, err := exec.Command("ps", "-p", strconv.FormatUint(uint64(pid), 10), "-o", "tty=,stat=").Output()
	if err != nil {
		return false
	}

	parts := strings.Fields(string(out))
	if len(parts) < 2 {
		return false
	}
	tty, stat := parts[0], parts[1]

	if tty == "" || tty == "??" || tty == "?" {
		return false
	}
	if strings.HasPrefix(stat, "T") {
		return false
	}
	return true
}
