//go:build windows

package sinks

import (
	"fmt"
	"os/exec"
	"strconv"
)

// KillPID shells out to `taskkill /F /PID <pid>`, matching §6's kill_miner
// Windows behavior.
func KillPID(pid uint32) error {
	cmd := exec.Command("taskkill", "/F", "/PID", strconv.FormatUint(uint64(pid), 10))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("taskkill: %w: %s", err, out)
	}
	return nil
}
