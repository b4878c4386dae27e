//go:build !windows

package sinks

import "syscall"

// KillPID sends SIGKILL to pid, matching §6's kill_miner POSIX behavior.
func KillPID(pid uint32) error {
	return syscall.Kill(int(pid), syscall.SIGKILL)
}
