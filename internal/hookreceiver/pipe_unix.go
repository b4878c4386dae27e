//go:build !windows

package hookreceiver

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// createNamedPipe makes a FIFO at path, mode 0622 (rw--w--w-), matching
// receiver.rs's create_named_pipe across its macOS (mkfifo -m 622) and
// Linux (nix::unistd::mkfifo) branches.
func createNamedPipe(path string) error {
	if err := unix.Mkfifo(path, 0o622); err != nil {
		if err == unix.EEXIST {
			return nil
		}
		return fmt.Errorf("mkfifo %s: %w", path, err)
	}
	// Mkfifo's mode is filtered through the process umask; set it exactly.
	if err := os.Chmod(path, 0o622); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return nil
}

// isFIFO reports whether the file at path is a named pipe.
func isFIFO(info os.FileInfo) bool {
	return info.Mode()&os.ModeNamedPipe != 0
}
