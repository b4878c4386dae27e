//go:build windows

package hookreceiver

import (
	"errors"
	"os"
)

// createNamedPipe has no POSIX-FIFO equivalent wired up on Windows, matching
// the reference implementation's own fallback (create_named_pipe returns
// Unsupported on anything but macOS/Linux). A Windows-native named-pipe
// transport is an open gap tracked in DESIGN.md, not a silent no-op: callers
// get an explicit error instead of a receiver that looks alive but never
// receives anything.
func createNamedPipe(path string) error {
	return errors.New("hookreceiver: named pipes are not supported on windows")
}

func isFIFO(info os.FileInfo) bool {
	return false
}
