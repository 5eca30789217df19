//go:build windows

package terminal

import (
	"io"
	"os"
	"syscall"

	"github.com/mattn/go-colorable"
)

// getColorableWriter returns a writer that translates ANSI escapes
// when the console cannot interpret them natively.
func getColorableWriter() io.Writer {
	h, err := syscall.GetStdHandle(syscall.STD_OUTPUT_HANDLE)
	if err != nil {
		return os.Stdout
	}
	var mode uint32
	err = syscall.GetConsoleMode(h, &mode)
	if err != nil {
		// Redirected output, leave the escapes alone.
		return os.Stdout
	}
	const enableVirtualTerminalProcessing = 0x4
	if mode&enableVirtualTerminalProcessing != 0 {
		return os.Stdout
	}
	return colorable.NewColorableStdout()
}
