//go:build linux

package termutil

import "golang.org/x/sys/unix"

// EnableISIG best-effort re-enables ISIG on fd.
//
// term.MakeRaw disables ISIG, so Ctrl+C arrives as an ETX byte instead of
// SIGINT. Keys are still read unbuffered with ISIG back on.
func EnableISIG(fd int) {
	if fd < 0 {
		return
	}
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil || termios == nil {
		return
	}
	termios.Lflag |= unix.ISIG
	_ = unix.IoctlSetTermios(fd, unix.TCSETS, termios)
}
