// Package termutil puts the terminal into single-key mode for the
// interactive counter.
package termutil

import (
	"os"

	"golang.org/x/term"
)

// KeyMode switches f into raw mode with signals left on. The returned
// function restores the previous state. ok is false when f is not a
// terminal, in which case restore is a no-op.
func KeyMode(f *os.File) (restore func(), ok bool) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, false
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return func() {}, false
	}
	EnableISIG(fd)
	return func() { _ = term.Restore(fd, state) }, true
}
