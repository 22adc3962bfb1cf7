// Package keyboard delivers quit requests to the kernel.
package keyboard

import "sync/atomic"

// Latch records quit requests. RequestQuit may be called from any goroutine
// while the kernel polls the latch from its own.
type Latch struct {
	quit atomic.Bool
}

// RequestQuit asks the kernel to stop at its next keyboard check.
func (l *Latch) RequestQuit() {
	l.quit.Store(true)
}

// Poll returns true if a quit was requested.
func (l *Latch) Poll() bool {
	return l.quit.Load()
}
