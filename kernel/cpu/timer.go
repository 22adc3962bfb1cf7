package cpu

import "weensyos/kernel/gate"

// RaiseTimer delivers a timer interrupt to the context described by regs.
// The interrupt stays pending until the kernel acknowledges it. A nil regs
// means the interrupt arrived while the processor was idle.
func (c *CPU) RaiseTimer(regs *gate.Registers) {
	if regs != nil {
		c.raise(regs, gate.TimerIRQ)
	}
	c.timerPending = true
}

// AckTimer acknowledges the pending timer interrupt.
func (c *CPU) AckTimer() {
	c.timerPending = false
}

// TimerPending returns true if a timer interrupt was raised but not yet
// acknowledged.
func (c *CPU) TimerPending() bool {
	return c.timerPending
}
