package cpu

import "weensyos/kernel/mm"

// Halted is the value carried by the panic raised by Halt. The kernel's run
// loop recovers it and reports Err as the reason the machine stopped.
type Halted struct {
	Err error
}

func (h *Halted) Error() string {
	if h.Err == nil {
		return "cpu halted"
	}
	return "cpu halted: " + h.Err.Error()
}

func (h *Halted) Unwrap() error {
	return h.Err
}

// Halt stops instruction execution. Calls to Halt never return; control
// unwinds to whoever is driving the processor.
func Halt(err error) {
	panic(&Halted{Err: err})
}

// CPU is a single simulated processor. It only knows how to run user-mode
// code; kernel code runs natively and manipulates the CPU through its
// control registers.
type CPU struct {
	mem *mm.PhysicalMemory

	// cr3 holds the physical address of the active top-level page table.
	cr3 uintptr

	// cr2 holds the address that caused the last page fault.
	cr2 uint64

	timerPending bool
}

// New returns a processor wired to the supplied physical memory.
func New(mem *mm.PhysicalMemory) *CPU {
	return &CPU{mem: mem}
}

// SwitchPDT sets the root page table directory to point to the specified
// physical address.
func (c *CPU) SwitchPDT(pdtPhysAddr uintptr) {
	c.cr3 = pdtPhysAddr
}

// ActivePDT returns the physical address of the currently active page table.
func (c *CPU) ActivePDT() uintptr {
	return c.cr3
}

// ReadCR2 returns the value stored in the CR2 register.
func (c *CPU) ReadCR2() uint64 {
	return c.cr2
}
