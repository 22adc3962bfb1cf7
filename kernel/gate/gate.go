package gate

import (
	"fmt"
	"io"
)

// Registers contains a snapshot of all register values when an exception,
// interrupt or syscall occurs.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Vector is the interrupt slot that caused the trap.
	Vector InterruptNumber

	// Info contains the error code pushed by the CPU for exceptions that
	// provide one (e.g. page faults).
	Info uint64

	// The return frame used by IRETQ
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// NumGPR is the number of registers addressable through Reg.
const NumGPR = 16

// Reg returns a pointer to the general purpose register with the given
// encoding. Encodings 0-14 follow the field order of Registers (RAX..R15)
// and encoding 15 selects RSP. Reg returns nil for any other index.
func (r *Registers) Reg(index uint8) *uint64 {
	switch index {
	case 0:
		return &r.RAX
	case 1:
		return &r.RBX
	case 2:
		return &r.RCX
	case 3:
		return &r.RDX
	case 4:
		return &r.RSI
	case 5:
		return &r.RDI
	case 6:
		return &r.RBP
	case 7:
		return &r.R8
	case 8:
		return &r.R9
	case 9:
		return &r.R10
	case 10:
		return &r.R11
	case 11:
		return &r.R12
	case 12:
		return &r.R13
	case 13:
		return &r.R14
	case 14:
		return &r.R15
	case 15:
		return &r.RSP
	}

	return nil
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	fmt.Fprintf(w, "RAX = %016x RBX = %016x\n", r.RAX, r.RBX)
	fmt.Fprintf(w, "RCX = %016x RDX = %016x\n", r.RCX, r.RDX)
	fmt.Fprintf(w, "RSI = %016x RDI = %016x\n", r.RSI, r.RDI)
	fmt.Fprintf(w, "RBP = %016x\n", r.RBP)
	fmt.Fprintf(w, "R8  = %016x R9  = %016x\n", r.R8, r.R9)
	fmt.Fprintf(w, "R10 = %016x R11 = %016x\n", r.R10, r.R11)
	fmt.Fprintf(w, "R12 = %016x R13 = %016x\n", r.R12, r.R13)
	fmt.Fprintf(w, "R14 = %016x R15 = %016x\n", r.R14, r.R15)
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "RIP = %016x CS  = %016x\n", r.RIP, r.CS)
	fmt.Fprintf(w, "RSP = %016x SS  = %016x\n", r.RSP, r.SS)
	fmt.Fprintf(w, "RFL = %016x ERR = %016x\n", r.RFlags, r.Info)
}

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// Breakpoint is raised by the INT3 instruction. Freshly allocated
	// pages are filled with INT3 opcodes so executing uninitialized memory
	// ends up here.
	Breakpoint = InterruptNumber(3)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(6)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page directory table (PDT) or one
	// of its entries is not present or when a privilege and/or RW
	// protection check fails.
	PageFaultException = InterruptNumber(14)

	// TimerIRQ is raised by the periodic timer once per tick.
	TimerIRQ = InterruptNumber(32)

	// SyscallEntry is the gate used by user code to enter the kernel.
	SyscallEntry = InterruptNumber(0x80)
)

// Page fault error code bits pushed by the CPU.
const (
	// PFErrPresent is set when the fault was a protection violation on a
	// present page; cleared for a missing page.
	PFErrPresent = uint64(1 << 0)

	// PFErrWrite is set when the faulting access was a write.
	PFErrWrite = uint64(1 << 1)

	// PFErrUser is set when the fault happened while running user code.
	PFErrUser = uint64(1 << 2)
)

// Segment selectors loaded into CS when entering user and kernel code.
const (
	SegKernelCode = uint64(0x08)
	SegUserCode   = uint64(0x1b)
	SegUserData   = uint64(0x23)
)
