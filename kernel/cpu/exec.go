package cpu

import (
	"encoding/binary"

	"weensyos/kernel/gate"
	"weensyos/kernel/mm"
	"weensyos/kernel/mm/vmm"
)

// Execute runs user-mode instructions starting at regs.RIP through the
// active page table until either a trap is raised or budget instructions
// have retired. On a trap, regs.Vector and regs.Info describe it and the
// function returns true; the caller then enters the kernel. When the budget
// runs out the caller is expected to raise the timer interrupt.
//
// Faulting instructions leave RIP pointing at themselves. Syscalls and
// breakpoints leave RIP pointing at the next instruction.
func (c *CPU) Execute(regs *gate.Registers, budget int) (retired int, trapped bool) {
	var raw [InstrSize]byte

	for ; retired < budget; retired++ {
		if !c.access(regs, uintptr(regs.RIP), raw[:], false) {
			return retired, true
		}

		in := Decode(raw)
		next := regs.RIP + InstrSize

		if in.Op != OpInt3 && in.Op != OpSyscall && in.Op != OpJmp {
			if in.RA >= gate.NumGPR || in.RB >= gate.NumGPR {
				c.raise(regs, gate.InvalidOpcode)
				return retired, true
			}
		}

		switch in.Op {
		case OpMovi:
			*regs.Reg(in.RA) = uint64(int64(in.Imm))
		case OpMov:
			*regs.Reg(in.RA) = *regs.Reg(in.RB)
		case OpAdd:
			*regs.Reg(in.RA) += *regs.Reg(in.RB)
		case OpAddi:
			*regs.Reg(in.RA) += uint64(int64(in.Imm))
		case OpSub:
			*regs.Reg(in.RA) -= *regs.Reg(in.RB)
		case OpLoad, OpLoadb, OpStore, OpStoreb:
			if !c.memOp(regs, in) {
				return retired, true
			}
		case OpJmp:
			next = uint64(uint32(in.Imm))
		case OpJz:
			if *regs.Reg(in.RA) == 0 {
				next = uint64(uint32(in.Imm))
			}
		case OpJnz:
			if *regs.Reg(in.RA) != 0 {
				next = uint64(uint32(in.Imm))
			}
		case OpJlt:
			if int64(*regs.Reg(in.RA)) < int64(*regs.Reg(in.RB)) {
				next = uint64(uint32(in.Imm))
			}
		case OpSyscall:
			regs.RIP = next
			c.raise(regs, gate.SyscallEntry)
			return retired + 1, true
		case OpInt3:
			regs.RIP = next
			c.raise(regs, gate.Breakpoint)
			return retired + 1, true
		default:
			c.raise(regs, gate.InvalidOpcode)
			return retired, true
		}

		regs.RIP = next
	}

	return retired, false
}

// memOp executes a load or store. It returns false if the access faulted.
func (c *CPU) memOp(regs *gate.Registers, in Instruction) bool {
	var (
		buf  [8]byte
		size = 8
		addr = uintptr(*regs.Reg(in.RB) + uint64(int64(in.Imm)))
		reg  = regs.Reg(in.RA)
	)

	if in.Op == OpLoadb || in.Op == OpStoreb {
		size = 1
	}

	switch in.Op {
	case OpLoad, OpLoadb:
		if !c.access(regs, addr, buf[:size], false) {
			return false
		}
		*reg = binary.LittleEndian.Uint64(buf[:])
	default:
		binary.LittleEndian.PutUint64(buf[:], *reg)
		if !c.access(regs, addr, buf[:size], true) {
			return false
		}
	}

	return true
}

// access copies len(buf) bytes between buf and the user virtual address va
// using the active page table. Every page touched must be present and
// user-accessible, and writable for a write. On a violation a page fault is
// raised and access returns false without transferring any byte.
func (c *CPU) access(regs *gate.Registers, va uintptr, buf []byte, write bool) bool {
	var (
		physAddrs [2]uintptr
		chunks    [2]int
		parts     int
	)

	for done := 0; done < len(buf); parts++ {
		cur := va + uintptr(done)
		physAddr, ok := c.translate(regs, cur, write)
		if !ok {
			return false
		}

		n := int(mm.PageSize - vmm.PageOffset(cur))
		if rem := len(buf) - done; n > rem {
			n = rem
		}

		physAddrs[parts], chunks[parts] = physAddr, n
		done += n
	}

	for i, done := 0, 0; i < parts; i++ {
		target := c.mem.Slice(physAddrs[i], uintptr(chunks[i]))
		if write {
			copy(target, buf[done:])
		} else {
			copy(buf[done:], target)
		}
		done += chunks[i]
	}

	return true
}

// translate resolves a user virtual address or raises a page fault.
func (c *CPU) translate(regs *gate.Registers, va uintptr, write bool) (uintptr, bool) {
	errorCode := gate.PFErrUser
	if write {
		errorCode |= gate.PFErrWrite
	}

	physAddr, flags, ok := vmm.Resolve(c.mem, c.cr3, va)
	switch {
	case !ok:
	case !flags.HasFlags(vmm.FlagUserAccessible), write && !flags.HasFlags(vmm.FlagRW):
		errorCode |= gate.PFErrPresent
	default:
		return physAddr, true
	}

	c.cr2 = uint64(va)
	c.raise(regs, gate.PageFaultException)
	regs.Info = errorCode
	return 0, false
}

// raise records a trap on regs.
func (c *CPU) raise(regs *gate.Registers, vector gate.InterruptNumber) {
	regs.Vector = vector
	regs.Info = 0
}
