// Package user provides the programs that run as WeensyOS processes and the
// assembler used to build them.
package user

import (
	"fmt"

	"weensyos/kernel"
	"weensyos/kernel/cpu"
	"weensyos/kernel/image"
	"weensyos/kernel/mm"
)

// Register encodings understood by the processor.
const (
	RAX uint8 = iota
	RBX
	RCX
	RDX
	RSI
	RDI
	RBP
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	RSP
)

var (
	errUndefinedLabel = &kernel.Error{Module: "asm", Message: "undefined label"}
	errDuplicateLabel = &kernel.Error{Module: "asm", Message: "duplicate label"}
)

type fixup struct {
	index int
	label string
}

type dataBlock struct {
	label string
	data  []byte
}

// Asm assembles a program placed at a fixed base address. Instructions are
// emitted in order; read-only data declared with Data is laid out after the
// last instruction. Branch targets and data addresses are referenced by
// label and resolved by Assemble.
type Asm struct {
	base   uintptr
	code   []cpu.Instruction
	data   []dataBlock
	labels map[string]uintptr
	fixups []fixup
	uniq   int
	err    *kernel.Error
}

// NewAsm returns an assembler for a program loaded at base.
func NewAsm(base uintptr) *Asm {
	return &Asm{base: base, labels: make(map[string]uintptr)}
}

// PC returns the address of the next instruction.
func (a *Asm) PC() uintptr {
	return a.base + uintptr(len(a.code))*cpu.InstrSize
}

// Label binds name to the address of the next instruction.
func (a *Asm) Label(name string) *Asm {
	a.define(name, a.PC())
	return a
}

// Unique returns a label name that was never returned before.
func (a *Asm) Unique(prefix string) string {
	a.uniq++
	return fmt.Sprintf("%s.%d", prefix, a.uniq)
}

// Data declares read-only bytes that can be referenced through label.
func (a *Asm) Data(label string, data []byte) *Asm {
	a.data = append(a.data, dataBlock{label: label, data: data})
	return a
}

func (a *Asm) define(name string, addr uintptr) {
	if _, ok := a.labels[name]; ok && a.err == nil {
		a.err = kernel.Errorf(errDuplicateLabel.Module, "%s %q", errDuplicateLabel.Message, name)
		return
	}
	a.labels[name] = addr
}

func (a *Asm) emit(op cpu.Opcode, ra, rb uint8, imm int32) *Asm {
	a.code = append(a.code, cpu.Instruction{Op: op, RA: ra, RB: rb, Imm: imm})
	return a
}

func (a *Asm) emitRef(op cpu.Opcode, ra, rb uint8, label string) *Asm {
	a.fixups = append(a.fixups, fixup{index: len(a.code), label: label})
	return a.emit(op, ra, rb, 0)
}

// Movi loads imm into ra.
func (a *Asm) Movi(ra uint8, imm int32) *Asm { return a.emit(cpu.OpMovi, ra, 0, imm) }

// Addr loads the address bound to label into ra.
func (a *Asm) Addr(ra uint8, label string) *Asm { return a.emitRef(cpu.OpMovi, ra, 0, label) }

// Mov copies rb into ra.
func (a *Asm) Mov(ra, rb uint8) *Asm { return a.emit(cpu.OpMov, ra, rb, 0) }

// Add adds rb to ra.
func (a *Asm) Add(ra, rb uint8) *Asm { return a.emit(cpu.OpAdd, ra, rb, 0) }

// Addi adds imm to ra.
func (a *Asm) Addi(ra uint8, imm int32) *Asm { return a.emit(cpu.OpAddi, ra, 0, imm) }

// Sub subtracts rb from ra.
func (a *Asm) Sub(ra, rb uint8) *Asm { return a.emit(cpu.OpSub, ra, rb, 0) }

// Load loads the word at rb+off into ra.
func (a *Asm) Load(ra, rb uint8, off int32) *Asm { return a.emit(cpu.OpLoad, ra, rb, off) }

// Store stores ra at rb+off.
func (a *Asm) Store(ra, rb uint8, off int32) *Asm { return a.emit(cpu.OpStore, ra, rb, off) }

// Loadb loads the byte at rb+off into ra.
func (a *Asm) Loadb(ra, rb uint8, off int32) *Asm { return a.emit(cpu.OpLoadb, ra, rb, off) }

// Storeb stores the low byte of ra at rb+off.
func (a *Asm) Storeb(ra, rb uint8, off int32) *Asm { return a.emit(cpu.OpStoreb, ra, rb, off) }

// Jmp jumps to label.
func (a *Asm) Jmp(label string) *Asm { return a.emitRef(cpu.OpJmp, 0, 0, label) }

// Jz jumps to label if ra is zero.
func (a *Asm) Jz(ra uint8, label string) *Asm { return a.emitRef(cpu.OpJz, ra, 0, label) }

// Jnz jumps to label if ra is not zero.
func (a *Asm) Jnz(ra uint8, label string) *Asm { return a.emitRef(cpu.OpJnz, ra, 0, label) }

// Jlt jumps to label if ra < rb.
func (a *Asm) Jlt(ra, rb uint8, label string) *Asm { return a.emitRef(cpu.OpJlt, ra, rb, label) }

// Syscall enters the kernel.
func (a *Asm) Syscall() *Asm { return a.emit(cpu.OpSyscall, 0, 0, 0) }

// Int3 raises a breakpoint.
func (a *Asm) Int3() *Asm { return a.emit(cpu.OpInt3, 0, 0, 0) }

// Sys issues system call number with the argument already loaded in RDI.
func (a *Asm) Sys(number uint64) *Asm {
	return a.Movi(RAX, int32(number)).Syscall()
}

// SysArg issues system call number with arg as its argument.
func (a *Asm) SysArg(number uint64, arg int32) *Asm {
	return a.Movi(RDI, arg).Sys(number)
}

// Assemble resolves labels and returns the program bytes: the encoded
// instructions followed by the data blocks.
func (a *Asm) Assemble() ([]byte, *kernel.Error) {
	addr := a.PC()
	for _, block := range a.data {
		a.define(block.label, addr)
		addr += uintptr(len(block.data))
	}
	if a.err != nil {
		return nil, a.err
	}

	out := make([]byte, 0, addr-a.base)
	for index, in := range a.code {
		for _, f := range a.fixups {
			if f.index != index {
				continue
			}
			target, ok := a.labels[f.label]
			if !ok {
				return nil, kernel.Errorf(errUndefinedLabel.Module, "%s %q", errUndefinedLabel.Message, f.label)
			}
			in.Imm = int32(target)
		}

		raw := in.Encode()
		out = append(out, raw[:]...)
	}

	for _, block := range a.data {
		out = append(out, block.data...)
	}
	return out, nil
}

// Image assembles the program into a single read-only segment starting at
// the base address with the entry point at the first instruction.
func (a *Asm) Image(name string) (*image.Image, *kernel.Error) {
	code, err := a.Assemble()
	if err != nil {
		return nil, err
	}

	return &image.Image{
		Name:  name,
		Entry: a.base,
		Segments: []image.Segment{
			{VA: a.base, Size: uintptr(len(code)), Data: code},
		},
	}, nil
}

// HeapStart returns the first page-aligned address past a program image.
func HeapStart(img *image.Image) uintptr {
	var end uintptr
	for _, seg := range img.Segments {
		end = max(end, seg.End())
	}
	return mm.RoundUp(end)
}
