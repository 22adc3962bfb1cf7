package cpu

import "encoding/binary"

// Opcode identifies a user-mode instruction. Every instruction is
// InstrSize bytes long and encoded as [op, ra, rb, 0, imm32] with the
// immediate stored little-endian. Register operands use the encoding of
// gate.Registers.Reg.
type Opcode uint8

// InstrSize is the length in bytes of every encoded instruction.
const InstrSize = 8

const (
	// OpMovi loads the sign-extended immediate into ra.
	OpMovi Opcode = iota + 1
	// OpMov copies rb into ra.
	OpMov
	// OpAdd adds rb to ra.
	OpAdd
	// OpAddi adds the sign-extended immediate to ra.
	OpAddi
	// OpSub subtracts rb from ra.
	OpSub
	// OpLoad loads the 64-bit word at rb+imm into ra.
	OpLoad
	// OpStore stores ra as a 64-bit word at rb+imm.
	OpStore
	// OpLoadb loads the byte at rb+imm into ra.
	OpLoadb
	// OpStoreb stores the low byte of ra at rb+imm.
	OpStoreb
	// OpJmp jumps to the absolute address imm.
	OpJmp
	// OpJz jumps to imm if ra is zero.
	OpJz
	// OpJnz jumps to imm if ra is not zero.
	OpJnz
	// OpJlt jumps to imm if ra < rb (signed).
	OpJlt
	// OpSyscall enters the kernel through gate.SyscallEntry.
	OpSyscall

	// OpInt3 raises gate.Breakpoint. Its value matches the x86 INT3
	// opcode so pages filled with 0xCC trap when executed.
	OpInt3 Opcode = 0xcc
)

// Instruction is a decoded instruction.
type Instruction struct {
	Op  Opcode
	RA  uint8
	RB  uint8
	Imm int32
}

// Encode returns the binary form of the instruction.
func (in Instruction) Encode() [InstrSize]byte {
	var out [InstrSize]byte
	out[0] = byte(in.Op)
	out[1] = in.RA
	out[2] = in.RB
	binary.LittleEndian.PutUint32(out[4:], uint32(in.Imm))
	return out
}

// Decode parses an encoded instruction.
func Decode(raw [InstrSize]byte) Instruction {
	return Instruction{
		Op:  Opcode(raw[0]),
		RA:  raw[1],
		RB:  raw[2],
		Imm: int32(binary.LittleEndian.Uint32(raw[4:])),
	}
}
