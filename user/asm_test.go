package user

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weensyos/kernel/cpu"
	"weensyos/kernel/mm"
)

const base = mm.ProcStartAddr

func decodeAt(t *testing.T, code []byte, index int) cpu.Instruction {
	t.Helper()
	require.LessOrEqual(t, (index+1)*cpu.InstrSize, len(code))

	var raw [cpu.InstrSize]byte
	copy(raw[:], code[index*cpu.InstrSize:])
	return cpu.Decode(raw)
}

func TestAsmLabels(t *testing.T) {
	a := NewAsm(base)
	a.Jmp("end").
		Label("loop").
		Addi(RCX, -1).
		Jnz(RCX, "loop").
		Label("end").
		Jlt(RAX, RBX, "loop").
		Addr(RSI, "msg")
	a.Data("msg", cstring("hi"))

	code, err := a.Assemble()
	require.Nil(t, err)
	require.Len(t, code, 5*cpu.InstrSize+3)

	specs := []struct {
		index int
		exp   cpu.Instruction
	}{
		{0, cpu.Instruction{Op: cpu.OpJmp, Imm: int32(base + 3*cpu.InstrSize)}},
		{1, cpu.Instruction{Op: cpu.OpAddi, RA: RCX, Imm: -1}},
		{2, cpu.Instruction{Op: cpu.OpJnz, RA: RCX, Imm: int32(base + cpu.InstrSize)}},
		{3, cpu.Instruction{Op: cpu.OpJlt, RA: RAX, RB: RBX, Imm: int32(base + cpu.InstrSize)}},
		{4, cpu.Instruction{Op: cpu.OpMovi, RA: RSI, Imm: int32(base + 5*cpu.InstrSize)}},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			assert.Equal(t, spec.exp, decodeAt(t, code, spec.index))
		})
	}

	assert.Equal(t, []byte("hi\x00"), code[5*cpu.InstrSize:])
}

func TestAsmErrors(t *testing.T) {
	t.Run("undefined label", func(t *testing.T) {
		_, err := NewAsm(base).Jmp("nowhere").Assemble()
		require.NotNil(t, err)
		assert.Contains(t, err.Error(), `undefined label "nowhere"`)
	})

	t.Run("duplicate label", func(t *testing.T) {
		a := NewAsm(base).Label("x").Syscall().Label("x")
		_, err := a.Assemble()
		require.NotNil(t, err)
		assert.Contains(t, err.Error(), `duplicate label "x"`)
	})

	t.Run("data label clashes with code label", func(t *testing.T) {
		a := NewAsm(base).Label("x").Syscall().Data("x", []byte{1})
		_, err := a.Assemble()
		require.NotNil(t, err)
	})
}

func TestAsmUnique(t *testing.T) {
	a := NewAsm(base)
	assert.NotEqual(t, a.Unique("loop"), a.Unique("loop"))
}

func TestSys(t *testing.T) {
	code, err := NewAsm(base).SysArg(7, 0x1234).Assemble()
	require.Nil(t, err)

	assert.Equal(t, cpu.Instruction{Op: cpu.OpMovi, RA: RDI, Imm: 0x1234}, decodeAt(t, code, 0))
	assert.Equal(t, cpu.Instruction{Op: cpu.OpMovi, RA: RAX, Imm: 7}, decodeAt(t, code, 1))
	assert.Equal(t, cpu.Instruction{Op: cpu.OpSyscall}, decodeAt(t, code, 2))
}

func TestPrograms(t *testing.T) {
	reg, err := Programs(100)
	require.Nil(t, err)
	assert.ElementsMatch(t, Names, reg.Names())

	for _, name := range Names {
		t.Run(name, func(t *testing.T) {
			img, err := reg.Load(name)
			require.Nil(t, err)
			require.Len(t, img.Segments, 1)

			seg := img.Segments[0]
			assert.Equal(t, seg.VA, img.Entry)
			assert.False(t, seg.Writable)
			assert.Nil(t, img.Validate())
			assert.Less(t, seg.Size, mm.PageSize)
		})
	}
}

func TestAllocatorHeapStart(t *testing.T) {
	specs := []struct {
		name string
		base uintptr
	}{
		{Allocator, mm.ProcStartAddr},
		{Allocator4, mm.ProcStartAddr + 0xc0000},
	}

	reg, err := Programs(100)
	require.Nil(t, err)

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			img, err := reg.Load(spec.name)
			require.Nil(t, err)
			assert.Equal(t, spec.base, img.Entry)

			data := img.Segments[0].Data
			heap := binary.LittleEndian.Uint64(data[len(data)-8:])
			assert.Equal(t, uint64(spec.base+mm.PageSize), heap)
			assert.Equal(t, spec.base+mm.PageSize, HeapStart(img))
		})
	}
}
