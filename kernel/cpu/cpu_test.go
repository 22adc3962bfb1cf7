package cpu

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weensyos/kernel"
	"weensyos/kernel/gate"
	"weensyos/kernel/mm"
	"weensyos/kernel/mm/vmm"
)

type bumpAllocator struct {
	next mm.Frame
}

func (a *bumpAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	a.next++
	return a.next - 1, nil
}

func (a *bumpAllocator) Release(mm.Frame) {}

const (
	codeVA   = uintptr(0x100000)
	dataVA   = uintptr(0x101000)
	roVA     = uintptr(0x102000)
	kernelVA = uintptr(0x103000)
)

// setupMachine returns a CPU with a loaded page table that maps a code page,
// a writable data page, a read-only page and a kernel-only page.
func setupMachine(t *testing.T, program ...Instruction) (*CPU, *mm.PhysicalMemory) {
	mem := mm.NewPhysicalMemory(mm.MemSizePhysical)
	pdt, err := vmm.NewPageDirectoryTable(mem, &bumpAllocator{next: 0x180})
	require.Nil(t, err)

	mappings := []struct {
		va    uintptr
		frame mm.Frame
		flags vmm.PageTableEntryFlag
	}{
		{codeVA, 0x120, vmm.FlagPresent | vmm.FlagUserAccessible},
		{dataVA, 0x121, vmm.FlagsUser},
		{roVA, 0x122, vmm.FlagPresent | vmm.FlagUserAccessible},
		{kernelVA, 0x123, vmm.FlagsKernel},
	}
	for _, m := range mappings {
		require.Nil(t, pdt.Map(mm.PageFromAddress(m.va), m.frame, m.flags))
	}

	code := mem.FrameBytes(0x120)
	for i, in := range program {
		enc := in.Encode()
		copy(code[i*InstrSize:], enc[:])
	}

	c := New(mem)
	c.SwitchPDT(pdt.Address())
	require.Equal(t, pdt.Address(), c.ActivePDT())
	return c, mem
}

func TestEncodeDecode(t *testing.T) {
	in := Instruction{Op: OpAddi, RA: 3, RB: 7, Imm: -42}
	assert.Equal(t, in, Decode(in.Encode()))
}

func TestExecuteArithmeticAndBranches(t *testing.T) {
	// sum = 0; for i = 5; i != 0; i-- { sum += i }; rdi = sum; syscall
	c, _ := setupMachine(t,
		Instruction{Op: OpMovi, RA: 0, Imm: 0},
		Instruction{Op: OpMovi, RA: 1, Imm: 5},
		Instruction{Op: OpJz, RA: 1, Imm: int32(codeVA + 0x30)},
		Instruction{Op: OpAdd, RA: 0, RB: 1},
		Instruction{Op: OpAddi, RA: 1, Imm: -1},
		Instruction{Op: OpJmp, Imm: int32(codeVA + 0x10)},
		Instruction{Op: OpMov, RA: 5, RB: 0},
		Instruction{Op: OpSyscall},
	)

	regs := gate.Registers{RIP: uint64(codeVA)}
	retired, trapped := c.Execute(&regs, 1000)
	require.True(t, trapped)
	assert.Equal(t, gate.SyscallEntry, regs.Vector)
	assert.Equal(t, uint64(15), regs.RAX)
	assert.Equal(t, uint64(15), regs.RDI)
	assert.Equal(t, uint64(codeVA+0x40), regs.RIP)
	assert.Equal(t, 2+5*4+1+2, retired)
}

func TestExecuteBudget(t *testing.T) {
	c, _ := setupMachine(t,
		Instruction{Op: OpAddi, RA: 0, Imm: 1},
		Instruction{Op: OpJmp, Imm: int32(codeVA)},
	)

	regs := gate.Registers{RIP: uint64(codeVA)}
	retired, trapped := c.Execute(&regs, 10)
	assert.False(t, trapped)
	assert.Equal(t, 10, retired)
	assert.Equal(t, uint64(5), regs.RAX)
	assert.Equal(t, uint64(codeVA), regs.RIP)
}

func TestExecuteSignedCompare(t *testing.T) {
	c, _ := setupMachine(t,
		Instruction{Op: OpMovi, RA: 0, Imm: -1},
		Instruction{Op: OpMovi, RA: 1, Imm: 1},
		Instruction{Op: OpJlt, RA: 0, RB: 1, Imm: int32(codeVA + 0x20)},
		Instruction{Op: OpInt3},
		Instruction{Op: OpSyscall},
	)

	regs := gate.Registers{RIP: uint64(codeVA)}
	_, trapped := c.Execute(&regs, 100)
	require.True(t, trapped)
	assert.Equal(t, gate.SyscallEntry, regs.Vector)
}

func TestExecuteMemory(t *testing.T) {
	c, mem := setupMachine(t,
		Instruction{Op: OpMovi, RA: 1, Imm: int32(dataVA)},
		Instruction{Op: OpMovi, RA: 0, Imm: 0x1234},
		Instruction{Op: OpStore, RA: 0, RB: 1, Imm: 8},
		Instruction{Op: OpStoreb, RA: 0, RB: 1, Imm: 0x20},
		Instruction{Op: OpLoad, RA: 2, RB: 1, Imm: 8},
		Instruction{Op: OpLoadb, RA: 3, RB: 1, Imm: 0x20},
		Instruction{Op: OpSyscall},
	)

	regs := gate.Registers{RIP: uint64(codeVA)}
	_, trapped := c.Execute(&regs, 100)
	require.True(t, trapped)
	assert.Equal(t, gate.SyscallEntry, regs.Vector)
	assert.Equal(t, uint64(0x1234), regs.RCX)
	assert.Equal(t, uint64(0x34), regs.RDX)
	assert.Equal(t, uint64(0x1234), mem.Uint64(0x121008))
	assert.Equal(t, byte(0x34), mem.Slice(0x121020, 1)[0])
}

func TestExecuteFaults(t *testing.T) {
	specs := []struct {
		program    []Instruction
		expVector  gate.InterruptNumber
		expInfo    uint64
		expCR2     uint64
		expRIPDiff uint64
	}{
		// store to a read-only page
		{
			[]Instruction{
				{Op: OpMovi, RA: 1, Imm: int32(roVA)},
				{Op: OpStore, RA: 0, RB: 1},
			},
			gate.PageFaultException, gate.PFErrUser | gate.PFErrWrite | gate.PFErrPresent, uint64(roVA), InstrSize,
		},
		// load from a kernel-only page
		{
			[]Instruction{
				{Op: OpMovi, RA: 1, Imm: int32(kernelVA + 16)},
				{Op: OpLoad, RA: 0, RB: 1},
			},
			gate.PageFaultException, gate.PFErrUser | gate.PFErrPresent, uint64(kernelVA + 16), InstrSize,
		},
		// store to an unmapped page
		{
			[]Instruction{
				{Op: OpMovi, RA: 1, Imm: 0x200000},
				{Op: OpStoreb, RA: 0, RB: 1},
			},
			gate.PageFaultException, gate.PFErrUser | gate.PFErrWrite, 0x200000, InstrSize,
		},
		// 8-byte load straddling into the read-only page is fine, a store is not
		{
			[]Instruction{
				{Op: OpMovi, RA: 1, Imm: int32(roVA - 4)},
				{Op: OpLoad, RA: 0, RB: 1},
				{Op: OpStore, RA: 0, RB: 1},
			},
			gate.PageFaultException, gate.PFErrUser | gate.PFErrWrite | gate.PFErrPresent, uint64(roVA), 2 * InstrSize,
		},
		// jump to an unmapped address faults on instruction fetch
		{
			[]Instruction{
				{Op: OpJmp, Imm: 0x200000},
			},
			gate.PageFaultException, gate.PFErrUser, 0x200000, 0x200000 - uint64(codeVA),
		},
		// executing a freshly allocated (0xcc filled) page
		{
			[]Instruction{
				{Op: OpInt3, RA: 0xcc, RB: 0xcc, Imm: -0x33333334},
			},
			gate.Breakpoint, 0, 0, InstrSize,
		},
		// invalid opcode and invalid register operands
		{
			[]Instruction{{Op: 0}},
			gate.InvalidOpcode, 0, 0, 0,
		},
		{
			[]Instruction{{Op: OpMov, RA: 16}},
			gate.InvalidOpcode, 0, 0, 0,
		},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			c, _ := setupMachine(t, spec.program...)
			regs := gate.Registers{RIP: uint64(codeVA)}
			_, trapped := c.Execute(&regs, 100)
			require.True(t, trapped)
			assert.Equal(t, spec.expVector, regs.Vector)
			assert.Equal(t, spec.expInfo, regs.Info)
			assert.Equal(t, uint64(codeVA)+spec.expRIPDiff, regs.RIP)
			if spec.expVector == gate.PageFaultException {
				assert.Equal(t, spec.expCR2, c.ReadCR2())
			}
		})
	}
}

func TestTimer(t *testing.T) {
	c := New(mm.NewPhysicalMemory(mm.MemSizePhysical))
	regs := gate.Registers{Vector: gate.SyscallEntry, Info: 7}

	assert.False(t, c.TimerPending())
	c.RaiseTimer(&regs)
	assert.True(t, c.TimerPending())
	assert.Equal(t, gate.TimerIRQ, regs.Vector)
	assert.Zero(t, regs.Info)

	c.AckTimer()
	assert.False(t, c.TimerPending())

	c.RaiseTimer(nil)
	assert.True(t, c.TimerPending())
	c.AckTimer()
}

func TestHalt(t *testing.T) {
	reason := errors.New("boom")

	defer func() {
		r := recover()
		halted, ok := r.(*Halted)
		require.True(t, ok, "expected Halt to panic with *Halted; got %v", r)
		assert.Equal(t, reason, halted.Err)
		assert.True(t, errors.Is(halted, reason))
		assert.Equal(t, "cpu halted: boom", halted.Error())
	}()

	Halt(reason)
	t.Fatal("expected Halt not to return")
}
