package proc

import (
	"weensyos/kernel"
	"weensyos/kernel/mm"
	"weensyos/kernel/mm/pmm"
)

// Frame owners reported by Owners in addition to process ids.
const (
	// OwnerFree marks an allocatable frame nobody references.
	OwnerFree = 0

	// OwnerKernel marks kernel page tables and reserved kernel memory.
	OwnerKernel = -1

	// OwnerReserved marks the null page and the I/O hole.
	OwnerReserved = -2

	// OwnerShared marks a frame mapped by more than one process.
	OwnerShared = -3
)

// Owners reports, for every physical frame, which process owns it. Page
// table pages and process pages belong to the process whose table reaches
// them; a process page reachable from several tables is reported as
// OwnerShared. Referenced frames that no live table reaches are reported as
// OwnerKernel.
func (t *Table) Owners() []int {
	owners := make([]int, t.alloc.FrameCount())

	for index := range owners {
		addr := mm.Frame(index).Address()
		switch {
		case pmm.Allocatable(addr):
			if t.alloc.RefCount(mm.Frame(index)) != 0 {
				owners[index] = OwnerKernel
			}
		case addr >= mm.KernelStartAddr && addr < mm.KernelEndAddr,
			addr == mm.KernelStackTop-mm.PageSize,
			addr == mm.ConsoleAddr:
			owners[index] = OwnerKernel
		default:
			owners[index] = OwnerReserved
		}
	}

	claimed := make([]bool, len(owners))
	claim := func(frame mm.Frame, pid int) {
		if int(frame) >= len(owners) || !pmm.Allocatable(frame.Address()) {
			return
		}
		if claimed[frame] && owners[frame] != pid {
			owners[frame] = OwnerShared
			return
		}
		claimed[frame] = true
		owners[frame] = pid
	}

	for pid := 1; pid < NProc; pid++ {
		p := &t.procs[pid]
		if p.State == StateFree || p.PageTable == nil {
			continue
		}

		claim(p.PageTable.Frame(), pid)
		for m := range p.PageTable.TablePages() {
			claim(m.Frame, pid)
		}
		for m := range p.PageTable.Mappings(mm.ProcStartAddr, mm.MemSizeVirtual) {
			claim(m.Frame, pid)
		}
	}

	return owners
}

// CheckAccounting verifies that the reference count of every allocatable
// frame equals the number of references the kernel and process page tables
// hold on it: one per table page and one per process mapping.
func (t *Table) CheckAccounting() *kernel.Error {
	expected := make([]int, t.alloc.FrameCount())
	count := func(frame mm.Frame) {
		if int(frame) < len(expected) {
			expected[frame]++
		}
	}

	count(t.kernelPDT.Frame())
	for m := range t.kernelPDT.TablePages() {
		count(m.Frame)
	}

	for pid := 1; pid < NProc; pid++ {
		p := &t.procs[pid]
		if p.PageTable == nil {
			continue
		}

		count(p.PageTable.Frame())
		for m := range p.PageTable.TablePages() {
			count(m.Frame)
		}
		for m := range p.PageTable.Mappings(mm.ProcStartAddr, mm.MemSizeVirtual) {
			count(m.Frame)
		}
	}

	for index, exp := range expected {
		frame := mm.Frame(index)
		if !pmm.Allocatable(frame.Address()) {
			continue
		}
		if got := t.alloc.RefCount(frame); got != exp {
			return kernel.Errorf("proc", "frame %#x has refcount %d but %d references", frame.Address(), got, exp)
		}
	}
	return nil
}
