package vmm

import (
	"weensyos/kernel"
	"weensyos/kernel/mm"
)

// NewKernelPDT builds the kernel page table. Physical memory is identity
// mapped with the following permissions:
//   - page 0 is left unmapped so that null pointer accesses fault even in
//     kernel mode
//   - the rest of the memory below mm.ProcStartAddr is kernel-only, except
//     for the console page which user code may write to
//   - memory at or above mm.ProcStartAddr is user-accessible
func NewKernelPDT(mem *mm.PhysicalMemory, alloc FrameAllocator) (*PageDirectoryTable, *kernel.Error) {
	pdt, err := NewPageDirectoryTable(mem, alloc)
	if err != nil {
		return nil, err
	}

	for addr := mm.PageSize; addr < mem.Size(); addr += mm.PageSize {
		flags := FlagsUser
		if addr < mm.ProcStartAddr && addr != mm.ConsoleAddr {
			flags = FlagsKernel
		}

		frame := mm.FrameFromAddress(addr)
		if err = pdt.Map(frame.Identity(), frame, flags); err != nil {
			return nil, err
		}
	}

	return pdt, nil
}
