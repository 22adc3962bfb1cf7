package vmm

import (
	"weensyos/kernel"
	"weensyos/kernel/mm"
)

// Check validates that pdt is a well formed process table: the top-level
// table exists, the kernel image and kernel stack are mapped exactly as in
// kernelPDT, the console is user-accessible and the null page is unmapped.
func (pdt *PageDirectoryTable) Check(kernelPDT *PageDirectoryTable) *kernel.Error {
	if pdt == nil || !pdt.pdtFrame.Valid() || pdt.pdtFrame == 0 {
		return &kernel.Error{Module: "vmm", Message: "page table has no top-level table"}
	}

	for va := mm.KernelStartAddr; va < mm.KernelEndAddr; va += mm.PageSize {
		if err := pdt.checkShared(kernelPDT, va); err != nil {
			return err
		}
	}
	if err := pdt.checkShared(kernelPDT, mm.KernelStackTop-mm.PageSize); err != nil {
		return err
	}

	frame, flags, ok := pdt.Lookup(mm.PageFromAddress(mm.ConsoleAddr))
	if !ok || frame != mm.FrameFromAddress(mm.ConsoleAddr) || !flags.HasFlags(FlagsUser) {
		return kernel.Errorf("vmm", "console not mapped user-accessible (flags %s)", flags)
	}

	if _, _, ok := pdt.Lookup(0); ok {
		return &kernel.Error{Module: "vmm", Message: "null page is mapped"}
	}

	return nil
}

func (pdt *PageDirectoryTable) checkShared(kernelPDT *PageDirectoryTable, va uintptr) *kernel.Error {
	page := mm.PageFromAddress(va)
	expFrame, expFlags, expOK := kernelPDT.Lookup(page)
	frame, flags, ok := pdt.Lookup(page)

	if !ok || !expOK || frame != expFrame || flags != expFlags {
		return kernel.Errorf("vmm", "kernel mapping for %#x differs from the kernel table", va)
	}
	return nil
}
