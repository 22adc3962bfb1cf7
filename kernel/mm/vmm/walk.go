package vmm

import "weensyos/kernel/mm"

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments.  If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// entryAt overlays a page table entry on top of the physical memory slot
// with the given index inside the table stored at tableAddr.
func entryAt(mem *mm.PhysicalMemory, tableAddr, index uintptr) *pageTableEntry {
	return (*pageTableEntry)(mem.Pointer(tableAddr + (index << mm.PointerShift)))
}

// entryIndex extracts the bits from virtAddr that correspond to the index
// in the table used by the given level.
func entryIndex(virtAddr uintptr, level uint8) uintptr {
	return (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
}

// walk performs a page table walk for the given virtual address starting at
// the top-level table stored in pdtFrame. It calls the suppplied walkFn with
// the page table entry that corresponds to each page table level. If walkFn
// returns false then the walk is aborted. walkFn may install a new table in a
// non-present entry; the walk follows whatever frame the entry points to once
// walkFn returns.
func walk(mem *mm.PhysicalMemory, pdtFrame mm.Frame, virtAddr uintptr, walkFn pageTableWalker) {
	tableAddr := pdtFrame.Address()
	for level := uint8(0); level < pageLevels; level++ {
		pte := entryAt(mem, tableAddr, entryIndex(virtAddr, level))
		if !walkFn(level, pte) {
			return
		}

		tableAddr = pte.Frame().Address()
		if !mem.Contains(tableAddr, mm.PageSize) {
			return
		}
	}
}

// Resolve translates virtAddr through the page table whose top-level table
// lives at the physical address pdtPhysAddr. It returns the physical address
// and the leaf permissions; ok is false if any level is not present. Resolve
// is what the MMU does on every access and does not require a
// PageDirectoryTable handle.
func Resolve(mem *mm.PhysicalMemory, pdtPhysAddr, virtAddr uintptr) (physAddr uintptr, flags PageTableEntryFlag, ok bool) {
	if virtAddr >= MaxVirtualAddr || !mm.PageAligned(pdtPhysAddr) || !mem.Contains(pdtPhysAddr, mm.PageSize) {
		return 0, 0, false
	}

	walk(mem, mm.FrameFromAddress(pdtPhysAddr), virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			return false
		}

		if pteLevel == pageLevels-1 {
			physAddr = pte.Frame().Address() + PageOffset(virtAddr)
			flags = pte.Flags()
			ok = mem.Contains(physAddr, 1)
		}
		return true
	})

	return physAddr, flags, ok
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return (virtAddr & ((1 << pageLevelShifts[pageLevels-1]) - 1))
}
