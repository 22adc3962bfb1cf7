package vmm

import (
	"weensyos/kernel"
	"weensyos/kernel/mm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	errInvalidAddress = &kernel.Error{Module: "vmm", Message: "virtual address is not page aligned or outside the address space"}
	errInvalidFrame   = &kernel.Error{Module: "vmm", Message: "physical frame outside installed memory"}
)

// FrameAllocator hands out the physical frames that back page table pages.
type FrameAllocator interface {
	AllocFrame() (mm.Frame, *kernel.Error)
	Release(mm.Frame)
}

// PageDirectoryTable describes the top-most table in a multi-level paging
// scheme. All tables reachable from it live in physical memory and are
// reached through the kernel's identity mapping.
type PageDirectoryTable struct {
	pdtFrame mm.Frame
	mem      *mm.PhysicalMemory
	alloc    FrameAllocator
}

// NewPageDirectoryTable allocates and clears a new top-level table.
func NewPageDirectoryTable(mem *mm.PhysicalMemory, alloc FrameAllocator) (*PageDirectoryTable, *kernel.Error) {
	pdtFrame, err := alloc.AllocFrame()
	if err != nil {
		return nil, err
	}

	mem.Memset(pdtFrame.Address(), 0, mm.PageSize)
	return &PageDirectoryTable{pdtFrame: pdtFrame, mem: mem, alloc: alloc}, nil
}

// Frame returns the physical frame holding the top-level table.
func (pdt *PageDirectoryTable) Frame() mm.Frame {
	return pdt.pdtFrame
}

// Address returns the physical address loaded into CR3 to activate this table.
func (pdt *PageDirectoryTable) Address() uintptr {
	return pdt.pdtFrame.Address()
}

// Map establishes a mapping between a virtual page and a physical memory
// frame. Missing intermediate tables are allocated, cleared and installed
// with user-accessible RW permissions so that the leaf entry alone decides
// what the mapping allows. A flags value of 0 installs a cleared leaf.
//
// If an intermediate table cannot be allocated, every table that was
// installed by this call is unlinked and released before the error is
// returned.
func (pdt *PageDirectoryTable) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	if page.Address() >= MaxVirtualAddr {
		return errInvalidAddress
	}
	if flags != 0 && !pdt.mem.Contains(frame.Address(), mm.PageSize) {
		return errInvalidFrame
	}

	var (
		err       *kernel.Error
		installed [pageLevels - 1]*pageTableEntry
		count     int
	)

	walk(pdt.mem, pdt.pdtFrame, page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place.
		if pteLevel == pageLevels-1 {
			*pte = 0
			if flags != 0 {
				pte.SetFrame(frame)
				pte.SetFlags(flags)
			}
			return true
		}

		if pte.HasFlags(FlagPresent) {
			return true
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it and clear its contents.
		var newTableFrame mm.Frame
		if newTableFrame, err = pdt.alloc.AllocFrame(); err != nil {
			return false
		}

		pdt.mem.Memset(newTableFrame.Address(), 0, mm.PageSize)
		*pte = 0
		pte.SetFrame(newTableFrame)
		pte.SetFlags(flagsTable)

		installed[count] = pte
		count++
		return true
	})

	if err != nil {
		for count--; count >= 0; count-- {
			tableFrame := installed[count].Frame()
			*installed[count] = 0
			pdt.alloc.Release(tableFrame)
		}
	}

	return err
}

// Unmap clears the leaf entry for page. The frame it pointed to is not
// released; that decision belongs to the caller.
func (pdt *PageDirectoryTable) Unmap(page mm.Page) *kernel.Error {
	pte, err := pdt.leaf(page.Address())
	if err != nil {
		return err
	}

	*pte = 0
	return nil
}

// Lookup returns the frame and permissions of the leaf entry that maps page.
// ok is false if the page is not mapped.
func (pdt *PageDirectoryTable) Lookup(page mm.Page) (frame mm.Frame, flags PageTableEntryFlag, ok bool) {
	pte, err := pdt.leaf(page.Address())
	if err != nil || !pte.HasFlags(FlagPresent) {
		return mm.InvalidFrame, 0, false
	}

	return pte.Frame(), pte.Flags(), true
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func (pdt *PageDirectoryTable) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	physAddr, _, ok := Resolve(pdt.mem, pdt.Address(), virtAddr)
	if !ok {
		return 0, ErrInvalidMapping
	}

	return physAddr, nil
}

// leaf returns the last-level entry for virtAddr. It fails with
// ErrInvalidMapping when an intermediate table is missing.
func (pdt *PageDirectoryTable) leaf(virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	if virtAddr >= MaxVirtualAddr {
		return nil, ErrInvalidMapping
	}

	var entry *pageTableEntry
	walk(pdt.mem, pdt.pdtFrame, virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			entry = pte
			return true
		}

		// Next table is not present; this is an invalid mapping
		return pte.HasFlags(FlagPresent)
	})

	if entry == nil {
		return nil, ErrInvalidMapping
	}
	return entry, nil
}
