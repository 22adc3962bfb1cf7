package vmm

import (
	"iter"

	"weensyos/kernel/mm"
)

// Mapping describes one page table entry reported by the iterators.
type Mapping struct {
	Page  mm.Page
	Frame mm.Frame
	Flags PageTableEntryFlag
}

// VA returns the virtual address of the mapped page.
func (m Mapping) VA() uintptr {
	return m.Page.Address()
}

// PA returns the physical address of the mapped frame.
func (m Mapping) PA() uintptr {
	return m.Frame.Address()
}

// Mappings returns the present leaf mappings whose page lies in [start, end)
// in ascending virtual address order. The sequence is evaluated lazily every
// time it is ranged over, so it always reflects the current table contents.
func (pdt *PageDirectoryTable) Mappings(start, end uintptr) iter.Seq[Mapping] {
	if end > MaxVirtualAddr {
		end = MaxVirtualAddr
	}

	return func(yield func(Mapping) bool) {
		pdt.visit(pdt.Address(), 0, 0, start, end, false, yield)
	}
}

// TablePages returns the page table pages reachable from this table, not
// including the top-level table itself. Each entry reports the lowest virtual
// address the table covers; tables are listed in ascending order with a
// parent always listed before its children.
func (pdt *PageDirectoryTable) TablePages() iter.Seq[Mapping] {
	return func(yield func(Mapping) bool) {
		pdt.visit(pdt.Address(), 0, 0, 0, MaxVirtualAddr, true, yield)
	}
}

// visit performs a depth-first traversal of the table at tableAddr which
// translates addresses starting at base. When tables is true it reports the
// intermediate tables instead of the leaf mappings. visit returns false if
// yield requested the traversal to stop.
func (pdt *PageDirectoryTable) visit(tableAddr uintptr, level uint8, base, start, end uintptr, tables bool, yield func(Mapping) bool) bool {
	span := uintptr(1) << pageLevelShifts[level]

	for index := uintptr(0); index < entriesPerTable; index++ {
		va := base + index*span
		if va >= end {
			break
		}
		if va+span <= start {
			continue
		}

		pte := *entryAt(pdt.mem, tableAddr, index)
		if !pte.HasFlags(FlagPresent) {
			continue
		}

		entry := Mapping{Page: mm.PageFromAddress(va), Frame: pte.Frame(), Flags: pte.Flags()}
		if level == pageLevels-1 {
			if !tables && !yield(entry) {
				return false
			}
			continue
		}

		if !pdt.mem.Contains(pte.Frame().Address(), mm.PageSize) {
			continue
		}
		if tables && !yield(entry) {
			return false
		}
		if !pdt.visit(pte.Frame().Address(), level+1, va, start, end, tables, yield) {
			return false
		}
	}

	return true
}
