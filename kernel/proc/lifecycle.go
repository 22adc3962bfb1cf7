package proc

import (
	"slices"

	"go.uber.org/zap"

	"weensyos/kernel"
	"weensyos/kernel/gate"
	"weensyos/kernel/image"
	"weensyos/kernel/kfmt"
	"weensyos/kernel/mm"
	"weensyos/kernel/mm/pmm"
	"weensyos/kernel/mm/vmm"
)

// initialRFlags has only the interrupt-enable flag set.
const initialRFlags = uint64(0x200)

// Setup loads img into slot pid and marks the process runnable. The new
// address space shares every kernel mapping below mm.ProcStartAddr, maps
// each segment on freshly allocated pages (read-only segments without
// FlagRW) and gets a one-page stack right below mm.MemSizeVirtual.
//
// On failure everything allocated for the process is released and the slot
// stays free.
func (t *Table) Setup(pid int, img *image.Image, uid, euid int) *kernel.Error {
	p := t.Get(pid)
	switch {
	case p == nil || pid == 0:
		return kernel.Errorf("proc", "invalid pid %d", pid)
	case p.State != StateFree:
		return errSlotInUse
	}
	if err := img.Validate(); err != nil {
		return err
	}

	pdt, err := vmm.NewPageDirectoryTable(t.mem, t.alloc)
	if err != nil {
		return err
	}
	p.PageTable = pdt

	if err = t.setupAddressSpace(p, img); err != nil {
		t.Reclaim(p)
		return err
	}

	p.UID, p.EUID = uid, euid
	p.SleepTicks = 0
	p.Regs = gate.Registers{
		RIP:    uint64(img.Entry),
		RSP:    uint64(mm.MemSizeVirtual),
		CS:     gate.SegUserCode,
		SS:     gate.SegUserData,
		RFlags: initialRFlags,
	}
	p.State = StateRunnable

	kfmt.Logger().Info("process created",
		zap.Int("pid", pid),
		zap.String("program", img.Name),
		zap.Int("uid", uid),
		zap.Int("euid", euid),
	)
	return nil
}

func (t *Table) setupAddressSpace(p *Process, img *image.Image) *kernel.Error {
	// copy kernel and console mappings
	for m := range t.kernelPDT.Mappings(0, mm.ProcStartAddr) {
		if err := p.PageTable.Map(m.Page, m.Frame, m.Flags); err != nil {
			return err
		}
	}

	for _, seg := range img.Segments {
		flags := vmm.FlagPresent | vmm.FlagUserAccessible
		if seg.Writable {
			flags = vmm.FlagsUser
		}

		for va := mm.RoundDown(seg.VA); va < seg.End(); va += mm.PageSize {
			if err := t.mapSegmentPage(p, mm.PageFromAddress(va), flags); err != nil {
				return err
			}
		}
	}

	for _, seg := range img.Segments {
		if err := t.zeroUser(p, seg.VA, seg.Size); err != nil {
			return err
		}
		if err := t.CopyToUser(p, seg.VA, seg.Data); err != nil {
			return err
		}
	}

	stack, err := t.alloc.AllocFrame()
	if err != nil {
		return err
	}
	if err = p.PageTable.Map(mm.PageFromAddress(mm.MemSizeVirtual-mm.PageSize), stack, vmm.FlagsUser); err != nil {
		t.alloc.Release(stack)
		return err
	}

	return nil
}

// mapSegmentPage backs page with a new frame. Pages shared by two segments
// keep their frame and become writable if either segment is.
func (t *Table) mapSegmentPage(p *Process, page mm.Page, flags vmm.PageTableEntryFlag) *kernel.Error {
	if frame, oldFlags, ok := p.PageTable.Lookup(page); ok {
		return p.PageTable.Map(page, frame, oldFlags|flags)
	}

	frame, err := t.alloc.AllocFrame()
	if err != nil {
		return err
	}
	if err = p.PageTable.Map(page, frame, flags); err != nil {
		t.alloc.Release(frame)
		return err
	}
	return nil
}

// Fork duplicates parent into a free slot and returns the child's pid.
//
// Kernel mappings are shared as they are. Read-only process pages are shared
// and gain a reference; writable process pages are copied to new frames. The
// child resumes with the parent's registers except for RAX, which is 0.
//
// If anything fails, the child's pages are released in this order before the
// error is returned: the frame obtained for the failing entry (if it was not
// installed), the process pages in ascending address order, the intermediate
// page table pages in ascending order with parents before children, and
// finally the top-level table. The slot is then free again and the parent is
// left untouched.
func (t *Table) Fork(parent *Process) (int, *kernel.Error) {
	if parent.PageTable == nil {
		return -1, ErrNoPageTable
	}

	childPDT, err := vmm.NewPageDirectoryTable(t.mem, t.alloc)
	if err != nil {
		return -1, err
	}

	var child *Process
	for pid := 1; pid < NProc; pid++ {
		if t.procs[pid].State == StateFree {
			child = &t.procs[pid]
			break
		}
	}
	if child == nil {
		t.alloc.Release(childPDT.Frame())
		return -1, ErrNoFreeSlot
	}
	child.PageTable = childPDT

	if err = t.copyAddressSpace(parent, child); err != nil {
		t.Reclaim(child)
		kfmt.Logger().Warn("fork failed", zap.Int("pid", parent.PID), zap.String("error", err.Message))
		return -1, err
	}

	child.Regs = parent.Regs
	child.Regs.RAX = 0
	child.UID, child.EUID = parent.UID, parent.EUID
	child.SleepTicks = 0
	child.State = StateRunnable

	kfmt.Logger().Info("process forked", zap.Int("pid", parent.PID), zap.Int("child", child.PID))
	return child.PID, nil
}

func (t *Table) copyAddressSpace(parent, child *Process) *kernel.Error {
	for m := range parent.PageTable.Mappings(0, mm.MemSizeVirtual) {
		if m.VA() < mm.ProcStartAddr {
			if err := child.PageTable.Map(m.Page, m.Frame, m.Flags); err != nil {
				// Running out of table pages is the only way a kernel
				// mapping can fail to copy.
				if err != pmm.ErrOutOfMemory {
					kfmt.Panic(err)
				}
				return err
			}
			continue
		}

		if !m.Flags.HasFlags(vmm.FlagPresent | vmm.FlagUserAccessible) {
			continue
		}

		frame := m.Frame
		if m.Flags.HasFlags(vmm.FlagRW) {
			var err *kernel.Error
			if frame, err = t.alloc.AllocFrame(); err != nil {
				return err
			}
			t.mem.Memcopy(m.PA(), frame.Address(), mm.PageSize)
		} else {
			t.alloc.Retain(frame)
		}

		if err := child.PageTable.Map(m.Page, frame, m.Flags); err != nil {
			t.alloc.Release(frame)
			return err
		}
	}

	return nil
}

// Reclaim releases every page owned by p and frees its slot: process pages
// first, in ascending address order, then the intermediate page table pages
// and finally the top-level table.
func (t *Table) Reclaim(p *Process) {
	if p.PageTable != nil {
		pages := slices.Collect(p.PageTable.Mappings(mm.ProcStartAddr, mm.MemSizeVirtual))
		for _, m := range pages {
			t.alloc.Release(m.Frame)
		}

		tables := slices.Collect(p.PageTable.TablePages())
		for _, m := range tables {
			t.alloc.Release(m.Frame)
		}

		t.alloc.Release(p.PageTable.Frame())
		p.PageTable = nil
	}

	t.dequeue(p)
	p.State = StateFree
	p.SleepTicks = 0
	kfmt.Logger().Debug("process reclaimed", zap.Int("pid", p.PID), zap.Int("free_pages", t.alloc.FreeCount()))
}

// Exit tears down the calling process.
func (t *Table) Exit(p *Process) {
	kfmt.Logger().Info("process exited", zap.Int("pid", p.PID))
	t.Reclaim(p)
}

// PageAlloc maps a new zero-filled page at addr in p's address space with
// user read/write permissions. addr must be page aligned and inside the
// process region. A page that was already mapped at addr is released once
// the new one is in place.
func (t *Table) PageAlloc(p *Process, addr uintptr) *kernel.Error {
	if !mm.PageAligned(addr) || addr < mm.ProcStartAddr || addr >= mm.MemSizeVirtual {
		return ErrInvalidAddress
	}
	if p.PageTable == nil {
		return ErrNoPageTable
	}

	frame, err := t.alloc.AllocFrame()
	if err != nil {
		return err
	}

	page := mm.PageFromAddress(addr)
	oldFrame, _, hadMapping := p.PageTable.Lookup(page)
	if err = p.PageTable.Map(page, frame, vmm.FlagsUser); err != nil {
		t.alloc.Release(frame)
		return err
	}

	t.mem.Memset(frame.Address(), 0, mm.PageSize)
	if hadMapping {
		t.alloc.Release(oldFrame)
	}
	return nil
}

// PageFree unmaps and releases the page mapped at addr. Misaligned or out of
// range addresses and unmapped pages are silently ignored.
func (t *Table) PageFree(p *Process, addr uintptr) {
	if !mm.PageAligned(addr) || addr < mm.ProcStartAddr || addr >= mm.MemSizeVirtual || p.PageTable == nil {
		return
	}

	page := mm.PageFromAddress(addr)
	frame, flags, ok := p.PageTable.Lookup(page)
	if !ok || !flags.HasFlags(vmm.FlagUserAccessible) || t.alloc.RefCount(frame) == 0 {
		return
	}

	if err := p.PageTable.Unmap(page); err != nil {
		kfmt.Panic(err)
	}
	t.alloc.Release(frame)
}
