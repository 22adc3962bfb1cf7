package pmm

import (
	"weensyos/kernel"
	"weensyos/kernel/kfmt"
	"weensyos/kernel/mm"
)

var (
	// ErrOutOfMemory is returned when no allocatable frame is free.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	errRequestTooLarge = &kernel.Error{Module: "pmm", Message: "allocation request larger than a page"}
	errDoubleFree      = &kernel.Error{Module: "pmm", Message: "release of a free frame"}
	errBadFrame        = &kernel.Error{Module: "pmm", Message: "frame is not managed by the allocator"}
)

// FillByte is written to every byte of a freshly allocated frame. It is the
// INT3 opcode, so jumping into memory that was never initialized traps
// straight away.
const FillByte = 0xcc

// Allocatable returns true if the frame containing physAddr can be handed
// out by the allocator. Page 0, the I/O hole, the kernel image and the
// kernel stack page are reserved.
func Allocatable(physAddr uintptr) bool {
	switch {
	case physAddr >= mm.MemSizePhysical:
		return false
	case physAddr < mm.PageSize:
		return false
	case physAddr >= mm.IOPhysMem && physAddr < mm.ExtPhysMem:
		return false
	case physAddr >= mm.KernelStartAddr && physAddr < mm.KernelEndAddr:
		return false
	case physAddr >= mm.KernelStackTop-mm.PageSize && physAddr < mm.KernelStackTop:
		return false
	}
	return true
}

// Allocator hands out physical frames and tracks how many page table
// mappings reference each of them. A frame is free iff its reference count
// is zero. AllocFrame, Retain and Release are the only operations that touch
// the counts.
type Allocator struct {
	mem      *mm.PhysicalMemory
	refcount []uint16
}

// New returns an allocator managing every frame of mem.
func New(mem *mm.PhysicalMemory) *Allocator {
	return &Allocator{
		mem:      mem,
		refcount: make([]uint16, mem.FrameCount()),
	}
}

// AllocFrame scans the whole allocatable range for a free frame, marks it as
// used and fills it with FillByte. AllocFrame returns ErrOutOfMemory if every
// frame is in use.
func (alloc *Allocator) AllocFrame() (mm.Frame, *kernel.Error) {
	for index := range alloc.refcount {
		frame := mm.Frame(index)
		if alloc.refcount[index] != 0 || !Allocatable(frame.Address()) {
			continue
		}

		alloc.refcount[index] = 1
		alloc.mem.Memset(frame.Address(), FillByte, mm.PageSize)
		return frame, nil
	}

	return mm.InvalidFrame, ErrOutOfMemory
}

// Alloc reserves a frame large enough to hold size bytes. Requests larger
// than a page fail; smaller requests still consume a whole page.
func (alloc *Allocator) Alloc(size mm.Size) (mm.Frame, *kernel.Error) {
	if uintptr(size) > mm.PageSize {
		return mm.InvalidFrame, errRequestTooLarge
	}

	return alloc.AllocFrame()
}

// Retain records one more reference to an allocated frame.
func (alloc *Allocator) Retain(frame mm.Frame) {
	if !alloc.managed(frame) || alloc.refcount[frame] == 0 {
		kfmt.Panic(errBadFrame)
		return
	}

	alloc.refcount[frame]++
}

// Release drops one reference to frame. The frame becomes free once its
// last reference is gone. Releasing a frame that is already free is a
// double free and halts the kernel.
func (alloc *Allocator) Release(frame mm.Frame) {
	if !alloc.managed(frame) {
		kfmt.Panic(errBadFrame)
		return
	}
	if alloc.refcount[frame] == 0 {
		kfmt.Panic(kernel.Errorf(errDoubleFree.Module, "%s %#x", errDoubleFree.Message, frame.Address()))
		return
	}

	alloc.refcount[frame]--
}

// RefCount returns the number of references held on frame.
func (alloc *Allocator) RefCount(frame mm.Frame) int {
	if frame >= mm.Frame(len(alloc.refcount)) {
		return 0
	}
	return int(alloc.refcount[frame])
}

// FreeCount returns the number of allocatable frames that are free.
func (alloc *Allocator) FreeCount() int {
	free := 0
	for index, count := range alloc.refcount {
		if count == 0 && Allocatable(mm.Frame(index).Address()) {
			free++
		}
	}
	return free
}

// FrameCount returns the number of frames managed by the allocator.
func (alloc *Allocator) FrameCount() int {
	return len(alloc.refcount)
}

func (alloc *Allocator) managed(frame mm.Frame) bool {
	return frame < mm.Frame(len(alloc.refcount)) && Allocatable(frame.Address())
}

// PrintMemoryMap prints the physical memory layout and the number of free
// frames.
func (alloc *Allocator) PrintMemoryMap() {
	kfmt.Printf("[pmm] system memory map:\n")
	kfmt.Printf("\t[0x%06x - 0x%06x] reserved (null page)\n", 0, mm.PageSize)
	kfmt.Printf("\t[0x%06x - 0x%06x] reserved (kernel image)\n", mm.KernelStartAddr, mm.KernelEndAddr)
	kfmt.Printf("\t[0x%06x - 0x%06x] reserved (kernel stack)\n", mm.KernelStackTop-mm.PageSize, mm.KernelStackTop)
	kfmt.Printf("\t[0x%06x - 0x%06x] reserved (I/O hole)\n", mm.IOPhysMem, mm.ExtPhysMem)
	kfmt.Printf("[pmm] free memory: %dKb\n", uint64(mm.Size(alloc.FreeCount())*mm.Size(mm.PageSize)/mm.Kb))
}
