package mm

// Frame is the index of a PageSize block of the machine's PhysicalMemory.
// Frame n covers physical bytes [n*PageSize, (n+1)*PageSize).
type Frame uintptr

// InvalidFrame is returned by the frame allocator when no frame is free.
const InvalidFrame = ^Frame(0)

// Valid reports whether f refers to a frame at all. It does not check that
// f lies inside installed memory; see PhysicalMemory.FrameCount.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the first byte of f.
func (f Frame) Address() uintptr {
	return uintptr(f) << PageShift
}

// Identity returns the virtual page that the kernel page table maps onto f.
func (f Frame) Identity() Page {
	return Page(f)
}

// FrameFromAddress returns the frame holding physAddr.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame(RoundDown(physAddr) >> PageShift)
}

// Page is the index of a PageSize block of a process's virtual address space.
type Page uintptr

// Address returns the virtual address of the first byte of p.
func (p Page) Address() uintptr {
	return uintptr(p) << PageShift
}

// PageFromAddress returns the page holding virtAddr.
func PageFromAddress(virtAddr uintptr) Page {
	return Page(RoundDown(virtAddr) >> PageShift)
}
