package mm

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uint64)). Page table
	// entries are always 8 bytes wide.
	PointerShift = uintptr(3)

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)
)

// Machine memory layout. Everything below ProcStartAddr is shared by all
// address spaces; everything at or above it is private to a process.
const (
	// MemSizePhysical is the amount of physical memory installed.
	MemSizePhysical = uintptr(2 * Mb)

	// MemSizeVirtual is the ceiling of every process address space.
	MemSizeVirtual = uintptr(3 * Mb)

	// ProcStartAddr is the first virtual address available for process
	// code, data, heap and stack.
	ProcStartAddr = uintptr(0x100000)

	// ConsoleAddr is the CGA text buffer. It is the only page below
	// ProcStartAddr that user code may touch.
	ConsoleAddr = uintptr(0xb8000)

	// KernelStartAddr and KernelEndAddr delimit the kernel image.
	KernelStartAddr = uintptr(0x40000)
	KernelEndAddr   = uintptr(0x60000)

	// KernelStackTop is the top of the kernel stack; the page right below
	// it holds the stack.
	KernelStackTop = uintptr(0x80000)

	// IOPhysMem and ExtPhysMem delimit the legacy I/O hole.
	IOPhysMem  = uintptr(0xa0000)
	ExtPhysMem = uintptr(0x100000)
)

// RoundDown rounds addr down to the nearest page boundary.
func RoundDown(addr uintptr) uintptr {
	return addr &^ (PageSize - 1)
}

// RoundUp rounds addr up to the nearest page boundary.
func RoundUp(addr uintptr) uintptr {
	return (addr + PageSize - 1) &^ (PageSize - 1)
}

// PageAligned returns true if addr lies on a page boundary.
func PageAligned(addr uintptr) bool {
	return addr&(PageSize-1) == 0
}
