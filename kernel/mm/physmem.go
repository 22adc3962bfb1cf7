package mm

import (
	"encoding/binary"
	"unsafe"
)

// PhysicalMemory holds the contents of the machine's RAM. The kernel
// identity-maps physical memory, so a physical address is also the address
// the kernel uses to reach those bytes.
type PhysicalMemory struct {
	data []byte
}

// NewPhysicalMemory returns size bytes of zeroed RAM. The size is rounded up
// to a whole number of pages.
func NewPhysicalMemory(size uintptr) *PhysicalMemory {
	return &PhysicalMemory{data: make([]byte, RoundUp(size))}
}

// Size returns the number of installed bytes.
func (m *PhysicalMemory) Size() uintptr {
	return uintptr(len(m.data))
}

// FrameCount returns the number of installed page frames.
func (m *PhysicalMemory) FrameCount() int {
	return len(m.data) >> PageShift
}

// Contains returns true if [addr, addr+size) lies inside installed memory.
func (m *PhysicalMemory) Contains(addr, size uintptr) bool {
	return addr <= m.Size() && size <= m.Size()-addr
}

// Slice overlays a byte slice on top of the physical region [addr, addr+size).
// Writes through the slice modify memory.
func (m *PhysicalMemory) Slice(addr, size uintptr) []byte {
	return m.data[addr : addr+size : addr+size]
}

// FrameBytes returns the contents of a whole page frame.
func (m *PhysicalMemory) FrameBytes(f Frame) []byte {
	return m.Slice(f.Address(), PageSize)
}

// Pointer returns a pointer to the byte at addr. It is used to overlay
// fixed-width structures such as page table entries on top of RAM; addr must
// be suitably aligned for the overlaid type.
func (m *PhysicalMemory) Pointer(addr uintptr) unsafe.Pointer {
	return unsafe.Pointer(&m.data[addr])
}

// Memset sets size bytes at the given address to the supplied value. Instead
// of using a for loop, this function uses log2(size) copy calls which should
// give us a speed boost as page addresses are always aligned.
func (m *PhysicalMemory) Memset(addr uintptr, value byte, size uintptr) {
	if size == 0 {
		return
	}

	target := m.Slice(addr, size)

	// Set first element and make log2(size) optimized copies
	target[0] = value
	for index := uintptr(1); index < size; index *= 2 {
		copy(target[index:], target[:index])
	}
}

// Memcopy copies size bytes from src to dst.
func (m *PhysicalMemory) Memcopy(src, dst uintptr, size uintptr) {
	if size == 0 {
		return
	}

	copy(m.Slice(dst, size), m.Slice(src, size))
}

// Uint64 reads the little-endian 64-bit word stored at addr.
func (m *PhysicalMemory) Uint64(addr uintptr) uint64 {
	return binary.LittleEndian.Uint64(m.Slice(addr, 8))
}

// PutUint64 stores v as a little-endian 64-bit word at addr.
func (m *PhysicalMemory) PutUint64(addr uintptr, v uint64) {
	binary.LittleEndian.PutUint64(m.Slice(addr, 8), v)
}
