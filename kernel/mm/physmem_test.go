package mm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhysicalMemorySize(t *testing.T) {
	mem := NewPhysicalMemory(3*PageSize + 1)

	assert.Equal(t, 4*PageSize, mem.Size())
	assert.Equal(t, 4, mem.FrameCount())
	assert.True(t, mem.Contains(0, mem.Size()))
	assert.True(t, mem.Contains(3*PageSize, PageSize))
	assert.False(t, mem.Contains(3*PageSize, PageSize+1))
	assert.False(t, mem.Contains(5*PageSize, 0))
}

func TestMemset(t *testing.T) {
	mem := NewPhysicalMemory(2 * PageSize)

	for _, size := range []uintptr{1, 3, 1000, PageSize} {
		mem.Memset(PageSize, 0, PageSize)
		mem.Memset(PageSize, 0xcc, size)

		for i, b := range mem.FrameBytes(Frame(1)) {
			exp := byte(0)
			if uintptr(i) < size {
				exp = 0xcc
			}
			require.Equalf(t, exp, b, "size %d: unexpected byte at offset %d", size, i)
		}
	}

	// A zero-sized memset is a no-op even at the end of memory.
	mem.Memset(mem.Size(), 0xff, 0)
}

func TestMemcopy(t *testing.T) {
	mem := NewPhysicalMemory(2 * PageSize)

	src := mem.FrameBytes(Frame(0))
	for i := range src {
		src[i] = byte(i % 251)
	}

	mem.Memcopy(0, PageSize, PageSize)
	assert.Equal(t, src, mem.FrameBytes(Frame(1)))

	// mutating the copy leaves the source intact
	mem.FrameBytes(Frame(1))[0] = 0xaa
	assert.Equal(t, byte(0), src[0])
}

func TestUint64RoundTrip(t *testing.T) {
	mem := NewPhysicalMemory(PageSize)

	mem.PutUint64(16, 0x1122334455667788)
	assert.Equal(t, uint64(0x1122334455667788), mem.Uint64(16))
	assert.Equal(t, byte(0x88), mem.Slice(16, 1)[0], "expected little-endian layout")
}
