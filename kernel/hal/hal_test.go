package hal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"weensyos/kernel/driver/video/console"
	"weensyos/kernel/mm"
)

func TestNewMachine(t *testing.T) {
	m := NewMachine(mm.MemSizePhysical)

	assert.Equal(t, mm.MemSizePhysical, m.Memory.Size())
	assert.Equal(t, uintptr(0), m.CPU.ActivePDT())

	w, h := m.Terminal.Dimensions()
	assert.Equal(t, uint16(console.Width), w)
	assert.Equal(t, uint16(console.Height), h)

	// The terminal draws into the console page of physical memory.
	m.Terminal.Write([]byte("hi"))
	buf := m.Memory.Slice(mm.ConsoleAddr, 4)
	assert.Equal(t, byte('h'), buf[0])
	assert.Equal(t, byte('i'), buf[2])
}
