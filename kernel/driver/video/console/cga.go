package console

import (
	"unsafe"

	"weensyos/kernel/mm"
)

// Dimensions of the CGA text mode console.
const (
	Width  = 80
	Height = 25
)

const (
	clearColor = Black
	clearChar  = byte(' ')
)

// Cga implements a CGA-compatible text console whose frame buffer lives in
// physical memory. Each cell is a 16-bit value holding the character in the
// low byte and its attribute in the high byte, which lets user processes
// that map the console page draw on it directly.
type Cga struct {
	width  uint16
	height uint16

	fb []uint16
}

// Init sets up the console on top of the frame buffer at fbPhysAddr.
func (cons *Cga) Init(mem *mm.PhysicalMemory, fbPhysAddr uintptr) {
	cons.width = Width
	cons.height = Height
	cons.fb = unsafe.Slice((*uint16)(mem.Pointer(fbPhysAddr)), Width*Height)
}

// Clear clears the specified rectangular region
func (cons *Cga) Clear(x, y, width, height uint16) {
	var (
		clr                  = uint16(clearColor)<<8 | uint16(clearChar)
		rowOffset, colOffset uint16
	)

	// clip rectangle
	if x >= cons.width {
		x = cons.width
	}
	if y >= cons.height {
		y = cons.height
	}

	if x+width > cons.width {
		width = cons.width - x
	}
	if y+height > cons.height {
		height = cons.height - y
	}

	rowOffset = (y * cons.width) + x
	for ; height > 0; height, rowOffset = height-1, rowOffset+cons.width {
		for colOffset = rowOffset; colOffset < rowOffset+width; colOffset++ {
			cons.fb[colOffset] = clr
		}
	}
}

// Dimensions returns the console width and height in characters.
func (cons *Cga) Dimensions() (uint16, uint16) {
	return cons.width, cons.height
}

// Scroll a particular number of lines to the specified direction.
func (cons *Cga) Scroll(dir ScrollDir, lines uint16) {
	if lines == 0 || lines > cons.height {
		return
	}

	offset := lines * cons.width
	switch dir {
	case Up:
		copy(cons.fb, cons.fb[offset:])
	case Down:
		copy(cons.fb[offset:], cons.fb)
	}
}

// Write a char to the specified location.
func (cons *Cga) Write(ch byte, attr Attr, x, y uint16) {
	if x >= cons.width || y >= cons.height {
		return
	}

	cons.fb[(y*cons.width)+x] = (uint16(attr) << 8) | uint16(ch)
}

// Read returns the char and attribute at the specified location. Off-screen
// locations read as blanks.
func (cons *Cga) Read(x, y uint16) (byte, Attr) {
	if x >= cons.width || y >= cons.height {
		return clearChar, clearColor
	}

	cell := cons.fb[(y*cons.width)+x]
	return byte(cell), Attr(cell >> 8)
}
