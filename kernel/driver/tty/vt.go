package tty

import (
	"fmt"
	"strings"

	"weensyos/kernel/driver/video/console"
)

const (
	defaultFg = console.LightGrey
	defaultBg = console.Black
	tabWidth  = 4
)

// Vt implements a simple terminal that can process LF, CR, TAB and BS
// characters. The terminal uses a console device for its output.
//
// The terminal is only ever used from kernel context and is therefore not
// synchronized.
type Vt struct {
	cons console.Console

	width  uint16
	height uint16

	curX    uint16
	curY    uint16
	curAttr console.Attr
}

// AttachTo links the terminal with the specified console device and resets
// its cursor and color attribute.
func (t *Vt) AttachTo(cons console.Console) {
	t.cons = cons
	t.width, t.height = cons.Dimensions()
	t.curX = 0
	t.curY = 0

	// Default to lightgrey on black text.
	t.curAttr = console.MakeAttr(defaultFg, defaultBg)
}

// Dimensions returns the terminal width and height in characters.
func (t *Vt) Dimensions() (uint16, uint16) {
	return t.width, t.height
}

// Clear clears the terminal and moves the cursor to the top left corner.
func (t *Vt) Clear() {
	t.cons.Clear(0, 0, t.width, t.height)
	t.curX, t.curY = 0, 0
}

// Position returns the current cursor position (x, y).
func (t *Vt) Position() (uint16, uint16) {
	return t.curX, t.curY
}

// SetPosition sets the current cursor position to (x,y).
func (t *Vt) SetPosition(x, y uint16) {
	if x >= t.width {
		x = t.width - 1
	}

	if y >= t.height {
		y = t.height - 1
	}

	t.curX, t.curY = x, y
}

// SetAttr sets the color attribute used by subsequent writes.
func (t *Vt) SetAttr(attr console.Attr) {
	t.curAttr = attr
}

// Write implements io.Writer.
func (t *Vt) Write(data []byte) (int, error) {
	for _, b := range data {
		t.writeByte(b)
	}

	return len(data), nil
}

// WriteByte implements io.ByteWriter.
func (t *Vt) WriteByte(b byte) error {
	t.writeByte(b)
	return nil
}

// WriteAtPosition writes a character with the specified attribute at (x, y)
// without moving the cursor.
func (t *Vt) WriteAtPosition(x, y uint16, attr console.Attr, b byte) {
	t.cons.Write(b, attr, x, y)
}

// PrintAt formats according to a format specifier and writes the result
// starting at (x, y) using attr. The cursor position and the current
// attribute are restored afterwards.
func (t *Vt) PrintAt(x, y uint16, attr console.Attr, format string, args ...any) {
	savedX, savedY, savedAttr := t.curX, t.curY, t.curAttr

	t.SetPosition(x, y)
	t.curAttr = attr
	fmt.Fprintf(t, format, args...)

	t.curX, t.curY, t.curAttr = savedX, savedY, savedAttr
}

// Line returns the text on row y without trailing blanks.
func (t *Vt) Line(y uint16) string {
	buf := make([]byte, t.width)
	for x := range t.width {
		ch, _ := t.cons.Read(x, y)
		if ch == 0 {
			ch = ' '
		}
		buf[x] = ch
	}
	return strings.TrimRight(string(buf), " ")
}

// Lines returns the text of every terminal row.
func (t *Vt) Lines() []string {
	lines := make([]string, t.height)
	for y := range t.height {
		lines[y] = t.Line(y)
	}
	return lines
}

func (t *Vt) writeByte(b byte) {
	switch b {
	case '\r':
		t.cr()
	case '\n':
		t.cr()
		t.lf()
	case '\b':
		if t.curX > 0 {
			t.curX--
		}
	case '\t':
		for range tabWidth {
			t.writeByte(' ')
		}
	default:
		t.cons.Write(b, t.curAttr, t.curX, t.curY)
		t.curX++
		if t.curX == t.width {
			t.cr()
			t.lf()
		}
	}
}

// cr resets the x coordinate of the terminal cursor to 0.
func (t *Vt) cr() {
	t.curX = 0
}

// lf advances the y coordinate of the terminal cursor by one line scrolling
// the terminal contents if the end of the last terminal line is reached.
func (t *Vt) lf() {
	if t.curY+1 < t.height {
		t.curY++
		return
	}

	t.cons.Scroll(console.Up, 1)
	t.cons.Clear(0, t.height-1, t.width, 1)
}
