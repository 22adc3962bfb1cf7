package console

// Attr defines a color attribute. The low nibble selects the foreground
// color and the high nibble the background color.
type Attr uint16

// The set of colors that can be combined into an Attr.
const (
	Black Attr = iota
	Blue
	Green
	Cyan
	Red
	Magenta
	Brown
	LightGrey
	Grey
	LightBlue
	LightGreen
	LightCyan
	LightRed
	LightMagenta
	LightBrown
	White
)

// MakeAttr combines a foreground and a background color.
func MakeAttr(fg, bg Attr) Attr {
	return (bg << 4) | (fg & 0xf)
}

// Fg returns the foreground color of the attribute.
func (a Attr) Fg() Attr {
	return a & 0xf
}

// Bg returns the background color of the attribute.
func (a Attr) Bg() Attr {
	return (a >> 4) & 0xf
}

// ScrollDir defines a scroll direction.
type ScrollDir uint8

// The supported list of scroll directions for the console Scroll() calls.
const (
	Up ScrollDir = iota
	Down
)

// The Console interface is implemented by objects that can function as physical consoles.
type Console interface {
	// Dimensions returns the width and height of the console in characters.
	Dimensions() (uint16, uint16)

	// Clear clears the specified rectangular region
	Clear(x, y, width, height uint16)

	// Scroll a particular number of lines to the specified direction.
	Scroll(dir ScrollDir, lines uint16)

	// Write a char to the specified location.
	Write(ch byte, attr Attr, x, y uint16)

	// Read returns the char and attribute at the specified location.
	Read(x, y uint16) (byte, Attr)
}
