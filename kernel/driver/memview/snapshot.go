// Package memview draws who owns which page of memory: the physical frames
// and the address space of one process.
package memview

import (
	"weensyos/kernel/driver/video/console"
	"weensyos/kernel/mm"
	"weensyos/kernel/mm/vmm"
	"weensyos/kernel/proc"
)

// VirtualPage describes one page of a process address space.
type VirtualPage struct {
	Mapped bool
	Flags  vmm.PageTableEntryFlag

	// Owner is the owner of the backing frame as reported by
	// proc.Table.Owners.
	Owner int
}

// Snapshot is a point in time view of memory ownership.
type Snapshot struct {
	Ticks uint64

	// Physical holds the owner of every physical frame.
	Physical []int

	// PID is the process whose address space is captured in Virtual or 0
	// if no process was shown.
	PID     int
	Virtual []VirtualPage
}

// Take captures the ownership of physical memory and the address space of p,
// which may be nil.
func Take(table *proc.Table, p *proc.Process) *Snapshot {
	s := &Snapshot{
		Ticks:    table.Ticks,
		Physical: table.Owners(),
	}
	if p == nil || p.PageTable == nil {
		return s
	}

	s.PID = p.PID
	s.Virtual = make([]VirtualPage, mm.MemSizeVirtual>>mm.PageShift)
	for m := range p.PageTable.Mappings(0, mm.MemSizeVirtual) {
		vp := &s.Virtual[m.Page]
		vp.Mapped, vp.Flags = true, m.Flags
		if int(m.Frame) < len(s.Physical) {
			vp.Owner = s.Physical[m.Frame]
		}
	}
	return s
}

const pidGlyphs = "0123456789ABCDEF"

var pidColors = [...]console.Attr{
	console.LightGreen,
	console.LightCyan,
	console.LightRed,
	console.LightMagenta,
	console.LightBrown,
	console.Green,
	console.Cyan,
	console.Magenta,
}

// ownerCell returns the glyph and color used to draw a page owned by owner.
func ownerCell(owner int) (byte, console.Attr) {
	switch owner {
	case proc.OwnerFree:
		return '.', console.MakeAttr(console.Grey, console.Black)
	case proc.OwnerKernel:
		return 'K', console.MakeAttr(console.LightBlue, console.Black)
	case proc.OwnerReserved:
		return 'R', console.MakeAttr(console.Grey, console.Black)
	case proc.OwnerShared:
		return 'S', console.MakeAttr(console.White, console.Black)
	}

	if owner < 0 {
		return '?', console.MakeAttr(console.Red, console.Black)
	}
	return pidGlyphs[owner%len(pidGlyphs)], console.MakeAttr(pidColors[owner%len(pidColors)], console.Black)
}

// virtualCell returns the glyph and color for a virtual page. Pages that
// user code cannot access are drawn in reverse video.
func virtualCell(vp VirtualPage) (byte, console.Attr) {
	if !vp.Mapped {
		return ' ', console.MakeAttr(console.LightGrey, console.Black)
	}

	ch, attr := ownerCell(vp.Owner)
	if !vp.Flags.HasFlags(vmm.FlagUserAccessible) {
		attr = console.MakeAttr(console.Black, attr.Fg())
	}
	return ch, attr
}
