package memview

import (
	"fmt"

	"weensyos/kernel/driver/tty"
	"weensyos/kernel/driver/video/console"
	"weensyos/kernel/mm"
	"weensyos/kernel/proc"
)

// Console layout of the memory viewer.
const (
	physTitleRow = 0
	virtTitleRow = 10
	labelCol     = 2
	mapCol       = 12
	pagesPerRow  = 64
)

var (
	titleAttr = console.MakeAttr(console.White, console.Black)
	labelAttr = console.MakeAttr(console.LightGrey, console.Black)
)

// Viewer draws snapshots on a terminal. It implements the scheduler's
// display so every refresh shows the process the scheduler picked.
type Viewer struct {
	table *proc.Table
	vt    *tty.Vt
	last  *Snapshot
}

// NewViewer returns a viewer that draws on vt.
func NewViewer(table *proc.Table, vt *tty.Vt) *Viewer {
	return &Viewer{table: table, vt: vt}
}

// Show takes a snapshot with p's address space and draws it.
func (v *Viewer) Show(p *proc.Process) {
	v.last = Take(v.table, p)
	v.Draw(v.last)
}

// Last returns the most recent snapshot or nil if Show was never called.
func (v *Viewer) Last() *Snapshot {
	return v.last
}

// Draw renders s on the terminal: the physical map on the top rows and the
// virtual map of the shown process below it.
func (v *Viewer) Draw(s *Snapshot) {
	v.vt.PrintAt(32, physTitleRow, titleAttr, "PHYSICAL MEMORY")
	v.drawMap(physTitleRow+1, len(s.Physical), func(index int) (byte, console.Attr) {
		return ownerCell(s.Physical[index])
	})

	if s.PID == 0 {
		for row := virtTitleRow + 1; row < virtTitleRow+1+v.virtualRows(); row++ {
			v.vt.PrintAt(0, uint16(row), labelAttr, "%-79s", "")
		}
		v.vt.PrintAt(26, virtTitleRow, titleAttr, "%-40s", "   VIRTUAL ADDRESS SPACE")
		v.vt.PrintAt(26, virtTitleRow+1, titleAttr, "%-40s", "[All processes have exited]")
		return
	}

	v.vt.PrintAt(26, virtTitleRow, titleAttr, "%-40s", virtualTitle(s.PID))
	v.drawMap(virtTitleRow+1, len(s.Virtual), func(index int) (byte, console.Attr) {
		return virtualCell(s.Virtual[index])
	})
}

func (v *Viewer) virtualRows() int {
	return int(mm.MemSizeVirtual>>mm.PageShift) / pagesPerRow
}

func (v *Viewer) drawMap(firstRow, pages int, cell func(int) (byte, console.Attr)) {
	for index := range pages {
		row := uint16(firstRow + index/pagesPerRow)
		col := index % pagesPerRow

		if col == 0 {
			v.vt.PrintAt(labelCol, row, labelAttr, "0x%06X", uintptr(index)<<mm.PageShift)
		}

		ch, attr := cell(index)
		v.vt.WriteAtPosition(uint16(mapCol+col), row, attr, ch)
	}
}

func virtualTitle(pid int) string {
	return fmt.Sprintf("VIRTUAL ADDRESS SPACE FOR %d", pid)
}
