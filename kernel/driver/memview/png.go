package memview

import (
	"io"

	"github.com/fogleman/gg"

	"weensyos/kernel/driver/video/console"
	"weensyos/kernel/mm/vmm"
)

const (
	cellPx   = 8
	marginPx = 16
	titlePx  = 20
)

// DrawPNG renders a snapshot as an image: one square per page, colored by
// its owner. Pages user code cannot access are drawn as outlines.
func DrawPNG(s *Snapshot) *gg.Context {
	physRows := (len(s.Physical) + pagesPerRow - 1) / pagesPerRow
	virtRows := (len(s.Virtual) + pagesPerRow - 1) / pagesPerRow

	width := 2*marginPx + pagesPerRow*cellPx
	height := 2*marginPx + 2*titlePx + (physRows+virtRows)*cellPx

	dc := gg.NewContext(width, height)
	dc.SetHexColor(cgaPalette[console.Black])
	dc.Clear()

	y := float64(marginPx)
	dc.SetHexColor(cgaPalette[console.White])
	dc.DrawString("PHYSICAL MEMORY", marginPx, y+12)
	y += titlePx
	for index, owner := range s.Physical {
		_, attr := ownerCell(owner)
		drawCell(dc, index, y, cgaPalette[attr.Fg()], true)
	}
	y += float64(physRows * cellPx)

	dc.SetHexColor(cgaPalette[console.White])
	if s.PID == 0 {
		dc.DrawString("[All processes have exited]", marginPx, y+12)
		return dc
	}
	dc.DrawString(virtualTitle(s.PID), marginPx, y+12)
	y += titlePx
	for index, vp := range s.Virtual {
		if !vp.Mapped {
			continue
		}
		_, attr := ownerCell(vp.Owner)
		drawCell(dc, index, y, cgaPalette[attr.Fg()], vp.Flags.HasFlags(vmm.FlagUserAccessible))
	}

	return dc
}

func drawCell(dc *gg.Context, index int, top float64, color string, filled bool) {
	x := float64(marginPx + (index%pagesPerRow)*cellPx)
	y := top + float64((index/pagesPerRow)*cellPx)

	dc.SetHexColor(color)
	if filled {
		dc.DrawRectangle(x, y, cellPx-1, cellPx-1)
		dc.Fill()
		return
	}

	dc.SetLineWidth(1)
	dc.DrawRectangle(x+0.5, y+0.5, cellPx-2, cellPx-2)
	dc.Stroke()
}

// WritePNG encodes the rendering of s as a PNG image.
func WritePNG(w io.Writer, s *Snapshot) error {
	return DrawPNG(s).EncodePNG(w)
}
