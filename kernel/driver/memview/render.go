package memview

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"weensyos/kernel/driver/video/console"
	"weensyos/kernel/mm"
)

// cgaPalette maps the 16 CGA colors to RGB.
var cgaPalette = [16]string{
	"#000000", "#0000AA", "#00AA00", "#00AAAA",
	"#AA0000", "#AA00AA", "#AA5500", "#AAAAAA",
	"#555555", "#5555FF", "#55FF55", "#55FFFF",
	"#FF5555", "#FF55FF", "#FFFF55", "#FFFFFF",
}

type cell struct {
	ch   byte
	attr console.Attr
}

func styleFor(attr console.Attr) lipgloss.Style {
	style := lipgloss.NewStyle().Foreground(lipgloss.Color(cgaPalette[attr.Fg()]))
	if bg := attr.Bg(); bg != console.Black {
		style = style.Background(lipgloss.Color(cgaPalette[bg]))
	}
	return style
}

// renderCells renders a row of cells grouping runs that share an attribute.
func renderCells(cells []cell) string {
	var (
		sb    strings.Builder
		run   []byte
		attr  console.Attr
		flush = func() {
			if len(run) != 0 {
				sb.WriteString(styleFor(attr).Render(string(run)))
				run = run[:0]
			}
		}
	)

	for _, c := range cells {
		if c.attr != attr {
			flush()
			attr = c.attr
		}
		run = append(run, c.ch)
	}
	flush()

	return sb.String()
}

// RenderConsole renders the contents of cons as colored text.
func RenderConsole(cons console.Console) string {
	w, h := cons.Dimensions()
	rows := make([]string, h)
	cells := make([]cell, w)

	for y := range h {
		for x := range w {
			ch, attr := cons.Read(x, y)
			if ch == 0 {
				ch = ' '
			}
			cells[x] = cell{ch: ch, attr: attr}
		}
		rows[y] = renderCells(cells)
	}

	return strings.Join(rows, "\n")
}

// RenderText renders a snapshot as colored text.
func RenderText(s *Snapshot) string {
	title := lipgloss.NewStyle().Bold(true)

	var sb strings.Builder
	sb.WriteString(title.Render(fmt.Sprintf("PHYSICAL MEMORY (tick %d)", s.Ticks)))
	sb.WriteByte('\n')
	renderMap(&sb, len(s.Physical), func(index int) cell {
		ch, attr := ownerCell(s.Physical[index])
		return cell{ch, attr}
	})

	if s.PID == 0 {
		sb.WriteString(title.Render("[All processes have exited]"))
		sb.WriteByte('\n')
		return sb.String()
	}

	sb.WriteString(title.Render(virtualTitle(s.PID)))
	sb.WriteByte('\n')
	renderMap(&sb, len(s.Virtual), func(index int) cell {
		ch, attr := virtualCell(s.Virtual[index])
		return cell{ch, attr}
	})

	return sb.String()
}

func renderMap(sb *strings.Builder, pages int, cellAt func(int) cell) {
	row := make([]cell, 0, pagesPerRow)
	for start := 0; start < pages; start += pagesPerRow {
		row = row[:0]
		for index := start; index < min(start+pagesPerRow, pages); index++ {
			row = append(row, cellAt(index))
		}

		fmt.Fprintf(sb, "0x%06X  %s\n", uintptr(start)<<mm.PageShift, renderCells(row))
	}
}
