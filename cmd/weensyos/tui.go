package main

import (
	"context"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"weensyos/kernel/driver/keyboard"
	"weensyos/kernel/driver/memview"
	"weensyos/kernel/kmain"
)

// frameInterval bounds how often the kernel pushes a console frame to the
// terminal.
const frameInterval = 50 * time.Millisecond

var helpStyle = lipgloss.NewStyle().Faint(true)

// frameMsg carries a rendered copy of the console.
type frameMsg string

// doneMsg reports that the kernel stopped.
type doneMsg struct{ err error }

// viewModel is the bubbletea model of the terminal view. It never touches
// the kernel; frames are rendered on the kernel goroutine and sent in.
type viewModel struct {
	latch    *keyboard.Latch
	frame    string
	quitting bool
	err      error
}

func newViewModel(latch *keyboard.Latch) viewModel {
	return viewModel{latch: latch}
}

func (m viewModel) Init() tea.Cmd {
	return nil
}

func (m viewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			m.latch.RequestQuit()
		}
	case frameMsg:
		m.frame = string(msg)
	case doneMsg:
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m viewModel) View() string {
	help := "q: quit"
	if m.quitting {
		help = "stopping..."
	}
	return m.frame + "\n" + helpStyle.Render(help) + "\n"
}

// tuiRunner shows the console in a bubbletea program while the kernel runs
// on its own goroutine.
type tuiRunner struct {
	program   *tea.Program
	lastFrame time.Time
}

// newTUIRunner returns a runner whose key presses are forwarded to latch.
func newTUIRunner(in io.Reader, out io.Writer, latch *keyboard.Latch) *tuiRunner {
	return &tuiRunner{
		program: tea.NewProgram(newViewModel(latch),
			tea.WithAltScreen(),
			tea.WithInput(in),
			tea.WithOutput(out),
		),
	}
}

// onTick runs on the kernel goroutine.
func (r *tuiRunner) onTick(k *kmain.Kernel) {
	if time.Since(r.lastFrame) < frameInterval {
		return
	}
	r.lastFrame = time.Now()
	r.program.Send(frameMsg(memview.RenderConsole(k.Machine().Console)))
}

func (r *tuiRunner) run(ctx context.Context, k *kmain.Kernel) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := k.Run(gctx)
		r.program.Send(frameMsg(memview.RenderConsole(k.Machine().Console)))
		r.program.Send(doneMsg{err: err})
		return err
	})

	g.Go(func() error {
		_, err := r.program.Run()
		if err != nil {
			k.Keyboard().RequestQuit()
		}
		return err
	})

	return g.Wait()
}
