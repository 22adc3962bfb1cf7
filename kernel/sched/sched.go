// Package sched picks the process that runs next.
//
// The scheduler never transfers control itself. Every decision is returned
// to the caller as a Decision value which the kernel's driver loop consumes:
// Resume switches into a process and Idle spins the processor until the next
// timer interrupt.
package sched

import (
	"go.uber.org/zap"

	"weensyos/kernel"
	"weensyos/kernel/kfmt"
	"weensyos/kernel/proc"
)

// spinRefreshMask selects how often an idle processor refreshes the display.
const spinRefreshMask = 1<<12 - 1

// Decision is the outcome of a scheduling decision.
type Decision interface {
	decision()
}

// Resume restores the context of Proc and returns to user mode.
type Resume struct {
	Proc *proc.Process
}

// Idle means no process can run right now.
type Idle struct{}

func (Resume) decision() {}
func (Idle) decision()   {}

// Display receives the process whose address space should be shown. It is
// called with a nil process once every process has exited.
type Display interface {
	Show(p *proc.Process)
}

// Keyboard reports pending quit requests.
type Keyboard interface {
	Poll() bool
}

type nopDisplay struct{}

func (nopDisplay) Show(*proc.Process) {}

type nopKeyboard struct{}

func (nopKeyboard) Poll() bool { return false }

// Scheduler implements round-robin scheduling over a process table.
type Scheduler struct {
	table    *proc.Table
	hz       uint64
	display  Display
	keyboard Keyboard

	quit  bool
	spins uint64

	// cursor is the pid last picked by the circular scan. Processes served
	// from the run queue or resumed through Run do not move it.
	cursor int

	lastShowTicks uint64
	showing       int
}

// New returns a scheduler for table. A nil display or keyboard is replaced
// by a no-op implementation.
func New(table *proc.Table, hz uint64, display Display, keyboard Keyboard) *Scheduler {
	if display == nil {
		display = nopDisplay{}
	}
	if keyboard == nil {
		keyboard = nopKeyboard{}
	}

	return &Scheduler{
		table:    table,
		hz:       hz,
		display:  display,
		keyboard: keyboard,
	}
}

// Table returns the process table the scheduler operates on.
func (s *Scheduler) Table() *proc.Table {
	return s.table
}

// Schedule reclaims zombie processes and picks the next process to run.
// Processes woken up by the timer are served first, in the order they woke
// up. Otherwise the table is scanned circularly starting right after the
// pid the previous scan picked. Queue pops never move the scan, so a process
// that keeps sleeping and waking cannot hold back the others: N runnable
// processes are all picked within N scans.
func (s *Scheduler) Schedule() Decision {
	s.reapZombies()

	if p := s.table.PopRunnable(); p != nil {
		return s.Run(p)
	}

	pid := s.cursor
	for range proc.NProc {
		pid = (pid + 1) % proc.NProc
		if p := s.table.Get(pid); p.State == proc.StateRunnable {
			s.cursor = pid
			return s.Run(p)
		}
	}

	return Idle{}
}

// Run makes p the current process and returns the decision to resume it.
// Running a process that is not runnable or whose page table is malformed
// halts the kernel.
func (s *Scheduler) Run(p *proc.Process) Decision {
	if p.State != proc.StateRunnable {
		kfmt.Panic(kernel.Errorf("sched", "cannot run process %d in state %s", p.PID, p.State))
	}

	s.table.SetCurrent(p)
	if err := p.PageTable.Check(s.table.KernelPDT()); err != nil {
		kfmt.Panic(err)
	}

	return Resume{Proc: p}
}

func (s *Scheduler) reapZombies() {
	for pid := 1; pid < proc.NProc; pid++ {
		if p := s.table.Get(pid); p.State == proc.StateZombie {
			kfmt.Logger().Debug("reaping zombie", zap.Int("pid", pid))
			s.table.Reclaim(p)
		}
	}
}

// Memshow hands the process being shown to the display. Every half second
// of timer ticks the display moves on to the next process that owns a page
// table.
func (s *Scheduler) Memshow() {
	ticks := s.table.Ticks
	if s.lastShowTicks == 0 || ticks-s.lastShowTicks >= s.hz/2 {
		s.lastShowTicks = ticks
		s.showing = (s.showing + 1) % proc.NProc
	}

	var shown *proc.Process
	for range proc.NProc {
		if p := s.table.Get(s.showing); p.State != proc.StateFree && p.PageTable != nil {
			shown = p
			break
		}
		s.showing = (s.showing + 1) % proc.NProc
	}

	s.display.Show(shown)
}

// CheckKeyboard polls the keyboard and latches any quit request.
func (s *Scheduler) CheckKeyboard() {
	if !s.quit && s.keyboard.Poll() {
		kfmt.Logger().Info("quit requested")
		s.quit = true
	}
}

// QuitRequested returns true once a quit request was observed.
func (s *Scheduler) QuitRequested() bool {
	return s.quit
}

// Spin performs one iteration of the idle loop.
func (s *Scheduler) Spin() {
	s.spins++
	s.CheckKeyboard()

	if s.spins&spinRefreshMask == 0 {
		s.Memshow()
		kfmt.Logger().Debug("idle", zap.Uint64("spins", s.spins))
	}
}

// Spins returns the number of idle iterations since boot.
func (s *Scheduler) Spins() uint64 {
	return s.spins
}
