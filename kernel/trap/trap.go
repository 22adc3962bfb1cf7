// Package trap implements the kernel entry point for every trapped event:
// timer interrupts, page faults, system calls and unexpected exceptions.
package trap

import (
	"go.uber.org/zap"

	"weensyos/kernel"
	"weensyos/kernel/cpu"
	"weensyos/kernel/driver/video/console"
	"weensyos/kernel/gate"
	"weensyos/kernel/kfmt"
	"weensyos/kernel/mm/vmm"
	"weensyos/kernel/proc"
	"weensyos/kernel/sched"
)

const (
	// faultRow is the console row used for page fault reports.
	faultRow = 24

	// maxPanicMessage bounds the message read by the panic system call.
	maxPanicMessage = 160

	// sysFailed is returned to user code when a system call fails.
	sysFailed = ^uint64(0)
)

var errNoCurrentProcess = &kernel.Error{Module: "trap", Message: "trap taken without a current process"}

// Console receives user visible fault reports.
type Console interface {
	PrintAt(x, y uint16, attr console.Attr, format string, args ...any)
}

// Dispatcher handles traps on behalf of the current process and returns the
// scheduling decision that follows. Interrupts are disabled while it runs so
// a single dispatch is never interleaved with another.
type Dispatcher struct {
	sched *sched.Scheduler
	table *proc.Table
	cpu   *cpu.CPU
	cons  Console
}

// New returns a dispatcher.
func New(s *sched.Scheduler, c *cpu.CPU, cons Console) *Dispatcher {
	return &Dispatcher{
		sched: s,
		table: s.Table(),
		cpu:   c,
		cons:  cons,
	}
}

// Dispatch handles the trap described by regs, the register snapshot of the
// current process taken when the trap was raised. The snapshot is copied
// into the process before anything else so handlers only ever see the
// process control block.
func (d *Dispatcher) Dispatch(regs *gate.Registers) sched.Decision {
	p := d.table.Current()
	if p == nil {
		kfmt.Panic(errNoCurrentProcess)
	}

	p.Regs = *regs
	regs = &p.Regs

	// refresh the memory viewer unless this is a kernel fault
	if regs.Vector != gate.PageFaultException || regs.Info&gate.PFErrUser != 0 {
		d.sched.Memshow()
	}
	d.sched.CheckKeyboard()

	switch t := gate.Decode(regs, uintptr(d.cpu.ReadCR2())).(type) {
	case gate.TimerTick:
		return d.timerTick()
	case gate.PageFault:
		d.pageFault(p, t)
	case gate.Syscall:
		return d.syscall(p, t)
	case gate.UnknownTrap:
		kfmt.Panic(kernel.Errorf("trap", "Unhandled exception %d (rip=%#x)!", t.Vector, regs.RIP))
	}

	return d.resume(p)
}

// IdleTick handles a timer interrupt taken while no process was running.
func (d *Dispatcher) IdleTick() sched.Decision {
	d.sched.CheckKeyboard()
	return d.timerTick()
}

func (d *Dispatcher) timerTick() sched.Decision {
	d.table.Tick()
	d.cpu.AckTimer()
	return d.sched.Schedule()
}

func (d *Dispatcher) pageFault(p *proc.Process, pf gate.PageFault) {
	operation, problem := vmm.FaultReason(p.Regs.Info)
	if !pf.User {
		kfmt.Panic(kernel.Errorf("trap", "Kernel page fault on %#x (%s %s, rip=%#x)!", pf.Addr, operation, problem, p.Regs.RIP))
	}

	d.cons.PrintAt(0, faultRow, console.LightRed, "Process %d page fault on %#x (%s %s, rip=%#x)!",
		p.PID, pf.Addr, operation, problem, p.Regs.RIP)
	kfmt.Logger().Warn("page fault",
		zap.Int("pid", p.PID),
		zap.Uintptr("addr", pf.Addr),
		zap.Stringer("access", pf.Access),
		zap.Stringer("cause", pf.Cause),
		zap.Uint64("rip", p.Regs.RIP),
	)

	p.State = proc.StateFaulted
}

func (d *Dispatcher) syscall(p *proc.Process, sc gate.Syscall) sched.Decision {
	arg := sc.Args[0]

	switch sc.Number {
	case gate.SysPanic:
		d.userPanic(p, uintptr(arg))
		return nil

	case gate.SysGetPID:
		return d.complete(p, uint64(p.PID))

	case gate.SysYield:
		p.Regs.RAX = 0
		return d.sched.Schedule()

	case gate.SysPageAlloc:
		return d.completeErr(p, d.table.PageAlloc(p, uintptr(arg)))

	case gate.SysFork:
		pid, err := d.table.Fork(p)
		if err != nil {
			return d.complete(p, sysFailed)
		}
		return d.complete(p, uint64(pid))

	case gate.SysExit:
		d.table.Exit(p)
		return d.sched.Schedule()

	case gate.SysPageFree:
		d.table.PageFree(p, uintptr(arg))
		return d.complete(p, 0)

	case gate.SysKill:
		return d.completeErr(p, d.table.Kill(p, int(int64(arg))))

	case gate.SysSleep:
		d.table.Sleep(p, arg)
		return d.complete(p, 0)

	default:
		kfmt.Panic(kernel.Errorf("trap", "Unhandled system call %d (pid=%d, rip=%#x)!", sc.Number, p.PID, p.Regs.RIP))
		return nil
	}
}

// complete stores a system call result and resumes p if it can still run.
func (d *Dispatcher) complete(p *proc.Process, ret uint64) sched.Decision {
	p.Regs.RAX = ret
	return d.resume(p)
}

func (d *Dispatcher) completeErr(p *proc.Process, err *kernel.Error) sched.Decision {
	if err != nil {
		kfmt.Logger().Debug("system call failed", zap.Int("pid", p.PID), zap.String("error", err.Message))
		return d.complete(p, sysFailed)
	}
	return d.complete(p, 0)
}

func (d *Dispatcher) resume(p *proc.Process) sched.Decision {
	if p.State == proc.StateRunnable {
		return d.sched.Run(p)
	}
	return d.sched.Schedule()
}

// userPanic halts the kernel with the message supplied by a process.
func (d *Dispatcher) userPanic(p *proc.Process, msgAddr uintptr) {
	msg := "(no message)"
	if msgAddr != 0 {
		if s, err := d.table.ReadUserString(p, msgAddr, maxPanicMessage); err == nil && s != "" {
			msg = s
		}
	}

	kfmt.Panic(kernel.Errorf("user", "process %d panicked: %s", p.PID, msg))
}
