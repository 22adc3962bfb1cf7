// Package kmain boots the kernel and drives the simulated machine: it runs
// user code on the processor until a trap or the end of the time slice and
// hands every trap to the dispatcher.
package kmain

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"weensyos/kernel"
	"weensyos/kernel/config"
	"weensyos/kernel/cpu"
	"weensyos/kernel/driver/keyboard"
	"weensyos/kernel/driver/memview"
	"weensyos/kernel/hal"
	"weensyos/kernel/image"
	"weensyos/kernel/kfmt"
	"weensyos/kernel/mm"
	"weensyos/kernel/mm/pmm"
	"weensyos/kernel/mm/vmm"
	"weensyos/kernel/proc"
	"weensyos/kernel/sched"
	"weensyos/kernel/trap"
)

// StopReason tells why Run returned.
type StopReason int

// The reasons for Run to return without an error.
const (
	StopNone StopReason = iota
	StopCanceled
	StopQuit
	StopMaxTicks
	StopIdle
)

func (r StopReason) String() string {
	switch r {
	case StopCanceled:
		return "canceled"
	case StopQuit:
		return "quit requested"
	case StopMaxTicks:
		return "tick limit reached"
	case StopIdle:
		return "no live process"
	default:
		return "running"
	}
}

// Option customizes Boot.
type Option func(*Kernel)

// WithKeyboard makes the kernel poll latch for quit requests.
func WithKeyboard(latch *keyboard.Latch) Option {
	return func(k *Kernel) { k.keyboard = latch }
}

// WithLogger installs l as the kernel logger for this boot. Without it the
// kernel logs nothing.
func WithLogger(l *zap.Logger) Option {
	return func(k *Kernel) { k.logger = l }
}

// WithTickHook makes Run call fn, from the goroutine running the kernel,
// after every step that advanced the tick counter.
func WithTickHook(fn func(*Kernel)) Option {
	return func(k *Kernel) { k.onTick = fn }
}

// Kernel is a booted machine.
type Kernel struct {
	cfg      *config.Config
	bootID   string
	logger   *zap.Logger
	keyboard *keyboard.Latch
	onTick   func(*Kernel)

	machine  *hal.Machine
	table    *proc.Table
	sched    *sched.Scheduler
	dispatch *trap.Dispatcher
	viewer   *memview.Viewer

	decision  sched.Decision
	bootTicks uint64
	untilTick int
	stop      StopReason
	halted    error
}

// Boot powers on the machine, builds the kernel page table and the process
// table, starts the processes listed in cfg and selects the first one to
// run. Programs are resolved through loader. A kernel panic during boot is
// returned as a *cpu.Halted error.
func Boot(cfg *config.Config, loader image.Loader, opts ...Option) (k *Kernel, err error) {
	if kerr := cfg.Validate(); kerr != nil {
		return nil, kerr
	}

	k = &Kernel{
		cfg:       cfg,
		bootID:    uuid.NewString(),
		logger:    zap.NewNop(),
		keyboard:  &keyboard.Latch{},
		untilTick: cfg.InstructionsPerTick,
	}
	for _, opt := range opts {
		opt(k)
	}

	kfmt.SetLogger(k.logger.With(zap.String("boot_id", k.bootID)))
	defer func() {
		if halted := recoverHalt(recover()); halted != nil {
			k, err = nil, halted
		}
	}()

	k.machine = hal.NewMachine(mm.MemSizePhysical)
	kfmt.SetOutputSink(k.machine.Terminal)

	alloc := pmm.New(k.machine.Memory)
	kernelPDT, kerr := vmm.NewKernelPDT(k.machine.Memory, alloc)
	if kerr != nil {
		kfmt.Panic(kerr)
	}
	k.machine.CPU.SwitchPDT(kernelPDT.Address())

	k.table = proc.NewTable(k.machine.Memory, alloc, kernelPDT)
	k.viewer = memview.NewViewer(k.table, k.machine.Terminal)
	k.sched = sched.New(k.table, cfg.Hz, k.viewer, k.keyboard)
	k.dispatch = trap.New(k.sched, k.machine.CPU, k.machine.Terminal)

	for i, p := range cfg.Processes {
		img, kerr := loader.Load(p.Program)
		if kerr != nil {
			return nil, kerr
		}
		if kerr = k.table.Setup(i+1, img, p.UID, p.EUID); kerr != nil {
			return nil, kernel.Errorf("kmain", "cannot start %s in slot %d: %s", p.Program, i+1, kerr.Message)
		}
	}

	kfmt.Logger().Info("kernel booted",
		zap.Int("processes", len(cfg.Processes)),
		zap.Uint64("hz", cfg.Hz),
		zap.Int("free_frames", alloc.FreeCount()),
	)

	k.bootTicks = k.table.Ticks
	if len(cfg.Processes) == 0 {
		k.decision = sched.Idle{}
	} else {
		k.decision = k.sched.Run(k.table.Get(1))
	}
	return k, nil
}

// Step advances the machine by one scheduling decision. A resumed process
// runs until it traps or its time slice ends; an idle processor spins once.
// After a kernel panic every call returns the same *cpu.Halted error.
func (k *Kernel) Step() (err error) {
	if k.halted != nil {
		return k.halted
	}

	defer func() {
		if halted := recoverHalt(recover()); halted != nil {
			k.halted, err = halted, halted
			kfmt.Logger().Error("kernel halted", zap.Error(halted))
		}
	}()

	switch d := k.decision.(type) {
	case sched.Resume:
		k.resume(d.Proc)
	case sched.Idle:
		k.idle()
	}
	return nil
}

func (k *Kernel) resume(p *proc.Process) {
	c := k.machine.CPU
	c.SwitchPDT(p.PageTable.Address())

	regs := p.Regs
	trapped := false
	if k.untilTick > 0 {
		var retired int
		retired, trapped = c.Execute(&regs, k.untilTick)
		k.untilTick -= retired
	}

	if !trapped {
		k.untilTick = k.cfg.InstructionsPerTick
		c.RaiseTimer(&regs)
	}

	c.SwitchPDT(k.table.KernelPDT().Address())
	k.decision = k.dispatch.Dispatch(&regs)
}

func (k *Kernel) idle() {
	k.sched.Spin()

	if k.untilTick--; k.untilTick <= 0 {
		k.untilTick = k.cfg.InstructionsPerTick
		k.machine.CPU.RaiseTimer(nil)
		k.decision = k.dispatch.IdleTick()
	}
}

// Run steps the machine until ctx is canceled, a quit is requested, the
// configured tick limit is reached or, when configured, no live process
// remains. It returns nil in those cases and the kernel panic otherwise;
// StopReason tells which condition ended the run.
func (k *Kernel) Run(ctx context.Context) error {
	defer func() {
		kfmt.Logger().Info("kernel stopped",
			zap.Stringer("reason", k.stop),
			zap.Uint64("ticks", k.Elapsed()),
		)
	}()

	lastTicks := k.table.Ticks
	for {
		select {
		case <-ctx.Done():
			k.stop = StopCanceled
			return nil
		default:
		}

		switch {
		case k.sched.QuitRequested():
			k.stop = StopQuit
			return nil
		case k.cfg.MaxTicks != 0 && k.Elapsed() >= k.cfg.MaxTicks:
			k.stop = StopMaxTicks
			return nil
		case k.cfg.StopWhenIdle && k.LiveProcesses() == 0:
			k.stop = StopIdle
			return nil
		}

		if err := k.Step(); err != nil {
			return err
		}

		if k.onTick != nil && k.table.Ticks != lastTicks {
			lastTicks = k.table.Ticks
			k.onTick(k)
		}
	}
}

// LiveProcesses returns the number of runnable or sleeping processes.
func (k *Kernel) LiveProcesses() int {
	live := 0
	for pid := 1; pid < proc.NProc; pid++ {
		if k.table.Get(pid).Live() {
			live++
		}
	}
	return live
}

// Elapsed returns the number of timer ticks delivered since boot. The
// process table's counter starts at 1, so this is Ticks minus its value at
// boot; max_ticks is compared against it.
func (k *Kernel) Elapsed() uint64 { return k.table.Ticks - k.bootTicks }

// StopReason returns why the last call to Run returned.
func (k *Kernel) StopReason() StopReason { return k.stop }

// BootID returns the identifier attached to every log entry of this boot.
func (k *Kernel) BootID() string { return k.bootID }

// Machine returns the simulated hardware.
func (k *Kernel) Machine() *hal.Machine { return k.machine }

// Table returns the process table.
func (k *Kernel) Table() *proc.Table { return k.table }

// Scheduler returns the scheduler.
func (k *Kernel) Scheduler() *sched.Scheduler { return k.sched }

// Viewer returns the memory viewer drawing on the console.
func (k *Kernel) Viewer() *memview.Viewer { return k.viewer }

// Keyboard returns the latch polled for quit requests.
func (k *Kernel) Keyboard() *keyboard.Latch { return k.keyboard }

// Decision returns what the next Step will do.
func (k *Kernel) Decision() sched.Decision { return k.decision }

func recoverHalt(r any) *cpu.Halted {
	if r == nil {
		return nil
	}

	halted, ok := r.(*cpu.Halted)
	if !ok {
		panic(r)
	}
	return halted
}
