package proc

import (
	"go.uber.org/zap"

	"weensyos/kernel"
	"weensyos/kernel/gate"
	"weensyos/kernel/kfmt"
	"weensyos/kernel/mm"
	"weensyos/kernel/mm/pmm"
	"weensyos/kernel/mm/vmm"
)

// NProc is the number of process slots. Slot 0 is never used.
const NProc = 16

var (
	// ErrNoFreeSlot is returned when every process slot is in use.
	ErrNoFreeSlot = &kernel.Error{Module: "proc", Message: "no free process slot"}

	// ErrNoPageTable is returned when an operation needs the page table of
	// a process that does not own one.
	ErrNoPageTable = &kernel.Error{Module: "proc", Message: "process has no page table"}

	// ErrNoSuchProcess is returned when a pid does not name a live process.
	ErrNoSuchProcess = &kernel.Error{Module: "proc", Message: "no such process"}

	// ErrPermission is returned when the caller may not act on the target.
	ErrPermission = &kernel.Error{Module: "proc", Message: "operation not permitted"}

	// ErrInvalidAddress is returned for misaligned or out of range
	// process addresses.
	ErrInvalidAddress = &kernel.Error{Module: "proc", Message: "invalid process address"}

	errSlotInUse = &kernel.Error{Module: "proc", Message: "process slot in use"}
)

// State is the lifecycle state of a process slot.
type State uint8

const (
	// StateFree marks an unused slot.
	StateFree State = iota
	// StateRunnable processes can be picked by the scheduler.
	StateRunnable
	// StateSleeping processes wait for their tick countdown to expire.
	StateSleeping
	// StateFaulted processes hit an unrecoverable fault and never run again.
	StateFaulted
	// StateZombie processes exited or were killed and await reclamation.
	StateZombie
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateRunnable:
		return "runnable"
	case StateSleeping:
		return "sleeping"
	case StateFaulted:
		return "faulted"
	case StateZombie:
		return "zombie"
	}
	return "unknown"
}

// Process is a process control block.
type Process struct {
	PID  int
	UID  int
	EUID int

	State State
	Regs  gate.Registers

	// PageTable is owned exclusively by the process.
	PageTable *vmm.PageDirectoryTable

	// SleepTicks counts the timer ticks left before a sleeping process
	// becomes runnable again.
	SleepTicks uint64

	// run queue link
	next   *Process
	queued bool
}

// Live returns true if the process is runnable or sleeping.
func (p *Process) Live() bool {
	return p.State == StateRunnable || p.State == StateSleeping
}

// Table holds the kernel's process state: the process slots, the currently
// executing process, the tick counter and the run queue. It is only ever
// touched from kernel context with interrupts disabled and is therefore not
// synchronized.
type Table struct {
	procs   [NProc]Process
	current *Process

	// Ticks counts timer interrupts since boot.
	Ticks uint64

	runHead, runTail *Process

	mem       *mm.PhysicalMemory
	alloc     *pmm.Allocator
	kernelPDT *vmm.PageDirectoryTable
}

// NewTable returns a table with every slot free.
func NewTable(mem *mm.PhysicalMemory, alloc *pmm.Allocator, kernelPDT *vmm.PageDirectoryTable) *Table {
	t := &Table{
		Ticks:     1,
		mem:       mem,
		alloc:     alloc,
		kernelPDT: kernelPDT,
	}
	for pid := range t.procs {
		t.procs[pid].PID = pid
	}
	return t
}

// Get returns the process in slot pid or nil if pid is out of range.
func (t *Table) Get(pid int) *Process {
	if pid < 0 || pid >= NProc {
		return nil
	}
	return &t.procs[pid]
}

// Current returns the process whose context was most recently restored.
func (t *Table) Current() *Process {
	return t.current
}

// SetCurrent records p as the executing process.
func (t *Table) SetCurrent(p *Process) {
	t.current = p
}

// Memory returns the physical memory the table's processes live in.
func (t *Table) Memory() *mm.PhysicalMemory {
	return t.mem
}

// Allocator returns the physical frame allocator.
func (t *Table) Allocator() *pmm.Allocator {
	return t.alloc
}

// KernelPDT returns the kernel page table.
func (t *Table) KernelPDT() *vmm.PageDirectoryTable {
	return t.kernelPDT
}

// Enqueue appends a runnable process to the run queue.
func (t *Table) Enqueue(p *Process) {
	if p.queued {
		return
	}

	p.next, p.queued = nil, true
	if t.runTail != nil {
		t.runTail.next = p
	} else {
		t.runHead = p
	}
	t.runTail = p
}

// PopRunnable removes processes from the head of the run queue until it
// finds one that is still runnable. It returns nil once the queue is empty.
func (t *Table) PopRunnable() *Process {
	for t.runHead != nil {
		p := t.runHead
		t.runHead, p.next, p.queued = p.next, nil, false
		if t.runHead == nil {
			t.runTail = nil
		}

		if p.State == StateRunnable {
			return p
		}
	}
	return nil
}

// dequeue unlinks p from the run queue.
func (t *Table) dequeue(p *Process) {
	if !p.queued {
		return
	}

	var prev *Process
	for cur := t.runHead; cur != nil; prev, cur = cur, cur.next {
		if cur != p {
			continue
		}
		if prev == nil {
			t.runHead = cur.next
		} else {
			prev.next = cur.next
		}
		if t.runTail == cur {
			t.runTail = prev
		}
		break
	}
	p.next, p.queued = nil, false
}

// Tick advances the tick counter and counts down every sleeping process.
// Processes whose countdown expires become runnable and join the run queue.
func (t *Table) Tick() {
	t.Ticks++

	for pid := 1; pid < NProc; pid++ {
		p := &t.procs[pid]
		if p.State != StateSleeping {
			continue
		}

		if p.SleepTicks > 0 {
			p.SleepTicks--
		}
		if p.SleepTicks == 0 {
			p.State = StateRunnable
			t.Enqueue(p)
			kfmt.Logger().Debug("process woke up", zap.Int("pid", p.PID), zap.Uint64("ticks", t.Ticks))
		}
	}
}

// Sleep puts p to sleep for n timer ticks. A zero duration returns at once.
func (t *Table) Sleep(p *Process, n uint64) {
	if n == 0 {
		return
	}

	p.SleepTicks = n
	p.State = StateSleeping
	kfmt.Logger().Debug("process sleeping", zap.Int("pid", p.PID), zap.Uint64("sleep_ticks", n))
}

// Kill marks the process target as a zombie on behalf of caller. A process
// may always kill itself. Killing another process requires the caller's
// effective user id to be 0 or to match the target's user id, and the target
// must be runnable or sleeping.
func (t *Table) Kill(caller *Process, target int) *kernel.Error {
	if target == caller.PID {
		caller.State = StateZombie
		kfmt.Logger().Info("process killed itself", zap.Int("pid", caller.PID))
		return nil
	}

	p := t.Get(target)
	if p == nil || target == 0 || !p.Live() {
		return ErrNoSuchProcess
	}

	if caller.EUID != 0 && caller.EUID != p.UID {
		kfmt.Logger().Info("kill denied",
			zap.Int("pid", caller.PID),
			zap.Int("euid", caller.EUID),
			zap.Int("target", p.PID),
			zap.Int("target_uid", p.UID),
		)
		return ErrPermission
	}

	p.State = StateZombie
	t.dequeue(p)
	kfmt.Logger().Info("process killed", zap.Int("pid", caller.PID), zap.Int("target", p.PID))
	return nil
}
