package gate

// Syscall numbers shared between the kernel and user programs. The number is
// passed in RAX, the first argument in RDI and the result is returned in RAX.
const (
	SysPanic     = uint64(1)
	SysGetPID    = uint64(2)
	SysYield     = uint64(3)
	SysPageAlloc = uint64(4)
	SysFork      = uint64(5)
	SysExit      = uint64(6)
	SysPageFree  = uint64(7)
	SysKill      = uint64(8)
	SysSleep     = uint64(9)
)

// Access describes the kind of memory access that caused a page fault.
type Access uint8

const (
	// AccessRead is a load or an instruction fetch.
	AccessRead Access = iota

	// AccessWrite is a store.
	AccessWrite
)

func (a Access) String() string {
	if a == AccessWrite {
		return "write"
	}
	return "read"
}

// Cause describes why a page fault was raised.
type Cause uint8

const (
	// CauseMissingPage means no present mapping exists for the address.
	CauseMissingPage Cause = iota

	// CauseProtection means a mapping exists but it does not grant the
	// requested access.
	CauseProtection
)

func (c Cause) String() string {
	if c == CauseProtection {
		return "protection problem"
	}
	return "missing page"
}

// Trap is a decoded trap event. The concrete type is one of TimerTick,
// PageFault, Syscall or UnknownTrap.
type Trap interface {
	trap()
}

// TimerTick is a timer interrupt.
type TimerTick struct{}

// PageFault is a page fault exception.
type PageFault struct {
	Addr   uintptr
	Access Access
	Cause  Cause

	// User is true if the fault was raised while running user code.
	User bool
}

// Syscall is a system call request.
type Syscall struct {
	Number uint64
	Args   [1]uint64
}

// UnknownTrap is any other exception or interrupt.
type UnknownTrap struct {
	Vector InterruptNumber
}

func (TimerTick) trap()   {}
func (PageFault) trap()   {}
func (Syscall) trap()     {}
func (UnknownTrap) trap() {}

// Decode classifies the trap described by regs. faultAddr is the value of
// CR2 and is only consulted for page faults.
func Decode(regs *Registers, faultAddr uintptr) Trap {
	switch regs.Vector {
	case TimerIRQ:
		return TimerTick{}
	case PageFaultException:
		pf := PageFault{
			Addr: faultAddr,
			User: regs.Info&PFErrUser != 0,
		}
		if regs.Info&PFErrWrite != 0 {
			pf.Access = AccessWrite
		}
		if regs.Info&PFErrPresent != 0 {
			pf.Cause = CauseProtection
		}
		return pf
	case SyscallEntry:
		return Syscall{Number: regs.RAX, Args: [1]uint64{regs.RDI}}
	default:
		return UnknownTrap{Vector: regs.Vector}
	}
}
