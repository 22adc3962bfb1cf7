package user

import (
	"weensyos/kernel"
	"weensyos/kernel/gate"
	"weensyos/kernel/image"
	"weensyos/kernel/mm"
)

const (
	// allocSlowdown controls how often the allocator loop grabs a page:
	// process p allocates on roughly p out of every allocSlowdown steps.
	allocSlowdown = 16

	// forkexitPages is the number of heap pages a forkexit child touches
	// before exiting.
	forkexitPages = 4

	// consoleCols is the width of the text console in cells.
	consoleCols = 80

	attrLightRed = 0x0c
	attrYellow   = 0x0e
)

// Program names.
const (
	Allocator  = "allocator"
	Allocator2 = "allocator2"
	Allocator3 = "allocator3"
	Allocator4 = "allocator4"
	Fork       = "fork"
	ForkExit   = "forkexit"
	TestKill   = "test_kill"
	Sleeper    = "sleeper"
	Fault      = "fault"
)

// Names lists the built-in programs in the order Programs registers them.
var Names = []string{Allocator, Allocator2, Allocator3, Allocator4, Fork, ForkExit, TestKill, Sleeper, Fault}

// Programs assembles every built-in program. hz is the timer frequency the
// kernel runs at; programs that sleep for "a second" sleep hz ticks.
func Programs(hz uint64) (*image.Registry, *kernel.Error) {
	builders := []func() (*image.Image, *kernel.Error){
		func() (*image.Image, *kernel.Error) { return allocator(Allocator, mm.ProcStartAddr) },
		func() (*image.Image, *kernel.Error) { return allocator(Allocator2, mm.ProcStartAddr+0x40000) },
		func() (*image.Image, *kernel.Error) { return allocator(Allocator3, mm.ProcStartAddr+0x80000) },
		func() (*image.Image, *kernel.Error) { return allocator(Allocator4, mm.ProcStartAddr+0xc0000) },
		fork,
		forkexit,
		func() (*image.Image, *kernel.Error) { return testKill(hz) },
		func() (*image.Image, *kernel.Error) { return sleeper(hz / 10) },
		fault,
	}

	reg := image.NewRegistry()
	for _, build := range builders {
		img, err := build()
		if err != nil {
			return nil, err
		}
		if err = img.Validate(); err != nil {
			return nil, err
		}
		reg.Register(img)
	}
	return reg, nil
}

// allocator grows the heap one page at a time, writing its pid into each
// new page, until page_alloc fails or the heap reaches the stack. It then
// yields forever.
func allocator(name string, base uintptr) (*image.Image, *kernel.Error) {
	a := NewAsm(base)
	a.Sys(gate.SysGetPID).Mov(R12, RAX)
	heapStart := emitAllocPrologue(a)
	emitAllocLoop(a)
	return a.withHeap(name, heapStart)
}

// fork forks twice, giving four processes, and then every process runs the
// allocator loop.
func fork() (*image.Image, *kernel.Error) {
	a := NewAsm(mm.ProcStartAddr)
	a.Movi(R15, 0)
	for range 2 {
		a.Sys(gate.SysFork).Jlt(RAX, R15, "fork_failed")
	}
	a.Sys(gate.SysGetPID).Mov(R12, RAX)
	heapStart := emitAllocPrologue(a)
	emitAllocLoop(a)

	a.Label("fork_failed").
		Addr(RDI, "msg_fork_failed").
		Sys(gate.SysPanic)
	a.Data("msg_fork_failed", cstring("fork failed"))
	return a.withHeap(Fork, heapStart)
}

// forkexit keeps forking children. Each child touches a few heap pages and
// exits, so memory churns through fork, page_alloc and exit.
func forkexit() (*image.Image, *kernel.Error) {
	a := NewAsm(mm.ProcStartAddr)
	heapStart := emitAllocPrologue(a)

	a.Label("parent").
		Sys(gate.SysFork).
		Jz(RAX, "child").
		Sys(gate.SysYield).
		Sys(gate.SysYield).
		Jmp("parent")

	a.Label("child").
		Sys(gate.SysGetPID).Mov(R12, RAX).
		Movi(R13, forkexitPages)
	a.Label("child_loop").
		Jz(R13, "child_exit").
		Mov(RDI, RBX).
		Sys(gate.SysPageAlloc).
		Jnz(RAX, "child_exit").
		Storeb(R12, RBX, 0).
		Addi(RBX, int32(mm.PageSize)).
		Addi(R13, -1).
		Sys(gate.SysYield).
		Jmp("child_loop")
	a.Label("child_exit").
		Sys(gate.SysExit)
	return a.withHeap(ForkExit, heapStart)
}

// testKill forks a child that yields forever, sleeps for a second, kills
// the child and reports the outcome on console row 1.
func testKill(hz uint64) (*image.Image, *kernel.Error) {
	a := NewAsm(mm.ProcStartAddr)
	a.Movi(R15, 0).
		Sys(gate.SysFork).
		Jz(RAX, "spin").
		Mov(R12, RAX).
		SysArg(gate.SysSleep, int32(hz)).
		Mov(RDI, R12).
		Sys(gate.SysKill).
		Mov(R13, RAX).
		Movi(RDX, attrLightRed).
		Movi(RDI, consoleCell(1, 1))
	a.Jnz(R13, "failed")

	emitPrint(a, "msg_process")
	emitDecimal(a, R12)
	emitPrint(a, "msg_killed")
	a.Jmp("spin")

	a.Label("failed")
	emitPrint(a, "msg_failed")
	emitDecimal(a, R12)
	emitPrint(a, "msg_error")

	a.Label("spin").
		Sys(gate.SysYield).
		Jmp("spin")

	a.Data("msg_process", cstring("Process ")).
		Data("msg_killed", cstring(" killed successfully")).
		Data("msg_failed", cstring("Failed to kill process ")).
		Data("msg_error", cstring(" (error code -1)"))
	return a.Image(TestKill)
}

// sleeper sleeps in a loop and bumps a digit on console row 23 every time
// it wakes up.
func sleeper(ticks uint64) (*image.Image, *kernel.Error) {
	a := NewAsm(mm.ProcStartAddr)
	a.Sys(gate.SysGetPID).Mov(R12, RAX).
		Movi(RBX, consoleCell(23, 0))
	for range 4 {
		a.Add(RBX, R12)
	}
	a.Movi(R13, '0').
		Movi(R14, '9'+1).
		Movi(RDX, attrYellow)

	a.Label("loop").
		Storeb(R13, RBX, 0).
		Storeb(RDX, RBX, 1).
		SysArg(gate.SysSleep, int32(max(ticks, 1))).
		Addi(R13, 1).
		Jlt(R13, R14, "loop").
		Movi(R13, '0').
		Jmp("loop")
	return a.Image(Sleeper)
}

// fault writes to kernel memory and is marked faulted by the kernel.
func fault() (*image.Image, *kernel.Error) {
	a := NewAsm(mm.ProcStartAddr)
	a.Movi(RBX, int32(mm.PageSize)).
		Movi(RCX, 1).
		Storeb(RCX, RBX, 0).
		Jmp("halt")
	a.Label("halt").
		Sys(gate.SysYield).
		Jmp("halt")
	return a.Image(Fault)
}

// emitAllocPrologue points RBX at the first heap page and RBP at the stack
// page. The heap start is only known once the program is assembled, so the
// value is loaded through the "heap_start" data word.
func emitAllocPrologue(a *Asm) string {
	a.Addr(RBX, "heap_start").
		Load(RBX, RBX, 0).
		Mov(RBP, RSP).
		Addi(RBP, -int32(mm.PageSize))
	return "heap_start"
}

// emitAllocLoop emits the allocator main loop. R12 must hold the pid.
func emitAllocLoop(a *Asm) {
	a.Movi(R13, 0).
		Movi(R14, allocSlowdown)

	a.Label("alloc_loop").
		Add(R13, R12).
		Jlt(R13, R14, "alloc_yield").
		Sub(R13, R14).
		Mov(RCX, RBX).
		Sub(RCX, RBP).
		Jz(RCX, "alloc_done").
		Mov(RDI, RBX).
		Sys(gate.SysPageAlloc).
		Jnz(RAX, "alloc_done").
		Storeb(R12, RBX, 0).
		Addi(RBX, int32(mm.PageSize))
	a.Label("alloc_yield").
		Sys(gate.SysYield).
		Jmp("alloc_loop")

	a.Label("alloc_done").
		Sys(gate.SysYield).
		Jmp("alloc_done")
}

// emitPrint copies the NUL-terminated string at label to the console cell
// at RDI using the attribute in RDX. RDI is left past the last cell.
func emitPrint(a *Asm, label string) {
	loop, done := a.Unique("print"), a.Unique("print_done")
	a.Addr(RSI, label)
	a.Label(loop).
		Loadb(RCX, RSI, 0).
		Jz(RCX, done).
		Storeb(RCX, RDI, 0).
		Storeb(RDX, RDI, 1).
		Addi(RSI, 1).
		Addi(RDI, 2).
		Jmp(loop)
	a.Label(done)
}

// emitDecimal prints reg, which must be below 100, at the console cell at
// RDI using the attribute in RDX.
func emitDecimal(a *Asm, reg uint8) {
	tens, ones, skip := a.Unique("tens"), a.Unique("ones"), a.Unique("skip")
	a.Mov(R8, reg).
		Movi(RCX, '0').
		Movi(R9, 10)
	a.Label(tens).
		Jlt(R8, R9, ones).
		Sub(R8, R9).
		Addi(RCX, 1).
		Jmp(tens)
	a.Label(ones).
		Mov(R10, RCX).
		Addi(R10, -'0').
		Jz(R10, skip).
		Storeb(RCX, RDI, 0).
		Storeb(RDX, RDI, 1).
		Addi(RDI, 2)
	a.Label(skip).
		Addi(R8, '0').
		Storeb(R8, RDI, 0).
		Storeb(RDX, RDI, 1).
		Addi(RDI, 2)
}

// withHeap appends the heap_start word and assembles the program. The heap
// begins on the first page past the image, which includes the word itself.
func (a *Asm) withHeap(name, label string) (*image.Image, *kernel.Error) {
	var word [8]byte
	a.Data(label, word[:])

	img, err := a.Image(name)
	if err != nil {
		return nil, err
	}

	seg := &img.Segments[0]
	heap := uint64(HeapStart(img))
	for i := range word {
		seg.Data[len(seg.Data)-len(word)+i] = byte(heap >> (8 * i))
	}
	return img, nil
}

func consoleCell(row, col int) int32 {
	return int32(mm.ConsoleAddr) + int32(2*(row*consoleCols+col))
}

func cstring(s string) []byte {
	return append([]byte(s), 0)
}
