// Package hal assembles the simulated machine the kernel runs on: installed
// physical memory, the processor and the CGA text console.
package hal

import (
	"weensyos/kernel/cpu"
	"weensyos/kernel/driver/tty"
	"weensyos/kernel/driver/video/console"
	"weensyos/kernel/mm"
)

// Machine bundles the hardware visible to the kernel.
type Machine struct {
	Memory *mm.PhysicalMemory
	CPU    *cpu.CPU

	// Console is the text-mode framebuffer living at mm.ConsoleAddr inside
	// Memory; user code that writes to the console page lands here.
	Console *console.Cga

	// Terminal is the kernel's view of Console.
	Terminal *tty.Vt
}

// NewMachine powers on a machine with the given amount of physical memory
// and returns it with a cleared terminal attached to the console.
func NewMachine(memSize uintptr) *Machine {
	m := &Machine{
		Memory:   mm.NewPhysicalMemory(memSize),
		Console:  &console.Cga{},
		Terminal: &tty.Vt{},
	}

	m.CPU = cpu.New(m.Memory)
	InitTerminal(m)
	return m
}

// InitTerminal attaches the machine's terminal to its console and clears
// the screen.
func InitTerminal(m *Machine) {
	m.Console.Init(m.Memory, mm.ConsoleAddr)
	m.Terminal.AttachTo(m.Console)
	m.Terminal.Clear()
}
