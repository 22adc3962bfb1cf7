package kfmt

import (
	"go.uber.org/zap"

	"weensyos/kernel"
	"weensyos/kernel/cpu"
)

// cpuHaltFn is mocked by tests.
var cpuHaltFn = cpu.Halt

// Panic outputs the supplied error (if not nil) to the console and the kernel
// log and halts the CPU. Calls to Panic never return.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		err = &kernel.Error{Module: "rt", Message: t}
	case error:
		err = &kernel.Error{Module: "rt", Message: t.Error()}
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	if err == nil {
		Logger().Error("kernel panic")
		cpuHaltFn(nil)
		return
	}

	Logger().Error("kernel panic", zap.String("module", err.Module), zap.String("error", err.Message))
	cpuHaltFn(err)
}
