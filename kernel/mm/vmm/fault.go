package vmm

import "weensyos/kernel/gate"

// FaultReason classifies a page fault error code into the faulting
// operation and the problem that caused it.
func FaultReason(errorCode uint64) (operation, problem string) {
	operation = gate.AccessRead.String()
	if errorCode&gate.PFErrWrite != 0 {
		operation = gate.AccessWrite.String()
	}

	problem = gate.CauseMissingPage.String()
	if errorCode&gate.PFErrPresent != 0 {
		problem = gate.CauseProtection.String()
	}

	return operation, problem
}
