package psci

import "tzcore-go/types"

// CPU is the architecture view of the core executing a call.
type CPU interface {
	// Pos is the linear core index.
	Pos() int
	// LeaveCoherency flushes caches and exits SMP coherency before the core
	// is parked.
	LeaveCoherency()
	MaskExceptions()
	// WaitForInterrupt idles the core. It may return on any wake event.
	WaitForInterrupt()
}

// Suspender is the platform suspend routine for CPU_SUSPEND StateID 0.
type Suspender interface {
	Suspend(powerState uint32, entry uintptr, contextID uint32, nsec *types.NSecContext) error
}

// Restarter issues the watchdog restart.
type Restarter interface {
	Restart(externalReset bool)
}
