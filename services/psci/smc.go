package psci

import (
	"context"

	"tzcore-go/errcode"
	"tzcore-go/types"
)

// PSCI function IDs, SMC32 calling convention.
const (
	FnVersion      = 0x84000000
	FnCPUSuspend   = 0x84000001
	FnCPUOff       = 0x84000002
	FnCPUOn        = 0x84000003
	FnAffinityInfo = 0x84000004
	FnSystemOff    = 0x84000008
	FnSystemReset  = 0x84000009
	FnFeatures     = 0x8400000A

	// Version reported by PSCI_VERSION: 1.0.
	Version = 0x00010000
)

func ret(c errcode.Code) uint32 { return uint32(c.PSCI()) }

func supported(fid uint32) bool {
	switch fid {
	case FnVersion, FnCPUSuspend, FnCPUOff, FnCPUOn, FnAffinityInfo, FnSystemReset, FnFeatures:
		return true
	}
	return false
}

// Handle services one PSCI fast call for the executing cpu and returns the
// value for r0. CPU_OFF and SYSTEM_RESET do not return on success.
func (c *Coordinator) Handle(ctx context.Context, cpu CPU, nsec *types.NSecContext, fid, a1, a2, a3 uint32) uint32 {
	switch fid {
	case FnVersion:
		return Version
	case FnCPUSuspend:
		return ret(c.CPUSuspend(a1, uintptr(a2), a3, nsec))
	case FnCPUOff:
		return ret(c.CPUOff(cpu))
	case FnCPUOn:
		return ret(c.CPUOn(a1, a2, a3))
	case FnAffinityInfo:
		st, err := c.AffinityInfo(ctx, a1, a2)
		if err != nil {
			return ret(errcode.Of(err))
		}
		return uint32(st)
	case FnSystemReset:
		c.SystemReset(cpu)
		return ret(errcode.InternalFailure)
	case FnFeatures:
		if supported(a1) {
			return 0
		}
		return ret(errcode.NotSupported)
	default:
		return ret(errcode.NotSupported)
	}
}
