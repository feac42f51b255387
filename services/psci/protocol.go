package psci

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"tzcore-go/drivers/imxsrc"
	"tzcore-go/errcode"
	"tzcore-go/types"
	"tzcore-go/x/conv"
	"tzcore-go/x/mathx"
	"tzcore-go/x/timex"
)

// MaxCores is the size of the core descriptor table.
const MaxCores = imxsrc.MaxCores

// DefaultParkTimeout bounds the wait for a core to park in AffinityInfo.
const DefaultParkTimeout = 100 * time.Millisecond

// coreDesc is one core descriptor entry. Only the coordinator writes it.
type coreDesc struct {
	entry atomic.Uint64 // bit 32 set when an entry address is recorded
	ctxID atomic.Uint32
}

const entryValid = 1 << 32

// Protocol releases, parks and gates secondary cores through one SoC
// release variant.
type Protocol struct {
	ctrl        imxsrc.Controller
	cores       int
	loadAddr    uint32
	parkTimeout time.Duration
	desc        [MaxCores]coreDesc
}

// NewProtocol binds a controller. cores is clamped to MaxCores.
func NewProtocol(ctrl imxsrc.Controller, cores int, loadAddr uint32, parkTimeout time.Duration) *Protocol {
	cores = clampCores(cores)
	if parkTimeout <= 0 {
		parkTimeout = DefaultParkTimeout
	}
	return &Protocol{ctrl: ctrl, cores: cores, loadAddr: loadAddr, parkTimeout: parkTimeout}
}

func clampCores(n int) int { return mathx.Clamp(n, 1, MaxCores) }

func (p *Protocol) Cores() int { return p.cores }

func (p *Protocol) validSecondary(core int) bool { return core > 0 && core < p.cores }

// Entry returns the recorded non-secure entry address of core.
func (p *Protocol) Entry(core int) (uint32, bool) {
	if core < 0 || core >= p.cores {
		return 0, false
	}
	v := p.desc[core].entry.Load()
	return uint32(v), v&entryValid != 0
}

// ContextID returns the context_id recorded with the entry address.
func (p *Protocol) ContextID(core int) uint32 {
	if core < 0 || core >= p.cores {
		return 0
	}
	return p.desc[core].ctxID.Load()
}

// ReleaseCore records entry for core and runs the release sequence. The
// core is not confirmed to be executing; AffinityInfo does that.
func (p *Protocol) ReleaseCore(core int, entry, contextID uint32) error {
	if !p.validSecondary(core) {
		return errcode.InvalidParams
	}
	p.desc[core].ctxID.Store(contextID)
	p.desc[core].entry.Store(entryValid | uint64(entry))

	p.ctrl.SetBootAddr(core, p.loadAddr)
	if err := p.ctrl.Release(core); err != nil {
		return err
	}
	p.ctrl.SetMarker(core, 0)
	return nil
}

// ParkSelf marks the calling core parked and idles it forever.
func (p *Protocol) ParkSelf(cpu CPU) {
	p.ctrl.SetMarker(cpu.Pos(), imxsrc.MarkerParked)
	cpu.MaskExceptions()
	for {
		cpu.WaitForInterrupt()
	}
}

// QueryAndClear reports AffinityOn for a core that is not parked. For a
// parking core it waits (bounded by the park timeout and ctx) for the
// parked marker, gates the core and clears its slot for the next release.
func (p *Protocol) QueryAndClear(ctx context.Context, core int) (types.AffinityState, error) {
	if !p.validSecondary(core) {
		return types.AffinityOn, errcode.InvalidParams
	}
	m := p.ctrl.Marker(core)
	if m == 0 || !p.ctrl.InWFI(core) {
		return types.AffinityOn, nil
	}
	println("[psci] cpu", core, "marker", conv.Hex32(m))

	tout := timex.After(p.parkTimeout)
	for p.ctrl.Marker(core) != imxsrc.MarkerParked {
		if err := ctx.Err(); err != nil {
			return types.AffinityOn, errcode.Wrap(errcode.Timeout, "psci.park_wait", err)
		}
		if tout.Elapsed() {
			println("[psci] cpu", core, "did not park")
			return types.AffinityOn, &errcode.E{C: errcode.Timeout, Op: "psci.park_wait"}
		}
		runtime.Gosched()
	}

	p.ctrl.Gate(core)
	p.ctrl.SetMarker(core, 0)
	p.desc[core].entry.Store(0)
	return types.AffinityOff, nil
}

// EnableAll programs the load address for every secondary and enables
// them in one write.
func (p *Protocol) EnableAll() {
	p.ctrl.EnableAll(p.loadAddr, p.cores)
}
