// Package psci is the secure-world PSCI coordinator for i.MX SoCs: core
// release and parking, affinity queries, suspend and system reset.
package psci

import (
	"context"
	"sync/atomic"
	"time"

	"tzcore-go/bus"
	"tzcore-go/drivers/imxsrc"
	"tzcore-go/errcode"
	"tzcore-go/types"
	"tzcore-go/x/conv"
	"tzcore-go/x/timex"
)

// Options configure a Coordinator.
type Options struct {
	Cores         int
	LoadAddr      uint32
	ParkTimeout   time.Duration
	ExternalReset bool

	// Suspend handles CPU_SUSPEND StateID 0. nil is a no-op success.
	Suspend Suspender
	// Conn, when set, receives retained core state events.
	Conn *bus.Connection
}

// Coordinator is the PSCI operation surface. It is built once per boot
// and shared by all cores.
type Coordinator struct {
	p       *Protocol // nil when SRC is not mapped
	cores   int
	wdog    Restarter
	extRst  bool
	suspend Suspender
	conn    *bus.Connection
	states  [MaxCores]atomic.Value // types.CoreState

	// gated is set once AffinityInfo has power-gated a core and cleared
	// when the core is released again. The cleared marker alone would
	// read as on.
	gated [MaxCores]atomic.Bool
}

// New builds the coordinator. ctrl may be nil when the SRC block could not
// be mapped; core operations then fail with InternalFailure.
func New(ctrl imxsrc.Controller, wdog Restarter, opt Options) *Coordinator {
	c := &Coordinator{
		wdog:    wdog,
		extRst:  opt.ExternalReset,
		suspend: opt.Suspend,
		conn:    opt.Conn,
	}
	if ctrl != nil {
		c.p = NewProtocol(ctrl, opt.Cores, opt.LoadAddr, opt.ParkTimeout)
		c.cores = c.p.Cores()
	} else {
		println("[psci] no SRC mapping")
		c.cores = clampCores(opt.Cores)
	}
	c.setState(0, types.CoreOn)
	for i := 1; i < c.cores; i++ {
		c.setState(i, types.CoreOff)
	}
	return c
}

func (c *Coordinator) Cores() int { return c.cores }

// State returns the coordinator's view of core.
func (c *Coordinator) State(core int) types.CoreState {
	if core < 0 || core >= c.cores {
		return types.CoreOff
	}
	s, _ := c.states[core].Load().(types.CoreState)
	if s == "" {
		return types.CoreOff
	}
	return s
}

// Entry returns the recorded non-secure entry address of core.
func (c *Coordinator) Entry(core int) (uint32, bool) {
	if c.p == nil {
		return 0, false
	}
	return c.p.Entry(core)
}

// ContextID returns the context_id passed with the last CPUOn for core.
func (c *Coordinator) ContextID(core int) uint32 {
	if c.p == nil {
		return 0
	}
	return c.p.ContextID(core)
}

func (c *Coordinator) setState(core int, s types.CoreState) {
	if core < 0 || core >= c.cores {
		return
	}
	c.states[core].Store(s)
	if c.conn == nil {
		return
	}
	ev := types.CoreStateEvent{Core: core, State: s, TS: timex.NowMs()}
	if e, ok := c.Entry(core); ok {
		ev.Entry = e
	}
	c.conn.Publish(c.conn.NewMessage(bus.T("psci", "core", core, "state"), ev, true))
}

// CPUOn releases core to start executing at entry in the normal world.
func (c *Coordinator) CPUOn(core, entry, contextID uint32) errcode.Code {
	if core == 0 || int(core) >= c.cores {
		return errcode.InvalidParams
	}
	if c.p == nil {
		println("[psci] cpu_on: no SRC mapping")
		return errcode.InternalFailure
	}
	if err := c.p.ReleaseCore(int(core), entry, contextID); err != nil {
		println("[psci] cpu_on core", core, "failed:", err.Error())
		if errcode.Of(err) == errcode.InvalidParams {
			return errcode.InvalidParams
		}
		return errcode.InternalFailure
	}
	println("[psci] cpu_on core", core, "entry", conv.Hex32(entry))
	c.gated[core].Store(false)
	c.setState(int(core), types.CoreReleasing)
	return errcode.OK
}

// CPUOff parks the calling core. It does not return on success.
func (c *Coordinator) CPUOff(cpu CPU) errcode.Code {
	core := cpu.Pos()
	println("[psci] cpu_off core", core)
	if c.p == nil {
		return errcode.InternalFailure
	}
	c.setState(core, types.CoreParking)
	cpu.LeaveCoherency()
	c.p.ParkSelf(cpu)
	return errcode.InternalFailure
}

// AffinityInfo reports whether the core at affinity is on. A parking core
// is waited for, bounded by ctx and the park timeout, then power-gated.
// lowestLevel is accepted for ABI compatibility; only level 0 exists.
func (c *Coordinator) AffinityInfo(ctx context.Context, affinity, lowestLevel uint32) (types.AffinityState, error) {
	_ = lowestLevel
	if int(affinity) >= c.cores {
		return types.AffinityOff, errcode.InvalidParams
	}
	if affinity == 0 {
		return types.AffinityOn, nil
	}
	if c.p == nil {
		return types.AffinityOff, errcode.InternalFailure
	}
	if c.gated[affinity].Load() {
		return types.AffinityOff, nil
	}
	st, err := c.p.QueryAndClear(ctx, int(affinity))
	if err != nil {
		return st, err
	}
	switch st {
	case types.AffinityOn:
		if c.State(int(affinity)) == types.CoreReleasing {
			c.setState(int(affinity), types.CoreOn)
		}
	case types.AffinityOff:
		c.gated[affinity].Store(true)
		c.setState(int(affinity), types.CoreOff)
	}
	return st, nil
}

// CPUSuspend validates powerState and hands StateID 0 to the platform
// suspend routine.
func (c *Coordinator) CPUSuspend(powerState uint32, entry uintptr, contextID uint32, nsec *types.NSecContext) errcode.Code {
	ps := types.PowerState(powerState)
	switch ps.Type() {
	case types.PowerStateStandby, types.PowerStatePowerDown:
	default:
		println("[psci] cpu_suspend: type not supported", uint32(ps.Type()))
		return errcode.InvalidParams
	}
	if ps.ID() != 0 {
		// 1 is low-power idle, not implemented; others are undefined.
		println("[psci] cpu_suspend: id not supported", ps.ID())
		return errcode.InvalidParams
	}
	if c.suspend == nil {
		return errcode.OK
	}
	if err := c.suspend.Suspend(powerState, entry, contextID, nsec); err != nil {
		code := errcode.Of(err)
		if code == errcode.InvalidParams || code == errcode.Denied {
			return code
		}
		return errcode.InternalFailure
	}
	return errcode.OK
}

// SystemReset restarts the SoC through the watchdog. It does not return.
func (c *Coordinator) SystemReset(cpu CPU) {
	println("[psci] system reset")
	if c.wdog != nil {
		c.wdog.Restart(c.extRst)
	} else {
		println("[psci] no watchdog mapped")
	}
	cpu.MaskExceptions()
	for {
		cpu.WaitForInterrupt()
	}
}

// BootAllCPUs releases every secondary core into the secure-world load
// address in one shot. It must run before any CPUOn.
func (c *Coordinator) BootAllCPUs() {
	if c.p == nil {
		println("[psci] boot_all_cpus: no SRC mapping")
		return
	}
	c.p.EnableAll()
	for i := 1; i < c.cores; i++ {
		c.gated[i].Store(false)
		c.setState(i, types.CoreReleasing)
	}
}
