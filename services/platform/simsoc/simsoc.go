// Package simsoc is an in-memory i.MX SoC: register files for SRC, GPC,
// IOMUXC, ANATOP, WDOG and MU, secondary cores that run as goroutines when
// their enable bit is set, and an MU peer that answers requests.
package simsoc

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/f-secure-foundry/tamago/bits"

	"tzcore-go/services/platform"
	"tzcore-go/services/psci"
	"tzcore-go/types"
	"tzcore-go/x/conv"
	"tzcore-go/x/mmio"
)

const (
	maxCores = 4

	regSCR      = 0x000
	regA7RCR1   = 0x008
	regBootAddr = 0x020 // GPR1; core n at +8n
	scrEnable   = 22    // core 1
	a7Enable    = 1     // core 1

	regGPCSWPupReq = 0x0F0
	regGPR5        = 0x014

	regWCR = 0x00
	wcrWDE = 2

	offTimeout = time.Second
)

var (
	ErrNotRunning = errors.New("simsoc: core not running")
	ErrNoPark     = errors.New("simsoc: core did not reach wfi")
)

// Board is a simulated SoC built from a platform config.
type Board struct {
	cfg   types.PlatformConfig
	table *mmio.Table

	SRC, GPC, IOMUXC, Anatop, Wdog, MUSim *mmio.Sim

	mu    sync.Mutex
	coord *psci.Coordinator
	cores [maxCores]*Core
	wg    sync.WaitGroup

	resets  atomic.Int32
	lastWCR atomic.Uint32

	peer *muPeer
}

// New builds the register files for every non-zero base in cfg and the
// identification value the platform reads back.
func New(cfg types.PlatformConfig) *Board {
	b := &Board{cfg: cfg, table: mmio.NewTable()}
	b.SRC = b.add(cfg.SRCBase)
	b.GPC = b.add(cfg.GPCBase)
	b.IOMUXC = b.add(cfg.IOMUXCBase)
	b.Anatop = b.add(cfg.AnatopBase)
	b.Wdog = b.add(cfg.WdogBase)
	b.MUSim = b.add(cfg.MUBase)

	if b.Anatop != nil {
		// Revision 1.0.
		b.Anatop.Poke(platform.DigprogOffset(cfg.SoC), uint32(platform.ParseSoC(cfg.SoC))<<16)
	}
	if b.SRC != nil {
		b.SRC.OnWrite(regSCR, b.onControl)
		b.SRC.OnWrite(regA7RCR1, b.onControl)
	}
	if b.GPC != nil {
		// Power switch settles immediately.
		b.GPC.OnWrite(regGPCSWPupReq, func(off, old, new uint32) {
			b.GPC.Update(off, func(uint32) uint32 { return 0 })
		})
	}
	if b.Wdog != nil {
		b.Wdog.OnWrite(regWCR, b.onWatchdog)
	}
	if b.MUSim != nil {
		b.peer = newMUPeer(b.MUSim)
	}
	return b
}

func (b *Board) add(pa types.Addr) *mmio.Sim {
	if pa == 0 {
		return nil
	}
	s := mmio.NewSim()
	b.table.Add(uintptr(pa), mmio.AreaIOSec, s)
	return s
}

// Mapper resolves the board's physical bases to its register files.
func (b *Board) Mapper() mmio.Mapper { return b.table }

// Attach hands the coordinator to the simulated cores so they can call
// back into it.
func (b *Board) Attach(c *psci.Coordinator) {
	b.mu.Lock()
	b.coord = c
	b.mu.Unlock()
}

func (b *Board) cores0() int {
	if b.cfg.Cores > maxCores {
		return maxCores
	}
	return b.cfg.Cores
}

// enableBit is the control register and bit that releases core, per variant.
func (b *Board) enableBit(core int) (uint32, int) {
	if b.cfg.Variant == types.VariantA7RCR {
		return regA7RCR1, a7Enable + core - 1
	}
	return regSCR, scrEnable + core - 1
}

// onControl starts cores whose enable bit rose and gates those whose bit
// fell.
func (b *Board) onControl(off, old, new uint32) {
	for core := 1; core < b.cores0(); core++ {
		reg, pos := b.enableBit(core)
		if reg != off {
			continue
		}
		was, is := bits.Get(&old, pos, 1), bits.Get(&new, pos, 1)
		switch {
		case was == 0 && is == 1:
			b.start(core)
		case was == 1 && is == 0:
			b.gate(core)
		}
	}
}

func (b *Board) start(core int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c := b.cores[core]; c != nil && !c.isGated() {
		return
	}
	c := &Core{
		b:     b,
		pos:   core,
		off:   make(chan struct{}),
		gated: make(chan struct{}),
		inWFI: make(chan struct{}),
	}
	if b.coord != nil {
		c.entry, c.hasEntry = b.coord.Entry(core)
	}
	c.running.Store(true)
	b.cores[core] = c
	b.wg.Add(1)
	go c.run(b.coord)
}

func (b *Board) gate(core int) {
	b.mu.Lock()
	c := b.cores[core]
	b.mu.Unlock()
	if c == nil {
		return
	}
	c.gateOnce.Do(func() { close(c.gated) })
	if b.IOMUXC != nil {
		b.IOMUXC.Update(regGPR5, func(v uint32) uint32 { return v &^ (1 << core) })
	}
}

func (b *Board) core(n int) *Core {
	if n <= 0 || n >= maxCores {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cores[n]
}

// Running reports whether core n is executing.
func (b *Board) Running(n int) bool {
	c := b.core(n)
	return c != nil && c.running.Load() && !c.isGated()
}

// CoreEntry is the normal-world entry core n jumped to when it came up.
func (b *Board) CoreEntry(n int) (uint32, bool) {
	c := b.core(n)
	if c == nil {
		return 0, false
	}
	return c.entry, c.hasEntry
}

// Off makes core n issue CPU_OFF and waits until it idles in WFI.
func (b *Board) Off(n int) error {
	c := b.core(n)
	if c == nil || !c.running.Load() || c.isGated() {
		return ErrNotRunning
	}
	select {
	case c.off <- struct{}{}:
	case <-c.gated:
		return ErrNotRunning
	}
	select {
	case <-c.inWFI:
		return nil
	case <-time.After(offTimeout):
		return ErrNoPark
	}
}

// Wait blocks until every simulated core has exited.
func (b *Board) Wait() { b.wg.Wait() }

// Shutdown gates every core and waits for them.
func (b *Board) Shutdown() {
	for n := 1; n < maxCores; n++ {
		b.gate(n)
	}
	b.Wait()
}

func (b *Board) onWatchdog(off, old, new uint32) {
	if bits.Get(&old, wcrWDE, 1) == 0 && bits.Get(&new, wcrWDE, 1) == 1 {
		b.resets.Add(1)
		b.lastWCR.Store(new & 0xFFFF)
		println("[sim] watchdog restart wcr", conv.Hex32(new&0xFFFF))
	}
}

// Reboot stands in for the SoC coming back out of reset: every core is
// stopped and the core control and watchdog registers are back at reset.
func (b *Board) Reboot() {
	b.Shutdown()
	if b.SRC != nil {
		b.SRC.Poke(regSCR, 0)
		b.SRC.Poke(regA7RCR1, 0)
	}
	if b.Wdog != nil {
		b.Wdog.Poke(regWCR, 0)
	}
	if b.IOMUXC != nil {
		b.IOMUXC.Poke(regGPR5, 0)
	}
}

// Resets is the number of watchdog restarts observed.
func (b *Board) Resets() int { return int(b.resets.Load()) }

// LastWCR is the control value of the last restart.
func (b *Board) LastWCR() uint16 { return uint16(b.lastWCR.Load()) }

// SetMUHandler replaces the MU peer's request handler. The default echoes
// each request.
func (b *Board) SetMUHandler(h MUHandler) {
	if b.peer != nil {
		b.peer.setHandler(h)
	}
}

// BootCPU is the primary core. Its WFI ends the calling goroutine, so
// diverging calls made through it must run on their own goroutine.
func (b *Board) BootCPU() psci.CPU { return bootCPU{} }

type bootCPU struct{}

func (bootCPU) Pos() int          { return 0 }
func (bootCPU) LeaveCoherency()   {}
func (bootCPU) MaskExceptions()   {}
func (bootCPU) WaitForInterrupt() { runtime.Goexit() }

// Diverge runs fn, which must not return, on its own goroutine and waits
// for it to end.
func Diverge(fn func()) (returned bool) {
	done := make(chan bool, 1)
	go func() {
		ret := false
		defer func() { done <- ret }()
		fn()
		ret = true
	}()
	return <-done
}

// -----------------------------------------------------------------------------
// Simulated secondary core
// -----------------------------------------------------------------------------

// Core is one simulated secondary. It implements psci.CPU.
type Core struct {
	b   *Board
	pos int

	entry    uint32
	hasEntry bool

	running  atomic.Bool
	off      chan struct{}
	gated    chan struct{}
	gateOnce sync.Once
	inWFI    chan struct{}
	wfiOnce  sync.Once
}

func (c *Core) isGated() bool {
	select {
	case <-c.gated:
		return true
	default:
		return false
	}
}

func (c *Core) Pos() int        { return c.pos }
func (c *Core) LeaveCoherency() {}
func (c *Core) MaskExceptions() {}

// WaitForInterrupt raises the WFI status bit and sleeps until the core is
// power-gated, at which point the goroutine ends.
func (c *Core) WaitForInterrupt() {
	if c.isGated() {
		runtime.Goexit()
	}
	if io := c.b.IOMUXC; io != nil {
		io.Update(regGPR5, func(v uint32) uint32 { return v | 1<<c.pos })
	}
	c.wfiOnce.Do(func() { close(c.inWFI) })
	<-c.gated
	runtime.Goexit()
}

func (c *Core) run(coord *psci.Coordinator) {
	defer c.b.wg.Done()
	defer c.running.Store(false)

	boot := c.b.SRC.Peek(regBootAddr + 8*uint32(c.pos))
	if c.hasEntry {
		println("[sim] core", c.pos, "boot", conv.Hex32(boot), "-> ns entry", conv.Hex32(c.entry))
	} else {
		println("[sim] core", c.pos, "boot", conv.Hex32(boot), "secure idle")
	}

	select {
	case <-c.off:
		if coord == nil {
			return
		}
		coord.CPUOff(c)
	case <-c.gated:
	}
}
