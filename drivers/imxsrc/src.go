package imxsrc

import (
	"github.com/f-secure-foundry/tamago/bits"

	"tzcore-go/errcode"
	"tzcore-go/types"
	"tzcore-go/x/mmio"
	"tzcore-go/x/timex"
)

// Controller is one SoC's core release/gate register sequence. The variant
// is fixed at construction.
type Controller interface {
	Variant() types.ReleaseVariant
	SetBootAddr(core int, addr uint32)
	Marker(core int) uint32
	SetMarker(core int, v uint32)
	// Release asserts enable and reset-release for core.
	Release(core int) error
	// Gate removes power/clock from core.
	Gate(core int)
	// InWFI reports the core's wait-for-interrupt status. Variants with no
	// status register report true.
	InWFI(core int) bool
	// EnableAll programs addr into every secondary boot slot and enables
	// cores 1..cores-1 with a single control write.
	EnableAll(addr uint32, cores int)
}

// New selects the release variant. gpc is required for VariantA7RCR;
// iomuxc is optional for VariantSCR.
func New(v types.ReleaseVariant, src, gpc, iomuxc mmio.Region) (Controller, error) {
	if src == nil {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "imxsrc.New", Msg: "no SRC region"}
	}
	switch v {
	case types.VariantSCR:
		return &scr{regs{src}, iomuxc}, nil
	case types.VariantA7RCR:
		if gpc == nil {
			return nil, &errcode.E{C: errcode.InvalidParams, Op: "imxsrc.New", Msg: "no GPC region"}
		}
		return &a7rcr{regs{src}, gpc}, nil
	default:
		return nil, &errcode.E{C: errcode.NotSupported, Op: "imxsrc.New", Msg: "variant " + string(v)}
	}
}

// regs holds the GPR slot accessors common to both layouts.
type regs struct {
	src mmio.Region
}

func (r regs) SetBootAddr(core int, addr uint32) { r.src.Write32(bootAddrReg(core), addr) }
func (r regs) Marker(core int) uint32            { return r.src.Read32(markerReg(core)) }
func (r regs) SetMarker(core int, v uint32)      { r.src.Write32(markerReg(core), v) }

// ---- i.MX6: shared SCR ----

type scr struct {
	regs
	iomuxc mmio.Region
}

func (*scr) Variant() types.ReleaseVariant { return types.VariantSCR }

func (c *scr) Release(core int) error {
	mmio.Modify32(c.src, regSCR, func(v *uint32) {
		bits.Set(v, scrCore1Enable+core-1)
		bits.Set(v, scrCore1Rst+core-1)
	})
	return nil
}

func (c *scr) Gate(core int) {
	mmio.Modify32(c.src, regSCR, func(v *uint32) {
		bits.Clear(v, scrCore1Enable+core-1)
		bits.Set(v, scrCore1Rst+core-1)
	})
}

func (c *scr) InWFI(core int) bool {
	if c.iomuxc == nil {
		return true
	}
	v := c.iomuxc.Read32(regIOMUXCGPR5)
	return bits.Get(&v, core, 1) == 1
}

func (c *scr) EnableAll(addr uint32, cores int) {
	for i := 1; i < cores && i < MaxCores; i++ {
		c.SetBootAddr(i, addr)
	}
	var v uint32
	bits.SetN(&v, scrCore1Enable, 1<<(cores-1)-1, 1<<(cores-1)-1)
	c.src.Write32(regSCR, v)
}

// ---- i.MX7D: GPCv2 pulse + A7RCR1 ----

type a7rcr struct {
	regs
	gpc mmio.Region
}

func (*a7rcr) Variant() types.ReleaseVariant { return types.VariantA7RCR }

// powerUp requests a software power-up of the core 1 PGC and waits for
// the GPC to acknowledge by clearing the request.
func (c *a7rcr) powerUp() error {
	mmio.Modify32(c.gpc, regGPCPGCC1, func(v *uint32) { bits.Set(v, pgcPCR) })
	defer mmio.Modify32(c.gpc, regGPCPGCC1, func(v *uint32) { bits.Clear(v, pgcPCR) })

	mmio.Modify32(c.gpc, regGPCSWPupReq, func(v *uint32) { bits.Set(v, swPupCore1A7) })
	tout := timex.AfterUs(gpcPupTimeoutUs)
	for i := 0; i < gpcPupPollBudget; i++ {
		v := c.gpc.Read32(regGPCSWPupReq)
		if bits.Get(&v, swPupCore1A7, 1) == 0 {
			return nil
		}
		if tout.Elapsed() {
			break
		}
	}
	return &errcode.E{C: errcode.Timeout, Op: "imxsrc.powerUp", Msg: "GPC SW_PUP request not acknowledged"}
}

func (c *a7rcr) Release(core int) error {
	if err := c.powerUp(); err != nil {
		return err
	}
	mmio.Modify32(c.src, regA7RCR1, func(v *uint32) { bits.Set(v, a7rcr1Core1Enable+core-1) })
	return nil
}

func (c *a7rcr) Gate(core int) {
	mmio.Modify32(c.src, regA7RCR1, func(v *uint32) { bits.Clear(v, a7rcr1Core1Enable+core-1) })
}

func (*a7rcr) InWFI(int) bool { return true }

func (c *a7rcr) EnableAll(addr uint32, cores int) {
	for i := 1; i < cores && i < MaxCores; i++ {
		c.SetBootAddr(i, addr)
	}
	// RMW: bit 0 of A7RCR1 belongs to the boot core.
	mmio.Modify32(c.src, regA7RCR1, func(v *uint32) {
		bits.SetN(v, a7rcr1Core1Enable, 1<<(cores-1)-1, 1<<(cores-1)-1)
	})
}
