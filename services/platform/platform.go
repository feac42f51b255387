// Package platform brings up one board from its config: it identifies the
// SoC, maps the register blocks and wires the PSCI coordinator and the MU
// transport.
package platform

import (
	"tzcore-go/bus"
	"tzcore-go/drivers/imxmu"
	"tzcore-go/drivers/imxsrc"
	"tzcore-go/drivers/imxwdog"
	"tzcore-go/errcode"
	"tzcore-go/services/mu"
	"tzcore-go/services/psci"
	"tzcore-go/types"
	"tzcore-go/x/conv"
	"tzcore-go/x/mmio"
	"tzcore-go/x/timex"
)

// Options carry the optional collaborators of a platform.
type Options struct {
	Conn    *bus.Connection
	Suspend psci.Suspender
}

// Platform is the wired board. PSCI is nil when the variant is none; MU is
// nil when the board has no MU.
type Platform struct {
	Config types.PlatformConfig
	SoC    SoCInfo
	Wdog   *imxwdog.Device
	PSCI   *psci.Coordinator
	MU     *mu.Transport
}

func mapOpt(m mmio.Mapper, pa types.Addr, name string) mmio.Region {
	if pa == 0 {
		return nil
	}
	r, ok := m.Map(uintptr(pa), mmio.AreaIOSec)
	if !ok {
		println("[platform]", name, "not mapped at", conv.Hex32(uint32(pa)))
		return nil
	}
	return r
}

// New wires a platform. Missing mappings are logged and leave the affected
// operations failing at call time, the way a partly mapped SoC behaves.
func New(cfg types.PlatformConfig, m mmio.Mapper, opt Options) (*Platform, error) {
	p := &Platform{Config: cfg}

	p.SoC = Identify(mapOpt(m, cfg.AnatopBase, "anatop"), cfg.SoC)
	println("[platform]", cfg.Board, "soc", p.SoC.Type.String(), "rev", conv.Hex32(p.SoC.Revision))

	variant := cfg.Variant
	if variant == types.VariantNone && cfg.SRCBase != 0 {
		variant = p.SoC.Type.Variant()
	}
	if v := p.SoC.Type.Variant(); p.SoC.Type != SoCUnknown && variant != types.VariantNone && v != variant {
		println("[platform] variant", string(variant), "does not match soc", p.SoC.Type.String())
	}

	var rst psci.Restarter
	if r := mapOpt(m, cfg.WdogBase, "wdog"); r != nil {
		p.Wdog = imxwdog.New(r)
		rst = p.Wdog
	}

	if variant != types.VariantNone {
		var ctrl imxsrc.Controller
		src := mapOpt(m, cfg.SRCBase, "src")
		if src != nil {
			c, err := imxsrc.New(variant, src, mapOpt(m, cfg.GPCBase, "gpc"), mapOpt(m, cfg.IOMUXCBase, "iomuxc"))
			if err != nil {
				return nil, err
			}
			ctrl = c
		}
		p.PSCI = psci.New(ctrl, rst, psci.Options{
			Cores:         cfg.Cores,
			LoadAddr:      uint32(cfg.LoadAddr),
			ParkTimeout:   timex.Ms(cfg.ParkTimeoutMs),
			ExternalReset: cfg.WdogExternalReset,
			Suspend:       opt.Suspend,
			Conn:          opt.Conn,
		})
	}

	if cfg.MUBase != 0 {
		p.MU = mu.New(imxmu.New(m), timex.Ms(cfg.MURxTimeoutMs))
		p.MU.Init(uintptr(cfg.MUBase))
	}
	return p, nil
}

// MUCall sends msg on the board's MU and optionally waits for the answer.
func (p *Platform) MUCall(msg *mu.Message, wait bool) error {
	if p.MU == nil {
		return &errcode.E{C: errcode.NotSupported, Op: "platform.mu", Msg: "board has no MU"}
	}
	return p.MU.Call(uintptr(p.Config.MUBase), msg, wait)
}
