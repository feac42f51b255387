package platform

import (
	"tzcore-go/types"
	"tzcore-go/x/mmio"
)

// SoCType is the CPU type field of the ANATOP DIGPROG register.
type SoCType uint8

const (
	SoCUnknown SoCType = 0
	SoCMX6SL   SoCType = 0x60
	SoCMX6DL   SoCType = 0x61
	SoCMX6SX   SoCType = 0x62
	SoCMX6Q    SoCType = 0x63
	SoCMX6UL   SoCType = 0x64
	SoCMX6ULL  SoCType = 0x65
	SoCMX6SLL  SoCType = 0x67
	SoCMX7D    SoCType = 0x72
	SoCMX7ULP  SoCType = 0xE1
)

// DIGPROG offsets within ANATOP.
const (
	regDigprog       = 0x260
	regDigprogIMX6SL = 0x280
	regDigprogIMX7D  = 0x800
)

var socNames = map[SoCType]string{
	SoCMX6SL:  "imx6sl",
	SoCMX6DL:  "imx6dl",
	SoCMX6SX:  "imx6sx",
	SoCMX6Q:   "imx6q",
	SoCMX6UL:  "imx6ul",
	SoCMX6ULL: "imx6ull",
	SoCMX6SLL: "imx6sll",
	SoCMX7D:   "imx7d",
	SoCMX7ULP: "imx7ulp",
}

func (t SoCType) String() string {
	if s, ok := socNames[t]; ok {
		return s
	}
	return "unknown"
}

// ParseSoC maps a config soc name to its type.
func ParseSoC(name string) SoCType {
	for t, s := range socNames {
		if s == name {
			return t
		}
	}
	return SoCUnknown
}

// IsIMX6 reports any member of the i.MX6 family.
func (t SoCType) IsIMX6() bool {
	switch t {
	case SoCMX6SL, SoCMX6DL, SoCMX6SX, SoCMX6Q, SoCMX6UL, SoCMX6ULL, SoCMX6SLL:
		return true
	}
	return false
}

// Variant is the core release layout implied by the SoC type.
func (t SoCType) Variant() types.ReleaseVariant {
	switch {
	case t.IsIMX6():
		return types.VariantSCR
	case t == SoCMX7D:
		return types.VariantA7RCR
	}
	return types.VariantNone
}

// DigprogOffset is where DIGPROG lives for the named SoC.
func DigprogOffset(soc string) uint32 {
	switch ParseSoC(soc) {
	case SoCMX7D:
		return regDigprogIMX7D
	case SoCMX6SL:
		return regDigprogIMX6SL
	}
	return regDigprog
}

// SoCInfo is the decoded DIGPROG value.
type SoCInfo struct {
	Type SoCType
	// Revision is (major+1)<<4 | minor, so 0x10 is rev 1.0.
	Revision uint32
}

func (i SoCInfo) RevMajor() uint32 { return i.Revision >> 4 }

// IsIMX6DQ and IsIMX6DQP split the i.MX6Q type by major revision.
func (i SoCInfo) IsIMX6DQ() bool  { return i.Type == SoCMX6Q && i.RevMajor() == 1 }
func (i SoCInfo) IsIMX6DQP() bool { return i.Type == SoCMX6Q && i.RevMajor() == 2 }

// Decode splits a DIGPROG value.
func Decode(digprog uint32) SoCInfo {
	return SoCInfo{
		Type:     SoCType(digprog >> 16 & 0xFF),
		Revision: ((digprog&0xFF00)>>4 + 0x10) | digprog&0x0F,
	}
}

// Identify reads DIGPROG from the ANATOP block. i.MX7ULP has no ANATOP and
// is reported from the configured name alone.
func Identify(anatop mmio.Region, soc string) SoCInfo {
	if ParseSoC(soc) == SoCMX7ULP {
		return Decode(uint32(SoCMX7ULP) << 16)
	}
	if anatop == nil {
		return SoCInfo{Type: ParseSoC(soc)}
	}
	return Decode(anatop.Read32(DigprogOffset(soc)))
}
