package types

import (
	"encoding/json"
	"strconv"
)

// ReleaseVariant names the SoC register layout used to release cores.
type ReleaseVariant string

const (
	VariantNone  ReleaseVariant = ""      // PSCI handled elsewhere
	VariantSCR   ReleaseVariant = "scr"   // i.MX6: shared SRC_SCR enable/reset bits
	VariantA7RCR ReleaseVariant = "a7rcr" // i.MX7D: GPCv2 pulse + SRC_A7RCR1
)

// Addr is a physical address. In JSON it is a "0x" hex string or a plain
// number.
type Addr uint64

func (a Addr) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + strconv.FormatUint(uint64(a), 16))
}

func (a *Addr) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n uint64
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*a = Addr(n)
		return nil
	}
	if s == "" {
		*a = 0
		return nil
	}
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return err
	}
	*a = Addr(n)
	return nil
}

// PlatformConfig describes one board.
type PlatformConfig struct {
	Board   string         `json:"board"`
	SoC     string         `json:"soc"`
	Cores   int            `json:"cores"`
	Variant ReleaseVariant `json:"variant"`

	SRCBase    Addr `json:"src_base,omitempty"`
	GPCBase    Addr `json:"gpc_base,omitempty"`
	IOMUXCBase Addr `json:"iomuxc_base,omitempty"`
	AnatopBase Addr `json:"anatop_base,omitempty"`
	WdogBase   Addr `json:"wdog_base,omitempty"`
	MUBase     Addr `json:"mu_base,omitempty"`

	// Secure-world load address written to secondary boot slots.
	LoadAddr Addr `json:"load_addr,omitempty"`

	WdogExternalReset bool `json:"wdog_external_reset,omitempty"`

	ParkTimeoutMs int `json:"park_timeout_ms,omitempty"`
	MURxTimeoutMs int `json:"mu_rx_timeout_ms,omitempty"`
}
