// Package imxwdog issues a system restart through the i.MX6/7 watchdog.
package imxwdog

import (
	"github.com/f-secure-foundry/tamago/bits"

	"tzcore-go/x/mmio"
)

const (
	regWCR = 0x00 // 16-bit control
	regWSR = 0x02 // 16-bit service

	wcrWDZST = 0
	wcrWDE   = 2
	wcrWRE   = 3
	wcrSRS   = 4
	wcrWDA   = 5

	seq1 = 0x5555
	seq2 = 0xAAAA
)

// Device is a mapped watchdog instance.
type Device struct {
	r mmio.Region
}

func New(r mmio.Region) *Device { return &Device{r: r} }

// RestartValue is the WCR value that triggers the restart. With
// externalReset the WDOG_B pin is asserted, otherwise a software reset
// is requested through SRS.
func RestartValue(externalReset bool) uint16 {
	var v uint32
	bits.Set(&v, wcrWDE)
	if externalReset {
		bits.Set(&v, wcrSRS)
	} else {
		bits.Set(&v, wcrWDA)
	}
	return uint16(v)
}

// Restart enables the watchdog with a zero timeout. The SoC resets shortly
// after; the caller must not expect to keep running.
func (d *Device) Restart(externalReset bool) {
	val := RestartValue(externalReset)
	d.r.Write16(regWCR, val)

	// Already enabled: service it so the new timeout is reloaded.
	if w := uint32(d.r.Read16(regWCR)); bits.Get(&w, wcrWDE, 1) == 1 {
		d.r.Write16(regWSR, seq1)
		d.r.Write16(regWSR, seq2)
	}
	d.r.Write16(regWCR, val)
	d.r.Write16(regWCR, val)
}
