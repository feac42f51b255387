package imxmu

import (
	"runtime"

	"github.com/f-secure-foundry/tamago/bits"

	"tzcore-go/errcode"
	"tzcore-go/x/mmio"
	"tzcore-go/x/timex"
)

// Device implements the MU channel HAL over mapped registers. The base
// passed to each call selects the MU instance through the mapper.
type Device struct {
	m mmio.Mapper
}

func New(m mmio.Mapper) *Device { return &Device{m: m} }

func (d *Device) TxChannels() int { return MaxTxChannels }
func (d *Device) RxChannels() int { return MaxRxChannels }

func (d *Device) region(base uintptr) (mmio.Region, error) {
	r, ok := d.m.Map(base, mmio.AreaIOSec)
	if !ok {
		return nil, &errcode.E{C: errcode.BadParameters, Op: "imxmu", Msg: "MU not mapped"}
	}
	return r, nil
}

// Init resets both status control registers.
func (d *Device) Init(base uintptr) {
	r, err := d.region(base)
	if err != nil {
		println("[mu] init:", err.Error())
		return
	}
	r.Write32(regTCR, 0)
	r.Write32(regRCR, 0)
}

// waitFor polls off until bit pos is set or the per-word timeout expires.
func waitFor(r mmio.Region, off uint32, pos int) bool {
	tout := timex.AfterUs(waitTimeoutUs)
	for {
		v := r.Read32(off)
		if bits.Get(&v, pos, 1) == 1 {
			return true
		}
		if tout.Elapsed() {
			return false
		}
		runtime.Gosched()
	}
}

// Send writes one word to TX channel ch once it is empty.
func (d *Device) Send(base uintptr, ch int, w uint32) error {
	if ch < 0 || ch >= MaxTxChannels {
		return errcode.InvalidParams
	}
	r, err := d.region(base)
	if err != nil {
		return err
	}
	if !waitFor(r, regTSR, ch) {
		return errcode.Busy
	}
	r.Write32(trReg(ch), w)
	return nil
}

// Receive reads one word from RX channel ch if it is full. An empty
// channel after the short wait is reported as NoData.
func (d *Device) Receive(base uintptr, ch int) (uint32, error) {
	if ch < 0 || ch >= MaxRxChannels {
		return 0, errcode.InvalidParams
	}
	r, err := d.region(base)
	if err != nil {
		return 0, err
	}
	if !waitFor(r, regRSR, ch) {
		return 0, errcode.NoData
	}
	return r.Read32(rrReg(ch)), nil
}
