// Package mu is the secure MU messaging transport: whole messages over a
// word-at-a-time channel HAL, one transaction at a time.
package mu

import (
	"time"

	"tzcore-go/errcode"
	"tzcore-go/x/mathx"
	"tzcore-go/x/spinlock"
	"tzcore-go/x/timex"
)

// HAL is the per-platform channel layer.
type HAL interface {
	Init(base uintptr)
	// Send transmits one word on TX channel ch.
	Send(base uintptr, ch int, w uint32) error
	// Receive returns one word from RX channel ch, or errcode.NoData if
	// the channel is empty. It must not block indefinitely.
	Receive(base uintptr, ch int) (uint32, error)
	TxChannels() int
	RxChannels() int
}

const (
	DefaultRxTimeout = 100 * time.Millisecond
	minRxTimeout     = time.Millisecond
	maxRxTimeout     = 10 * time.Second
)

// Stats are cumulative transport counters.
type Stats struct {
	Calls    uint32
	Sent     uint32 // words
	Received uint32 // words
	Timeouts uint32
	Errors   uint32
}

// Transport serialises MU transactions for one HAL.
type Transport struct {
	lock      spinlock.Lock
	hal       HAL
	rxTimeout time.Duration
	stats     Stats // guarded by lock
}

// New builds a transport. rxTimeout 0 selects DefaultRxTimeout.
func New(hal HAL, rxTimeout time.Duration) *Transport {
	if rxTimeout == 0 {
		rxTimeout = DefaultRxTimeout
	}
	return &Transport{
		hal:       hal,
		rxTimeout: mathx.Clamp(rxTimeout, minRxTimeout, maxRxTimeout),
	}
}

// RxTimeout is the bound on waiting for the first answer word.
func (t *Transport) RxTimeout() time.Duration { return t.rxTimeout }

// Stats returns a snapshot of the counters.
func (t *Transport) Stats() Stats {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.stats
}

// Init prepares the MU at base. A zero base is logged and ignored.
func (t *Transport) Init(base uintptr) {
	if base == 0 {
		println("[mu] bad MU base address")
		return
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	t.hal.Init(base)
}

// Call sends msg and, if waitForAnswer, overwrites it with the reply. The
// whole exchange holds the transport lock.
func (t *Transport) Call(base uintptr, msg *Message, waitForAnswer bool) error {
	if base == 0 || msg == nil {
		return errcode.BadParameters
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	t.stats.Calls++
	err := t.send(base, msg)
	if err == nil && waitForAnswer {
		err = t.receive(base, msg)
	}
	if err != nil {
		t.stats.Errors++
	}
	return err
}

func (t *Transport) send(base uintptr, msg *Message) error {
	size := msg.Header.Size()
	if !validSize(size) {
		println("[mu] send: bad message size", size)
		return errcode.BadFormat
	}
	nb := t.hal.TxChannels()
	if nb < 1 {
		return errcode.BadParameters
	}
	if err := t.hal.Send(base, 0, uint32(msg.Header)); err != nil {
		return err
	}
	t.stats.Sent++

	for i := 1; i < size; i++ {
		if err := t.hal.Send(base, i%nb, msg.word(i)); err != nil {
			return err
		}
		t.stats.Sent++
	}
	return nil
}

func (t *Transport) receive(base uintptr, msg *Message) error {
	nb := t.hal.RxChannels()
	if nb < 1 {
		return errcode.BadParameters
	}
	tout := timex.After(t.rxTimeout)
	var (
		w   uint32
		err error
	)
	for {
		w, err = t.hal.Receive(base, 0)
		if errcode.Of(err) != errcode.NoData {
			break
		}
		if tout.Elapsed() {
			t.stats.Timeouts++
			return errcode.Wrap(errcode.Timeout, "mu.receive", err)
		}
	}
	if err != nil {
		return err
	}
	t.stats.Received++

	hdr := Header(w)
	if !validSize(hdr.Size()) {
		println("[mu] receive: bad message size", hdr.Size())
		return errcode.BadFormat
	}
	msg.setWord(0, w)

	for i := 1; i < hdr.Size(); i++ {
		w, err := t.hal.Receive(base, i%nb)
		if err != nil {
			return err
		}
		msg.setWord(i, w)
		t.stats.Received++
	}
	return nil
}
