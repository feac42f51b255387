package simsoc

import (
	"sync"

	"github.com/f-secure-foundry/tamago/bits"

	"tzcore-go/x/mmio"
)

const (
	regTSR = 0x124
	regRSR = 0x12C
	regTR0 = 0x200
	regRR0 = 0x280

	txChannels = 8
	rxChannels = 4

	hdrSizeShift = 8
)

// MUHandler answers one request. req[0] is the header. A nil or empty
// answer sends nothing back.
type MUHandler func(req []uint32) []uint32

// Echo answers every request with itself.
func Echo(req []uint32) []uint32 { return append([]uint32(nil), req...) }

// muPeer is the far side of the MU. It consumes TR writes as soon as they
// land and feeds its answer through the RR registers in channel order.
type muPeer struct {
	r *mmio.Sim

	mu      sync.Mutex
	handler MUHandler
	req     []uint32
	want    int
	out     []uint32 // answer words not yet placed
	next    int      // index of the next answer word
}

func newMUPeer(r *mmio.Sim) *muPeer {
	p := &muPeer{r: r, handler: Echo}
	r.Poke(regTSR, 1<<txChannels-1)
	for ch := 0; ch < txChannels; ch++ {
		r.OnWrite(regTR0+4*uint32(ch), p.onTx)
	}
	for ch := 0; ch < rxChannels; ch++ {
		r.OnRead(regRR0+4*uint32(ch), p.onRx)
	}
	return p
}

func (p *muPeer) setHandler(h MUHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

func (p *muPeer) onTx(off, old, w uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.req) == 0 {
		if p.want = int(w >> hdrSizeShift & 0xFF); p.want == 0 {
			return
		}
	}
	p.req = append(p.req, w)
	if len(p.req) < p.want {
		return
	}
	req := p.req
	p.req = nil
	if p.handler != nil {
		p.out, p.next = p.handler(req), 0
	}
	p.fill()
}

// onRx frees the channel that was just read and places further words.
func (p *muPeer) onRx(off, _ uint32) {
	ch := int(off-regRR0) / 4
	p.mu.Lock()
	defer p.mu.Unlock()
	p.r.Update(regRSR, func(v uint32) uint32 {
		bits.Clear(&v, ch)
		return v
	})
	p.fill()
}

// fill places answer words while the target channel is empty. Word k goes
// to channel k mod rxChannels.
func (p *muPeer) fill() {
	for p.next < len(p.out) {
		ch := p.next % rxChannels
		rsr := p.r.Peek(regRSR)
		if bits.Get(&rsr, ch, 1) == 1 {
			return
		}
		p.r.Poke(regRR0+4*uint32(ch), p.out[p.next])
		p.r.Update(regRSR, func(v uint32) uint32 {
			bits.Set(&v, ch)
			return v
		})
		p.next++
	}
}
