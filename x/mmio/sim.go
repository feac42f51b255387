package mmio

import "sync"

// WriteHook observes a 32-bit store after it has landed.
type WriteHook func(off, old, new uint32)

// ReadHook observes a 32-bit load after it has been served.
type ReadHook func(off, v uint32)

// Sim is an in-memory register file. Hooks run outside the lock so they
// may access the Sim themselves.
type Sim struct {
	mu      sync.Mutex
	words   map[uint32]uint32
	onWrite map[uint32][]WriteHook
	onRead  map[uint32][]ReadHook
	anyW    []WriteHook
	writes  int
	reads   int
}

func NewSim() *Sim {
	return &Sim{
		words:   map[uint32]uint32{},
		onWrite: map[uint32][]WriteHook{},
		onRead:  map[uint32][]ReadHook{},
	}
}

// OnWrite registers h for stores to off. off 0xFFFFFFFF matches any offset.
func (s *Sim) OnWrite(off uint32, h WriteHook) {
	s.mu.Lock()
	if off == AnyOffset {
		s.anyW = append(s.anyW, h)
	} else {
		s.onWrite[off&^3] = append(s.onWrite[off&^3], h)
	}
	s.mu.Unlock()
}

// OnRead registers h for loads from off.
func (s *Sim) OnRead(off uint32, h ReadHook) {
	s.mu.Lock()
	s.onRead[off&^3] = append(s.onRead[off&^3], h)
	s.mu.Unlock()
}

// AnyOffset selects every offset in OnWrite.
const AnyOffset = ^uint32(0)

// Peek reads a word without counting or hooks (hardware side).
func (s *Sim) Peek(off uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.words[off&^3]
}

// Poke stores a word without counting or hooks (hardware side).
func (s *Sim) Poke(off, v uint32) {
	s.mu.Lock()
	s.words[off&^3] = v
	s.mu.Unlock()
}

// Update applies fn to a word atomically without hooks (hardware side).
func (s *Sim) Update(off uint32, fn func(v uint32) uint32) {
	s.mu.Lock()
	s.words[off&^3] = fn(s.words[off&^3])
	s.mu.Unlock()
}

// Writes returns the number of stores issued through the Region methods.
func (s *Sim) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Reads returns the number of loads issued through the Region methods.
func (s *Sim) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *Sim) Read32(off uint32) uint32 {
	off &^= 3
	s.mu.Lock()
	v := s.words[off]
	s.reads++
	hooks := s.onRead[off]
	s.mu.Unlock()
	for _, h := range hooks {
		h(off, v)
	}
	return v
}

func (s *Sim) Write32(off uint32, v uint32) {
	s.store(off, func(uint32) uint32 { return v })
}

// store applies fn under the lock, counts it as a bus write and then runs
// the write hooks.
func (s *Sim) store(off uint32, fn func(old uint32) uint32) {
	off &^= 3
	s.mu.Lock()
	old := s.words[off]
	v := fn(old)
	s.words[off] = v
	s.writes++
	hooks := append(append([]WriteHook(nil), s.onWrite[off]...), s.anyW...)
	s.mu.Unlock()
	for _, h := range hooks {
		h(off, old, v)
	}
}

func (s *Sim) Read16(off uint32) uint16 {
	return uint16(s.Read32(off) >> ((off & 2) * 8))
}

func (s *Sim) Write16(off uint32, v uint16) {
	shift := (off & 2) * 8
	s.store(off, func(old uint32) uint32 {
		return old&^(0xFFFF<<shift) | uint32(v)<<shift
	})
}
