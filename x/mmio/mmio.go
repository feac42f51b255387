// Package mmio is the word-sized register access leaf. Drivers address a
// mapped block through Region; production binds it to real memory with
// Native, tests and simulations bind it to Sim.
package mmio

import (
	"sync/atomic"
	"unsafe"
)

// Region is a mapped register block addressed by byte offset.
type Region interface {
	Read32(off uint32) uint32
	Write32(off uint32, v uint32)
	Read16(off uint32) uint16
	Write16(off uint32, v uint16)
}

// Area selects the memory attributes a physical block is mapped with.
type Area uint8

// AreaIOSec is secure device memory, the only attribute register blocks use.
const AreaIOSec Area = 0

// Mapper resolves a physical base to a mapped Region.
type Mapper interface {
	Map(pa uintptr, area Area) (Region, bool)
}

// Modify32 performs a read-modify-write of one register.
func Modify32(r Region, off uint32, fn func(v *uint32)) {
	v := r.Read32(off)
	fn(&v)
	r.Write32(off, v)
}

// ---- static mapping table ----

type tableKey struct {
	pa   uintptr
	area Area
}

// Table is a fixed Mapper populated at platform init.
type Table struct {
	m map[tableKey]Region
}

func NewTable() *Table { return &Table{m: map[tableKey]Region{}} }

// Add registers r for (pa, area). pa 0 is ignored.
func (t *Table) Add(pa uintptr, area Area, r Region) {
	if pa == 0 || r == nil {
		return
	}
	t.m[tableKey{pa, area}] = r
}

func (t *Table) Map(pa uintptr, area Area) (Region, bool) {
	r, ok := t.m[tableKey{pa, area}]
	return r, ok
}

// ---- real memory ----

// Native is a Region over already-mapped virtual memory. Accesses are
// atomic so stores are ordered and visible to other cores. Base is
// converted from the virtual address once, when the block is mapped.
type Native struct {
	Base unsafe.Pointer
}

func (n Native) p32(off uint32) *uint32 {
	return (*uint32)(unsafe.Add(n.Base, off))
}

func (n Native) Read32(off uint32) uint32     { return atomic.LoadUint32(n.p32(off)) }
func (n Native) Write32(off uint32, v uint32) { atomic.StoreUint32(n.p32(off), v) }

// 16-bit accesses are done on the containing aligned word.
func (n Native) Read16(off uint32) uint16 {
	w := n.Read32(off &^ 3)
	return uint16(w >> ((off & 2) * 8))
}

func (n Native) Write16(off uint32, v uint16) {
	p := n.p32(off &^ 3)
	shift := (off & 2) * 8
	for {
		old := atomic.LoadUint32(p)
		nv := old&^(0xFFFF<<shift) | uint32(v)<<shift
		if atomic.CompareAndSwapUint32(p, old, nv) {
			return
		}
	}
}
