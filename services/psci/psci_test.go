package psci

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tzcore-go/bus"
	"tzcore-go/drivers/imxsrc"
	"tzcore-go/errcode"
	"tzcore-go/types"
	"tzcore-go/x/mmio"
)

const (
	loadAddr   = 0x00907000
	markerOff1 = 0x2C // GPR1 + 8*1 + 4
	scrEnable1 = 1 << 22
	scrRst1    = 1 << 14
	gpr5       = 0x14
)

// --- fakes ---

// fakeCPU simulates the executing core. WaitForInterrupt calls onWFI and
// terminates the goroutine once the budget is spent, so a diverging path
// can be observed without hanging the test.
type fakeCPU struct {
	pos    int
	budget int
	onWFI  func(n int)

	wfi    atomic.Int32
	masked atomic.Int32
	left   atomic.Int32
}

func (f *fakeCPU) Pos() int          { return f.pos }
func (f *fakeCPU) LeaveCoherency()   { f.left.Add(1) }
func (f *fakeCPU) MaskExceptions()   { f.masked.Add(1) }
func (f *fakeCPU) WaitForInterrupt() {
	n := int(f.wfi.Add(1))
	if f.onWFI != nil {
		f.onWFI(n)
	}
	if n >= f.budget {
		runtime.Goexit()
	}
}

// runDiverging runs fn on its own goroutine and reports whether fn
// returned to its caller.
func runDiverging(fn func()) bool {
	done := make(chan bool, 1)
	go func() {
		returned := false
		defer func() { done <- returned }()
		fn()
		returned = true
	}()
	return <-done
}

type fakeRestarter struct {
	calls    int
	external bool
}

func (f *fakeRestarter) Restart(ext bool) { f.calls++; f.external = ext }

type fakeSuspender struct {
	mu    sync.Mutex
	calls int
	ps    uint32
	entry uintptr
	ctxID uint32
	nsec  *types.NSecContext
	err   error
}

func (f *fakeSuspender) Suspend(ps uint32, entry uintptr, ctxID uint32, nsec *types.NSecContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ps, f.entry, f.ctxID, f.nsec = ps, entry, ctxID, nsec
	return f.err
}

type rig struct {
	src    *mmio.Sim
	iomuxc *mmio.Sim
	c      *Coordinator
}

func newRig(t *testing.T, cores int, opt Options) *rig {
	t.Helper()
	src, iomuxc := mmio.NewSim(), mmio.NewSim()
	ctrl, err := imxsrc.New(types.VariantSCR, src, nil, iomuxc)
	if err != nil {
		t.Fatalf("imxsrc.New: %v", err)
	}
	opt.Cores = cores
	if opt.LoadAddr == 0 {
		opt.LoadAddr = loadAddr
	}
	return &rig{src: src, iomuxc: iomuxc, c: New(ctrl, nil, opt)}
}

// --- cpu_on ---

func TestCPUOn_RejectsInvalidCoreWithoutWrites(t *testing.T) {
	r := newRig(t, 4, Options{})
	for _, core := range []uint32{0, 4, 5, 1000, ^uint32(0)} {
		if got := r.c.CPUOn(core, 0x40000000, 0); got != errcode.InvalidParams {
			t.Fatalf("core %d: got %s", core, got)
		}
	}
	if r.src.Writes() != 0 {
		t.Fatalf("invalid cpu_on performed %d register writes", r.src.Writes())
	}
}

func TestCPUOn_RecordsEntryAndReleases(t *testing.T) {
	r := newRig(t, 4, Options{})
	r.src.Poke(markerOff1, 0x1234)

	if got := r.c.CPUOn(1, 0x40000000, 0x77); got != errcode.OK {
		t.Fatalf("CPUOn: %s", got)
	}
	if e, ok := r.c.Entry(1); !ok || e != 0x40000000 {
		t.Fatalf("entry = %#x, %v", e, ok)
	}
	if r.c.ContextID(1) != 0x77 {
		t.Fatalf("context id not recorded")
	}
	if r.src.Peek(0x28) != loadAddr {
		t.Fatalf("boot slot = %#x", r.src.Peek(0x28))
	}
	if r.src.Peek(0x00) != scrEnable1|scrRst1 {
		t.Fatalf("SCR = %#x", r.src.Peek(0x00))
	}
	if r.src.Peek(markerOff1) != 0 {
		t.Fatalf("marker not cleared for bring-up")
	}
	if r.c.State(1) != types.CoreReleasing {
		t.Fatalf("state = %s", r.c.State(1))
	}
}

func TestCPUOn_RearmsRunningCore(t *testing.T) {
	r := newRig(t, 2, Options{})
	r.c.CPUOn(1, 0x40000000, 0)
	if got := r.c.CPUOn(1, 0x50000000, 0); got != errcode.OK {
		t.Fatalf("second CPUOn: %s", got)
	}
	if e, _ := r.c.Entry(1); e != 0x50000000 {
		t.Fatalf("entry not re-armed: %#x", e)
	}
}

func TestCPUOn_UnmappedSRCFails(t *testing.T) {
	c := New(nil, nil, Options{Cores: 4})
	if got := c.CPUOn(1, 0x40000000, 0); got != errcode.InternalFailure {
		t.Fatalf("got %s", got)
	}
	if got := c.CPUOn(0, 0x40000000, 0); got != errcode.InvalidParams {
		t.Fatalf("validation must still run first, got %s", got)
	}
	if _, err := c.AffinityInfo(context.Background(), 1, 0); errcode.Of(err) != errcode.InternalFailure {
		t.Fatalf("affinity: %v", err)
	}
	c.BootAllCPUs()
}

// --- affinity_info ---

func TestAffinityInfo_OnWithoutWaiting(t *testing.T) {
	r := newRig(t, 4, Options{})
	r.c.CPUOn(2, 0x40000000, 0)

	before := r.src.Reads()
	st, err := r.c.AffinityInfo(context.Background(), 2, 0)
	if err != nil || st != types.AffinityOn {
		t.Fatalf("got %s, %v", st, err)
	}
	if n := r.src.Reads() - before; n != 1 {
		t.Fatalf("expected a single marker read, got %d", n)
	}
	if r.c.State(2) != types.CoreOn {
		t.Fatalf("state = %s", r.c.State(2))
	}
}

func TestAffinityInfo_BootCoreAndRange(t *testing.T) {
	r := newRig(t, 2, Options{})
	if st, err := r.c.AffinityInfo(context.Background(), 0, 0); err != nil || st != types.AffinityOn {
		t.Fatalf("boot core: %s %v", st, err)
	}
	if _, err := r.c.AffinityInfo(context.Background(), 2, 0); err != errcode.InvalidParams {
		t.Fatalf("out of range: %v", err)
	}
}

func TestAffinityInfo_NotInWFIIsOn(t *testing.T) {
	r := newRig(t, 2, Options{})
	r.src.Poke(markerOff1, imxsrc.MarkerParked)
	if st, err := r.c.AffinityInfo(context.Background(), 1, 0); err != nil || st != types.AffinityOn {
		t.Fatalf("got %s %v", st, err)
	}
	if r.src.Peek(markerOff1) != imxsrc.MarkerParked {
		t.Fatalf("marker must be left alone")
	}
}

func TestAffinityInfo_WaitsForParkThenGates(t *testing.T) {
	r := newRig(t, 4, Options{ParkTimeout: 5 * time.Second})
	r.c.CPUOn(1, 0x40000000, 0)

	// Core is on its way down: token in the marker, already in WFI.
	r.src.Poke(markerOff1, 0xC0FFEE)
	r.iomuxc.Poke(gpr5, 1<<1)

	type res struct {
		st  types.AffinityState
		err error
	}
	done := make(chan res, 1)
	go func() {
		st, err := r.c.AffinityInfo(context.Background(), 1, 0)
		done <- res{st, err}
	}()

	select {
	case got := <-done:
		t.Fatalf("returned before park: %+v", got)
	case <-time.After(30 * time.Millisecond):
	}

	r.src.Poke(markerOff1, imxsrc.MarkerParked)
	select {
	case got := <-done:
		if got.err != nil || got.st != types.AffinityOff {
			t.Fatalf("got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("affinity_info did not observe the park")
	}

	if r.src.Peek(markerOff1) != 0 {
		t.Fatalf("marker not cleared after gating")
	}
	if r.src.Peek(0x00)&scrEnable1 != 0 || r.src.Peek(0x00)&scrRst1 == 0 {
		t.Fatalf("SCR after gate = %#x", r.src.Peek(0x00))
	}
	if _, ok := r.c.Entry(1); ok {
		t.Fatalf("entry must be cleared once the core is off")
	}
	if r.c.State(1) != types.CoreOff {
		t.Fatalf("state = %s", r.c.State(1))
	}
}

func TestAffinityInfo_StaysOffAfterGate(t *testing.T) {
	r := newRig(t, 2, Options{ParkTimeout: time.Second})
	r.c.CPUOn(1, 0x40000000, 0)
	r.src.Poke(markerOff1, imxsrc.MarkerParked)
	r.iomuxc.Poke(gpr5, 1<<1)

	if st, err := r.c.AffinityInfo(context.Background(), 1, 0); err != nil || st != types.AffinityOff {
		t.Fatalf("first query: %s %v", st, err)
	}
	before := r.src.Reads()
	if st, err := r.c.AffinityInfo(context.Background(), 1, 0); err != nil || st != types.AffinityOff {
		t.Fatalf("second query: %s %v", st, err)
	}
	if r.src.Reads() != before {
		t.Fatalf("gated core must be answered without touching SRC")
	}

	r.iomuxc.Poke(gpr5, 0)
	r.c.CPUOn(1, 0x41000000, 0)
	if st, err := r.c.AffinityInfo(context.Background(), 1, 0); err != nil || st != types.AffinityOn {
		t.Fatalf("after re-release: %s %v", st, err)
	}
}

func TestAffinityInfo_ParkWaitIsBounded(t *testing.T) {
	r := newRig(t, 2, Options{ParkTimeout: 20 * time.Millisecond})
	r.src.Poke(markerOff1, 0x1)
	r.iomuxc.Poke(gpr5, 1<<1)

	start := time.Now()
	_, err := r.c.AffinityInfo(context.Background(), 1, 0)
	if errcode.Of(err) != errcode.Timeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if el := time.Since(start); el < 20*time.Millisecond || el > time.Second {
		t.Fatalf("wait took %v", el)
	}
	if r.src.Peek(0x00) != 0 {
		t.Fatalf("core must not be gated on timeout")
	}
}

func TestAffinityInfo_ContextCancel(t *testing.T) {
	r := newRig(t, 2, Options{ParkTimeout: time.Minute})
	r.src.Poke(markerOff1, 0x1)
	r.iomuxc.Poke(gpr5, 1<<1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.c.AffinityInfo(ctx, 1, 0)
	if errcode.Of(err) != errcode.Timeout || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v", err)
	}
}

// --- cpu_off ---

func TestCPUOff_ParksAndNeverReturns(t *testing.T) {
	r := newRig(t, 2, Options{})
	r.c.CPUOn(1, 0x40000000, 0)
	cpu := &fakeCPU{pos: 1, budget: 16}

	if runDiverging(func() { r.c.CPUOff(cpu) }) {
		t.Fatalf("CPUOff returned")
	}
	if r.src.Peek(markerOff1) != imxsrc.MarkerParked {
		t.Fatalf("marker = %#x", r.src.Peek(markerOff1))
	}
	if cpu.left.Load() != 1 || cpu.masked.Load() != 1 {
		t.Fatalf("coherency exit / masking not performed")
	}
	if cpu.wfi.Load() != 16 {
		t.Fatalf("wfi loop re-entered %d times", cpu.wfi.Load())
	}
	if r.c.State(1) != types.CoreParking {
		t.Fatalf("state = %s", r.c.State(1))
	}
}

func TestCPUOff_ThenAffinityOff(t *testing.T) {
	r := newRig(t, 2, Options{ParkTimeout: 2 * time.Second})
	r.c.CPUOn(1, 0x40000000, 0)

	inWFI := make(chan struct{})
	release := make(chan struct{})
	cpu := &fakeCPU{pos: 1, budget: 1, onWFI: func(n int) {
		r.iomuxc.Update(gpr5, func(v uint32) uint32 { return v | 1<<1 })
		close(inWFI)
		<-release
	}}
	go r.c.CPUOff(cpu)
	<-inWFI

	st, err := r.c.AffinityInfo(context.Background(), 1, 0)
	close(release)
	if err != nil || st != types.AffinityOff {
		t.Fatalf("got %s %v", st, err)
	}
	if r.src.Peek(markerOff1) != 0 {
		t.Fatalf("marker must read 0 after gating")
	}
}

func TestCPUOff_UnmappedReturnsInternalFailure(t *testing.T) {
	c := New(nil, nil, Options{Cores: 2})
	if got := c.CPUOff(&fakeCPU{pos: 1, budget: 1}); got != errcode.InternalFailure {
		t.Fatalf("got %s", got)
	}
}

// --- cpu_suspend ---

func TestCPUSuspend_InvalidType(t *testing.T) {
	r := newRig(t, 2, Options{})
	for _, typ := range []types.PowerStateType{2, 3} {
		for _, id := range []uint32{0, 1, 2, 0xFFFF} {
			ps := uint32(types.MakePowerState(typ, id))
			if got := r.c.CPUSuspend(ps, 0, 0, nil); got != errcode.InvalidParams {
				t.Fatalf("type %d id %d: got %s", typ, id, got)
			}
		}
	}
}

func TestCPUSuspend_StateIDs(t *testing.T) {
	sus := &fakeSuspender{}
	r := newRig(t, 2, Options{Suspend: sus})
	for _, typ := range []types.PowerStateType{types.PowerStateStandby, types.PowerStatePowerDown} {
		for _, id := range []uint32{1, 2, 0x8000} {
			if got := r.c.CPUSuspend(uint32(types.MakePowerState(typ, id)), 0, 0, nil); got != errcode.InvalidParams {
				t.Fatalf("type %d id %d: got %s", typ, id, got)
			}
		}
	}
	if sus.calls != 0 {
		t.Fatalf("suspender reached for rejected ids")
	}

	nsec := &types.NSecContext{MonLR: 0x8000_0000}
	ps := uint32(types.MakePowerState(types.PowerStatePowerDown, 0))
	if got := r.c.CPUSuspend(ps, 0x80100000, 0x55, nsec); got != errcode.OK {
		t.Fatalf("id 0: got %s", got)
	}
	if sus.calls != 1 || sus.ps != ps || sus.entry != 0x80100000 || sus.ctxID != 0x55 || sus.nsec != nsec {
		t.Fatalf("arguments not passed through: %+v", sus)
	}

	sus.err = errors.New("pm failed")
	if got := r.c.CPUSuspend(ps, 0, 0, nil); got != errcode.InternalFailure {
		t.Fatalf("failing suspender: %s", got)
	}
}

func TestCPUSuspend_DefaultIsNoop(t *testing.T) {
	r := newRig(t, 2, Options{})
	if got := r.c.CPUSuspend(0, 0, 0, nil); got != errcode.OK {
		t.Fatalf("got %s", got)
	}
}

// --- system_reset / boot_all_cpus ---

func TestSystemReset_NeverReturns(t *testing.T) {
	ctrl, _ := imxsrc.New(types.VariantSCR, mmio.NewSim(), nil, nil)
	wd := &fakeRestarter{}
	c := New(ctrl, wd, Options{Cores: 2, ExternalReset: true})

	if runDiverging(func() { c.SystemReset(&fakeCPU{budget: 4}) }) {
		t.Fatalf("SystemReset returned")
	}
	if wd.calls != 1 || !wd.external {
		t.Fatalf("watchdog restart not requested: %+v", wd)
	}
}

func TestBootAllCPUs(t *testing.T) {
	r := newRig(t, 4, Options{})
	r.c.BootAllCPUs()
	for core := 1; core < 4; core++ {
		if r.src.Peek(0x20+uint32(core)*8) != loadAddr {
			t.Fatalf("core %d boot slot not programmed", core)
		}
		if r.c.State(core) != types.CoreReleasing {
			t.Fatalf("core %d state %s", core, r.c.State(core))
		}
	}
	if r.src.Peek(0x00) != 0x7<<22 {
		t.Fatalf("SCR = %#x", r.src.Peek(0x00))
	}
}

// --- events and other variants ---

func TestStateEventsPublished(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("test")
	sub := conn.Subscribe(bus.T("psci", "core", 1, "state"))
	r := newRig(t, 2, Options{Conn: conn})

	var last types.CoreStateEvent
	drain := func() {
		for {
			select {
			case m := <-sub.Channel():
				last = m.Payload.(types.CoreStateEvent)
			case <-time.After(20 * time.Millisecond):
				return
			}
		}
	}
	drain()
	if last.State != types.CoreOff {
		t.Fatalf("initial state %+v", last)
	}
	r.c.CPUOn(1, 0x40000000, 0)
	drain()
	if last.State != types.CoreReleasing || last.Entry != 0x40000000 || last.Core != 1 {
		t.Fatalf("event %+v", last)
	}
}

func TestCPUOn_A7RCRVariant(t *testing.T) {
	src, gpc := mmio.NewSim(), mmio.NewSim()
	gpc.OnWrite(0xF0, func(off, old, new uint32) {
		gpc.Update(off, func(v uint32) uint32 { return v &^ 0x2 })
	})
	ctrl, _ := imxsrc.New(types.VariantA7RCR, src, gpc, nil)
	c := New(ctrl, nil, Options{Cores: 2, LoadAddr: 0x80000000})

	if got := c.CPUOn(1, 0x40000000, 0); got != errcode.OK {
		t.Fatalf("CPUOn: %s", got)
	}
	if src.Peek(0x08) != 1<<1 {
		t.Fatalf("A7RCR1 = %#x", src.Peek(0x08))
	}

	// No WFI status on this variant: a parked marker is enough to gate.
	src.Poke(markerOff1, imxsrc.MarkerParked)
	if st, err := c.AffinityInfo(context.Background(), 1, 0); err != nil || st != types.AffinityOff {
		t.Fatalf("affinity: %s %v", st, err)
	}
	if src.Peek(0x08) != 0 {
		t.Fatalf("core not gated")
	}
}

func TestCPUOn_A7RCRPowerUpTimeout(t *testing.T) {
	src, gpc := mmio.NewSim(), mmio.NewSim()
	ctrl, _ := imxsrc.New(types.VariantA7RCR, src, gpc, nil)
	c := New(ctrl, nil, Options{Cores: 2})
	if got := c.CPUOn(1, 0x40000000, 0); got != errcode.InternalFailure {
		t.Fatalf("got %s", got)
	}
	if c.State(1) != types.CoreOff {
		t.Fatalf("state must not advance on failure")
	}
}

// --- SMC dispatch ---

func TestHandle(t *testing.T) {
	r := newRig(t, 2, Options{})
	ctx := context.Background()
	cpu := &fakeCPU{budget: 1}

	if got := r.c.Handle(ctx, cpu, nil, FnVersion, 0, 0, 0); got != Version {
		t.Fatalf("version %#x", got)
	}
	if got := r.c.Handle(ctx, cpu, nil, FnFeatures, FnCPUOn, 0, 0); got != 0 {
		t.Fatalf("features(cpu_on) %#x", got)
	}
	if got := r.c.Handle(ctx, cpu, nil, FnFeatures, FnSystemOff, 0, 0); got != 0xFFFFFFFF {
		t.Fatalf("features(system_off) %#x", got)
	}
	if got := r.c.Handle(ctx, cpu, nil, FnCPUOn, 0, 0x40000000, 0); got != 0xFFFFFFFE {
		t.Fatalf("cpu_on(0) %#x", got)
	}
	if got := r.c.Handle(ctx, cpu, nil, FnCPUOn, 1, 0x40000000, 0); got != 0 {
		t.Fatalf("cpu_on(1) %#x", got)
	}
	if got := r.c.Handle(ctx, cpu, nil, FnAffinityInfo, 1, 0, 0); got != uint32(types.AffinityOn) {
		t.Fatalf("affinity_info(1) %#x", got)
	}
	if got := r.c.Handle(ctx, cpu, nil, FnAffinityInfo, 9, 0, 0); got != 0xFFFFFFFE {
		t.Fatalf("affinity_info(9) %#x", got)
	}
	ps := uint32(types.MakePowerState(3, 0))
	if got := r.c.Handle(ctx, cpu, nil, FnCPUSuspend, ps, 0, 0); got != 0xFFFFFFFE {
		t.Fatalf("cpu_suspend(bad type) %#x", got)
	}
	if got := r.c.Handle(ctx, cpu, nil, 0x84000099, 0, 0, 0); got != 0xFFFFFFFF {
		t.Fatalf("unknown fid %#x", got)
	}
}
