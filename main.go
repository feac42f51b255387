package main

import (
	"context"
	"time"

	"tzcore-go/bus"
	"tzcore-go/services/config"
	"tzcore-go/services/coremon"
	"tzcore-go/services/platform"
	"tzcore-go/services/platform/simsoc"
	"tzcore-go/types"
	"tzcore-go/x/conv"
)

const board = "imx6q-sabresd"

func main() {
	println("boot", board)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.NewBus(32)
	conn := b.NewConnection("main")

	ctx = context.WithValue(ctx, config.CtxBoardKey, board)
	config.NewConfigService().Start(ctx, conn)

	// Wait for the retained platform config.
	sub := conn.Subscribe(config.Topic())
	var cfg types.PlatformConfig
	select {
	case m := <-sub.Channel():
		cfg = m.Payload.(types.PlatformConfig)
	case <-time.After(time.Second):
		println("no platform config")
		return
	}
	conn.Unsubscribe(sub)

	mon := &coremon.Service{Interval: -1}
	mon.Start(ctx, conn)

	soc := simsoc.New(cfg)
	p, err := platform.New(cfg, soc.Mapper(), platform.Options{Conn: conn})
	if err != nil {
		println("platform:", err.Error())
		return
	}
	soc.Attach(p.PSCI)
	defer soc.Shutdown()

	for core := uint32(1); core < uint32(cfg.Cores); core++ {
		entry := 0x40000000 + core*0x1000
		println("cpu_on", core, conv.Hex32(entry), "->", string(p.PSCI.CPUOn(core, entry, 0)))
	}
	for core := uint32(1); core < uint32(cfg.Cores); core++ {
		st, _ := p.PSCI.AffinityInfo(ctx, core, 0)
		println("affinity", core, st.String())
	}

	if err := soc.Off(2); err != nil {
		println("off:", err.Error())
	}
	st, err := p.PSCI.AffinityInfo(ctx, 2, 0)
	if err != nil {
		println("affinity 2:", err.Error())
	} else {
		println("affinity 2 after cpu_off", st.String())
	}

	time.Sleep(50 * time.Millisecond)
	println("done")
}
