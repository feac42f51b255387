// Package coremon logs core state transitions published by the PSCI
// coordinator and prints a periodic summary.
package coremon

import (
	"context"
	"sync"
	"time"

	"tzcore-go/bus"
	"tzcore-go/services/psci"
	"tzcore-go/types"
	"tzcore-go/x/conv"
)

const DefaultInterval = 5 * time.Second

var topicCoreState = bus.T("psci", "core", "+", "state")

type Service struct {
	// Interval between summaries; 0 selects DefaultInterval, <0 disables.
	Interval time.Duration

	mu     sync.Mutex
	states map[int]types.CoreStateEvent
}

// Snapshot returns the last event seen per core.
func (s *Service) Snapshot() map[int]types.CoreStateEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]types.CoreStateEvent, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out
}

func (s *Service) record(ev types.CoreStateEvent) {
	s.mu.Lock()
	if s.states == nil {
		s.states = map[int]types.CoreStateEvent{}
	}
	s.states[ev.Core] = ev
	s.mu.Unlock()
}

func (s *Service) summary() {
	snap := s.Snapshot()
	for core := 0; core < psci.MaxCores; core++ {
		if ev, ok := snap[core]; ok {
			println("[coremon] core", core, string(ev.State))
		}
	}
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection, sub *bus.Subscription) {
	defer conn.Unsubscribe(sub)

	iv := s.Interval
	if iv == 0 {
		iv = DefaultInterval
	}
	var tickC <-chan time.Time
	if iv > 0 {
		tick := time.NewTicker(iv)
		defer tick.Stop()
		tickC = tick.C
	}

	for {
		select {
		case <-ctx.Done():
			println("[coremon] stopping")
			return
		case <-tickC:
			s.summary()
		case msg, ok := <-sub.Channel():
			if !ok {
				println("[coremon] bus closed")
				return
			}
			ev, ok := msg.Payload.(types.CoreStateEvent)
			if !ok {
				continue
			}
			s.record(ev)
			if ev.Entry != 0 {
				println("[coremon] core", ev.Core, "->", string(ev.State), "entry", conv.Hex32(ev.Entry))
			} else {
				println("[coremon] core", ev.Core, "->", string(ev.State))
			}
		}
	}
}

// Start subscribes before returning so no transition published afterwards
// is missed, then runs until ctx is cancelled.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	sub := conn.Subscribe(topicCoreState)
	go s.serviceLoop(ctx, conn, sub)
	return nil
}
