package spinlock

import (
	"sync"
	"testing"
)

func TestLock_MutualExclusion(t *testing.T) {
	var l Lock
	var wg sync.WaitGroup
	n := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				l.Lock()
				n++
				l.Unlock()
			}
		}()
	}
	wg.Wait()
	if n != 8000 {
		t.Fatalf("lost updates: n=%d", n)
	}
}

func TestLock_UnlockUnlockedPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	var l Lock
	l.Unlock()
}
