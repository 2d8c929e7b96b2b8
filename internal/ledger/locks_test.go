package ledger

import (
	"sync"
	"testing"
)

func TestKeyedMutex_SerializesKey(t *testing.T) {
	km := newKeyedMutex()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock(pairKey("user1", "AAPL"))
			v := counter
			counter = v + 1
			unlock()
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("expected 100, got %d", counter)
	}
	if km.size() != 0 {
		t.Errorf("expected no keys left, got %d", km.size())
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := newKeyedMutex()
	unlockA := km.Lock(pairKey("user1", "AAPL"))

	done := make(chan struct{})
	go func() {
		unlock := km.Lock(pairKey("user1", "MSFT"))
		unlock()
		close(done)
	}()
	<-done

	if km.size() != 1 {
		t.Errorf("expected 1 held key, got %d", km.size())
	}
	unlockA()
	if km.size() != 0 {
		t.Errorf("expected no keys left, got %d", km.size())
	}
}

func TestPairKey_NoCollisions(t *testing.T) {
	if pairKey("ab", "c") == pairKey("a", "bc") {
		t.Error("pair keys must not collide")
	}
}
