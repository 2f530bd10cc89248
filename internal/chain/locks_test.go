package chain

import (
	"sync"
	"testing"
)

func TestPathLockerExclusive(t *testing.T) {
	pl := NewPathLocker()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pl.Lock("/file.txt")
			counter++
			pl.Unlock("/file.txt")
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("Expected counter 50, got %d", counter)
	}
}

func TestPathLockerIndependentPaths(t *testing.T) {
	pl := NewPathLocker()

	// A held lock on one path must not block another path
	pl.Lock("/a")
	done := make(chan struct{})
	go func() {
		pl.Lock("/b")
		pl.Unlock("/b")
		close(done)
	}()
	<-done
	pl.Unlock("/a")
}

func TestPathLockerSharedReaders(t *testing.T) {
	pl := NewPathLocker()

	pl.RLock("/file.txt")
	// A second reader must be admitted while the first holds the lock
	done := make(chan struct{})
	go func() {
		pl.RLock("/file.txt")
		pl.RUnlock("/file.txt")
		close(done)
	}()
	<-done
	pl.RUnlock("/file.txt")
}

func TestPathLockerTableDrains(t *testing.T) {
	pl := NewPathLocker()

	pl.Lock("/a")
	pl.Unlock("/a")
	pl.RLock("/b")
	pl.RUnlock("/b")

	pl.mu.Lock()
	n := len(pl.locks)
	pl.mu.Unlock()
	if n != 0 {
		t.Errorf("Expected empty lock table, got %d entries", n)
	}
}

func TestLockPairSamePath(t *testing.T) {
	pl := NewPathLocker()

	// Equal paths must lock once, not deadlock on a double acquire
	pl.LockPair("/x", "/x")
	pl.UnlockPair("/x", "/x")
}

func TestLockPairOrdering(t *testing.T) {
	pl := NewPathLocker()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				pl.LockPair("/a", "/b")
				pl.UnlockPair("/a", "/b")
			} else {
				pl.LockPair("/b", "/a")
				pl.UnlockPair("/b", "/a")
			}
		}(i)
	}
	wg.Wait()
}
