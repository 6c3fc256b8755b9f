package sentinel

import (
	"sync"
	"testing"
)

func TestWipeZeroesBuffer(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5}
	guard := Protect("req-1", buf)

	if guard.Wiped() {
		t.Fatal("guard reports wiped before Wipe")
	}
	guard.Wipe()

	for i, b := range buf {
		if b != 0 {
			t.Errorf("byte %d = %d after wipe, want 0", i, b)
		}
	}
	if !guard.Wiped() {
		t.Error("guard does not report wiped after Wipe")
	}
	if guard.Bytes() != nil {
		t.Error("Bytes() should return nil after wipe")
	}
}

func TestWipeIsIdempotent(t *testing.T) {
	guard := Protect("req-1", []byte{9, 9, 9})
	guard.Wipe()
	guard.Wipe()
	guard.Wipe()

	if !guard.Wiped() {
		t.Error("guard should stay wiped")
	}
}

func TestWipeConcurrent(t *testing.T) {
	guard := Protect("req-1", make([]byte, 4096))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			guard.Wipe()
		}()
	}
	wg.Wait()

	if !guard.Wiped() {
		t.Error("guard should be wiped after concurrent calls")
	}
}

func TestWipeEmptyBuffer(t *testing.T) {
	guard := Protect("req-1", nil)
	guard.Wipe()
	if !guard.Wiped() {
		t.Error("empty buffer should still mark wiped")
	}
}

func TestTrackerAccounting(t *testing.T) {
	tracker := NewTracker()

	g1 := tracker.Protect("req-1", []byte{1})
	g2 := tracker.Protect("req-2", []byte{2})
	g3 := tracker.Protect("req-3", []byte{3})

	if got := tracker.Outstanding(); got != 3 {
		t.Fatalf("Outstanding() = %d, want 3", got)
	}

	g1.Wipe()
	g2.Wipe()

	if got := tracker.Outstanding(); got != 1 {
		t.Errorf("Outstanding() = %d, want 1", got)
	}

	protected, wiped := tracker.Stats()
	if protected != 3 || wiped != 2 {
		t.Errorf("Stats() = (%d, %d), want (3, 2)", protected, wiped)
	}

	g3.Wipe()
	if got := tracker.Outstanding(); got != 0 {
		t.Errorf("Outstanding() = %d after all wipes, want 0", got)
	}
}

func TestTrackerDoubleWipeCountsOnce(t *testing.T) {
	tracker := NewTracker()
	guard := tracker.Protect("req-1", []byte{1, 2})

	guard.Wipe()
	guard.Wipe()

	protected, wiped := tracker.Stats()
	if protected != 1 || wiped != 1 {
		t.Errorf("Stats() = (%d, %d), want (1, 1)", protected, wiped)
	}
}
