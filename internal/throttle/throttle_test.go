package throttle

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCall_DropsWithinCooldown(t *testing.T) {
	th := New(100 * time.Millisecond)

	var calls int
	if !th.Call("state_changed:a", func() { calls++ }) {
		t.Fatal("first call should run")
	}
	if th.Call("state_changed:a", func() { calls++ }) {
		t.Fatal("second call within cooldown should be dropped")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestCall_RunsAgainAfterCooldown(t *testing.T) {
	th := New(30 * time.Millisecond)

	var calls int
	th.Call("k", func() { calls++ })
	time.Sleep(60 * time.Millisecond)
	if !th.Call("k", func() { calls++ }) {
		t.Fatal("call after cooldown should run")
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestCall_KeysAreIndependent(t *testing.T) {
	th := New(time.Second)

	var calls int
	th.Call(Key("state_changed", "a"), func() { calls++ })
	th.Call(Key("state_changed", "b"), func() { calls++ })
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestCall_ConcurrentBurstRunsOnce(t *testing.T) {
	th := New(time.Second)

	var calls atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			th.Call("burst", func() { calls.Add(1) })
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestReset(t *testing.T) {
	th := New(time.Second)

	th.Call("k", func() {})
	th.Reset("k")
	if !th.Call("k", func() {}) {
		t.Error("call after Reset should run")
	}
}

func TestNew_DefaultCooldown(t *testing.T) {
	if got := New(0).Cooldown(); got != DefaultCooldown {
		t.Errorf("Cooldown() = %v, want %v", got, DefaultCooldown)
	}
}

func TestKey(t *testing.T) {
	tests := []struct {
		op       string
		subjects []string
		want     string
	}{
		{"state_changed", nil, "state_changed"},
		{"state_changed", []string{"TC-1"}, "state_changed:TC-1"},
		{"command", []string{"TC-1", "climate.x"}, "command:TC-1:climate.x"},
	}
	for _, tt := range tests {
		if got := Key(tt.op, tt.subjects...); got != tt.want {
			t.Errorf("Key(%q, %v) = %q, want %q", tt.op, tt.subjects, got, tt.want)
		}
	}
}
