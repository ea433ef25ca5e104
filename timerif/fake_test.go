package timerif

import "testing"

func TestFakeTimerOneShot(t *testing.T) {
	ft := NewFakeTimer(1_000_000)
	fired := false
	ft.Add(100, func(data interface{}) { fired = true }, nil)
	ft.Advance(50)
	if fired {
		t.Fatalf("fired too early")
	}
	ft.Advance(60)
	if !fired {
		t.Fatalf("did not fire")
	}
}

func TestFakeTimerPeriodic(t *testing.T) {
	ft := NewFakeTimer(1_000_000)
	count := 0
	ft.Add(10, func(data interface{}) { count++ }, nil)
	ft.Advance(105)
	if count != 10 {
		t.Fatalf("count = %d, want 10", count)
	}
}

func TestFakeTimerRemove(t *testing.T) {
	ft := NewFakeTimer(1_000_000)
	count := 0
	h := ft.Add(10, func(data interface{}) { count++ }, nil)
	ft.Advance(25)
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	ft.Remove(h)
	ft.Advance(100)
	if count != 2 {
		t.Fatalf("count after remove = %d, want 2", count)
	}
}
