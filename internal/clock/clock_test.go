package clock

import (
	"testing"
	"time"
)

func TestFakeNowAndAdvance(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f := NewFake(start)

	if !f.Now().Equal(start) {
		t.Errorf("Now = %v, want %v", f.Now(), start)
	}

	f.Advance(90 * time.Minute)

	want := start.Add(90 * time.Minute)
	if !f.Now().Equal(want) {
		t.Errorf("Now after Advance = %v, want %v", f.Now(), want)
	}
}

func TestFakeSleepRecordsAndAdvances(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	f.Sleep(2 * time.Second)
	f.Sleep(5 * time.Second)

	slept := f.Slept()
	if len(slept) != 2 || slept[0] != 2*time.Second || slept[1] != 5*time.Second {
		t.Errorf("Slept = %v", slept)
	}

	if got := f.Now().Sub(start); got != 7*time.Second {
		t.Errorf("clock advanced by %v, want 7s", got)
	}
}

func TestFakeTicker(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ticker := f.NewTicker(time.Hour)

	select {
	case <-ticker.C:
		t.Fatal("tick before Tick was called")
	default:
	}

	f.Tick()

	select {
	case <-ticker.C:
	default:
		t.Fatal("no tick delivered after Tick")
	}
}

func TestRealNow(t *testing.T) {
	before := time.Now()
	got := Real().Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("Real().Now() = %v outside [%v, %v]", got, before, after)
	}
}
