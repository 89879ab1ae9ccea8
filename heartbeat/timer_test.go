package heartbeat

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinayprograms/activitykit/clock"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestTimer(t *testing.T, fc *clock.Fake, ticks *atomic.Int32) *Timer {
	t.Helper()
	timer, err := NewTimer(Config{
		Interval: 10 * time.Second,
		Clock:    fc,
		Tick:     func() { ticks.Add(1) },
	})
	if err != nil {
		t.Fatalf("NewTimer error: %v", err)
	}
	return timer
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Tick: func() {}}, false},
		{"missing tick", Config{Interval: time.Second}, true},
		{"negative interval", Config{Interval: -time.Second, Tick: func() {}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewTimer_Defaults(t *testing.T) {
	timer, err := NewTimer(Config{Tick: func() {}})
	if err != nil {
		t.Fatalf("NewTimer error: %v", err)
	}
	if timer.Interval() != DefaultInterval {
		t.Errorf("Interval = %v, want %v", timer.Interval(), DefaultInterval)
	}
	if timer.Running() {
		t.Error("new timer should not be running")
	}
}

func TestTimer_TicksAtInterval(t *testing.T) {
	fc := clock.NewFake(epoch)
	var ticks atomic.Int32
	timer := newTestTimer(t, fc, &ticks)

	timer.Start()
	fc.Advance(9 * time.Second)
	if ticks.Load() != 0 {
		t.Fatalf("ticks = %d before first interval, want 0", ticks.Load())
	}

	fc.Advance(21 * time.Second)
	if ticks.Load() != 3 {
		t.Errorf("ticks = %d after 30s, want 3", ticks.Load())
	}
	if timer.Ticks() != 3 {
		t.Errorf("Ticks() = %d, want 3", timer.Ticks())
	}
}

func TestTimer_RestartIsIdempotent(t *testing.T) {
	fc := clock.NewFake(epoch)
	var ticks atomic.Int32
	timer := newTestTimer(t, fc, &ticks)

	timer.Start()
	fc.Advance(5 * time.Second)
	timer.Start()
	timer.Start()

	if fc.Pending() != 1 {
		t.Fatalf("pending timers = %d, want exactly 1 after restarts", fc.Pending())
	}

	// Restart at 5s pushes the next tick to 15s.
	fc.Advance(9 * time.Second)
	if ticks.Load() != 0 {
		t.Errorf("ticks = %d at 14s, want 0", ticks.Load())
	}
	fc.Advance(time.Second)
	if ticks.Load() != 1 {
		t.Errorf("ticks = %d at 15s, want 1", ticks.Load())
	}
}

func TestTimer_Stop(t *testing.T) {
	fc := clock.NewFake(epoch)
	var ticks atomic.Int32
	timer := newTestTimer(t, fc, &ticks)

	timer.Start()
	fc.Advance(10 * time.Second)
	timer.Stop()
	fc.Advance(time.Minute)

	if ticks.Load() != 1 {
		t.Errorf("ticks = %d, want 1", ticks.Load())
	}
	if timer.Running() {
		t.Error("timer should not be running after Stop")
	}

	// Stop on a stopped timer is harmless.
	timer.Stop()
}

func TestTimer_StopFromTick(t *testing.T) {
	fc := clock.NewFake(epoch)
	var timer *Timer
	ticks := 0
	timer, err := NewTimer(Config{
		Interval: time.Second,
		Clock:    fc,
		Tick: func() {
			ticks++
			timer.Stop()
		},
	})
	if err != nil {
		t.Fatalf("NewTimer error: %v", err)
	}

	timer.Start()
	fc.Advance(5 * time.Second)
	if ticks != 1 {
		t.Errorf("ticks = %d, want 1", ticks)
	}
}
