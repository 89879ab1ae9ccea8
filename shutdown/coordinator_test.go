package shutdown

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinayprograms/activitykit/logging"
)

func TestShutdown_RunsPhasesInOrder(t *testing.T) {
	c := NewCoordinator(DefaultConfig(), nil)

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	c.RegisterFunc("store", PhaseStorage, record("store"))
	c.RegisterFunc("http", PhaseIntake, record("http"))
	c.RegisterFunc("bus", PhaseDelivery, record("bus"))
	c.RegisterFunc("sessions", PhaseSessions, record("sessions"))

	if err := c.ShutdownWithTimeout(time.Second); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}

	want := "http,sessions,bus,store"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("order = %s, want %s", got, want)
	}

	res := c.Result()
	if res == nil || len(res.Steps) != 4 || res.Failed() {
		t.Fatalf("result = %+v", res)
	}
	if res.Steps[0].Name != "http" || res.Steps[0].Phase != PhaseIntake {
		t.Errorf("first step = %+v", res.Steps[0])
	}
}

func TestShutdown_SamePhaseRunsConcurrently(t *testing.T) {
	c := NewCoordinator(DefaultConfig(), nil)

	// Each handler waits for the other; sequential execution would deadlock
	// until the context expires.
	a, b := make(chan struct{}), make(chan struct{})
	c.RegisterFunc("a", PhaseSessions, func(ctx context.Context) error {
		close(a)
		select {
		case <-b:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	c.RegisterFunc("b", PhaseSessions, func(ctx context.Context) error {
		close(b)
		select {
		case <-a:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if err := c.ShutdownWithTimeout(2 * time.Second); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
}

func TestShutdown_StepFailure(t *testing.T) {
	tests := []struct {
		name            string
		continueOnError bool
		wantLaterRan    bool
	}{
		{"continue", true, true},
		{"stop", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCoordinator(Config{Timeout: time.Second, ContinueOnError: tt.continueOnError}, nil)

			var laterRan atomic.Bool
			c.RegisterFunc("sessions", PhaseSessions, func(context.Context) error {
				return errors.New("flush failed")
			})
			c.RegisterFunc("store", PhaseStorage, func(context.Context) error {
				laterRan.Store(true)
				return nil
			})

			err := c.ShutdownWithTimeout(0)
			if !errors.Is(err, ErrStepFailed) {
				t.Fatalf("err = %v, want ErrStepFailed", err)
			}
			if laterRan.Load() != tt.wantLaterRan {
				t.Errorf("later phase ran = %v, want %v", laterRan.Load(), tt.wantLaterRan)
			}
			if got := c.Result().FailedSteps(); len(got) != 1 || got[0] != "sessions" {
				t.Errorf("FailedSteps = %v", got)
			}
		})
	}
}

func TestShutdown_DeadlineSkipsRemainingPhases(t *testing.T) {
	c := NewCoordinator(DefaultConfig(), nil)

	var storeRan atomic.Bool
	c.RegisterFunc("slow", PhaseIntake, func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	c.RegisterFunc("store", PhaseStorage, func(context.Context) error {
		storeRan.Store(true)
		return nil
	})

	err := c.ShutdownWithTimeout(20 * time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if storeRan.Load() {
		t.Error("phase after the deadline should not run")
	}
}

func TestShutdown_OnlyOnce(t *testing.T) {
	c := NewCoordinator(DefaultConfig(), nil)

	var calls atomic.Int32
	c.RegisterFunc("x", PhaseIntake, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	if err := c.ShutdownWithTimeout(0); err != nil {
		t.Fatalf("first Shutdown error: %v", err)
	}
	if err := c.ShutdownWithTimeout(0); !errors.Is(err, ErrAlreadyShutdown) {
		t.Errorf("second Shutdown err = %v, want ErrAlreadyShutdown", err)
	}
	if calls.Load() != 1 {
		t.Errorf("handler ran %d times", calls.Load())
	}
}

func TestShutdown_Empty(t *testing.T) {
	c := NewCoordinator(Config{}, nil)
	if c.Result() != nil {
		t.Error("Result before shutdown should be nil")
	}
	if err := c.ShutdownWithTimeout(0); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("Done should be closed")
	}
	if len(c.Result().Steps) != 0 {
		t.Errorf("steps = %+v", c.Result().Steps)
	}
}

func TestHandleSignals_ContextCancel(t *testing.T) {
	c := NewCoordinator(DefaultConfig(), nil)

	var ran atomic.Bool
	c.RegisterFunc("x", PhaseIntake, func(context.Context) error {
		ran.Store(true)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	stop := c.HandleSignals(ctx)
	defer stop()
	cancel()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not start after context cancel")
	}
	if !ran.Load() {
		t.Error("handler did not run")
	}
}

func TestHandleSignals_StopDoesNotShutdown(t *testing.T) {
	c := NewCoordinator(DefaultConfig(), nil)
	stop := c.HandleSignals(context.Background())
	stop()
	stop()

	select {
	case <-c.Done():
		t.Fatal("stop should not trigger a shutdown")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestShutdown_LogsFailedSteps(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New()
	logger.SetOutput(&buf)

	c := NewCoordinator(DefaultConfig(), logger)
	c.RegisterFunc("store", PhaseStorage, func(context.Context) error {
		return errors.New("disk full")
	})
	c.ShutdownWithTimeout(0)

	out := buf.String()
	if !strings.Contains(out, "shutdown step failed") || !strings.Contains(out, "disk full") {
		t.Errorf("log output = %q", out)
	}
}
