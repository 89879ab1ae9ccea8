package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/vinayprograms/activitykit/logging"
)

// Coordinator runs registered handlers phase by phase when the process
// exits.
type Coordinator struct {
	config Config
	logger *logging.Logger

	mu       sync.Mutex
	handlers []registration

	started atomic.Bool
	done    chan struct{}
	result  *Result
}

// NewCoordinator creates a coordinator. A nil logger discards output.
func NewCoordinator(config Config, logger *logging.Logger) *Coordinator {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Coordinator{
		config: config,
		logger: logger.WithComponent("shutdown"),
		done:   make(chan struct{}),
	}
}

// Register adds a handler to a phase.
func (c *Coordinator) Register(name string, phase int, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, registration{name: name, phase: phase, handler: h})
}

// RegisterFunc adds a function to a phase.
func (c *Coordinator) RegisterFunc(name string, phase int, fn func(ctx context.Context) error) {
	c.Register(name, phase, HandlerFunc(fn))
}

// Shutdown runs every phase once. Calls after the first return
// ErrAlreadyShutdown without waiting; use Done to wait.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyShutdown
	}
	c.result = c.run(ctx)
	close(c.done)
	return c.result.Err
}

// ShutdownWithTimeout runs Shutdown under a deadline. Zero uses the
// configured timeout.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.config.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals starts a shutdown on SIGINT or SIGTERM, or when ctx ends.
// The returned function stops listening without shutting down.
func (c *Coordinator) HandleSignals(ctx context.Context) (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	quit := make(chan struct{})

	go func() {
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			c.logger.Info("signal received", map[string]interface{}{"signal": sig.String()})
		case <-ctx.Done():
		case <-quit:
			return
		case <-c.done:
			return
		}
		c.ShutdownWithTimeout(0)
	}()

	var once sync.Once
	return func() { once.Do(func() { close(quit) }) }
}

// Done is closed when a shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Result returns the shutdown outcome, or nil before Done is closed.
func (c *Coordinator) Result() *Result {
	select {
	case <-c.done:
		return c.result
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) *Result {
	start := time.Now()

	c.mu.Lock()
	handlers := append([]registration(nil), c.handlers...)
	c.mu.Unlock()
	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	result := &Result{Steps: make([]Step, 0, len(handlers))}
	finish := func(err error) *Result {
		result.Err = err
		result.Duration = time.Since(start)
		if err != nil {
			c.logger.Warn("shutdown incomplete", map[string]interface{}{
				"error":    err.Error(),
				"failed":   result.FailedSteps(),
				"duration": result.Duration.String(),
			})
		} else {
			c.logger.Info("shutdown complete", map[string]interface{}{
				"steps":    len(result.Steps),
				"duration": result.Duration.String(),
			})
		}
		return result
	}

	var failed error
	for _, group := range byPhase(handlers) {
		if ctx.Err() != nil {
			return finish(ErrTimeout)
		}
		steps := c.runPhase(ctx, group)
		result.Steps = append(result.Steps, steps...)
		for _, s := range steps {
			if s.Err == nil {
				continue
			}
			failed = ErrStepFailed
			if !c.config.ContinueOnError {
				return finish(failed)
			}
		}
	}
	return finish(failed)
}

func (c *Coordinator) runPhase(ctx context.Context, group []registration) []Step {
	steps := make([]Step, len(group))
	var wg sync.WaitGroup
	for i, r := range group {
		wg.Add(1)
		go func(i int, r registration) {
			defer wg.Done()
			start := time.Now()
			err := r.handler.OnShutdown(ctx)
			steps[i] = Step{Name: r.name, Phase: r.phase, Duration: time.Since(start), Err: err}

			fields := map[string]interface{}{
				"step":     r.name,
				"phase":    r.phase,
				"duration": steps[i].Duration.String(),
			}
			if err != nil {
				fields["error"] = err.Error()
				c.logger.Error("shutdown step failed", fields)
				return
			}
			c.logger.Debug("shutdown step done", fields)
		}(i, r)
	}
	wg.Wait()
	return steps
}

// byPhase splits handlers, already sorted by phase, into runs of equal phase.
func byPhase(handlers []registration) [][]registration {
	var groups [][]registration
	for i := 0; i < len(handlers); {
		j := i
		for j < len(handlers) && handlers[j].phase == handlers[i].phase {
			j++
		}
		groups = append(groups, handlers[i:j])
		i = j
	}
	return groups
}
