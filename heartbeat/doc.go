// Package heartbeat provides the dwell-time ticker for an open task.
//
// # Overview
//
// While a student has a task open, a Timer calls its Tick function at a
// fixed interval. The activity tracker uses the tick to emit a heartbeat
// event carrying the seconds spent on the task so far, which lets the
// backend reconstruct dwell time even if the page never reports an exit.
//
// # Usage
//
//	timer := heartbeat.NewTimer(heartbeat.Config{
//	    Interval: 10 * time.Second,
//	    Clock:    clock.Real{},
//	    Tick:     tracker.tick,
//	})
//	timer.Start() // restarts if already running
//	defer timer.Stop()
//
// The timer runs on the injected clock, so tests can drive it with
// clock.Fake and observe every tick deterministically.
package heartbeat
