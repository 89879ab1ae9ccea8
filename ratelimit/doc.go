// Package ratelimit provides anti-spam caps for activity events.
//
// Browser signals such as copy or blur can fire in bursts (holding Ctrl+C,
// alt-tabbing rapidly). Each capped event type gets a fixed number of
// admissions per window; excess events are dropped silently. Types without
// a cap are always admitted.
//
// # Usage
//
//	limiter := ratelimit.NewWindowLimiter(ratelimit.DefaultConfig())
//	if !limiter.Admit("copy", time.Now()) {
//	    return // over the cap for this window
//	}
//
// # Algorithm
//
// Fixed window counters, not token buckets:
//   - The window starts at the first admission check and lasts Config.Window
//   - When now - start >= Window, every counter resets and the window restarts at now
//   - A capped type is rejected while its counter is above the limit;
//     otherwise the counter is incremented and the event admitted
//
// Counters never carry over between windows.
package ratelimit
