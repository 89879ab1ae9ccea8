// Package activity records user-activity events and delivers them in
// batches.
//
// A Tracker owns everything one page session needs: the event queue, the
// per-type rate limiter, the task/session context, the dwell-time
// heartbeat and the flush timer. Events enter through Enqueue (or Log for
// application-defined types) and leave through Flush:
//
//	tr, _ := activity.NewTracker(activity.DefaultConfig(), activity.Options{
//	    Sender: sender,
//	    Beacon: beacon,
//	})
//	tr.SetContext(activity.ContextUpdate{SessionID: "S1", TaskID: "T1"})
//	tr.Enqueue(activity.TypeCopy, activity.Payload{"length": 12})
//	...
//	tr.Exit() // exit event, one reliable flush, heartbeat stopped
//
// # Batching
//
// The first event queued while no flush is pending schedules one after
// FlushDelay. Reaching BatchSize queued events flushes immediately. Each
// flush takes at most BatchSize events from the front of the queue before
// anything is sent, so overlapping flushes never share events. A failed
// send puts its batch back at the front and reschedules after BackoffDelay.
// There is no retry limit.
//
// # Payload cap
//
// A batch whose encoding exceeds MaxPayloadBytes is sent with every
// payload replaced by {"trimmed":true}. Timestamps, types, ids and page
// paths are kept.
package activity
