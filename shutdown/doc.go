// Package shutdown stops the agent and collector processes in order.
//
// Components register a handler under a phase. On SIGINT, SIGTERM or an
// explicit Shutdown call, phases run from lowest to highest and the
// handlers within one phase run concurrently:
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig(), logger)
//	coord.RegisterFunc("http", shutdown.PhaseIntake, srv.Shutdown)
//	coord.RegisterFunc("sessions", shutdown.PhaseSessions, sessions.CloseAll)
//	coord.RegisterFunc("store", shutdown.PhaseStorage, func(context.Context) error {
//	    return store.Close()
//	})
//	stop := coord.HandleSignals(ctx)
//	defer stop()
//	<-coord.Done()
//
// Stopping intake first means no page session starts after the trackers
// have been told to exit, and the trackers' final batches are sent before
// the bus connection and stores are closed.
//
// A shutdown runs once. The context passed to handlers ends at the
// deadline; phases that have not started by then are skipped and the
// result carries ErrTimeout.
package shutdown
