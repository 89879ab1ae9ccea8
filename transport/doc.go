// Package transport carries JSON-RPC 2.0 messages between a page and the
// activity agent.
//
// # Overview
//
// A page opens a WebSocket to the agent and sends the public entry points
// (setContext, log, flush) and raw browser signals as JSON-RPC requests or
// notifications. The Transport interface hides the connection behind two
// channels so the dispatch loop in Serve does not care how bytes travel.
//
// # Usage
//
//	conn, _ := upgrader.Upgrade(w, r, nil)
//	t := transport.NewWebSocketTransport(conn, transport.DefaultWebSocketConfig())
//	go t.Run(ctx)
//	transport.Serve(ctx, t, handler)
//
// Serve returns once the peer goes away and the receive channel closes.
//
// # Thread Safety
//
// All transport methods are safe for concurrent use. The Recv() channel
// is closed when the transport shuts down.
package transport
