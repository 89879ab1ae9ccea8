// Package bridge turns page-level signals into activity events.
//
// A Bridge reads what it needs from a Page at the moment a signal fires
// (selection length, pasted text length, visibility) and pushes the
// matching event onto a tracker:
//
//	copy, cut           -> copy / cut   {"length": len(selection)}
//	paste               -> paste        {"length": len(clipboard)}, 0 on read failure
//	visibilitychange    -> tab_hidden or tab_visible
//	blur, focus         -> blur / focus
//	unload              -> exit, one reliable flush, heartbeat stopped
//
// Dispatcher exposes the same bridge, plus the page's public entry points
// (setContext, log, flush), as a JSON-RPC handler for the transport
// package.
package bridge
