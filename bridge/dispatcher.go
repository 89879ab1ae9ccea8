package bridge

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/vinayprograms/activitykit/activity"
	"github.com/vinayprograms/activitykit/logging"
	"github.com/vinayprograms/activitykit/transport"
)

// Methods accepted by the Dispatcher.
const (
	MethodSignal     = "signal"
	MethodSetContext = "setContext"
	MethodLog        = "log"
	MethodFlush      = "flush"
	MethodIdentify   = "identify"
)

// Tracker is the tracker surface the page can reach.
type Tracker interface {
	Recorder
	Log(typ string, payload activity.Payload)
	Flush(reliable bool)
	SetContext(u activity.ContextUpdate)
	SetPage(path string)
	SetUserAgent(ua string)
	Pending() int
}

var _ Tracker = (*activity.Tracker)(nil)

// SignalParams carry what the page observed when a signal fired. The page
// sends the texts so the agent can measure them; only lengths are recorded.
type SignalParams struct {
	Kind           Kind   `json:"kind"`
	Selection      string `json:"selection,omitempty"`
	Clipboard      string `json:"clipboard,omitempty"`
	ClipboardError string `json:"clipboard_error,omitempty"`
	Visibility     string `json:"visibility,omitempty"`
	Page           string `json:"page,omitempty"`
}

// SelectionText implements Page.
func (p SignalParams) SelectionText() string { return p.Selection }

// ClipboardText implements Page.
func (p SignalParams) ClipboardText() (string, error) {
	if p.ClipboardError != "" {
		return "", errors.New(p.ClipboardError)
	}
	return p.Clipboard, nil
}

// VisibilityState implements Page.
func (p SignalParams) VisibilityState() string { return p.Visibility }

var _ Page = SignalParams{}

// ContextParams mirror the page's setContext({sessionId, taskId}).
type ContextParams struct {
	SessionID string `json:"sessionId,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
}

// LogParams mirror the page's log(type, payload).
type LogParams struct {
	Type    string           `json:"type"`
	Payload activity.Payload `json:"payload,omitempty"`
}

// FlushParams select a reliable flush, as used on unload.
type FlushParams struct {
	Reliable bool `json:"reliable,omitempty"`
}

// IdentifyParams set the page path and user agent stamped on events.
type IdentifyParams struct {
	Page      string `json:"page,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// FlushResult reports how many events remain queued after a flush started.
type FlushResult struct {
	Pending int `json:"pending"`
}

// Dispatcher is a transport.Handler bound to one tracker.
type Dispatcher struct {
	tracker Tracker
	bridge  *Bridge
	logger  *logging.Logger
}

var _ transport.Handler = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher for t.
func NewDispatcher(t Tracker, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Dispatcher{
		tracker: t,
		bridge:  New(t, logger),
		logger:  logger.WithComponent("dispatch"),
	}
}

// Handle implements transport.Handler. Tracker calls never fail, so errors
// only come from malformed params and unknown methods.
func (d *Dispatcher) Handle(_ context.Context, method string, params json.RawMessage) (interface{}, error) {
	switch method {
	case MethodSignal:
		var p SignalParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.Page != "" {
			d.tracker.SetPage(p.Page)
		}
		if err := d.bridge.Handle(p.Kind, p); err != nil {
			return nil, transport.NewError(transport.InvalidParams, "Invalid params", err.Error())
		}
		return nil, nil

	case MethodSetContext:
		var p ContextParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		d.tracker.SetContext(activity.ContextUpdate{SessionID: p.SessionID, TaskID: p.TaskID})
		return nil, nil

	case MethodLog:
		var p LogParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.Type == "" {
			return nil, transport.NewError(transport.InvalidParams, "Invalid params", "type is required")
		}
		d.tracker.Log(p.Type, p.Payload)
		return nil, nil

	case MethodFlush:
		var p FlushParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		d.tracker.Flush(p.Reliable)
		return FlushResult{Pending: d.tracker.Pending()}, nil

	case MethodIdentify:
		var p IdentifyParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.Page != "" {
			d.tracker.SetPage(p.Page)
		}
		if p.UserAgent != "" {
			d.tracker.SetUserAgent(p.UserAgent)
		}
		return nil, nil
	}

	d.logger.Debug("unknown_method", map[string]interface{}{"method": method})
	return nil, transport.NewError(transport.MethodNotFound, "Method not found", method)
}

// decodeParams treats absent params as an empty object.
func decodeParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return transport.NewError(transport.InvalidParams, "Invalid params", err.Error())
	}
	return nil
}
