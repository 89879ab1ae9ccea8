package bridge

import (
	"errors"
	"fmt"
	"unicode/utf16"

	"github.com/vinayprograms/activitykit/activity"
	"github.com/vinayprograms/activitykit/logging"
)

// Kind names a page-level signal.
type Kind string

const (
	KindCopy             Kind = "copy"
	KindCut              Kind = "cut"
	KindPaste            Kind = "paste"
	KindVisibilityChange Kind = "visibilitychange"
	KindBlur             Kind = "blur"
	KindFocus            Kind = "focus"
	KindUnload           Kind = "unload"
)

// Visibility states reported by Page.VisibilityState.
const (
	VisibilityHidden  = "hidden"
	VisibilityVisible = "visible"
)

// ErrUnknownSignal is returned by Handle for kinds it does not map.
var ErrUnknownSignal = errors.New("unknown signal")

// Page is the read side of the host page at the time a signal fires.
type Page interface {
	// SelectionText returns the current text selection.
	SelectionText() string

	// ClipboardText returns the pasted plain text. Reads may fail.
	ClipboardText() (string, error)

	// VisibilityState returns "visible" or "hidden".
	VisibilityState() string
}

// Recorder is the part of a tracker the bridge pushes to.
type Recorder interface {
	Enqueue(typ activity.Type, payload activity.Payload)
	Exit()
}

var _ Recorder = (*activity.Tracker)(nil)

// Bridge maps signals to recorder calls.
type Bridge struct {
	rec    Recorder
	logger *logging.Logger
}

// New creates a bridge. A nil logger discards output.
func New(rec Recorder, logger *logging.Logger) *Bridge {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Bridge{rec: rec, logger: logger.WithComponent("bridge")}
}

// Handle records the event for one signal. Clipboard read failures are
// recorded as length 0 and not returned. A visibility state other than
// hidden or visible records nothing.
func (b *Bridge) Handle(kind Kind, page Page) error {
	switch kind {
	case KindCopy:
		b.rec.Enqueue(activity.TypeCopy, lengthPayload(selection(page)))
	case KindCut:
		b.rec.Enqueue(activity.TypeCut, lengthPayload(selection(page)))
	case KindPaste:
		b.rec.Enqueue(activity.TypePaste, lengthPayload(b.clipboard(page)))
	case KindVisibilityChange:
		state := ""
		if page != nil {
			state = page.VisibilityState()
		}
		switch state {
		case VisibilityHidden:
			b.rec.Enqueue(activity.TypeTabHidden, nil)
		case VisibilityVisible:
			b.rec.Enqueue(activity.TypeTabVisible, nil)
		default:
			b.logger.Debug("visibility_ignored", map[string]interface{}{"state": state})
		}
	case KindBlur:
		b.rec.Enqueue(activity.TypeBlur, nil)
	case KindFocus:
		b.rec.Enqueue(activity.TypeFocus, nil)
	case KindUnload:
		b.rec.Exit()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSignal, kind)
	}
	return nil
}

func selection(page Page) string {
	if page == nil {
		return ""
	}
	return page.SelectionText()
}

func (b *Bridge) clipboard(page Page) string {
	if page == nil {
		return ""
	}
	text, err := page.ClipboardText()
	if err != nil {
		b.logger.Debug("clipboard_read_failed", map[string]interface{}{"error": err.Error()})
		return ""
	}
	return text
}

// lengthPayload measures text in UTF-16 code units, the unit a page's own
// string length uses.
func lengthPayload(text string) activity.Payload {
	n := 0
	for _, r := range text {
		n += utf16.RuneLen(r)
	}
	return activity.Payload{"length": n}
}
