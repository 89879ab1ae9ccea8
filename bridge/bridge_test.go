package bridge

import (
	"errors"
	"testing"

	"github.com/vinayprograms/activitykit/activity"
)

type call struct {
	typ     activity.Type
	payload activity.Payload
}

// fakeTracker records every call the bridge and dispatcher make.
type fakeTracker struct {
	calls    []call
	exits    int
	flushes  []bool
	contexts []activity.ContextUpdate
	page, ua string
}

func (f *fakeTracker) Enqueue(typ activity.Type, payload activity.Payload) {
	f.calls = append(f.calls, call{typ, payload})
}
func (f *fakeTracker) Exit()                               { f.exits++ }
func (f *fakeTracker) Log(typ string, p activity.Payload)  { f.Enqueue(activity.Type(typ), p) }
func (f *fakeTracker) Flush(reliable bool)                 { f.flushes = append(f.flushes, reliable) }
func (f *fakeTracker) SetContext(u activity.ContextUpdate) { f.contexts = append(f.contexts, u) }
func (f *fakeTracker) SetPage(path string)                 { f.page = path }
func (f *fakeTracker) SetUserAgent(ua string)              { f.ua = ua }
func (f *fakeTracker) Pending() int                        { return len(f.calls) }

type fakePage struct {
	selection  string
	clipboard  string
	clipErr    error
	visibility string
}

func (p fakePage) SelectionText() string          { return p.selection }
func (p fakePage) ClipboardText() (string, error) { return p.clipboard, p.clipErr }
func (p fakePage) VisibilityState() string        { return p.visibility }

func TestBridge_Handle(t *testing.T) {
	tests := []struct {
		name       string
		kind       Kind
		page       Page
		wantType   activity.Type
		wantLength int // -1 means no payload
	}{
		{"copy measures selection", KindCopy, fakePage{selection: "hello"}, activity.TypeCopy, 5},
		{"cut measures selection", KindCut, fakePage{selection: "ab"}, activity.TypeCut, 2},
		{"paste measures clipboard", KindPaste, fakePage{clipboard: "pasted text"}, activity.TypePaste, 11},
		{"paste read failure is zero", KindPaste, fakePage{clipboard: "x", clipErr: errors.New("denied")}, activity.TypePaste, 0},
		{"copy with nothing selected", KindCopy, fakePage{}, activity.TypeCopy, 0},
		{"utf-16 units", KindCopy, fakePage{selection: "é😀"}, activity.TypeCopy, 3},
		{"hidden", KindVisibilityChange, fakePage{visibility: "hidden"}, activity.TypeTabHidden, -1},
		{"visible", KindVisibilityChange, fakePage{visibility: "visible"}, activity.TypeTabVisible, -1},
		{"blur", KindBlur, nil, activity.TypeBlur, -1},
		{"focus", KindFocus, nil, activity.TypeFocus, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &fakeTracker{}
			if err := New(ft, nil).Handle(tt.kind, tt.page); err != nil {
				t.Fatalf("Handle error: %v", err)
			}
			if len(ft.calls) != 1 {
				t.Fatalf("calls = %d, want 1", len(ft.calls))
			}
			got := ft.calls[0]
			if got.typ != tt.wantType {
				t.Errorf("type = %q, want %q", got.typ, tt.wantType)
			}
			if tt.wantLength < 0 {
				if len(got.payload) != 0 {
					t.Errorf("payload = %v, want empty", got.payload)
				}
				return
			}
			if got.payload["length"] != tt.wantLength {
				t.Errorf("length = %v, want %d", got.payload["length"], tt.wantLength)
			}
		})
	}
}

func TestBridge_UnloadExits(t *testing.T) {
	ft := &fakeTracker{}
	if err := New(ft, nil).Handle(KindUnload, nil); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if ft.exits != 1 || len(ft.calls) != 0 {
		t.Errorf("exits = %d, calls = %d", ft.exits, len(ft.calls))
	}
}

func TestBridge_UnknownVisibilityIgnored(t *testing.T) {
	ft := &fakeTracker{}
	New(ft, nil).Handle(KindVisibilityChange, fakePage{visibility: "prerender"})
	if len(ft.calls) != 0 {
		t.Errorf("calls = %v, want none", ft.calls)
	}
}

func TestBridge_UnknownSignal(t *testing.T) {
	err := New(&fakeTracker{}, nil).Handle("scroll", nil)
	if !errors.Is(err, ErrUnknownSignal) {
		t.Errorf("err = %v, want ErrUnknownSignal", err)
	}
}
