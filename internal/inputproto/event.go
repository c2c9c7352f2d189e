// Package inputproto defines the typed input-event schema shared between
// the relay's control plane and the agent's input injector, along with the
// validation rules that gate delivery to the injector.
package inputproto

import "fmt"

// Type discriminates the Event union (the JSON "type" tag).
type Type string

const (
	TypeMouseMove         Type = "mouse_move"
	TypeMouseMoveRelative Type = "mouse_move_relative"
	TypeMousePress        Type = "mouse_press"
	TypeMouseRelease      Type = "mouse_release"
	TypeMouseClick        Type = "mouse_click"
	TypeMouseScroll       Type = "mouse_scroll"
	TypeKeyPress          Type = "key_press"
	TypeKeyRelease        Type = "key_release"
	TypeKeyStroke         Type = "key_stroke"
	TypeTypeText          Type = "type_text"
	TypeKeyCombination    Type = "key_combination"
	TypeClipboardSet      Type = "clipboard_set"
	TypeClipboardGet      Type = "clipboard_get"
)

// MouseButton enumerates injectable mouse buttons.
type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonRight  MouseButton = "right"
	ButtonMiddle MouseButton = "middle"
	ButtonX1     MouseButton = "x1"
	ButtonX2     MouseButton = "x2"
)

// ScrollDirection enumerates scroll axes.
type ScrollDirection string

const (
	ScrollUp    ScrollDirection = "up"
	ScrollDown  ScrollDirection = "down"
	ScrollLeft  ScrollDirection = "left"
	ScrollRight ScrollDirection = "right"
)

// Modifiers is the set of held modifier keys attached to a key/mouse event.
type Modifiers struct {
	Shift bool `json:"shift,omitempty"`
	Ctrl  bool `json:"ctrl,omitempty"`
	Alt   bool `json:"alt,omitempty"`
	Meta  bool `json:"meta,omitempty"`
}

// Event is the tagged union of all input-plane events. Only the fields
// relevant to Type are populated; the rest are left zero. This mirrors the
// JSON-tag-discriminated shape used on breeze's control plane, generalized
// to the complete variant set named in §3/§4.6.
type Event struct {
	Type        Type            `json:"type"`
	TimestampUs uint64          `json:"timestamp_us"`

	// Mouse absolute / button / click / scroll fields.
	X      int             `json:"x,omitempty"`
	Y      int             `json:"y,omitempty"`
	DX     int             `json:"dx,omitempty"`
	DY     int             `json:"dy,omitempty"`
	Button MouseButton     `json:"button,omitempty"`
	Double bool            `json:"double,omitempty"`

	Direction ScrollDirection `json:"direction,omitempty"`
	Clicks    int             `json:"clicks,omitempty"`

	// Keyboard fields.
	Key       string    `json:"key,omitempty"`
	Modifiers Modifiers `json:"modifiers,omitempty"`

	// type_text
	Text string `json:"text,omitempty"`

	// key_combination
	Keys []string `json:"keys,omitempty"`
}

// InputError reports a validation or injection failure (§7 InputError kinds).
type InputError struct {
	Kind string
	Msg  string
}

func (e *InputError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("input error (%s): %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("input error (%s)", e.Kind)
}

func inputErr(kind, format string, args ...any) *InputError {
	return &InputError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

const (
	maxRelativeDelta = 10000
	maxScrollClicks  = 100
	maxTextLen       = 10000
	maxComboKeys     = 10
)

// Validate checks an event against the §3 bounds. Validation never touches
// the injector: a failure here means the event is dropped before dispatch.
// Validate does not update Stats.
func (e Event) Validate() error {
	switch e.Type {
	case TypeMouseMove, TypeMousePress, TypeMouseRelease, TypeMouseClick, TypeMouseScroll:
		if e.X < 0 || e.Y < 0 {
			return inputErr("invalid-coords", "coordinates must be non-negative, got (%d, %d)", e.X, e.Y)
		}
	}

	switch e.Type {
	case TypeMouseMoveRelative:
		if abs(e.DX) > maxRelativeDelta || abs(e.DY) > maxRelativeDelta {
			return inputErr("invalid-coords", "relative delta exceeds %d px: (%d, %d)", maxRelativeDelta, e.DX, e.DY)
		}
	case TypeMouseScroll:
		if e.Clicks > maxScrollClicks {
			return inputErr("invalid-coords", "scroll clicks %d exceeds max %d", e.Clicks, maxScrollClicks)
		}
	case TypeTypeText:
		if len(e.Text) > maxTextLen {
			return inputErr("invalid-coords", "text length %d exceeds max %d", len(e.Text), maxTextLen)
		}
	case TypeKeyCombination:
		if len(e.Keys) == 0 {
			return inputErr("invalid", "key combination must name at least one key")
		}
		if len(e.Keys) > maxComboKeys {
			return inputErr("invalid-coords", "combination has %d keys, exceeds max %d", len(e.Keys), maxComboKeys)
		}
	}

	return nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
