package domain

import (
	"errors"
	"fmt"
	"math"

	"github.com/goccy/go-json"
)

type EventKind string

const (
	EventClick      EventKind = "click"
	EventKey        EventKind = "key"
	EventCursorMove EventKind = "cursor-move"
)

var ErrInvalidEvent = errors.New("invalid control event")

// ControlEvent is a remote-input command. It carries only coordinates or
// keys; interpretation is left to the injection primitives on the child.
type ControlEvent struct {
	Kind      EventKind `json:"type"`
	X         float64   `json:"x,omitempty"`
	Y         float64   `json:"y,omitempty"`
	Key       string    `json:"key,omitempty"`
	Modifiers []string  `json:"modifiers,omitempty"`
}

func Click(x, y float64) ControlEvent { return ControlEvent{Kind: EventClick, X: x, Y: y} }

func CursorMove(x, y float64) ControlEvent { return ControlEvent{Kind: EventCursorMove, X: x, Y: y} }

func Key(key string, modifiers ...string) ControlEvent {
	return ControlEvent{Kind: EventKey, Key: key, Modifiers: modifiers}
}

func (e ControlEvent) Validate() error {
	switch e.Kind {
	case EventClick, EventCursorMove:
		if e.X < 0 || e.Y < 0 || math.IsNaN(e.X) || math.IsNaN(e.Y) || math.IsInf(e.X, 0) || math.IsInf(e.Y, 0) {
			return fmt.Errorf("%w: bad coordinates %v,%v", ErrInvalidEvent, e.X, e.Y)
		}
	case EventKey:
		if e.Key == "" {
			return fmt.Errorf("%w: empty key", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}
	return nil
}

// Point returns the event coordinates rounded to whole pixels.
func (e ControlEvent) Point() (int, int) {
	return int(math.Round(e.X)), int(math.Round(e.Y))
}

func EncodeEvent(e ControlEvent) ([]byte, error) { return json.Marshal(e) }

func DecodeEvent(data []byte) (ControlEvent, error) {
	var e ControlEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return e, e.Validate()
}
