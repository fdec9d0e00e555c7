// Package desktop is the boundary to the privileged desktop shell: screen
// capture and synthetic input. Implementations live in the shell; the core
// only consumes these interfaces.
package desktop

//go:generate mockgen -source=desktop.go -destination=mocks/mock_desktop.go -package=mocks

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/pion/webrtc/v3"
)

var (
	// ErrPermissionDenied is terminal for the capability that returned it.
	ErrPermissionDenied = errors.New("permission denied by the operating system")
	// ErrUnsupported means no native media capture is available; callers
	// fall back to still-frame polling.
	ErrUnsupported = errors.New("native display capture unsupported")
)

type Shell interface {
	// CheckPermission reports whether capture and input injection are
	// allowed for this process.
	CheckPermission(ctx context.Context) bool
	// CaptureFrame grabs one still of the primary display. A nil image
	// with a nil error means nothing is available yet.
	CaptureFrame(ctx context.Context) (image.Image, error)
	AcquireDisplayStream(ctx context.Context) (Stream, error)
	InjectClick(ctx context.Context, x, y int) error
	InjectKey(ctx context.Context, key string, modifiers []string) error
}

// Stream is a live display capture.
type Stream interface {
	Tracks() []webrtc.TrackLocal
	Stop()
}

type trackStream struct {
	tracks []webrtc.TrackLocal
	stop   func()
	once   sync.Once
}

// NewStream wraps tracks produced by a shell capture. stop is called once,
// on the first Stop.
func NewStream(stop func(), tracks ...webrtc.TrackLocal) Stream {
	return &trackStream{tracks: tracks, stop: stop}
}

func (s *trackStream) Tracks() []webrtc.TrackLocal { return s.tracks }

func (s *trackStream) Stop() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}
