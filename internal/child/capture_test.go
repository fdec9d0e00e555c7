package child

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/immxrtalbeast/mentorlink/internal/desktop"
	"github.com/immxrtalbeast/mentorlink/internal/desktop/mocks"
	"github.com/immxrtalbeast/mentorlink/internal/domain"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type frameSink struct {
	mu     sync.Mutex
	frames []domain.SignalMessage
}

func (s *frameSink) Send(_ context.Context, msg domain.SignalMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, msg)
	return nil
}

func (s *frameSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *frameSink) first() domain.SignalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[0]
}

func TestProducer_PermissionDeniedIsTerminal(t *testing.T) {
	ctrl := gomock.NewController(t)
	shell := mocks.NewMockShell(ctrl)
	shell.EXPECT().CheckPermission(gomock.Any()).Return(false).Times(1)

	var statuses []CaptureStatus
	p := NewProducer("C", shell, &frameSink{}, CaptureOptions{}, discard)
	p.OnStatus = func(s CaptureStatus) { statuses = append(statuses, s) }

	status, err := p.Start(context.Background())
	assert.Equal(t, CaptureDenied, status)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorIs(t, err, desktop.ErrPermissionDenied)

	status, err = p.Start(context.Background())
	assert.Equal(t, CaptureDenied, status)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	p.Stop()
	assert.Equal(t, CaptureDenied, p.Status())
	assert.Equal(t, []CaptureStatus{CaptureDenied}, statuses)
}

func TestProducer_StreamDeniedByShell(t *testing.T) {
	ctrl := gomock.NewController(t)
	shell := mocks.NewMockShell(ctrl)
	shell.EXPECT().CheckPermission(gomock.Any()).Return(true)
	shell.EXPECT().AcquireDisplayStream(gomock.Any()).Return(nil, desktop.ErrPermissionDenied)

	p := NewProducer("C", shell, &frameSink{}, CaptureOptions{}, discard)
	_, err := p.Start(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, CaptureDenied, p.Status())
}

func TestProducer_StreamIsDeferredToLinks(t *testing.T) {
	ctrl := gomock.NewController(t)
	shell := mocks.NewMockShell(ctrl)

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "screen-C")
	require.NoError(t, err)
	stream := mocks.NewMockStream(ctrl)
	stream.EXPECT().Tracks().Return([]webrtc.TrackLocal{track}).AnyTimes()
	stream.EXPECT().Stop().Times(1)

	shell.EXPECT().CheckPermission(gomock.Any()).Return(true)
	shell.EXPECT().AcquireDisplayStream(gomock.Any()).Return(stream, nil)

	p := NewProducer("C", shell, &frameSink{}, CaptureOptions{}, discard)
	assert.Empty(t, p.Tracks())

	status, err := p.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CaptureStreaming, status)
	assert.Equal(t, []webrtc.TrackLocal{track}, p.Tracks())

	status, err = p.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CaptureStreaming, status, "second start is a no-op")

	p.Stop()
	assert.Empty(t, p.Tracks())
	assert.Equal(t, CaptureIdle, p.Status())
}

func TestProducer_PollingFallback(t *testing.T) {
	ctrl := gomock.NewController(t)
	shell := mocks.NewMockShell(ctrl)

	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	shell.EXPECT().CheckPermission(gomock.Any()).Return(true)
	shell.EXPECT().AcquireDisplayStream(gomock.Any()).Return(nil, desktop.ErrUnsupported)
	shell.EXPECT().CaptureFrame(gomock.Any()).Return(img, nil).AnyTimes()

	sink := &frameSink{}
	p := NewProducer("C", shell, sink, CaptureOptions{FrameInterval: 5 * time.Millisecond, JPEGQuality: 60}, discard)
	p.SetTarget("M")

	status, err := p.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CapturePolling, status)

	require.Eventually(t, func() bool { return sink.count() >= 2 }, 2*time.Second, 5*time.Millisecond)

	p.Stop()
	assert.Equal(t, CaptureIdle, p.Status())
	stopped := sink.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, sink.count(), "no frames after stop")

	msg := sink.first()
	assert.Equal(t, domain.TypeScreenFrame, msg.Type)
	assert.Equal(t, "C", msg.From)
	assert.Equal(t, "M", msg.To)

	var frame domain.FramePayload
	require.NoError(t, msg.Decode(&frame))
	assert.Equal(t, "image/jpeg", frame.Mime)
	assert.Equal(t, 32, frame.Width)
	assert.Equal(t, 24, frame.Height)
	assert.NotEmpty(t, frame.ID)

	decoded, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())
}

func TestProducer_PollingWithoutTarget(t *testing.T) {
	ctrl := gomock.NewController(t)
	shell := mocks.NewMockShell(ctrl)
	shell.EXPECT().CheckPermission(gomock.Any()).Return(true)
	shell.EXPECT().AcquireDisplayStream(gomock.Any()).Return(nil, desktop.ErrUnsupported)

	sink := &frameSink{}
	p := NewProducer("C", shell, sink, CaptureOptions{FrameInterval: 2 * time.Millisecond}, discard)
	_, err := p.Start(context.Background())
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	p.Stop()
	assert.Zero(t, sink.count())
}

func TestProducer_PollingDeniedMidway(t *testing.T) {
	ctrl := gomock.NewController(t)
	shell := mocks.NewMockShell(ctrl)
	shell.EXPECT().CheckPermission(gomock.Any()).Return(true)
	shell.EXPECT().AcquireDisplayStream(gomock.Any()).Return(nil, desktop.ErrUnsupported)
	shell.EXPECT().CaptureFrame(gomock.Any()).Return(nil, desktop.ErrPermissionDenied).Times(1)

	p := NewProducer("C", shell, &frameSink{}, CaptureOptions{FrameInterval: 2 * time.Millisecond}, discard)
	p.SetTarget("M")
	_, err := p.Start(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return p.Status() == CaptureDenied }, time.Second, 2*time.Millisecond)
	p.Stop()
}

func TestProducer_AcquireError(t *testing.T) {
	ctrl := gomock.NewController(t)
	shell := mocks.NewMockShell(ctrl)
	shell.EXPECT().CheckPermission(gomock.Any()).Return(true)
	shell.EXPECT().AcquireDisplayStream(gomock.Any()).Return(nil, errors.New("display busy"))

	p := NewProducer("C", shell, &frameSink{}, CaptureOptions{}, discard)
	status, err := p.Start(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, CaptureIdle, status)
}
