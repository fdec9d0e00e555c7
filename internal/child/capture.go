package child

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/mentorlink/internal/desktop"
	"github.com/immxrtalbeast/mentorlink/internal/domain"
	"github.com/immxrtalbeast/mentorlink/internal/peer"
	"github.com/immxrtalbeast/mentorlink/lib/logger/sl"
	"github.com/pion/webrtc/v3"
)

var ErrPermissionDenied = fmt.Errorf("screen capture unavailable: %w", desktop.ErrPermissionDenied)

type CaptureStatus string

const (
	CaptureIdle      CaptureStatus = "idle"
	CaptureStreaming CaptureStatus = "streaming"
	CapturePolling   CaptureStatus = "polling"
	CaptureDenied    CaptureStatus = "denied"
)

const frameMime = "image/jpeg"

type CaptureOptions struct {
	FrameInterval time.Duration
	JPEGQuality   int
}

// Producer owns this child's display capture. A native stream is handed to
// links as they are negotiated; without one it pushes still frames over
// signaling until stopped.
type Producer struct {
	self   string
	shell  desktop.Shell
	sender peer.Signaler
	opts   CaptureOptions
	log    *slog.Logger

	// OnStatus is called on every status change.
	OnStatus func(CaptureStatus)

	mu     sync.Mutex
	status CaptureStatus
	stream desktop.Stream
	target string
	cancel context.CancelFunc
	done   chan struct{}
}

func NewProducer(self string, shell desktop.Shell, sender peer.Signaler, opts CaptureOptions, log *slog.Logger) *Producer {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = 100 * time.Millisecond
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = jpeg.DefaultQuality
	}
	return &Producer{
		self:   self,
		shell:  shell,
		sender: sender,
		opts:   opts,
		log:    log.With(slog.String("op", "child.capture")),
		status: CaptureIdle,
	}
}

func (p *Producer) Status() CaptureStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// SetTarget names the participant still frames are addressed to.
func (p *Producer) SetTarget(id string) {
	p.mu.Lock()
	p.target = id
	p.mu.Unlock()
}

// Start acquires the display. Permission refusal is terminal: it is
// reported once and every later Start fails the same way.
func (p *Producer) Start(ctx context.Context) (CaptureStatus, error) {
	p.mu.Lock()
	status := p.status
	p.mu.Unlock()

	switch status {
	case CaptureDenied:
		return status, ErrPermissionDenied
	case CaptureStreaming, CapturePolling:
		return status, nil
	}

	if !p.shell.CheckPermission(ctx) {
		p.deny()
		return CaptureDenied, ErrPermissionDenied
	}

	stream, err := p.shell.AcquireDisplayStream(ctx)
	switch {
	case err == nil:
		p.mu.Lock()
		p.stream = stream
		p.mu.Unlock()
		p.setStatus(CaptureStreaming)
		p.log.Info("display stream acquired", slog.Int("tracks", len(stream.Tracks())))
		return CaptureStreaming, nil
	case errors.Is(err, desktop.ErrPermissionDenied):
		p.deny()
		return CaptureDenied, ErrPermissionDenied
	case errors.Is(err, desktop.ErrUnsupported):
		p.startPolling()
		p.log.Info("native capture unsupported, polling frames", slog.Duration("interval", p.opts.FrameInterval))
		return CapturePolling, nil
	default:
		return CaptureIdle, fmt.Errorf("acquire display stream: %w", err)
	}
}

// Stop releases the stream and stops the frame timer before returning.
// Links stay up.
func (p *Producer) Stop() {
	p.mu.Lock()
	stream, cancel, done := p.stream, p.cancel, p.done
	p.stream, p.cancel, p.done = nil, nil, nil
	denied := p.status == CaptureDenied
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if stream != nil {
		stream.Stop()
	}
	if !denied {
		p.setStatus(CaptureIdle)
	}
}

// Tracks returns the tracks to attach to a link being negotiated. Nothing
// is attached until a link asks.
func (p *Producer) Tracks() []webrtc.TrackLocal {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return nil
	}
	return p.stream.Tracks()
}

func (p *Producer) startPolling() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.mu.Lock()
	p.cancel, p.done = cancel, done
	p.mu.Unlock()
	p.setStatus(CapturePolling)

	go p.poll(ctx, done)
}

func (p *Producer) poll(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.opts.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.pushFrame(ctx); err != nil {
				if errors.Is(err, desktop.ErrPermissionDenied) {
					p.mu.Lock()
					if p.cancel != nil {
						p.cancel()
					}
					p.cancel, p.done = nil, nil
					p.mu.Unlock()
					p.deny()
					return
				}
				p.log.Debug("frame dropped", sl.Err(err))
			}
		}
	}
}

func (p *Producer) pushFrame(ctx context.Context) error {
	p.mu.Lock()
	target := p.target
	p.mu.Unlock()
	if target == "" {
		return nil
	}

	img, err := p.shell.CaptureFrame(ctx)
	if err != nil {
		return err
	}
	if img == nil {
		return nil
	}
	frame, err := encodeFrame(img, p.opts.JPEGQuality)
	if err != nil {
		return err
	}
	msg, err := domain.NewSignal(domain.TypeScreenFrame, p.self, target, frame)
	if err != nil {
		return err
	}
	return p.sender.Send(ctx, msg)
}

func encodeFrame(img image.Image, quality int) (domain.FramePayload, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return domain.FramePayload{}, fmt.Errorf("encode frame: %w", err)
	}
	bounds := img.Bounds()
	return domain.FramePayload{
		ID:     uuid.NewString(),
		Mime:   frameMime,
		Data:   base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

// DecodeFrame reverses the still-frame encoding.
func DecodeFrame(frame domain.FramePayload) (image.Image, error) {
	data, err := base64.StdEncoding.DecodeString(frame.Data)
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", frame.ID, err)
	}
	return jpeg.Decode(bytes.NewReader(data))
}

func (p *Producer) deny() {
	p.log.Error("screen capture denied by the operating system")
	p.setStatus(CaptureDenied)
}

func (p *Producer) setStatus(status CaptureStatus) {
	p.mu.Lock()
	if p.status == status || p.status == CaptureDenied {
		p.mu.Unlock()
		return
	}
	p.status = status
	p.mu.Unlock()

	if p.OnStatus != nil {
		p.OnStatus(status)
	}
}
