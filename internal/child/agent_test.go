package child

import (
	"context"
	"testing"
	"time"

	"github.com/immxrtalbeast/mentorlink/internal/config"
	"github.com/immxrtalbeast/mentorlink/internal/desktop"
	"github.com/immxrtalbeast/mentorlink/internal/desktop/mocks"
	"github.com/immxrtalbeast/mentorlink/internal/domain"
	"github.com/immxrtalbeast/mentorlink/internal/repository"
	"github.com/immxrtalbeast/mentorlink/internal/service"
	"github.com/immxrtalbeast/mentorlink/internal/signaling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fixture struct {
	registry *service.SessionRegistry
	mentor   *signaling.MemoryChannel
	agent    *Agent
	shell    *mocks.MockShell
	prompts  chan string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	registry := service.NewSessionRegistry(repository.NewInMemorySessionRepository(), nil, 64, discard)
	mentor, err := signaling.NewMemoryChannel(ctx, registry, signaling.Join{SessionID: "ABCD1234", ParticipantID: "M", Role: domain.RoleMentor})
	require.NoError(t, err)
	childCh, err := signaling.NewMemoryChannel(ctx, registry, signaling.Join{SessionID: "ABCD1234", ParticipantID: "C", Role: domain.RoleChild})
	require.NoError(t, err)

	shell := mocks.NewMockShell(gomock.NewController(t))
	agent, err := NewAgent(childCh, shell, Options{}, discard)
	require.NoError(t, err)
	f := &fixture{
		registry: registry,
		mentor:   mentor,
		agent:    agent,
		shell:    shell,
		prompts:  make(chan string, 4),
	}
	f.agent.OnPrompt = func(m string) { f.prompts <- m }

	go func() { _ = f.agent.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = f.agent.Close()
		_ = mentor.Close()
	})

	require.Eventually(t, func() bool { return f.agent.Mentor() == "M" }, time.Second, 5*time.Millisecond)
	return f
}

func (f *fixture) mentorSends(t *testing.T, msg domain.SignalMessage) {
	t.Helper()
	require.NoError(t, f.mentor.Send(context.Background(), msg))
}

func (f *fixture) waitPrompt(t *testing.T) string {
	t.Helper()
	select {
	case m := <-f.prompts:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no control prompt")
		return ""
	}
}

func TestAgent_ControlRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Control is idle, so nothing is injected.
	f.mentorSends(t, domain.MustSignal(domain.TypeInputEvent, "", "C", domain.Click(100, 50)))

	f.mentorSends(t, domain.SignalMessage{Type: domain.TypeControlRequest})
	assert.Equal(t, "M", f.waitPrompt(t))
	assert.Equal(t, "M", f.agent.Pending())

	require.NoError(t, f.agent.Accept(ctx))
	require.Eventually(t, func() bool { return f.agent.ControlState().IsActive() }, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.agent.Pending())

	clicked := make(chan struct{}, 1)
	f.shell.EXPECT().InjectClick(gomock.Any(), 100, 50).DoAndReturn(func(context.Context, int, int) error {
		clicked <- struct{}{}
		return nil
	}).Times(1)

	f.mentorSends(t, domain.MustSignal(domain.TypeInputEvent, "", "C", domain.Click(100, 50)))
	select {
	case <-clicked:
	case <-time.After(2 * time.Second):
		t.Fatal("authorized click not injected")
	}

	// The mentor disconnects and control goes idle.
	require.NoError(t, f.mentor.Close())
	require.Eventually(t, func() bool { return f.agent.ControlState().IsIdle() }, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.agent.Mentor())
	assert.False(t, f.agent.Executor().Execute(ctx, "M", domain.Click(100, 50)))
}

func TestAgent_RejectReturnsToIdle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mentorSends(t, domain.SignalMessage{Type: domain.TypeControlRequest})
	f.waitPrompt(t)

	require.NoError(t, f.agent.Reject(ctx))
	require.Eventually(t, func() bool { return f.agent.ControlState().IsIdle() }, time.Second, 5*time.Millisecond)

	state, err := f.registry.ControlState(ctx, "ABCD1234")
	require.NoError(t, err)
	assert.True(t, state.IsIdle())
}

func TestAgent_ScreenShareFollowsSharedState(t *testing.T) {
	f := newFixture(t)

	f.shell.EXPECT().CheckPermission(gomock.Any()).Return(true)
	f.shell.EXPECT().AcquireDisplayStream(gomock.Any()).Return(desktop.NewStream(nil), nil)

	f.mentorSends(t, domain.MustSignal(domain.TypeSessionState, "", "", domain.SessionStatePayload{
		SharedState: map[string]any{domain.SharedScreenShare: true},
	}))
	require.Eventually(t, func() bool { return f.agent.Capture().Status() == CaptureStreaming }, time.Second, 5*time.Millisecond)

	f.mentorSends(t, domain.MustSignal(domain.TypeSessionState, "", "", domain.SessionStatePayload{
		SharedState: map[string]any{domain.SharedScreenShare: false},
	}))
	require.Eventually(t, func() bool { return f.agent.Capture().Status() == CaptureIdle }, time.Second, 5*time.Millisecond)
}

func TestAgent_CaptureDeniedKeepsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.shell.EXPECT().CheckPermission(gomock.Any()).Return(false)

	_, err := f.agent.StartCapture(ctx)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	f.mentorSends(t, domain.SignalMessage{Type: domain.TypeControlRequest})
	assert.Equal(t, "M", f.waitPrompt(t), "signaling still works after a capture denial")
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{
		WebRTC:  config.WebRTCConfig{IncludeLoopback: true, LogLevel: "info"},
		Capture: config.CaptureConfig{FrameInterval: 250 * time.Millisecond, JPEGQuality: 55},
	}

	opts := OptionsFromConfig(cfg)

	assert.Equal(t, CaptureOptions{FrameInterval: 250 * time.Millisecond, JPEGQuality: 55}, opts.Capture)
	assert.True(t, opts.Peer.IncludeLoopback)
	assert.Equal(t, "info", opts.Peer.LogLevel)
}
