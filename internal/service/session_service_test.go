package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/immxrtalbeast/mentorlink/internal/domain"
	"github.com/immxrtalbeast/mentorlink/internal/metrics"
	"github.com/immxrtalbeast/mentorlink/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sessionCode = "ABCD1234"

func newTestRegistry(t *testing.T) *SessionRegistry {
	t.Helper()
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewSessionRegistry(repository.NewInMemorySessionRepository(), metrics.New(prometheus.NewRegistry()), 64, log)
}

func join(t *testing.T, r *SessionRegistry, id string, role domain.Role) *domain.Participant {
	t.Helper()
	p, _, err := r.Join(context.Background(), JoinRequest{
		SessionID:     sessionCode,
		ParticipantID: id,
		DisplayName:   id,
		Role:          role,
	})
	require.NoError(t, err)
	return p
}

// drain returns every message currently queued for p.
func drain(p *domain.Participant) []domain.SignalMessage {
	var out []domain.SignalMessage
	for {
		select {
		case msg, ok := <-p.Outbox():
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func types(msgs []domain.SignalMessage) []domain.MessageType {
	out := make([]domain.MessageType, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func lastControl(t *testing.T, msgs []domain.SignalMessage) domain.ControlState {
	t.Helper()
	for i := len(msgs) - 1; i >= 0; i-- {
		var p domain.ControlPayload
		switch msgs[i].Type {
		case domain.TypeControlRequest, domain.TypeControlGranted, domain.TypeControlRejected,
			domain.TypeControlReleased, domain.TypeMentorLeft:
			require.NoError(t, msgs[i].Decode(&p))
			return p.Control
		}
	}
	t.Fatal("no control notification received")
	return domain.ControlState{}
}

func controlState(t *testing.T, r *SessionRegistry) domain.ControlState {
	t.Helper()
	state, err := r.ControlState(context.Background(), sessionCode)
	require.NoError(t, err)
	return state
}

func TestJoin_SnapshotAndPresence(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	m := join(t, r, "M", domain.RoleMentor)
	require.NoError(t, r.UpdateSharedState(ctx, sessionCode, "M", map[string]any{"mode": "diary"}))
	drain(m)

	c, snapshot, err := r.Join(ctx, JoinRequest{SessionID: "abcd1234", ParticipantID: "C", DisplayName: "Cleo", Role: domain.RoleChild})
	require.NoError(t, err)
	assert.Equal(t, "C", snapshot.Self)
	assert.Equal(t, "diary", snapshot.SharedState["mode"])
	require.Len(t, snapshot.Participants, 2)
	assert.Equal(t, domain.PeerPayload{ID: "M", Name: "M", Role: domain.RoleMentor}, snapshot.Participants[0])

	childMsgs := drain(c)
	require.NotEmpty(t, childMsgs)
	assert.Equal(t, domain.TypeSessionState, childMsgs[0].Type)

	mentorMsgs := drain(m)
	require.Len(t, mentorMsgs, 1)
	assert.Equal(t, domain.TypePeerJoined, mentorMsgs[0].Type)
	var ref domain.PeerPayload
	require.NoError(t, mentorMsgs[0].Decode(&ref))
	assert.Equal(t, domain.PeerPayload{ID: "C", Name: "Cleo", Role: domain.RoleChild}, ref)
}

func TestJoin_Validation(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, _, err := r.Join(ctx, JoinRequest{SessionID: sessionCode, Role: "observer"})
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, _, err = r.Join(ctx, JoinRequest{SessionID: "no", Role: domain.RoleChild})
	assert.ErrorIs(t, err, ErrInvalidSession)

	p, _, err := r.Join(ctx, JoinRequest{SessionID: sessionCode, Role: domain.RoleChild})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID, "an id is generated when none is given")
	assert.Equal(t, "child", p.DisplayName)
}

// A mentor request prompts the child and its accept grants control.
func TestControl_RequestAccept(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	m := join(t, r, "M", domain.RoleMentor)
	c := join(t, r, "C", domain.RoleChild)
	drain(m)
	drain(c)

	ok, err := r.RequestControl(ctx, sessionCode, "M")
	require.NoError(t, err)
	require.True(t, ok)

	childMsgs := drain(c)
	require.Equal(t, []domain.MessageType{domain.TypeControlRequest}, types(childMsgs))
	assert.Equal(t, "M", childMsgs[0].From)

	ok, err = r.AcceptControl(ctx, sessionCode, "C")
	require.NoError(t, err)
	require.True(t, ok)

	want := domain.ControlState{Phase: domain.ControlActive, By: "M", GrantedTo: "C"}
	assert.Equal(t, want, lastControl(t, drain(m)))
	assert.Equal(t, want, lastControl(t, drain(c)))
	assert.Equal(t, want, controlState(t, r))
}

// Two children accept the same request; only the first is granted.
func TestControl_FirstAcceptWins(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	join(t, r, "M", domain.RoleMentor)
	join(t, r, "C", domain.RoleChild)

	_, err := r.RequestControl(ctx, sessionCode, "M")
	require.NoError(t, err)

	c2 := join(t, r, "C2", domain.RoleChild)
	assert.Contains(t, types(drain(c2)), domain.TypeControlRequest, "late joiner is prompted")

	ok, err := r.AcceptControl(ctx, sessionCode, "C2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.AcceptControl(ctx, sessionCode, "C")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, domain.ControlState{Phase: domain.ControlActive, By: "M", GrantedTo: "C2"}, controlState(t, r))
}

func TestControl_ConcurrentAcceptsGrantExactlyOne(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	join(t, r, "M", domain.RoleMentor)
	children := []string{"C1", "C2", "C3", "C4", "C5", "C6", "C7", "C8"}
	for _, id := range children {
		join(t, r, id, domain.RoleChild)
	}
	_, err := r.RequestControl(ctx, sessionCode, "M")
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for _, id := range children {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			ok, err := r.AcceptControl(ctx, sessionCode, id)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners = append(winners, id)
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, winners[0], controlState(t, r).GrantedTo)
}

func TestControl_RequestIsNoOpWhenOutstanding(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	join(t, r, "M", domain.RoleMentor)
	c := join(t, r, "C", domain.RoleChild)

	_, err := r.RequestControl(ctx, sessionCode, "M")
	require.NoError(t, err)
	drain(c)
	before := controlState(t, r)

	ok, err := r.RequestControl(ctx, sessionCode, "M")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, before, controlState(t, r))
	assert.Empty(t, drain(c), "no duplicate prompt")

	_, err = r.AcceptControl(ctx, sessionCode, "C")
	require.NoError(t, err)
	before = controlState(t, r)

	ok, err = r.RequestControl(ctx, sessionCode, "M")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, before, controlState(t, r))
}

func TestControl_OnlyMentorMayRequest(t *testing.T) {
	r := newTestRegistry(t)
	join(t, r, "M", domain.RoleMentor)
	join(t, r, "C", domain.RoleChild)

	ok, err := r.RequestControl(context.Background(), sessionCode, "C")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, controlState(t, r).IsIdle())
}

func TestControl_RejectNotifiesMentor(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	m := join(t, r, "M", domain.RoleMentor)
	join(t, r, "C", domain.RoleChild)
	_, err := r.RequestControl(ctx, sessionCode, "M")
	require.NoError(t, err)
	drain(m)

	ok, err := r.RejectControl(ctx, sessionCode, "C")
	require.NoError(t, err)
	require.True(t, ok)

	msgs := drain(m)
	require.Equal(t, []domain.MessageType{domain.TypeControlRejected}, types(msgs))
	var payload domain.ControlPayload
	require.NoError(t, msgs[0].Decode(&payload))
	assert.Equal(t, "C", payload.Child)
	assert.True(t, payload.Control.IsIdle())
}

func TestControl_ReleaseRacingAccept(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	join(t, r, "M", domain.RoleMentor)
	join(t, r, "C", domain.RoleChild)
	_, err := r.RequestControl(ctx, sessionCode, "M")
	require.NoError(t, err)

	// The mentor's release arrives before the child's accept.
	ok, err := r.ReleaseControl(ctx, sessionCode, "M")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.AcceptControl(ctx, sessionCode, "C")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.ReleaseControl(ctx, sessionCode, "M")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, controlState(t, r).IsIdle())
}

func TestLeave_GranteeForcesIdle(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	m := join(t, r, "M", domain.RoleMentor)
	c := join(t, r, "C", domain.RoleChild)
	_, err := r.RequestControl(ctx, sessionCode, "M")
	require.NoError(t, err)
	_, err = r.AcceptControl(ctx, sessionCode, "C")
	require.NoError(t, err)
	drain(m)

	r.Disconnect(ctx, sessionCode, c)

	assert.True(t, controlState(t, r).IsIdle())
	msgs := drain(m)
	assert.Equal(t, []domain.MessageType{domain.TypeControlReleased, domain.TypePeerLeft}, types(msgs))
}

// Losing the mentor drops an active grant back to idle.
func TestLeave_MentorForcesIdle(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	join(t, r, "M", domain.RoleMentor)
	c := join(t, r, "C", domain.RoleChild)
	_, err := r.RequestControl(ctx, sessionCode, "M")
	require.NoError(t, err)
	_, err = r.AcceptControl(ctx, sessionCode, "C")
	require.NoError(t, err)
	drain(c)

	require.NoError(t, r.Leave(ctx, sessionCode, "M"))

	assert.True(t, controlState(t, r).IsIdle())
	msgs := drain(c)
	assert.Equal(t, []domain.MessageType{domain.TypeMentorLeft, domain.TypePeerLeft}, types(msgs))
	assert.True(t, lastControl(t, msgs).IsIdle())
}

func TestLeave_LastParticipantRemovesSession(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	m := join(t, r, "M", domain.RoleMentor)
	c := join(t, r, "C", domain.RoleChild)

	r.Disconnect(ctx, sessionCode, c)
	_, err := r.GetSession(ctx, sessionCode)
	require.NoError(t, err)

	r.Disconnect(ctx, sessionCode, m)
	_, err = r.GetSession(ctx, sessionCode)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.ErrorIs(t, r.Leave(ctx, sessionCode, "M"), ErrSessionNotFound)
}

func TestDisconnect_StaleConnectionAfterRejoin(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	join(t, r, "M", domain.RoleMentor)
	old := join(t, r, "C", domain.RoleChild)
	fresh := join(t, r, "C", domain.RoleChild)

	_, open := <-old.Outbox()
	for open {
		_, open = <-old.Outbox()
	}

	r.Disconnect(ctx, sessionCode, old)

	snapshot, err := r.GetSession(ctx, sessionCode)
	require.NoError(t, err)
	require.Len(t, snapshot.Participants, 2)
	assert.Equal(t, domain.StatusConnected, fresh.Status())
}

func TestJoin_SecondMentorReplacesFirst(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	m1 := join(t, r, "M1", domain.RoleMentor)
	c := join(t, r, "C", domain.RoleChild)
	_, err := r.RequestControl(ctx, sessionCode, "M1")
	require.NoError(t, err)
	_, err = r.AcceptControl(ctx, sessionCode, "C")
	require.NoError(t, err)
	drain(m1)
	drain(c)

	join(t, r, "M2", domain.RoleMentor)

	assert.True(t, controlState(t, r).IsIdle())
	assert.Equal(t, []domain.MessageType{domain.TypeMentorReplaced}, types(drain(m1)))
	assert.Equal(t, domain.StatusDisconnected, m1.Status())

	childMsgs := types(drain(c))
	assert.Equal(t, []domain.MessageType{domain.TypeControlReleased, domain.TypePeerLeft, domain.TypePeerJoined}, childMsgs)

	ok, err := r.RequestControl(ctx, sessionCode, "M1")
	require.NoError(t, err)
	assert.False(t, ok, "replaced mentor can no longer request")
}

func TestRelay(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	m := join(t, r, "M", domain.RoleMentor)
	c := join(t, r, "C", domain.RoleChild)
	drain(m)
	drain(c)

	offer := domain.MustSignal(domain.TypeOffer, "M", "C", map[string]string{"sdp": "v=0"})
	r.Relay(ctx, sessionCode, offer)

	msgs := drain(c)
	require.Len(t, msgs, 1)
	assert.Equal(t, offer, msgs[0])
	assert.Empty(t, drain(m))
}

func TestRelay_UnknownRecipientIsDropped(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	m := join(t, r, "M", domain.RoleMentor)
	c := join(t, r, "C", domain.RoleChild)
	_, err := r.RequestControl(ctx, sessionCode, "M")
	require.NoError(t, err)
	drain(m)
	drain(c)
	before, err := r.GetSession(ctx, sessionCode)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		r.Relay(ctx, sessionCode, domain.MustSignal(domain.TypeOffer, "M", "ghost", nil))
		r.Relay(ctx, "ZZZZ9999", domain.MustSignal(domain.TypeOffer, "M", "C", nil))
		r.Relay(ctx, sessionCode, domain.MustSignal(domain.TypeOffer, "M", "", nil))
	})

	after, err := r.GetSession(ctx, sessionCode)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, drain(m))
	assert.Empty(t, drain(c))
}

func TestHandleSignal_OverridesSender(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	join(t, r, "M", domain.RoleMentor)
	c := join(t, r, "C", domain.RoleChild)
	drain(c)

	spoofed := domain.MustSignal(domain.TypeInputEvent, "M", "C", domain.Click(1, 2))
	require.NoError(t, r.HandleSignal(ctx, sessionCode, "C2", spoofed))
	// C2 is not in the session but relay still only uses the connection id.
	msgs := drain(c)
	require.Len(t, msgs, 1)
	assert.Equal(t, "C2", msgs[0].From)

	err := r.HandleSignal(ctx, sessionCode, "M", domain.SignalMessage{Type: "selector-click"})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestHandleSignal_SharedState(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	m := join(t, r, "M", domain.RoleMentor)
	c := join(t, r, "C", domain.RoleChild)
	drain(m)
	drain(c)

	update := domain.MustSignal(domain.TypeSessionState, "", "", domain.SessionStatePayload{
		SharedState: map[string]any{"mode": "book", "cursor": map[string]any{"x": 3.0, "y": 4.0}},
	})
	require.NoError(t, r.HandleSignal(ctx, sessionCode, "M", update))

	for _, p := range []*domain.Participant{m, c} {
		msgs := drain(p)
		require.Len(t, msgs, 1)
		var state domain.SessionStatePayload
		require.NoError(t, msgs[0].Decode(&state))
		assert.Equal(t, "book", state.SharedState["mode"])
	}

	clear := domain.MustSignal(domain.TypeSessionState, "", "", map[string]any{"sharedState": map[string]any{"mode": nil}})
	require.NoError(t, r.HandleSignal(ctx, sessionCode, "C", clear))
	snapshot, err := r.GetSession(ctx, sessionCode)
	require.NoError(t, err)
	assert.NotContains(t, snapshot.SharedState, "mode")
	assert.Contains(t, snapshot.SharedState, "cursor")
}

func TestCreateSession(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	created, err := r.CreateSession(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, domain.ValidCode(created.Session))

	got, err := r.GetSession(ctx, created.Session)
	require.NoError(t, err)
	assert.Equal(t, created.Session, got.Session)
	assert.Empty(t, got.Participants)
}

func TestCreateSession_UnjoinedExpires(t *testing.T) {
	repo := repository.NewInMemorySessionRepository()
	m := metrics.New(prometheus.NewRegistry())
	r := NewSessionRegistry(repo, m, 64, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, err := r.CreateSession(ctx, time.Millisecond)
		require.NoError(t, err)
	}
	kept, err := r.CreateSession(ctx, time.Hour)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	n, err := r.CollectExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	left, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, kept.Session, left[0].ID)
}

func TestGetSession_ExpiredIsGone(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	created, err := r.CreateSession(ctx, time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = r.GetSession(ctx, created.Session)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCreateSession_JoinedSessionOutlivesLifetime(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	created, err := r.CreateSession(ctx, time.Millisecond)
	require.NoError(t, err)
	_, _, err = r.Join(ctx, JoinRequest{SessionID: created.Session, ParticipantID: "C", Role: domain.RoleChild})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	n, err := r.CollectExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = r.GetSession(ctx, created.Session)
	assert.NoError(t, err)
}

func TestRunJanitor(t *testing.T) {
	repo := repository.NewInMemorySessionRepository()
	r := NewSessionRegistry(repo, nil, 64, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())

	_, err := r.CreateSession(ctx, time.Millisecond)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.RunJanitor(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool {
		left, err := repo.List(context.Background())
		return err == nil && len(left) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestJoin_NameTruncatedByRunes(t *testing.T) {
	r := newTestRegistry(t)

	name := strings.Repeat("a", maxDisplayNameLength-1) + "éé"
	p, _, err := r.Join(context.Background(), JoinRequest{SessionID: sessionCode, ParticipantID: "C", DisplayName: name, Role: domain.RoleChild})
	require.NoError(t, err)

	assert.True(t, utf8.ValidString(p.DisplayName))
	assert.Equal(t, maxDisplayNameLength, utf8.RuneCountInString(p.DisplayName))
	assert.Equal(t, strings.Repeat("a", maxDisplayNameLength-1)+"é", p.DisplayName)
}
