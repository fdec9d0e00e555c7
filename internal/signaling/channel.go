// Package signaling holds the client side of the signaling channel: the
// Channel abstraction and its websocket and in-process realizations.
package signaling

import (
	"context"
	"errors"

	"github.com/immxrtalbeast/mentorlink/internal/domain"
)

var ErrClosed = errors.New("signaling channel closed")

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusClosed       Status = "closed"
)

// Channel carries SignalMessages between this participant and the session.
// Messages from one sender are delivered in the order they were sent.
type Channel interface {
	// ID is the participant id the session knows this channel by.
	ID() string
	Send(ctx context.Context, msg domain.SignalMessage) error
	// Messages is closed when the channel is closed for good.
	Messages() <-chan domain.SignalMessage
	Close() error
}

// Join identifies the participant on every (re)connect.
type Join struct {
	SessionID     string
	ParticipantID string
	DisplayName   string
	Role          domain.Role
}
