package domain

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

type MessageType string

const (
	// Point-to-point signaling, relayed verbatim to the addressed participant.
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice-candidate"
	TypeInputEvent   MessageType = "input-event"
	TypeScreenFrame  MessageType = "screen-frame"
	TypeRenegotiate  MessageType = "renegotiate"

	// Control messages, interpreted by the registry.
	TypeControlRequest MessageType = "control-request"
	TypeControlAccept  MessageType = "control-accept"
	TypeControlReject  MessageType = "control-reject"
	TypeControlRelease MessageType = "control-release"

	// Presence and registry notifications.
	TypeSessionState    MessageType = "session-state"
	TypePeerJoined      MessageType = "peer-joined"
	TypePeerLeft        MessageType = "peer-left"
	TypeMentorLeft      MessageType = "mentor-left"
	TypeMentorReplaced  MessageType = "mentor-replaced"
	TypeControlGranted  MessageType = "control-granted"
	TypeControlRejected MessageType = "control-rejected"
	TypeControlReleased MessageType = "control-released"
	TypeError           MessageType = "error"
)

// IsRelayed reports whether messages of this type are forwarded to the
// participant named in To rather than handled by the registry.
func (t MessageType) IsRelayed() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate, TypeInputEvent, TypeScreenFrame, TypeRenegotiate:
		return true
	}
	return false
}

var ErrEmptyMessage = errors.New("empty signal message")

// SignalMessage is the unit exchanged over the signaling channel.
type SignalMessage struct {
	Type    MessageType     `json:"type"`
	From    string          `json:"from"`
	To      string          `json:"to"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewSignal builds a message with payload encoded as JSON. A nil payload
// leaves the field empty.
func NewSignal(t MessageType, from, to string, payload any) (SignalMessage, error) {
	msg := SignalMessage{Type: t, From: from, To: to}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return SignalMessage{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	msg.Payload = raw
	return msg, nil
}

// MustSignal is NewSignal for payloads that are known to encode.
func MustSignal(t MessageType, from, to string, payload any) SignalMessage {
	msg, err := NewSignal(t, from, to, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode unmarshals the payload into v.
func (m SignalMessage) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: %w", m.Type, ErrEmptyMessage)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

func EncodeMessage(m SignalMessage) ([]byte, error) {
	return json.Marshal(m)
}

func DecodeMessage(data []byte) (SignalMessage, error) {
	var msg SignalMessage
	if len(data) == 0 {
		return msg, ErrEmptyMessage
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	if msg.Type == "" {
		return msg, errors.New("signal message without type")
	}
	return msg, nil
}

type PeerPayload struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role Role   `json:"role,omitempty"`
}

type SessionStatePayload struct {
	Session      string         `json:"session,omitempty"`
	Self         string         `json:"self,omitempty"`
	Participants []PeerPayload  `json:"participants,omitempty"`
	Control      *ControlState  `json:"control,omitempty"`
	SharedState  map[string]any `json:"sharedState"`
}

// ControlPayload accompanies every control notification so clients can
// mirror the registry's control state.
type ControlPayload struct {
	Control ControlState `json:"control"`
	Child   string       `json:"child,omitempty"`
}

type FramePayload struct {
	ID     string `json:"id"`
	Mime   string `json:"mime"`
	Data   string `json:"data"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
