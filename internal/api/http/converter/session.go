package converter

import (
	"github.com/immxrtalbeast/mentorlink/internal/domain"
	"github.com/pion/webrtc/v3"
)

type SessionResponse struct {
	Code         string                `json:"code"`
	Participants []ParticipantResponse `json:"participants"`
	Control      ControlResponse       `json:"control"`
	SharedState  map[string]any        `json:"shared_state"`
}

type ParticipantResponse struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"display_name"`
	Role        domain.Role `json:"role"`
}

type ControlResponse struct {
	State     domain.ControlPhase `json:"state"`
	By        string              `json:"by,omitempty"`
	GrantedTo string              `json:"granted_to,omitempty"`
}

type ICEServerResponse struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

func SessionToApi(s domain.SessionStatePayload) *SessionResponse {
	participants := make([]ParticipantResponse, 0, len(s.Participants))
	for _, p := range s.Participants {
		participants = append(participants, ParticipantResponse{
			ID:          p.ID,
			DisplayName: p.Name,
			Role:        p.Role,
		})
	}

	control := domain.IdleControl()
	if s.Control != nil {
		control = *s.Control
	}

	shared := s.SharedState
	if shared == nil {
		shared = map[string]any{}
	}

	return &SessionResponse{
		Code:         s.Session,
		Participants: participants,
		Control: ControlResponse{
			State:     control.Phase,
			By:        control.By,
			GrantedTo: control.GrantedTo,
		},
		SharedState: shared,
	}
}

func ICEServersToApi(servers []webrtc.ICEServer) []ICEServerResponse {
	out := make([]ICEServerResponse, 0, len(servers))
	for _, s := range servers {
		resp := ICEServerResponse{URLs: s.URLs, Username: s.Username}
		if c, ok := s.Credential.(string); ok {
			resp.Credential = c
		}
		out = append(out, resp)
	}
	return out
}
