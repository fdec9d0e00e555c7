package domain

import "sync"

// ControlMirror is a client's copy of the registry's control state, kept
// current from the control notifications the registry sends.
type ControlMirror struct {
	mu    sync.RWMutex
	state ControlState
}

func NewControlMirror() *ControlMirror {
	return &ControlMirror{state: IdleControl()}
}

func (m *ControlMirror) State() ControlState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *ControlMirror) Set(state ControlState) {
	if state.Phase == "" {
		state = IdleControl()
	}
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

// Apply updates the mirror from msg when it carries a control state and
// reports whether it did.
func (m *ControlMirror) Apply(msg SignalMessage) bool {
	switch msg.Type {
	case TypeSessionState:
		var payload SessionStatePayload
		if err := msg.Decode(&payload); err != nil || payload.Control == nil {
			return false
		}
		m.Set(*payload.Control)
		return true
	case TypeControlRequest, TypeControlGranted, TypeControlRejected, TypeControlReleased, TypeMentorLeft:
		var payload ControlPayload
		if err := msg.Decode(&payload); err != nil {
			return false
		}
		m.Set(payload.Control)
		return true
	}
	return false
}
