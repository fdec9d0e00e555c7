package domain

type ControlPhase string

const (
	ControlIdle      ControlPhase = "idle"
	ControlRequested ControlPhase = "requested"
	ControlActive    ControlPhase = "active"
)

// ControlState is the session-wide remote-input grant.
//
//	idle      -> By == "", GrantedTo == ""
//	requested -> By == mentor
//	active    -> By == mentor, GrantedTo == child
type ControlState struct {
	Phase     ControlPhase `json:"state"`
	By        string       `json:"by,omitempty"`
	GrantedTo string       `json:"grantedTo,omitempty"`
}

func IdleControl() ControlState { return ControlState{Phase: ControlIdle} }

func (c ControlState) IsIdle() bool { return c.Phase == "" || c.Phase == ControlIdle }

func (c ControlState) IsActive() bool { return c.Phase == ControlActive }

// Authorizes reports whether an input event claimed to come from origin may
// be executed by child under this state.
func (c ControlState) Authorizes(child, origin string) bool {
	return c.Phase == ControlActive && c.GrantedTo == child && c.By == origin && origin != ""
}

// ControlMachine holds the control state of one session together with the
// set of children that still have an open prompt. It is not safe for
// concurrent use; the owning session serializes access.
type ControlMachine struct {
	state    ControlState
	prompted map[string]struct{}
}

func NewControlMachine() *ControlMachine {
	return &ControlMachine{state: IdleControl(), prompted: make(map[string]struct{})}
}

func (m *ControlMachine) State() ControlState { return m.state }

// Prompted reports whether child still has an unanswered prompt.
func (m *ControlMachine) Prompted(child string) bool {
	_, ok := m.prompted[child]
	return ok
}

// Request moves idle to requested and prompts every given child. A request
// while already requested or active is rejected without side effects.
func (m *ControlMachine) Request(mentor string, children []string) bool {
	if !m.state.IsIdle() || mentor == "" {
		return false
	}
	m.state = ControlState{Phase: ControlRequested, By: mentor}
	m.prompted = make(map[string]struct{}, len(children))
	for _, c := range children {
		m.prompted[c] = struct{}{}
	}
	return true
}

// Prompt adds a child that joined while a request is pending.
func (m *ControlMachine) Prompt(child string) bool {
	if m.state.Phase != ControlRequested {
		return false
	}
	m.prompted[child] = struct{}{}
	return true
}

// Accept grants control to the first prompted child that accepts. Later
// accepts, and accepts from children without an open prompt, are ignored.
func (m *ControlMachine) Accept(child string) bool {
	if m.state.Phase != ControlRequested || !m.Prompted(child) {
		return false
	}
	m.state = ControlState{Phase: ControlActive, By: m.state.By, GrantedTo: child}
	m.prompted = make(map[string]struct{})
	return true
}

// Reject closes child's prompt. The state returns to idle only once no
// prompt is left open; the second return value reports that.
func (m *ControlMachine) Reject(child string) (rejected, idle bool) {
	if m.state.Phase != ControlRequested || !m.Prompted(child) {
		return false, false
	}
	delete(m.prompted, child)
	if len(m.prompted) > 0 {
		return true, false
	}
	m.state = IdleControl()
	return true, true
}

// Release ends an active grant. Only the controlling mentor or the grantee
// may release; on any other state it is a no-op.
func (m *ControlMachine) Release(by string) bool {
	if m.state.Phase != ControlActive {
		return false
	}
	if by != m.state.By && by != m.state.GrantedTo {
		return false
	}
	m.reset()
	return true
}

// Drop forces idle when participant is either side of the current request
// or grant. A child leaving with an open prompt only loses that prompt.
func (m *ControlMachine) Drop(participant string) bool {
	switch m.state.Phase {
	case ControlActive:
		if participant == m.state.By || participant == m.state.GrantedTo {
			m.reset()
			return true
		}
	case ControlRequested:
		if participant == m.state.By {
			m.reset()
			return true
		}
		if m.Prompted(participant) {
			delete(m.prompted, participant)
			if len(m.prompted) == 0 {
				m.reset()
				return true
			}
		}
	}
	return false
}

func (m *ControlMachine) reset() {
	m.state = IdleControl()
	m.prompted = make(map[string]struct{})
}
