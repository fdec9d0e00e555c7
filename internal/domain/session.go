package domain

import (
	"crypto/rand"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	codeLength   = 8
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Shared state keys the mentor and child agents agree on.
const (
	SharedScreenShare = "screenShare"
	SharedMode        = "mode"
)

// Session pairs one mentor slot with any number of children. Callers must
// hold Mutex for every access to the fields below it.
type Session struct {
	ID        string
	CreatedAt time.Time
	// ExpiresAt bounds how long the session may stay empty. Zero means it
	// never expires.
	ExpiresAt time.Time

	Mutex       sync.Mutex
	Mentor      *Participant
	Children    map[string]*Participant
	Control     *ControlMachine
	SharedState map[string]any
	// Closed is set once the session has been removed from its store; a
	// joiner that finds it set must look the session up again.
	Closed bool
}

func NewSession(id string) *Session {
	return &Session{
		ID:          NormalizeCode(id),
		CreatedAt:   time.Now().UTC(),
		Children:    make(map[string]*Participant),
		Control:     NewControlMachine(),
		SharedState: make(map[string]any),
	}
}

// Lookup returns the participant with the given id. Mutex must be held.
func (s *Session) Lookup(id string) (*Participant, bool) {
	if s.Mentor != nil && s.Mentor.ID == id {
		return s.Mentor, true
	}
	p, ok := s.Children[id]
	return p, ok
}

// Participants lists the mentor (if any) followed by the children ordered by
// join time. Mutex must be held.
func (s *Session) Participants() []*Participant {
	out := make([]*Participant, 0, len(s.Children)+1)
	if s.Mentor != nil {
		out = append(out, s.Mentor)
	}
	out = append(out, s.ChildList()...)
	return out
}

// ChildList returns children ordered by join time. Mutex must be held.
func (s *Session) ChildList() []*Participant {
	children := make([]*Participant, 0, len(s.Children))
	for _, c := range s.Children {
		children = append(children, c)
	}
	sort.Slice(children, func(i, j int) bool {
		if children[i].JoinedAt.Equal(children[j].JoinedAt) {
			return children[i].ID < children[j].ID
		}
		return children[i].JoinedAt.Before(children[j].JoinedAt)
	})
	return children
}

// ChildIDs returns the ids of ChildList. Mutex must be held.
func (s *Session) ChildIDs() []string {
	children := s.ChildList()
	ids := make([]string, len(children))
	for i, c := range children {
		ids[i] = c.ID
	}
	return ids
}

// IsEmpty reports whether nobody is left in the session. Mutex must be held.
func (s *Session) IsEmpty() bool {
	return s.Mentor == nil && len(s.Children) == 0
}

// IsExpired reports whether the session outlived its lifetime.
func (s *Session) IsExpired() bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().UTC().After(s.ExpiresAt)
}

// IsAbandoned reports whether the session is empty and expired. Mutex must
// be held.
func (s *Session) IsAbandoned() bool {
	return s.IsEmpty() && s.IsExpired()
}

// Snapshot copies the shared state so it can be sent while the lock is
// released. Mutex must be held.
func (s *Session) Snapshot(self string) SessionStatePayload {
	participants := s.Participants()
	refs := make([]PeerPayload, len(participants))
	for i, p := range participants {
		refs[i] = p.Ref()
	}
	control := s.Control.State()
	shared := make(map[string]any, len(s.SharedState))
	for k, v := range s.SharedState {
		shared[k] = v
	}
	return SessionStatePayload{
		Session:      s.ID,
		Self:         self,
		Participants: refs,
		Control:      &control,
		SharedState:  shared,
	}
}

// GenerateCode returns a human-shareable session code. Ambiguous glyphs
// (0/O, 1/I) are left out of the alphabet.
func GenerateCode() string {
	var b strings.Builder
	b.Grow(codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String()
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode accepts 4 to 32 letters or digits.
func ValidCode(code string) bool {
	if len(code) < 4 || len(code) > 32 {
		return false
	}
	for _, r := range code {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z') {
			return false
		}
	}
	return true
}
