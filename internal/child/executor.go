package child

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/immxrtalbeast/mentorlink/internal/desktop"
	"github.com/immxrtalbeast/mentorlink/internal/domain"
	"github.com/immxrtalbeast/mentorlink/lib/logger/sl"
)

// Executor turns authorized control events into synthetic input on this
// machine. Everything else is dropped without surfacing an error.
type Executor struct {
	self    string
	shell   desktop.Shell
	control *domain.ControlMirror
	log     *slog.Logger

	// OnCursor receives the mentor's pointer position; cursor moves are
	// never injected.
	OnCursor func(x, y int)
	// OnDenied is called once when the OS refuses input injection.
	OnDenied func(error)

	mu     sync.Mutex
	denied bool
}

func NewExecutor(self string, shell desktop.Shell, control *domain.ControlMirror, log *slog.Logger) *Executor {
	return &Executor{
		self:    self,
		shell:   shell,
		control: control,
		log:     log.With(slog.String("op", "child.executor")),
	}
}

// Execute runs event if control is active, granted to this child, and
// origin is the granting mentor. It reports whether the event was executed.
func (e *Executor) Execute(ctx context.Context, origin string, event domain.ControlEvent) bool {
	state := e.control.State()
	if !state.IsActive() {
		e.log.Debug("dropping control event, control not active", slog.String("origin", origin))
		return false
	}
	if !state.Authorizes(e.self, origin) {
		e.log.Debug("dropping control event from non-controller",
			slog.String("origin", origin),
			slog.String("controller", state.By),
			slog.String("granted_to", state.GrantedTo))
		return false
	}
	if err := event.Validate(); err != nil {
		e.log.Debug("dropping invalid control event", sl.Err(err))
		return false
	}

	e.mu.Lock()
	denied := e.denied
	e.mu.Unlock()
	if denied {
		return false
	}

	var err error
	switch event.Kind {
	case domain.EventClick:
		x, y := event.Point()
		err = e.shell.InjectClick(ctx, x, y)
	case domain.EventKey:
		err = e.shell.InjectKey(ctx, event.Key, event.Modifiers)
	case domain.EventCursorMove:
		if e.OnCursor != nil {
			e.OnCursor(event.Point())
		}
		return true
	}

	if err != nil {
		if errors.Is(err, desktop.ErrPermissionDenied) {
			e.disable(err)
		} else {
			e.log.Warn("input injection failed", slog.String("kind", string(event.Kind)), sl.Err(err))
		}
		return false
	}
	return true
}

func (e *Executor) disable(err error) {
	e.mu.Lock()
	already := e.denied
	e.denied = true
	e.mu.Unlock()
	if already {
		return
	}
	e.log.Error("input injection denied, remote control disabled", sl.Err(err))
	if e.OnDenied != nil {
		e.OnDenied(err)
	}
}
