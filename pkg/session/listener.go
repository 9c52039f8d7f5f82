package session

import (
	"context"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"go.uber.org/multierr"
)

// State is the position of a session in its lifecycle.
type State int

const (
	Inactive State = iota
	Active
	AwaitingChoice
	Finished
	Cancelled
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	case AwaitingChoice:
		return "awaiting-choice"
	case Finished:
		return "finished"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Finished || s == Cancelled
}

// Listener observes a session. Callbacks run synchronously on the thread driving the session.
type Listener interface {
	// WaitingForInput fires once when the first tab stop is about to be focused.
	WaitingForInput(s *Session)
	// CurrentVariableChanged fires on every tab transition. Indices are -1 when no
	// variable is focused.
	CurrentVariableChanged(s *Session, oldIndex, newIndex int)
	BeforeFinished(s *Session, brokenOff bool)
	TemplateFinished(s *Session, brokenOff bool)
	// TemplateCancelled fires once a session is torn down without finishing. s.Err holds
	// the structural failure that caused it, if any.
	TemplateCancelled(s *Session)
}

// ListenerFuncs adapts optional functions to Listener.
type ListenerFuncs struct {
	OnWaitingForInput        func(s *Session)
	OnCurrentVariableChanged func(s *Session, oldIndex, newIndex int)
	OnBeforeFinished         func(s *Session, brokenOff bool)
	OnFinished               func(s *Session, brokenOff bool)
	OnCancelled              func(s *Session)
}

var _ Listener = ListenerFuncs{}

func (f ListenerFuncs) WaitingForInput(s *Session) {
	if f.OnWaitingForInput != nil {
		f.OnWaitingForInput(s)
	}
}

func (f ListenerFuncs) CurrentVariableChanged(s *Session, oldIndex, newIndex int) {
	if f.OnCurrentVariableChanged != nil {
		f.OnCurrentVariableChanged(s, oldIndex, newIndex)
	}
}

func (f ListenerFuncs) BeforeFinished(s *Session, brokenOff bool) {
	if f.OnBeforeFinished != nil {
		f.OnBeforeFinished(s, brokenOff)
	}
}

func (f ListenerFuncs) TemplateFinished(s *Session, brokenOff bool) {
	if f.OnFinished != nil {
		f.OnFinished(s, brokenOff)
	}
}

func (f ListenerFuncs) TemplateCancelled(s *Session) {
	if f.OnCancelled != nil {
		f.OnCancelled(s)
	}
}

type listenerSet struct {
	next    int
	entries map[int]Listener
	order   []int
}

func (me *listenerSet) add(l Listener) func() {
	if me.entries == nil {
		me.entries = make(map[int]Listener)
	}
	me.next++
	key := me.next
	me.entries[key] = l
	me.order = append(me.order, key)
	return func() { delete(me.entries, key) }
}

// fire calls fn for every listener in subscription order. A panicking listener does not
// keep the others from being notified.
func (me *listenerSet) fire(ctx context.Context, event string, fn func(l Listener)) {
	var errs error
	for _, key := range append([]int(nil), me.order...) {
		l, ok := me.entries[key]
		if !ok {
			continue
		}
		errs = multierr.Append(errs, call(l, fn))
	}
	if errs != nil {
		zerolog.Ctx(ctx).Error().Err(errs).Str("event", event).Msg("session listener failed")
	}
}

func call(l Listener, fn func(l Listener)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("listener panicked: %v", r)
		}
	}()
	fn(l)
	return nil
}
