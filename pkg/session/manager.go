package session

import (
	"context"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/livetmpl/pkg/buffer"
	"github.com/walteh/livetmpl/pkg/template"
)

// Library finds templates by abbreviation.
type Library interface {
	Lookup(key string) (*template.Template, bool)
}

// Manager owns the sessions of one buffer. At most one session is live at a time: starting
// a new one cancels the previous.
type Manager struct {
	host    buffer.Host
	current *Session
}

func NewManager(host buffer.Host) *Manager {
	return &Manager{host: host}
}

// Current returns the live session, or nil.
func (me *Manager) Current() *Session {
	if me.current == nil || me.current.IsFinished() {
		return nil
	}
	return me.current
}

// Start cancels the live session, if any, and starts tmpl at the caret.
func (me *Manager) Start(ctx context.Context, tmpl *template.Template, opts ...Option) (*Session, error) {
	if cur := me.Current(); cur != nil {
		zerolog.Ctx(ctx).Debug().Str("session_id", cur.ID()).Msg("replacing live session")
		cur.Cancel(ctx)
	}
	s := New(me.host, tmpl, opts...)
	me.current = s
	if err := s.Start(ctx); err != nil {
		me.current = nil
		return nil, err
	}
	return s, nil
}

// ExpandAbbreviation looks up the identifier left of the caret in lib and, when it names a
// template, replaces it with the expansion. It reports false when nothing was expanded.
func (me *Manager) ExpandAbbreviation(ctx context.Context, lib Library, opts ...Option) (*Session, bool, error) {
	text := me.host.Text()
	caret := me.host.CaretOffset()
	start := strings.LastIndexFunc(text[:caret], func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' && r != '-'
	}) + 1
	key := text[start:caret]
	if key == "" {
		return nil, false, nil
	}
	tmpl, ok := lib.Lookup(key)
	if !ok {
		return nil, false, nil
	}

	var s *Session
	err := me.host.RunAsOneUndoStep("expand "+key, func() error {
		if err := me.host.ReplaceText(start, caret, ""); err != nil {
			return errors.Errorf("removing abbreviation %q: %w", key, err)
		}
		me.host.MoveCaret(start)
		var err error
		s, err = me.Start(ctx, tmpl, opts...)
		return err
	}, nil)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}
