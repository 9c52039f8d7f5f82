// Package session runs the interactive expansion of a live template inside a buffer.
//
// A Session inserts the template text, keeps every placeholder occurrence in a tracked
// segment, recomputes variable values as the user edits, and walks the user through the
// tab stops until it finishes or is cancelled. Sessions are single threaded: every method
// and every buffer edit must happen on the goroutine driving the buffer.
package session

import (
	"context"
	"maps"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/livetmpl/pkg/buffer"
	"github.com/walteh/livetmpl/pkg/expr"
	"github.com/walteh/livetmpl/pkg/position"
	"github.com/walteh/livetmpl/pkg/segment"
	"github.com/walteh/livetmpl/pkg/template"
)

var (
	ErrRecomputeDiverged = errors.Base("variable recomputation did not settle")
	ErrSegmentsInvalid   = errors.Base("template segment destroyed by an edit")
	ErrAlreadyStarted    = errors.Base("session already started")
)

type Session struct {
	id   string
	host buffer.Host
	tmpl *template.Template
	opts options
	log  zerolog.Logger

	segments      *segment.Tracker
	templateRange buffer.RangeID
	listeners     listenerSet
	removeEdits   func()

	state      State
	current    int
	currentSeg int
	err        error
	started    bool

	startCaret          int
	selectionCaptured   bool
	selectionCalculated bool
	indented            bool
	reformatting        bool

	// writing counts nested session edits, which the edit listener ignores.
	writing       int
	pendingCancel bool
	pendingRecalc bool

	choiceToken int
	final       map[string]string
}

// New prepares a session expanding tmpl into host. Nothing happens until Start.
func New(host buffer.Host, tmpl *template.Template, opts ...Option) *Session {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	me := &Session{
		id:         uuid.NewString(),
		host:       host,
		tmpl:       tmpl,
		opts:       o,
		current:    -1,
		currentSeg: -1,
	}
	for _, l := range o.listeners {
		me.listeners.add(l)
	}
	return me
}

func (me *Session) ID() string { return me.id }

func (me *Session) Template() *template.Template { return me.tmpl }

func (me *Session) State() State { return me.state }

// IsFinished reports whether the session reached a terminal state, finished or cancelled.
func (me *Session) IsFinished() bool { return me.state.Terminal() }

// Err is the structural failure that cancelled the session, if any.
func (me *Session) Err() error { return me.err }

// Subscribe adds l and returns a function removing it again.
func (me *Session) Subscribe(l Listener) (remove func()) {
	return me.listeners.add(l)
}

// CurrentVariable returns the focused variable and its index, or "" and -1.
func (me *Session) CurrentVariable() (string, int) {
	if me.current < 0 {
		return "", -1
	}
	return me.tmpl.Variable(me.current).Name, me.current
}

// VariableValue returns the current text of a variable. After the session is over it
// reports the values the session ended with.
func (me *Session) VariableValue(name string) (string, bool) {
	if me.final != nil {
		v, ok := me.final[name]
		return v, ok
	}
	switch name {
	case template.Selection:
		v, ok := me.opts.properties[template.Selection]
		return v, ok
	case template.End:
		return "", true
	}
	if v, ok := me.opts.predefined[name]; ok {
		return v, true
	}
	seg := me.tmpl.VariableSegment(name)
	if seg < 0 || me.segments == nil || seg >= me.segments.Len() {
		return "", false
	}
	return me.segments.Text(seg), true
}

func (me *Session) valueText(name string) string {
	v, _ := me.VariableValue(name)
	return v
}

// SegmentRange returns the buffer range of the first occurrence of name while the session
// is live.
func (me *Session) SegmentRange(name string) (position.Range, bool) {
	seg := me.tmpl.VariableSegment(name)
	if seg < 0 || me.segments == nil || seg >= me.segments.Len() {
		return position.Range{}, false
	}
	return me.segments.Bounds(seg), true
}

// TemplateRange returns the range covering the expanded text while the session is live.
func (me *Session) TemplateRange() (position.Range, bool) {
	if me.templateRange == 0 || me.state.Terminal() {
		return position.Range{}, false
	}
	start, end := me.host.RangeBounds(me.templateRange)
	return position.Range{Start: start, End: end}, true
}

func (me *Session) live() bool {
	return me.state == Active || me.state == AwaitingChoice
}

// withLogger attaches the session logger to ctx.
func (me *Session) withLogger(ctx context.Context) context.Context {
	return me.log.WithContext(ctx)
}

// edit runs fn as a session-owned buffer change.
func (me *Session) edit(fn func() error) error {
	me.writing++
	defer func() { me.writing-- }()
	return fn()
}

// Start inserts the template at the caret and enters the first tab stop. The returned
// error only reports an unusable template or a buffer failure before anything was written.
// In that case the session ends up Cancelled without any listener being called. Later
// failures cancel the session and reach the listeners.
func (me *Session) Start(ctx context.Context) error {
	if me.started {
		return errors.Errorf("%w: %s", ErrAlreadyStarted, me.id)
	}
	me.started = true
	if !me.tmpl.IsParsed() {
		me.state = Cancelled
		me.err = errors.Errorf("%w: %s", template.ErrNotParsed, me.tmpl.Key)
		return me.err
	}
	me.log = zerolog.Ctx(ctx).With().Str("session_id", me.id).Str("template", me.tmpl.Key).Logger()
	ctx = me.withLogger(ctx)
	me.startCaret = me.host.CaretOffset()

	inserted := false
	err := me.host.RunAsOneUndoStep("expand "+me.tmpl.Key, func() error {
		if err := me.insert(ctx); err != nil {
			return err
		}
		inserted = true
		me.begin(ctx)
		return nil
	}, me.startUndone)
	if err != nil && !inserted {
		me.state = Cancelled
		me.err = err
		me.release()
		return errors.Errorf("starting template %s: %w", me.tmpl.Key, err)
	}
	return nil
}

func (me *Session) startUndone() {
	ctx := me.withLogger(context.Background())
	zerolog.Ctx(ctx).Debug().Msg("template expansion undone")
	me.cancel(ctx, nil)
	me.host.MoveCaret(me.startCaret)
}

func (me *Session) insert(ctx context.Context) error {
	return me.edit(func() error {
		if start, end, ok := me.host.Selection(); ok && me.tmpl.IsSelectionTemplate() {
			me.opts.properties[template.Selection] = position.Range{Start: start, End: end}.Slice(me.host.Text())
			me.selectionCaptured = true
			me.host.RemoveSelection()
			if err := me.host.ReplaceText(start, end, ""); err != nil {
				return errors.Errorf("removing selection: %w", err)
			}
			me.host.MoveCaret(start)
		} else {
			me.host.RemoveSelection()
		}

		caret := me.host.CaretOffset()
		text := me.tmpl.Text()
		if me.tmpl.Inline {
			if caret+len(text) > me.host.Len() {
				return errors.Errorf("%w: inline template %s does not fit at %d", buffer.ErrOutOfRange, me.tmpl.Key, caret)
			}
			me.templateRange = me.host.CreateTrackedRange(caret, caret+len(text))
		} else {
			me.templateRange = me.host.CreateTrackedRange(caret, caret)
		}
		me.host.SetRangeGreedy(me.templateRange, true, true)

		if !me.tmpl.Inline {
			if err := me.host.InsertText(caret, text); err != nil {
				me.host.ReleaseRange(me.templateRange)
				me.templateRange = 0
				return errors.Errorf("inserting template text: %w", err)
			}
		}

		me.segments = segment.NewTracker(me.host)
		start, _ := me.host.RangeBounds(me.templateRange)
		for i := 0; i < me.tmpl.SegmentsCount(); i++ {
			off := start + me.tmpl.SegmentOffset(i)
			me.segments.Add(off, off)
		}
		me.removeEdits = me.host.AddEditListener(editListener{me})

		zerolog.Ctx(ctx).Debug().Int("offset", caret).Int("segments", me.segments.Len()).Msg("template inserted")
		return nil
	})
}

func (me *Session) begin(ctx context.Context) {
	me.state = Active

	for range 2 {
		if !me.calcResults(ctx, expr.Full) {
			return
		}
	}
	if !me.doReformat(ctx) {
		return
	}

	next := me.nextVariable(ctx, -1)
	if next < 0 {
		me.finish(ctx, false)
		return
	}

	me.listeners.fire(ctx, "waiting-for-input", func(l Listener) { l.WaitingForInput(me) })
	if me.state.Terminal() {
		return
	}
	me.setCurrent(next)
	me.fireCurrentChanged(ctx, -1)
	me.focus(ctx)
}

// NextTab commits the focused variable and moves to the next tab stop, finishing the
// session when there is none. It does nothing while a choice is pending.
func (me *Session) NextTab(ctx context.Context) {
	if me.state != Active {
		return
	}
	ctx = me.withLogger(ctx)
	_ = me.host.RunAsOneUndoStep("next tab", func() error {
		old := me.current
		next := me.nextVariable(ctx, old)
		if next < 0 {
			me.gotoEnd(ctx, false)
			return nil
		}
		if !me.calcResults(ctx, expr.Full) || !me.doReformat(ctx) {
			return nil
		}
		me.setCurrent(next)
		me.fireCurrentChanged(ctx, old)
		me.focus(ctx)
		return nil
	}, nil)
}

// PreviousTab moves back to the previous tab stop, if any. It does nothing while a choice
// is pending.
func (me *Session) PreviousTab(ctx context.Context) {
	if me.state != Active {
		return
	}
	ctx = me.withLogger(ctx)
	_ = me.host.RunAsOneUndoStep("previous tab", func() error {
		old := me.current
		prev := me.previousVariable(ctx, old)
		if prev < 0 {
			return nil
		}
		if !me.calcResults(ctx, expr.Full) || !me.doReformat(ctx) {
			return nil
		}
		me.setCurrent(prev)
		me.fireCurrentChanged(ctx, old)
		me.focus(ctx)
		return nil
	}, nil)
}

// GotoEnd runs one full recomputation and finishes without visiting the remaining stops.
// It does nothing while a choice is pending.
func (me *Session) GotoEnd(ctx context.Context) {
	if me.state != Active {
		return
	}
	ctx = me.withLogger(ctx)
	_ = me.host.RunAsOneUndoStep("finish template", func() error {
		me.gotoEnd(ctx, true)
		return nil
	}, nil)
}

func (me *Session) gotoEnd(ctx context.Context, brokenOff bool) {
	if !me.segments.IsInvalid() {
		if !me.calcResults(ctx, expr.Full) {
			return
		}
	}
	if !brokenOff && !me.doReformat(ctx) {
		return
	}
	me.finish(ctx, brokenOff)
}

// Cancel tears the session down without moving the caret.
func (me *Session) Cancel(ctx context.Context) {
	me.cancel(me.withLogger(ctx), nil)
}

func (me *Session) setCurrent(i int) {
	me.current = i
	me.currentSeg = -1
	if i >= 0 {
		me.currentSeg = me.tmpl.VariableSegment(me.tmpl.Variable(i).Name)
	}
	me.applyGreedy()
}

// applyGreedy keeps only the focused segment and END greedy.
func (me *Session) applyGreedy() {
	if me.segments == nil {
		return
	}
	if me.reformatting {
		me.segments.SetAllGreedy(false)
		return
	}
	me.segments.SetActive(me.currentSeg, me.tmpl.EndSegment())
}

func (me *Session) fireCurrentChanged(ctx context.Context, old int) {
	cur := me.current
	me.listeners.fire(ctx, "current-variable-changed", func(l Listener) { l.CurrentVariableChanged(me, old, cur) })
}

// focus selects the current segment and either offers a choice or runs a focus action.
func (me *Session) focus(ctx context.Context) {
	if !me.live() || me.currentSeg < 0 {
		return
	}
	r := me.segments.Bounds(me.currentSeg)
	me.host.RemoveSelection()
	me.host.MoveCaret(r.End)
	me.host.SetSelection(r.Start, r.End)

	v := me.tmpl.Variable(me.current)
	ec := me.evalContext(r.Start)
	zerolog.Ctx(ctx).Debug().Str("variable", v.Name).Stringer("range", r).Msg("focusing variable")

	if cands := expr.Candidates(ctx, v.Expr(), ec); len(cands) > 1 {
		me.offerChoice(ctx, v.Name, cands, r)
		return
	}
	if action, ok := expr.Evaluate(ctx, v.Expr(), ec, expr.Full).(expr.ActionResult); ok {
		me.runAction(ctx, action, me.currentSeg)
	}
}

func (me *Session) runAction(ctx context.Context, action expr.ActionResult, seg int) {
	if action.Run == nil {
		return
	}
	if err := action.Run(ctx, target{me, seg}); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Int("segment", seg).Msg("template action failed")
	}
}

// finish moves the caret to its final place and tears the session down.
func (me *Session) finish(ctx context.Context, brokenOff bool) {
	if me.state.Terminal() {
		return
	}
	me.setFinalEditorState()
	me.snapshot()
	zerolog.Ctx(ctx).Debug().Bool("broken_off", brokenOff).Msg("template finished")

	me.listeners.fire(ctx, "before-finished", func(l Listener) { l.BeforeFinished(me, brokenOff) })
	me.state = Finished
	me.cleanup(ctx)
	me.listeners.fire(ctx, "finished", func(l Listener) { l.TemplateFinished(me, brokenOff) })
}

func (me *Session) cancel(ctx context.Context, cause error) {
	if me.state.Terminal() || !me.started {
		return
	}
	if cause != nil {
		zerolog.Ctx(ctx).Error().Err(cause).Msg("cancelling template")
	} else {
		zerolog.Ctx(ctx).Debug().Msg("cancelling template")
	}
	me.snapshot()
	me.err = cause
	me.state = Cancelled
	me.cleanup(ctx)
	me.listeners.fire(ctx, "cancelled", func(l Listener) { l.TemplateCancelled(me) })
}

func (me *Session) cleanup(ctx context.Context) {
	old := me.current
	me.current = -1
	me.currentSeg = -1
	me.release()
	if old >= 0 {
		me.listeners.fire(ctx, "current-variable-changed", func(l Listener) { l.CurrentVariableChanged(me, old, -1) })
	}
}

func (me *Session) release() {
	if me.removeEdits != nil {
		me.removeEdits()
		me.removeEdits = nil
	}
	if me.segments != nil {
		me.segments.ReleaseAll()
	}
	if me.templateRange != 0 {
		me.host.ReleaseRange(me.templateRange)
		me.templateRange = 0
	}
}

func (me *Session) snapshot() {
	if me.final != nil {
		return
	}
	final := make(map[string]string, me.tmpl.VariableCount()+2)
	for _, v := range me.tmpl.Variables() {
		if val, ok := me.VariableValue(v.Name); ok {
			final[v.Name] = val
		}
	}
	if v, ok := me.opts.properties[template.Selection]; ok {
		final[template.Selection] = v
	}
	maps.Copy(final, me.opts.predefined)
	me.final = final
}

// finalSegment is the segment the caret goes to: END, or SELECTION when no selection was
// captured.
func (me *Session) finalSegment() int {
	seg := me.tmpl.EndSegment()
	if seg < 0 && !me.selectionCaptured {
		seg = me.tmpl.SelectionSegment()
	}
	return seg
}

func (me *Session) setFinalEditorState() {
	me.host.RemoveSelection()

	offset := -1
	if seg := me.finalSegment(); seg >= 0 {
		offset = me.segments.Bounds(seg).Start
	} else if !me.tmpl.IsSelectionTemplate() && !me.tmpl.Inline {
		_, offset = me.host.RangeBounds(me.templateRange)
	}
	if offset >= 0 {
		me.host.MoveCaret(offset)
	}

	selStart, selEnd := me.tmpl.SelectionStartSegment(), me.tmpl.SelectionEndSegment()
	if selStart >= 0 && selEnd >= 0 {
		me.host.SetSelection(me.segments.Bounds(selStart).Start, me.segments.Bounds(selEnd).Start)
	}
}

type target struct {
	s   *Session
	seg int
}

var _ expr.Target = target{}

func (me target) Range() position.Range { return me.s.segments.Bounds(me.seg) }

func (me target) DocumentText() string { return me.s.host.Text() }

func (me target) Replace(text string) error { return me.s.write(me.seg, text) }

type evalContext struct {
	s     *Session
	start int
}

var _ expr.Context = evalContext{}

func (me *Session) evalContext(start int) evalContext {
	return evalContext{s: me, start: start}
}

func (me evalContext) VariableValue(name string) (string, bool) { return me.s.VariableValue(name) }

func (me evalContext) Property(key string) (string, bool) {
	v, ok := me.s.opts.properties[key]
	return v, ok
}

func (me evalContext) StartOffset() int { return me.start }

func (me evalContext) TemplateStartOffset() int {
	start, _ := me.s.host.RangeBounds(me.s.templateRange)
	return start
}

func (me evalContext) TemplateEndOffset() int {
	_, end := me.s.host.RangeBounds(me.s.templateRange)
	return end
}

func (me evalContext) DocumentText() string { return me.s.host.Text() }
