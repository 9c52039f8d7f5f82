package session

import (
	"context"
	"slices"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/livetmpl/pkg/expr"
	"github.com/walteh/livetmpl/pkg/postprocess"
	"github.com/walteh/livetmpl/pkg/template"
)

// calcResults recomputes every variable after the focused one until the segments settle.
// It reports false when the session ended on the way.
func (me *Session) calcResults(ctx context.Context, mode expr.Mode) bool {
	if !me.live() {
		return false
	}
	if me.segments.IsInvalid() {
		me.cancel(ctx, errors.Errorf("%w: before %s recomputation", ErrSegmentsInvalid, mode))
		return false
	}
	if p := me.opts.variableProcessor; p != nil && me.current >= 0 {
		name := me.tmpl.Variable(me.current).Name
		if v := me.valueText(name); v != "" && !p(name, v) {
			zerolog.Ctx(ctx).Debug().Str("variable", name).Msg("value rejected by variable processor")
			me.finish(ctx, false)
			return false
		}
	}

	me.fixOverlappedSegments()

	limit := (me.tmpl.VariableCount() + 1) * me.opts.capFactor
	for pass := 0; ; pass++ {
		if pass >= limit {
			err := errors.Errorf("%w: %d passes over %d variables", ErrRecomputeDiverged, pass, me.tmpl.VariableCount())
			zerolog.Ctx(ctx).Error().Err(err).Str("mode", mode.String()).Msg("recomputation did not settle")
			me.cancel(ctx, err)
			return false
		}

		changed := map[int]bool{}
		for i := me.current + 1; i < me.tmpl.VariableCount(); i++ {
			v := me.tmpl.Variable(i)
			if _, ok := me.opts.predefined[v.Name]; ok {
				continue
			}
			seg := me.tmpl.VariableSegment(v.Name)
			if seg < 0 {
				continue
			}
			wrote, err := me.recalcSegment(ctx, seg, mode, v.Expr(), v.DefaultExpr())
			if err != nil {
				me.cancel(ctx, err)
				return false
			}
			if !me.live() {
				return false
			}
			if wrote {
				changed[seg] = true
			}
		}

		mirrored, err := me.syncSegments(changed)
		if err != nil {
			me.cancel(ctx, err)
			return false
		}
		if len(changed) == 0 && !mirrored {
			break
		}
	}

	me.selectionCalculated = true
	return true
}

// recalcSegment evaluates e for segment seg and writes the result when it differs from the
// current text.
func (me *Session) recalcSegment(ctx context.Context, seg int, mode expr.Mode, e, def expr.Expression) (bool, error) {
	old := me.segments.Text(seg)
	ec := me.evalContext(me.segments.Bounds(seg).Start)

	res := expr.Evaluate(ctx, e, ec, mode)
	if mode == expr.Quick && res == nil && old != "" {
		return false, nil
	}
	if expr.Text(res) == "" {
		// an empty value would merge this segment with the focused one
		if me.currentSeg >= 0 && seg != me.currentSeg && me.segments.Touches(seg, me.currentSeg) {
			return false, nil
		}
		if def != nil {
			res = expr.Evaluate(ctx, def, ec, mode)
		}
	}
	if res == nil || res.Text() == old {
		return false, nil
	}

	if err := me.write(seg, res.Text()); err != nil {
		return false, err
	}
	if action, ok := res.(expr.ActionResult); ok && mode == expr.Full {
		me.runAction(ctx, action, seg)
	}
	return true, nil
}

// syncSegments copies every variable value into the occurrences that do not show it yet,
// last occurrence first.
func (me *Session) syncSegments(skip map[int]bool) (bool, error) {
	order := make([]int, 0, me.segments.Len())
	for i := range me.segments.Len() {
		name := me.tmpl.SegmentName(i)
		if skip[i] || name == template.End || (name == template.Selection && me.selectionCalculated) {
			continue
		}
		order = append(order, i)
	}
	slices.SortFunc(order, func(a, b int) int {
		return me.segments.Bounds(b).Start - me.segments.Bounds(a).Start
	})

	mirrored := false
	for _, i := range order {
		want := me.valueText(me.tmpl.SegmentName(i))
		if me.segments.Text(i) == want {
			continue
		}
		if err := me.write(i, want); err != nil {
			return mirrored, err
		}
		mirrored = true
	}
	return mirrored, nil
}

// fixOverlappedSegments clips a segment that grew into the one after it.
func (me *Session) fixOverlappedSegments() {
	for i := 0; i+1 < me.segments.Len(); i++ {
		a, b := me.segments.Bounds(i), me.segments.Bounds(i+1)
		if a.End > b.Start && a.Start <= b.Start {
			me.segments.Reset(i, a.Start, b.Start)
		}
	}
}

// write replaces the text of segment seg as a session-owned edit.
func (me *Session) write(seg int, text string) error {
	return me.edit(func() error {
		me.segments.SetNeighboursGreedy(seg, false)
		defer me.applyGreedy()
		return me.segments.Replace(seg, text)
	})
}

func (me *Session) isTabStop(ctx context.Context, i int) bool {
	v := me.tmpl.Variable(i)
	if me.current == -1 && v.SkipOnStart {
		return false
	}
	if _, predefined := me.opts.predefined[v.Name]; !predefined && v.AlwaysStop {
		return true
	}
	seg := me.tmpl.VariableSegment(v.Name)
	if seg < 0 {
		return false
	}
	ec := me.evalContext(me.segments.Bounds(seg).Start)
	res := expr.Evaluate(ctx, v.Expr(), ec, expr.Full)
	if expr.Text(res) == "" && v.DefaultExpr() != nil {
		res = expr.Evaluate(ctx, v.DefaultExpr(), ec, expr.Full)
	}
	if res == nil {
		return true
	}
	return len(expr.Candidates(ctx, v.Expr(), ec)) > 1
}

func (me *Session) nextVariable(ctx context.Context, from int) int {
	for i := from + 1; i < me.tmpl.VariableCount(); i++ {
		if me.isTabStop(ctx, i) {
			return i
		}
	}
	return -1
}

func (me *Session) previousVariable(ctx context.Context, from int) int {
	for i := from - 1; i >= 0; i-- {
		if me.isTabStop(ctx, i) {
			return i
		}
	}
	return -1
}

// doReformat runs the post processors over the templated range. Empty segments hold a
// filler while the processors run so that they keep their place.
func (me *Session) doReformat(ctx context.Context) bool {
	if !me.live() {
		return false
	}
	filled, ok := me.initEmptyVariables()
	if !ok {
		me.cancel(ctx, errors.Errorf("%w: filling empty segments", ErrSegmentsInvalid))
		return false
	}

	me.reformatting = true
	me.applyGreedy()

	processors := me.opts.processors
	if me.indented {
		processors = slices.DeleteFunc(slices.Clone(processors), func(p postprocess.Processor) bool {
			o, ok := p.(postprocess.Once)
			return ok && o.Once()
		})
	}

	start, end := me.host.RangeBounds(me.templateRange)
	req := postprocess.Request{
		Host:     me.host,
		Template: me.tmpl,
		Settings: me.opts.settings,
	}
	req.Range.Start, req.Range.End = start, end
	err := me.edit(func() error { return postprocess.Run(ctx, req, processors...) })
	me.indented = true

	me.reformatting = false
	me.applyGreedy()

	for _, seg := range filled {
		if werr := me.write(seg, ""); werr != nil && err == nil {
			err = werr
		}
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("post processing failed")
	}
	if me.segments.IsInvalid() {
		me.cancel(ctx, errors.Errorf("%w: after post processing", ErrSegmentsInvalid))
		return false
	}
	return true
}

func (me *Session) initEmptyVariables() ([]int, bool) {
	var filled []int
	for i := range me.segments.Len() {
		name := me.tmpl.SegmentName(i)
		if name == template.End || name == template.SelectionStart || name == template.SelectionEnd {
			continue
		}
		if me.segments.Text(i) != "" {
			continue
		}
		var e expr.Expression
		if idx := me.tmpl.VariableIndex(name); idx >= 0 {
			e = me.tmpl.Variable(idx).Expr()
		}
		if err := me.write(i, expr.DefaultFiller(e)); err != nil {
			return filled, false
		}
		filled = append(filled, i)
	}
	return filled, true
}
