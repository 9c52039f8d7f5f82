package session

import (
	"context"
	"slices"

	"github.com/rs/zerolog"

	"github.com/walteh/livetmpl/pkg/buffer"
	"github.com/walteh/livetmpl/pkg/choice"
	"github.com/walteh/livetmpl/pkg/expr"
	"github.com/walteh/livetmpl/pkg/position"
)

// editListener decides, before each foreign edit lands, whether the edit stays inside the
// focused segment. Edits inside it trigger a quick recomputation, anything else cancels.
type editListener struct {
	s *Session
}

var _ buffer.EditListener = editListener{}

func (me editListener) BeforeEdit(e buffer.EditEvent) {
	s := me.s
	if s.writing > 0 || e.Undo || !s.live() {
		return
	}
	if s.currentSeg < 0 {
		s.pendingCancel = true
		return
	}
	r := s.segments.Bounds(s.currentSeg)
	if r.Start <= e.Offset && e.Offset+e.OldLen <= r.End {
		s.pendingRecalc = true
	} else {
		s.pendingCancel = true
	}
}

func (me editListener) AfterEdit(e buffer.EditEvent) {
	s := me.s
	if s.writing > 0 || e.Undo {
		return
	}
	ctx := s.withLogger(context.Background())
	switch {
	case s.pendingCancel:
		s.pendingCancel, s.pendingRecalc = false, false
		zerolog.Ctx(ctx).Debug().Stringer("edit", e.Range()).Msg("edit outside the focused segment")
		s.cancel(ctx, nil)
	case s.pendingRecalc:
		s.pendingRecalc = false
		s.claimCurrent()
		_ = s.host.RunAsOneUndoStep("update template", func() error {
			s.calcResults(ctx, expr.Quick)
			return nil
		}, nil)
	}
}

func (me *Session) offerChoice(ctx context.Context, name string, cands []expr.Candidate, r position.Range) {
	me.state = AwaitingChoice
	me.choiceToken++
	token := me.choiceToken

	text := me.segments.Text(me.currentSeg)
	pre := max(slices.IndexFunc(cands, func(c expr.Candidate) bool { return c.Value == text }), 0)

	req := choice.Request{Variable: name, Candidates: cands, Preselected: pre, Range: r}
	zerolog.Ctx(ctx).Debug().Str("variable", name).Int("candidates", len(cands)).Msg("offering choice")

	resolved := false
	me.opts.provider.Offer(ctx, req, func(c choice.Choice) {
		if resolved {
			return
		}
		resolved = true
		me.applyChoice(me.withLogger(context.Background()), token, req, c)
	})
}

func (me *Session) applyChoice(ctx context.Context, token int, req choice.Request, c choice.Choice) {
	if me.state != AwaitingChoice || token != me.choiceToken {
		zerolog.Ctx(ctx).Debug().Str("variable", req.Variable).Msg("ignoring stale choice")
		return
	}
	me.state = Active
	if c.Dismissed {
		return
	}
	if c.Index < 0 || c.Index >= len(req.Candidates) {
		zerolog.Ctx(ctx).Warn().Int("index", c.Index).Str("variable", req.Variable).Msg("choice out of range")
		return
	}

	cand := req.Candidates[c.Index]
	seg := me.currentSeg
	me.claimCurrent()
	_ = me.host.RunAsOneUndoStep("choose "+req.Variable, func() error {
		if err := me.write(seg, cand.Value); err != nil {
			me.cancel(ctx, err)
			return nil
		}
		if cand.OnSelect != nil {
			if err := cand.OnSelect(ctx, target{me, seg}); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("variable", req.Variable).Msg("candidate callback failed")
			}
		}
		me.calcResults(ctx, expr.Quick)
		return nil
	}, nil)

	if me.opts.advanceOnChoice && me.state == Active {
		me.NextTab(ctx)
	}
}

// claimCurrent lets the buffer text of the focused variable win over its predefined value
// once the variable was edited.
func (me *Session) claimCurrent() {
	if me.current >= 0 {
		delete(me.opts.predefined, me.tmpl.Variable(me.current).Name)
	}
}
