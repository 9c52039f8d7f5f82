// Package choice offers multi-candidate values to the user and reports the pick back.
package choice

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/walteh/livetmpl/pkg/expr"
	"github.com/walteh/livetmpl/pkg/position"
)

// Request describes one pending choice.
type Request struct {
	Variable   string
	Candidates []expr.Candidate
	// Preselected is the index of the candidate already written into the segment.
	Preselected int
	// Range is the segment the chosen value will be written into.
	Range position.Range
}

// Choice is the answer to a Request. A dismissed choice keeps the preselected text.
type Choice struct {
	Index     int
	Dismissed bool
}

// Provider presents a Request to the user. It may call resolve right away or at any later
// point; only the first call counts.
type Provider interface {
	Offer(ctx context.Context, req Request, resolve func(Choice))
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request, resolve func(Choice))

func (f ProviderFunc) Offer(ctx context.Context, req Request, resolve func(Choice)) {
	f(ctx, req, resolve)
}

// First picks the preselected candidate immediately.
type First struct{}

func (First) Offer(_ context.Context, req Request, resolve func(Choice)) {
	resolve(Choice{Index: req.Preselected})
}

// Scripted answers from a table of variable name to candidate value, falling back to the
// preselected candidate for unknown variables or values.
type Scripted struct {
	Values map[string]string
}

func (me Scripted) Offer(ctx context.Context, req Request, resolve func(Choice)) {
	want, ok := me.Values[req.Variable]
	if ok {
		for i, c := range req.Candidates {
			if c.Value == want {
				resolve(Choice{Index: i})
				return
			}
		}
		zerolog.Ctx(ctx).Warn().Str("variable", req.Variable).Str("value", want).Msg("scripted value is not a candidate, using preselected")
	}
	resolve(Choice{Index: req.Preselected})
}

// Deferred holds on to offered requests until the caller resolves them.
type Deferred struct {
	mu      sync.Mutex
	pending []pending
}

type pending struct {
	req     Request
	resolve func(Choice)
}

func (me *Deferred) Offer(_ context.Context, req Request, resolve func(Choice)) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.pending = append(me.pending, pending{req: req, resolve: resolve})
}

// Pending returns the oldest unresolved request.
func (me *Deferred) Pending() (Request, bool) {
	me.mu.Lock()
	defer me.mu.Unlock()
	if len(me.pending) == 0 {
		return Request{}, false
	}
	return me.pending[0].req, true
}

// Resolve answers the oldest request. It reports false when nothing is pending.
func (me *Deferred) Resolve(c Choice) bool {
	me.mu.Lock()
	if len(me.pending) == 0 {
		me.mu.Unlock()
		return false
	}
	p := me.pending[0]
	me.pending = me.pending[1:]
	me.mu.Unlock()

	p.resolve(c)
	return true
}

// Pick resolves the oldest request with the candidate at index.
func (me *Deferred) Pick(index int) bool {
	return me.Resolve(Choice{Index: index})
}

func (me *Deferred) Dismiss() bool {
	return me.Resolve(Choice{Dismissed: true})
}
