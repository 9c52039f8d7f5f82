package expr

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

const defaultFiller = "a"

// Evaluate computes e. A nil Expression, an unresolved macro, a failing macro and a
// reference to a variable without text all yield nil.
func Evaluate(ctx context.Context, e Expression, ec Context, mode Mode) Result {
	switch n := e.(type) {
	case nil:
		return nil
	case Constant:
		return TextResult{Value: n.Value}
	case VariableRef:
		v, ok := ec.VariableValue(n.Name)
		if !ok || v == "" {
			return nil
		}
		return TextResult{Value: v}
	case MacroCall:
		return evaluateMacro(ctx, n, ec, mode)
	default:
		panic(fmt.Sprintf("unexpected expression type %T", e))
	}
}

func evaluateArgs(ctx context.Context, call MacroCall, ec Context, mode Mode) []Result {
	args := make([]Result, len(call.Args))
	for i, a := range call.Args {
		args[i] = Evaluate(ctx, a, ec, mode)
	}
	return args
}

func evaluateMacro(ctx context.Context, call MacroCall, ec Context, mode Mode) (res Result) {
	if call.Macro == nil {
		return nil
	}
	if f, ok := call.Macro.(FullOnly); ok && mode == Quick && f.FullOnly() {
		return nil
	}

	args := evaluateArgs(ctx, call, ec, mode)

	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Warn().Str("macro", call.Name).Interface("panic", r).Msg("macro panicked, treating as no result")
			res = nil
		}
	}()

	res, err := call.Macro.Evaluate(ctx, args, ec, mode)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("macro", call.Name).Str("mode", mode.String()).Msg("macro failed, treating as no result")
		return nil
	}
	return res
}

// Candidates lists the alternatives e offers in Full mode. Only macro calls offer any.
func Candidates(ctx context.Context, e Expression, ec Context) (out []Candidate) {
	call, ok := e.(MacroCall)
	if !ok || call.Macro == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Warn().Str("macro", call.Name).Interface("panic", r).Msg("macro panicked while listing candidates")
			out = nil
		}
	}()

	if lister, ok := call.Macro.(CandidateLister); ok {
		cands, err := lister.Candidates(ctx, evaluateArgs(ctx, call, ec, Full), ec)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("macro", call.Name).Msg("listing candidates failed")
			return nil
		}
		return cands
	}

	if obj, ok := evaluateMacro(ctx, call, ec, Full).(ObjectResult); ok {
		return obj.Candidates
	}
	return nil
}

// DefaultFiller returns the text used to keep a segment of e non-empty while the
// surrounding text is post-processed.
func DefaultFiller(e Expression) string {
	if call, ok := e.(MacroCall); ok && call.Macro != nil {
		if f, ok := call.Macro.(Filler); ok && f.DefaultFiller() != "" {
			return f.DefaultFiller()
		}
	}
	return defaultFiller
}

// References lists the variable names e refers to, directly or through macro arguments.
func References(e Expression) []string {
	var out []string
	var walk func(e Expression)
	walk = func(e Expression) {
		switch n := e.(type) {
		case VariableRef:
			out = append(out, n.Name)
		case MacroCall:
			for _, a := range n.Args {
				walk(a)
			}
		}
	}
	walk(e)
	return out
}
