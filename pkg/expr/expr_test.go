package expr_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/livetmpl/pkg/expr"
)

type fakeContext struct {
	vars  map[string]string
	props map[string]string
}

func (me fakeContext) VariableValue(name string) (string, bool) {
	v, ok := me.vars[name]
	return v, ok
}

func (me fakeContext) Property(key string) (string, bool) {
	v, ok := me.props[key]
	return v, ok
}

func (fakeContext) StartOffset() int         { return 0 }
func (fakeContext) TemplateStartOffset() int { return 0 }
func (fakeContext) TemplateEndOffset() int   { return 0 }
func (fakeContext) DocumentText() string     { return "" }

type upperMacro struct{}

func (upperMacro) Name() string { return "upper" }

func (upperMacro) Evaluate(_ context.Context, args []expr.Result, _ expr.Context, _ expr.Mode) (expr.Result, error) {
	if len(args) != 1 || args[0] == nil {
		return nil, nil
	}
	return expr.TextResult{Value: strings.ToUpper(args[0].Text())}, nil
}

func (upperMacro) DefaultFiller() string { return "X" }

type failingMacro struct{ panics bool }

func (failingMacro) Name() string { return "fail" }

func (me failingMacro) Evaluate(context.Context, []expr.Result, expr.Context, expr.Mode) (expr.Result, error) {
	if me.panics {
		panic("boom")
	}
	return nil, errors.New("boom")
}

type pickMacro struct{}

func (pickMacro) Name() string   { return "pick" }
func (pickMacro) FullOnly() bool { return true }

func (pickMacro) Evaluate(_ context.Context, args []expr.Result, _ expr.Context, _ expr.Mode) (expr.Result, error) {
	cands := make([]expr.Candidate, 0, len(args))
	for _, a := range args {
		cands = append(cands, expr.Candidate{Value: expr.Text(a)})
	}
	if len(cands) == 0 {
		return nil, nil
	}
	return expr.ObjectResult{Value: cands[0].Value, Candidates: cands}, nil
}

type resolver map[string]expr.Macro

func (me resolver) Lookup(name string) (expr.Macro, bool) {
	m, ok := me[name]
	return m, ok
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()
	ec := fakeContext{vars: map[string]string{"A": "x", "EMPTY": ""}}

	tests := []struct {
		name string
		expr expr.Expression
		mode expr.Mode
		want expr.Result
	}{
		{name: "nil expression", expr: nil, want: nil},
		{name: "constant", expr: expr.Constant{Value: "i"}, want: expr.TextResult{Value: "i"}},
		{name: "constant in quick mode", expr: expr.Constant{Value: "i"}, mode: expr.Quick, want: expr.TextResult{Value: "i"}},
		{name: "variable reference", expr: expr.VariableRef{Name: "A"}, want: expr.TextResult{Value: "x"}},
		{name: "unknown variable defers", expr: expr.VariableRef{Name: "B"}},
		{name: "empty variable defers", expr: expr.VariableRef{Name: "EMPTY"}},
		{
			name: "macro over reference",
			expr: expr.MacroCall{Name: "upper", Macro: upperMacro{}, Args: []expr.Expression{expr.VariableRef{Name: "A"}}},
			mode: expr.Full,
			want: expr.TextResult{Value: "X"},
		},
		{
			name: "macro with deferred argument",
			expr: expr.MacroCall{Name: "upper", Macro: upperMacro{}, Args: []expr.Expression{expr.VariableRef{Name: "B"}}},
			mode: expr.Full,
		},
		{name: "unresolved macro", expr: expr.MacroCall{Name: "nope"}, mode: expr.Full},
		{name: "macro error is absorbed", expr: expr.MacroCall{Name: "fail", Macro: failingMacro{}}, mode: expr.Full},
		{name: "macro panic is absorbed", expr: expr.MacroCall{Name: "fail", Macro: failingMacro{panics: true}}, mode: expr.Full},
		{
			name: "full only macro is skipped in quick mode",
			expr: expr.MacroCall{Name: "pick", Macro: pickMacro{}, Args: []expr.Expression{expr.Constant{Value: "a"}}},
			mode: expr.Quick,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := expr.Evaluate(ctx, tt.expr, ec, tt.mode)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCandidates(t *testing.T) {
	ctx := context.Background()
	ec := fakeContext{}

	call := expr.MacroCall{Name: "pick", Macro: pickMacro{}, Args: []expr.Expression{
		expr.Constant{Value: "a"}, expr.Constant{Value: "b"}, expr.Constant{Value: "c"},
	}}
	cands := expr.Candidates(ctx, call, ec)
	require.Len(t, cands, 3)
	assert.Equal(t, "b", cands[1].Value)

	res := expr.Evaluate(ctx, call, ec, expr.Full)
	assert.Equal(t, "a", expr.Text(res))

	assert.Empty(t, expr.Candidates(ctx, expr.Constant{Value: "a"}, ec))
	assert.Empty(t, expr.Candidates(ctx, expr.MacroCall{Name: "fail", Macro: failingMacro{panics: true}}, ec))
}

func TestDefaultFiller(t *testing.T) {
	assert.Equal(t, "X", expr.DefaultFiller(expr.MacroCall{Name: "upper", Macro: upperMacro{}}))
	assert.Equal(t, "a", expr.DefaultFiller(expr.Constant{Value: "zzz"}))
	assert.Equal(t, "a", expr.DefaultFiller(nil))
}

func TestParse(t *testing.T) {
	p, err := expr.NewParser(resolver{"upper": upperMacro{}, "pick": pickMacro{}}, 16)
	require.NoError(t, err)

	tests := []struct {
		name    string
		src     string
		want    string
		refs    []string
		wantErr error
	}{
		{name: "blank", src: "   ", want: ""},
		{name: "string constant", src: `"i"`, want: `"i"`},
		{name: "escaped string", src: `"say \"hi\""`, want: `"say \"hi\""`},
		{name: "number constant", src: `42`, want: `"42"`},
		{name: "variable", src: `NAME`, want: `NAME`, refs: []string{"NAME"}},
		{name: "call without args", src: `pick()`, want: `pick()`},
		{name: "nested call", src: `upper( pick(A, "b") )`, want: `upper(pick(A, "b"))`, refs: []string{"A"}},
		{name: "unknown macro", src: `nope(A)`, wantErr: expr.ErrUnknownMacro},
		{name: "unbalanced", src: `upper(A`, wantErr: expr.ErrSyntax},
		{name: "trailing garbage", src: `A B`, wantErr: expr.ErrSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Parse(tt.src)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.want, got.String())
			assert.Equal(t, tt.refs, expr.References(got))
		})
	}
}

func TestParseIsCached(t *testing.T) {
	p, err := expr.NewParser(resolver{"upper": upperMacro{}}, 4)
	require.NoError(t, err)

	a := p.MustParse(`upper(A)`)
	b := p.MustParse(`  upper(A)  `)
	assert.Equal(t, a, b)
	assert.Panics(t, func() { p.MustParse(`upper(`) })
}
