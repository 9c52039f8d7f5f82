package macro

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	lru "github.com/hashicorp/golang-lru/v2"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/livetmpl/pkg/expr"
)

// CELScript evaluates a CEL program: celScript(script, arg1, arg2, ...). The arguments are
// visible to the script as the string variables _1, _2 and so on. A list result offers its
// elements as candidates.
type CELScript struct {
	programs *lru.Cache[string, cel.Program]
}

var (
	_ expr.Macro           = (*CELScript)(nil)
	_ expr.CandidateLister = (*CELScript)(nil)
)

func NewCELScript(cacheSize int) *CELScript {
	if cacheSize <= 0 {
		cacheSize = 64
	}
	programs, err := lru.New[string, cel.Program](cacheSize)
	if err != nil {
		panic(err)
	}
	return &CELScript{programs: programs}
}

func (*CELScript) Name() string { return "celScript" }

func (me *CELScript) Evaluate(_ context.Context, args []expr.Result, _ expr.Context, _ expr.Mode) (expr.Result, error) {
	out, err := me.run(args)
	if err != nil || out == nil {
		return nil, err
	}

	if list, ok := out.(traits.Lister); ok {
		cands := listCandidates(list)
		if len(cands) == 0 {
			return nil, nil
		}
		return expr.ObjectResult{Value: cands[0].Value, Candidates: cands}, nil
	}

	text := fmt.Sprint(out.Value())
	if text == "" {
		return nil, nil
	}
	return expr.TextResult{Value: text}, nil
}

func (me *CELScript) Candidates(_ context.Context, args []expr.Result, _ expr.Context) ([]expr.Candidate, error) {
	out, err := me.run(args)
	if err != nil || out == nil {
		return nil, err
	}
	if list, ok := out.(traits.Lister); ok {
		return listCandidates(list), nil
	}
	return nil, nil
}

func (me *CELScript) run(args []expr.Result) (ref.Val, error) {
	if len(args) == 0 || expr.Text(args[0]) == "" {
		return nil, nil
	}
	script := expr.Text(args[0])
	params := args[1:]

	prg, err := me.program(script, len(params))
	if err != nil {
		return nil, err
	}

	vars := make(map[string]any, len(params))
	for i, p := range params {
		vars[argName(i)] = expr.Text(p)
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		return nil, errors.Errorf("evaluating cel script %q: %w", script, err)
	}
	return out, nil
}

func (me *CELScript) program(script string, arity int) (cel.Program, error) {
	key := strconv.Itoa(arity) + "\x00" + script
	if prg, ok := me.programs.Get(key); ok {
		return prg, nil
	}

	opts := make([]cel.EnvOption, 0, arity+1)
	opts = append(opts, cel.HomogeneousAggregateLiterals())
	for i := 0; i < arity; i++ {
		opts = append(opts, cel.Variable(argName(i), cel.StringType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, errors.Errorf("creating cel environment: %w", err)
	}
	ast, iss := env.Compile(script)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Errorf("compiling cel script %q: %w", script, iss.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Errorf("building cel program %q: %w", script, err)
	}
	me.programs.Add(key, prg)
	return prg, nil
}

func argName(i int) string {
	return "_" + strconv.Itoa(i+1)
}

func listCandidates(list traits.Lister) []expr.Candidate {
	var out []expr.Candidate
	it := list.Iterator()
	for it.HasNext() == types.True {
		v := fmt.Sprint(it.Next().Value())
		if v != "" {
			out = append(out, expr.Candidate{Value: v})
		}
	}
	return out
}
