// Package expr holds the expression language used to compute template variable values.
//
// An Expression is one of Constant, VariableRef or MacroCall. Evaluating it against a
// Context yields a Result, or nil when there is no applicable value.
package expr

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/walteh/livetmpl/pkg/position"
)

// Mode selects how thorough an evaluation is.
type Mode int

const (
	// Quick runs on every edit. Expensive or side-effecting work is skipped.
	Quick Mode = iota
	// Full runs once per tab transition.
	Full
)

func (m Mode) String() string {
	if m == Full {
		return "full"
	}
	return "quick"
}

// Expression is a closed union: Constant, VariableRef or MacroCall.
type Expression interface {
	fmt.Stringer
	isExpression()
}

// Constant always evaluates to its text.
type Constant struct {
	Value string
}

// VariableRef evaluates to the current text of another variable.
type VariableRef struct {
	Name string
}

// MacroCall evaluates its arguments and hands them to a macro function.
type MacroCall struct {
	Name  string
	Macro Macro
	Args  []Expression
}

func (Constant) isExpression()    {}
func (VariableRef) isExpression() {}
func (MacroCall) isExpression()   {}

func (me Constant) String() string { return strconv.Quote(me.Value) }

func (me VariableRef) String() string { return me.Name }

func (me MacroCall) String() string {
	args := make([]string, len(me.Args))
	for i, a := range me.Args {
		args[i] = a.String()
	}
	return me.Name + "(" + strings.Join(args, ", ") + ")"
}

// Result is a closed union: TextResult, ObjectResult or ActionResult.
type Result interface {
	Text() string
	isResult()
}

type TextResult struct {
	Value string
}

// ObjectResult wraps a resolved value. Candidates, when set, are alternatives offered to
// the user.
type ObjectResult struct {
	Value      any
	Display    string
	Candidates []Candidate
}

// ActionResult is written as Display and runs Run once it was written in Full mode, and
// whenever its variable gets focus.
type ActionResult struct {
	Display string
	Run     func(ctx context.Context, target Target) error
}

func (TextResult) isResult()   {}
func (ObjectResult) isResult() {}
func (ActionResult) isResult() {}

func (me TextResult) Text() string { return me.Value }

func (me ObjectResult) Text() string {
	if me.Display != "" || me.Value == nil {
		return me.Display
	}
	return fmt.Sprint(me.Value)
}

func (me ActionResult) Text() string { return me.Display }

// Text returns the text of r, or an empty string for a nil result.
func Text(r Result) string {
	if r == nil {
		return ""
	}
	return r.Text()
}

// Candidate is one value offered by a choice.
type Candidate struct {
	Value  string
	Detail string
	// OnSelect runs after the value was written.
	OnSelect func(ctx context.Context, target Target) error
}

// Target is the segment an action or a chosen candidate operates on.
type Target interface {
	Range() position.Range
	DocumentText() string
	Replace(text string) error
}

// Context is what an expression sees while being evaluated.
type Context interface {
	// VariableValue returns the current text of a variable, predefined values and the
	// reserved SELECTION and END names included.
	VariableValue(name string) (string, bool)
	Property(key string) (string, bool)
	// StartOffset is the start of the segment being computed.
	StartOffset() int
	TemplateStartOffset() int
	TemplateEndOffset() int
	DocumentText() string
}

// Macro is a function callable from expressions.
type Macro interface {
	Name() string
	// Evaluate returns nil when there is no applicable value. Arguments that produced no
	// value are nil.
	Evaluate(ctx context.Context, args []Result, ec Context, mode Mode) (Result, error)
}

// CandidateLister is implemented by macros offering several values.
type CandidateLister interface {
	Candidates(ctx context.Context, args []Result, ec Context) ([]Candidate, error)
}

// Filler is implemented by macros that know a better placeholder than "a" for keeping a
// segment non-empty during post-processing.
type Filler interface {
	DefaultFiller() string
}

// FullOnly is implemented by macros that must not run in Quick mode.
type FullOnly interface {
	FullOnly() bool
}

// MacroResolver finds macros by name.
type MacroResolver interface {
	Lookup(name string) (Macro, bool)
}
