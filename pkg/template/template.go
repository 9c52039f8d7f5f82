// Package template defines live templates: a body with $NAME$ placeholders and the
// variables computing their values.
package template

import (
	"github.com/hashicorp/go-multierror"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/livetmpl/pkg/expr"
)

// Reserved placeholder names.
const (
	Selection      = "SELECTION"
	End            = "END"
	SelectionStart = "SELECTION_START"
	SelectionEnd   = "SELECTION_END"
)

var (
	ErrAdjacentPlaceholders = errors.Base("adjacent placeholders")
	ErrReservedVariable     = errors.Base("reserved variable name")
	ErrDuplicateVariable    = errors.Base("duplicate variable")
	ErrUnusedVariable       = errors.Base("variable not used in body")
	ErrNotParsed            = errors.Base("template not parsed")
)

// IsReserved reports whether name is one of the reserved placeholder names.
func IsReserved(name string) bool {
	switch name {
	case Selection, End, SelectionStart, SelectionEnd:
		return true
	}
	return false
}

// Variable is a declared template variable. Expression and Default are expression source
// text and are compiled by Template.Parse.
type Variable struct {
	Name       string
	Expression string
	Default    string
	// AlwaysStop makes the variable a tab stop even when its value is computed.
	AlwaysStop bool
	// SkipOnStart keeps the variable from being the first tab stop.
	SkipOnStart bool

	expr       expr.Expression
	defaultExp expr.Expression
}

// Expr is the compiled expression, nil when there is none.
func (me Variable) Expr() expr.Expression { return me.expr }

// DefaultExpr is the compiled default expression, nil when there is none.
func (me Variable) DefaultExpr() expr.Expression { return me.defaultExp }

// Template is a live template definition. It must be parsed before a session can use it
// and should not be changed afterwards.
type Template struct {
	Key         string
	Group       string
	Description string
	// Inline templates are expanded over text that is already in the buffer.
	Inline         bool
	ToReformat     bool
	ToIndent       bool
	ToShortenNames bool

	body      string
	text      string
	segments  []Segment
	declared  []Variable
	variables []Variable
	parsed    bool
}

func New(key, body string) *Template {
	return &Template{Key: key, body: body, ToIndent: true, ToShortenNames: true}
}

func (me *Template) Body() string { return me.body }

func (me *Template) SetBody(body string) {
	me.body = body
	me.parsed = false
}

// AddVariable declares a variable. Declaration order is tab order.
func (me *Template) AddVariable(v Variable) *Template {
	me.declared = append(me.declared, v)
	me.parsed = false
	return me
}

// Parse validates the template and compiles the variable expressions with p. Every
// problem found is reported through one aggregated error.
func (me *Template) Parse(p *expr.Parser) error {
	me.parsed = false

	var errs *multierror.Error

	text, segments, scanErr := Scan(me.body)
	if scanErr != nil {
		errs = multierror.Append(errs, scanErr)
	}

	used := make(map[string]bool, len(segments))
	for _, s := range segments {
		used[s.Name] = true
	}

	seen := make(map[string]bool, len(me.declared))
	variables := make([]Variable, 0, len(me.declared))
	for _, v := range me.declared {
		switch {
		case IsReserved(v.Name):
			errs = multierror.Append(errs, errors.Errorf("%w: %s", ErrReservedVariable, v.Name))
			continue
		case seen[v.Name]:
			errs = multierror.Append(errs, errors.Errorf("%w: %s", ErrDuplicateVariable, v.Name))
			continue
		case scanErr == nil && !used[v.Name]:
			errs = multierror.Append(errs, errors.Errorf("%w: %s", ErrUnusedVariable, v.Name))
		}
		seen[v.Name] = true

		var err error
		if v.expr, err = compile(p, v.Expression); err != nil {
			errs = multierror.Append(errs, errors.Errorf("variable %s expression: %w", v.Name, err))
		}
		if v.defaultExp, err = compile(p, v.Default); err != nil {
			errs = multierror.Append(errs, errors.Errorf("variable %s default: %w", v.Name, err))
		}
		variables = append(variables, v)
	}

	for _, s := range segments {
		if seen[s.Name] || IsReserved(s.Name) {
			continue
		}
		seen[s.Name] = true
		variables = append(variables, Variable{Name: s.Name, AlwaysStop: true})
	}

	if err := errs.ErrorOrNil(); err != nil {
		return errors.Errorf("template %q: %w", me.Key, err)
	}

	me.text = text
	me.segments = segments
	me.variables = variables
	me.parsed = true
	return nil
}

func compile(p *expr.Parser, src string) (expr.Expression, error) {
	if p == nil {
		if src == "" {
			return nil, nil
		}
		return expr.Constant{Value: src}, nil
	}
	return p.Parse(src)
}

func (me *Template) IsParsed() bool { return me.parsed }

// Text is the body with placeholders removed and escapes resolved.
func (me *Template) Text() string { return me.text }

func (me *Template) SegmentsCount() int { return len(me.segments) }

func (me *Template) SegmentName(i int) string { return me.segments[i].Name }

func (me *Template) SegmentOffset(i int) int { return me.segments[i].Offset }

func (me *Template) Segments() []Segment {
	return append([]Segment(nil), me.segments...)
}

// Variables returns the declared variables followed by the ones discovered in the body.
func (me *Template) Variables() []Variable {
	return append([]Variable(nil), me.variables...)
}

func (me *Template) VariableCount() int { return len(me.variables) }

func (me *Template) Variable(i int) Variable { return me.variables[i] }

// VariableIndex returns the tab-order index of name, or -1.
func (me *Template) VariableIndex(name string) int {
	for i, v := range me.variables {
		if v.Name == name {
			return i
		}
	}
	return -1
}

// VariableSegment returns the index of the first occurrence of name, or -1.
func (me *Template) VariableSegment(name string) int {
	for i, s := range me.segments {
		if s.Name == name {
			return i
		}
	}
	return -1
}

func (me *Template) EndSegment() int { return me.VariableSegment(End) }

func (me *Template) SelectionSegment() int { return me.VariableSegment(Selection) }

func (me *Template) SelectionStartSegment() int { return me.VariableSegment(SelectionStart) }

func (me *Template) SelectionEndSegment() int { return me.VariableSegment(SelectionEnd) }

// IsSelectionTemplate reports whether the body wraps the selected text.
func (me *Template) IsSelectionTemplate() bool {
	return me.SelectionSegment() >= 0 || me.SelectionStartSegment() >= 0
}

func (me *Template) String() string {
	if me.Description != "" {
		return me.Key + " (" + me.Description + ")"
	}
	return me.Key
}
