package macro

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/walteh/livetmpl/pkg/expr"
	"github.com/walteh/livetmpl/pkg/position"
)

// PropertyFileName is the session property holding the path of the edited file.
const PropertyFileName = "FILE_NAME"

// Enum offers its arguments as candidates and evaluates to the first one.
type Enum struct{}

var (
	_ expr.Macro           = Enum{}
	_ expr.CandidateLister = Enum{}
)

func (Enum) Name() string { return "enum" }

func (Enum) Evaluate(_ context.Context, args []expr.Result, _ expr.Context, _ expr.Mode) (expr.Result, error) {
	for _, a := range args {
		if a != nil {
			return expr.TextResult{Value: a.Text()}, nil
		}
	}
	return nil, nil
}

func (Enum) Candidates(_ context.Context, args []expr.Result, _ expr.Context) ([]expr.Candidate, error) {
	out := make([]expr.Candidate, 0, len(args))
	for _, a := range args {
		if t := expr.Text(a); t != "" {
			out = append(out, expr.Candidate{Value: t})
		}
	}
	return out, nil
}

// SuggestIndexName yields the first of i, j, k ... not already used as an identifier
// outside the templated range.
type SuggestIndexName struct{}

var indexNames = []string{"i", "j", "k", "l", "m", "n"}

func (SuggestIndexName) Name() string { return "suggestIndexName" }

func (SuggestIndexName) Evaluate(_ context.Context, _ []expr.Result, ec expr.Context, _ expr.Mode) (expr.Result, error) {
	doc := ec.DocumentText()
	r := position.NewRange(ec.TemplateStartOffset(), ec.TemplateEndOffset())
	outside := doc[:min(r.Start, len(doc))] + "\n" + doc[min(r.End, len(doc)):]
	for _, name := range indexNames {
		if !containsWord(outside, name) {
			return expr.TextResult{Value: name}, nil
		}
	}
	return nil, nil
}

// LineNumber yields the one-based line of the segment being computed.
type LineNumber struct{}

func (LineNumber) Name() string { return "lineNumber" }

func (LineNumber) Evaluate(_ context.Context, _ []expr.Result, ec expr.Context, _ expr.Mode) (expr.Result, error) {
	p := position.PlaceOf(ec.DocumentText(), ec.StartOffset())
	return expr.TextResult{Value: strconv.Itoa(p.Line + 1)}, nil
}

// FileName yields the base name of the edited file.
type FileName struct{}

func (FileName) Name() string { return "fileName" }

func (FileName) Evaluate(_ context.Context, _ []expr.Result, ec expr.Context, _ expr.Mode) (expr.Result, error) {
	name, ok := ec.Property(PropertyFileName)
	if !ok || name == "" {
		return nil, nil
	}
	return expr.TextResult{Value: filepath.Base(name)}, nil
}

type FileNameWithoutExtension struct{}

func (FileNameWithoutExtension) Name() string { return "fileNameWithoutExtension" }

func (FileNameWithoutExtension) Evaluate(_ context.Context, _ []expr.Result, ec expr.Context, _ expr.Mode) (expr.Result, error) {
	name, ok := ec.Property(PropertyFileName)
	if !ok || name == "" {
		return nil, nil
	}
	base := filepath.Base(name)
	return expr.TextResult{Value: strings.TrimSuffix(base, filepath.Ext(base))}, nil
}

// Date formats the current time with a Go layout, "2006-01-02" by default. It only runs
// in Full mode so that recomputation stays deterministic.
type Date struct {
	Now func() time.Time
}

var _ expr.FullOnly = (*Date)(nil)

func (*Date) Name() string   { return "date" }
func (*Date) FullOnly() bool { return true }

func (me *Date) Evaluate(_ context.Context, args []expr.Result, _ expr.Context, _ expr.Mode) (expr.Result, error) {
	layout := "2006-01-02"
	if len(args) > 0 && expr.Text(args[0]) != "" {
		layout = expr.Text(args[0])
	}
	now := time.Now
	if me.Now != nil {
		now = me.Now
	}
	return expr.TextResult{Value: now().Format(layout)}, nil
}
