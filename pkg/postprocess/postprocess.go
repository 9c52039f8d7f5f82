// Package postprocess holds the hooks run over a freshly expanded template: shortening
// qualified names, reformatting and indenting.
//
// Processors edit the buffer through the host so that tracked ranges follow their edits.
package postprocess

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/livetmpl/pkg/buffer"
	"github.com/walteh/livetmpl/pkg/position"
	"github.com/walteh/livetmpl/pkg/template"
)

// Request is what a processor works on. Range is the templated range and follows the
// processor's own edits only through Host tracked ranges.
type Request struct {
	Host     buffer.Host
	Range    position.Range
	Template *template.Template
	Settings Settings
}

type Processor interface {
	Name() string
	// Applies reports whether the processor runs for t.
	Applies(t *template.Template) bool
	Process(ctx context.Context, req Request) error
}

// Run applies every applicable processor in order. The templated range is re-read from a
// tracked range between processors.
func Run(ctx context.Context, req Request, processors ...Processor) error {
	id := req.Host.CreateTrackedRange(req.Range.Start, req.Range.End)
	req.Host.SetRangeGreedy(id, true, true)
	defer req.Host.ReleaseRange(id)

	for _, p := range processors {
		if !p.Applies(req.Template) {
			continue
		}
		start, end := req.Host.RangeBounds(id)
		req.Range = position.Range{Start: start, End: end}
		zerolog.Ctx(ctx).Debug().Str("processor", p.Name()).Stringer("range", req.Range).Msg("running post processor")
		if err := p.Process(ctx, req); err != nil {
			return errors.Errorf("post processor %s: %w", p.Name(), err)
		}
	}
	return nil
}

// Once is implemented by processors that must only run on the first pass over an expansion.
type Once interface {
	Once() bool
}

type edit struct {
	start, end int
	text       string
}

// applyEdits writes edits from the last to the first so earlier offsets stay put.
func applyEdits(host buffer.Host, edits []edit) error {
	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	for _, e := range edits {
		if err := host.ReplaceText(e.start, e.end, e.text); err != nil {
			return err
		}
	}
	return nil
}

// Shorten drops qualifying prefixes such as "java.util." from names inside the range.
type Shorten struct {
	Prefixes []string
}

func (Shorten) Name() string { return "shorten" }

func (Shorten) Applies(t *template.Template) bool { return t == nil || t.ToShortenNames }

func (me Shorten) Process(_ context.Context, req Request) error {
	if len(me.Prefixes) == 0 {
		return nil
	}
	quoted := make([]string, len(me.Prefixes))
	for i, p := range me.Prefixes {
		quoted[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile(`(?:^|[^\w.])(` + strings.Join(quoted, "|") + `)\w`)
	if err != nil {
		return errors.Errorf("compiling prefixes: %w", err)
	}

	text := req.Range.Slice(req.Host.Text())
	var edits []edit
	for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
		edits = append(edits, edit{start: req.Range.Start + m[2], end: req.Range.Start + m[3]})
	}
	return applyEdits(req.Host, edits)
}

// Reformat trims trailing whitespace from the lines of the range.
type Reformat struct{}

func (Reformat) Name() string { return "reformat" }

func (Reformat) Applies(t *template.Template) bool { return t == nil || t.ToReformat }

func (Reformat) Process(_ context.Context, req Request) error {
	if !req.Settings.TrimTrailingWhitespace {
		return nil
	}
	doc := req.Host.Text()
	var edits []edit
	for off := position.LineStart(doc, req.Range.Start); off <= req.Range.End; {
		end := position.LineEnd(doc, off)
		line := doc[off:end]
		start := max(off+len(strings.TrimRight(line, " \t")), req.Range.Start)
		if start < end && end <= req.Range.End {
			edits = append(edits, edit{start: start, end: end})
		}
		if end >= len(doc) {
			break
		}
		off = end + 1
	}
	return applyEdits(req.Host, edits)
}

// Indent re-indents the lines of the range after the first one by the indentation of the
// line the template starts on, converting leading tabs of the body to the configured
// indent.
type Indent struct{}

func (Indent) Name() string { return "indent" }

func (Indent) Applies(t *template.Template) bool { return t == nil || t.ToIndent }

func (Indent) Once() bool { return true }

func (Indent) Process(_ context.Context, req Request) error {
	doc := req.Host.Text()
	first := position.LineStart(doc, req.Range.Start)
	base := leadingWhitespace(doc[first:position.LineEnd(doc, first)])
	unit := req.Settings.Indent()

	var edits []edit
	for off := position.LineEnd(doc, req.Range.Start) + 1; off < req.Range.End && off <= len(doc); {
		end := position.LineEnd(doc, off)
		line := doc[off:end]
		lead := leadingWhitespace(line)
		tabs := len(lead) - len(strings.TrimLeft(lead, "\t"))
		indent := base + strings.Repeat(unit, tabs) + lead[tabs:]
		if line != "" && indent != lead {
			edits = append(edits, edit{start: off, end: off + len(lead), text: indent})
		}
		if end >= len(doc) {
			break
		}
		off = end + 1
	}
	return applyEdits(req.Host, edits)
}

func leadingWhitespace(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}
