package template

import (
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
	"github.com/hashicorp/go-multierror"
	"gitlab.com/tozd/go/errors"
)

var (
	// PlaceholderLexer splits a body into placeholders ($NAME$), escaped dollars ($$), lone
	// dollars and literal text.
	PlaceholderLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Placeholder", Pattern: `\$[A-Za-z_][A-Za-z0-9_]*\$`},
		{Name: "Escape", Pattern: `\$\$`},
		{Name: "Dollar", Pattern: `\$`},
		{Name: "Text", Pattern: `[^$]+`},
	})

	placeholderToken = PlaceholderLexer.Symbols()["Placeholder"]
	escapeToken      = PlaceholderLexer.Symbols()["Escape"]
)

// Segment is one placeholder occurrence: the variable name and the byte offset of the
// occurrence in the expanded text.
type Segment struct {
	Name   string
	Offset int
}

// Scan lexes body, returning the expanded text with placeholders removed and escapes
// resolved, plus every placeholder occurrence in order. Adjacent placeholders are an error.
func Scan(body string) (string, []Segment, error) {
	lex, err := PlaceholderLexer.LexString("", body)
	if err != nil {
		return "", nil, errors.Errorf("lexing template body: %w", err)
	}

	var (
		text     strings.Builder
		segments []Segment
		errs     *multierror.Error
		adjacent bool
	)
	for {
		tok, err := lex.Next()
		if err != nil {
			return "", nil, errors.Errorf("lexing template body: %w", err)
		}
		if tok.EOF() {
			break
		}
		switch tok.Type {
		case placeholderToken:
			name := tok.Value[1 : len(tok.Value)-1]
			if adjacent {
				last := segments[len(segments)-1].Name
				errs = multierror.Append(errs, errors.Errorf("%w: $%s$ directly followed by $%s$ at %s", ErrAdjacentPlaceholders, last, name, tok.Pos))
			}
			segments = append(segments, Segment{Name: name, Offset: text.Len()})
		case escapeToken:
			text.WriteByte('$')
		default:
			text.WriteString(tok.Value)
		}
		adjacent = tok.Type == placeholderToken
	}

	if err := errs.ErrorOrNil(); err != nil {
		return "", nil, err
	}
	return text.String(), segments, nil
}
