package expr

import (
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	lru "github.com/hashicorp/golang-lru/v2"
	"gitlab.com/tozd/go/errors"
)

var (
	ErrSyntax       = errors.Base("expression syntax error")
	ErrUnknownMacro = errors.Base("unknown macro")
)

// Grammar
//
//	expr  := String | Number | call | Ident
//	call  := Ident "(" [ expr { "," expr } ] ")"
//
// A bare identifier is a variable reference, a quoted string or a number is a constant.
type exprNode struct {
	Pos    lexer.Position
	String *string   `parser:"  @String"`
	Number *string   `parser:"| @Number"`
	Call   *callNode `parser:"| @@"`
	Ident  *string   `parser:"| @Ident"`
}

type callNode struct {
	Name string      `parser:"@Ident \"(\""`
	Args []*exprNode `parser:"( @@ ( \",\" @@ )* )? \")\""`
}

var (
	exprLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "String", Pattern: `"(?:\\.|[^"\\])*"`},
		{Name: "Number", Pattern: `[-+]?\d+(?:\.\d+)?`},
		{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
		{Name: "Punct", Pattern: `[(),]`},
		{Name: "whitespace", Pattern: `\s+`},
	})

	exprParser = participle.MustBuild[exprNode](
		participle.Lexer(exprLexer),
		participle.Elide("whitespace"),
		participle.Unquote("String"),
		participle.UseLookahead(2),
	)
)

// Parser turns expression source text into Expressions, resolving macro names. Parsed
// expressions are immutable and cached by source text.
type Parser struct {
	macros MacroResolver
	cache  *lru.Cache[string, Expression]
}

func NewParser(macros MacroResolver, cacheSize int) (*Parser, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, Expression](cacheSize)
	if err != nil {
		return nil, errors.Errorf("creating expression cache: %w", err)
	}
	return &Parser{macros: macros, cache: cache}, nil
}

// Parse parses src. Blank source yields a nil Expression and no error.
func (me *Parser) Parse(src string) (Expression, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, nil
	}
	if e, ok := me.cache.Get(src); ok {
		return e, nil
	}

	node, err := exprParser.ParseString("", src)
	if err != nil {
		return nil, errors.Errorf("%w: %q: %s", ErrSyntax, src, err.Error())
	}
	e, err := me.convert(node)
	if err != nil {
		return nil, errors.Errorf("parsing %q: %w", src, err)
	}
	me.cache.Add(src, e)
	return e, nil
}

// MustParse is Parse for expressions known to be valid, such as literals in tests.
func (me *Parser) MustParse(src string) Expression {
	e, err := me.Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

func (me *Parser) convert(n *exprNode) (Expression, error) {
	switch {
	case n.String != nil:
		return Constant{Value: *n.String}, nil
	case n.Number != nil:
		return Constant{Value: *n.Number}, nil
	case n.Ident != nil:
		return VariableRef{Name: *n.Ident}, nil
	case n.Call != nil:
		var m Macro
		if me.macros != nil {
			m, _ = me.macros.Lookup(n.Call.Name)
		}
		if m == nil {
			return nil, errors.Errorf("%w: %s at %s", ErrUnknownMacro, n.Call.Name, n.Pos)
		}
		call := MacroCall{Name: n.Call.Name, Macro: m, Args: make([]Expression, 0, len(n.Call.Args))}
		for _, a := range n.Call.Args {
			arg, err := me.convert(a)
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)
		}
		return call, nil
	default:
		return nil, errors.Errorf("%w: empty expression node at %s", ErrSyntax, n.Pos)
	}
}
