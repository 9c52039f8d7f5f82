package macro

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/apparentlymart/go-textseg/v13/textseg"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/livetmpl/pkg/expr"
)

var ErrArguments = errors.Base("wrong macro arguments")

// TextFunc adapts a function over argument texts to expr.Macro. Unless Lenient is set, a
// missing argument makes the macro yield no result.
type TextFunc struct {
	MacroName string
	Arity     int
	Lenient   bool
	Fn        func(args []string) (string, error)
}

var _ expr.Macro = TextFunc{}

func (me TextFunc) Name() string { return me.MacroName }

func (me TextFunc) Evaluate(_ context.Context, args []expr.Result, _ expr.Context, _ expr.Mode) (expr.Result, error) {
	if me.Arity > 0 && len(args) != me.Arity {
		return nil, errors.Errorf("%w: %s takes %d arguments, got %d", ErrArguments, me.MacroName, me.Arity, len(args))
	}
	texts := make([]string, len(args))
	for i, a := range args {
		if a == nil && !me.Lenient {
			return nil, nil
		}
		texts[i] = expr.Text(a)
	}
	out, err := me.Fn(texts)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return expr.TextResult{Value: out}, nil
}

var (
	Capitalize = TextFunc{MacroName: "capitalize", Arity: 1, Fn: func(a []string) (string, error) {
		return mapFirstGrapheme(a[0], strings.ToUpper), nil
	}}
	Decapitalize = TextFunc{MacroName: "decapitalize", Arity: 1, Fn: func(a []string) (string, error) {
		return mapFirstGrapheme(a[0], strings.ToLower), nil
	}}
	Lowercase = TextFunc{MacroName: "lowercase", Arity: 1, Fn: func(a []string) (string, error) {
		return strings.ToLower(a[0]), nil
	}}
	Uppercase = TextFunc{MacroName: "uppercase", Arity: 1, Fn: func(a []string) (string, error) {
		return strings.ToUpper(a[0]), nil
	}}
	CamelCase = TextFunc{MacroName: "camelCase", Arity: 1, Fn: func(a []string) (string, error) {
		words := splitWords(a[0])
		for i, w := range words {
			w = strings.ToLower(w)
			if i > 0 {
				w = mapFirstGrapheme(w, strings.ToUpper)
			}
			words[i] = w
		}
		return strings.Join(words, ""), nil
	}}
	SnakeCase = TextFunc{MacroName: "snakeCase", Arity: 1, Fn: func(a []string) (string, error) {
		words := splitWords(a[0])
		for i, w := range words {
			words[i] = strings.ToLower(w)
		}
		return strings.Join(words, "_"), nil
	}}
	Concat = TextFunc{MacroName: "concat", Lenient: true, Fn: func(a []string) (string, error) {
		return strings.Join(a, ""), nil
	}}
	SubstringBefore = TextFunc{MacroName: "substringBefore", Arity: 2, Fn: func(a []string) (string, error) {
		before, _, found := strings.Cut(a[0], a[1])
		if !found {
			return a[0], nil
		}
		return before, nil
	}}
	// RegularExpression replaces every match of the pattern in the text: regularExpression(text, pattern, replacement).
	RegularExpression = TextFunc{MacroName: "regularExpression", Arity: 3, Lenient: true, Fn: func(a []string) (string, error) {
		re, err := regexp.Compile(a[1])
		if err != nil {
			return "", errors.Errorf("compiling %q: %w", a[1], err)
		}
		return re.ReplaceAllString(a[0], a[2]), nil
	}}
)

func mapFirstGrapheme(s string, fn func(string) string) string {
	if s == "" {
		return s
	}
	adv, _, err := textseg.ScanGraphemeClusters([]byte(s), true)
	if err != nil || adv == 0 {
		return s
	}
	return fn(s[:adv]) + s[adv:]
}

// splitWords breaks identifiers like "fooBar", "foo_bar" or "HTTPServer" into words.
func splitWords(s string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	runes := []rune(s)
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && len(cur) > 0 {
			prev := cur[len(cur)-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// containsWord reports whether word occurs in text delimited by non-identifier characters.
func containsWord(text, word string) bool {
	for i := 0; ; {
		idx := strings.Index(text[i:], word)
		if idx < 0 {
			return false
		}
		start, end := i+idx, i+idx+len(word)
		before, _ := utf8.DecodeLastRuneInString(text[:start])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if (start == 0 || !isIdentRune(before)) && (end == len(text) || !isIdentRune(after)) {
			return true
		}
		i = end
	}
}
