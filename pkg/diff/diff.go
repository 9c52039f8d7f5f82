// Package diff renders readable differences for test failures.
package diff

import (
	"strings"

	"github.com/k0kubun/pp/v3"
	"github.com/kylelemons/godebug/diff"
)

// Values pretty prints the exported fields of want and got and diffs the two renderings.
// It returns "" when they match.
func Values[T any](want T, got T) string {
	printer := pp.New()
	printer.SetExportedOnly(true)
	printer.SetColoringEnabled(false)
	g, w := printer.Sprint(got), printer.Sprint(want)
	if g == w {
		return ""
	}
	return render(diff.Diff(g, w))
}

// Text diffs two buffer contents line by line. It returns "" when they match.
func Text(want, got string) string {
	if want == got {
		return ""
	}
	return render(diff.Diff(got, want))
}

func render(d string) string {
	str := "\n\n"
	str += "to convert ACTUAL ⏩️ EXPECTED:\n\n"
	str += "add:    ➕\n"
	str += "remove: ➖\n"
	str += "\n"
	str += strings.ReplaceAll(strings.ReplaceAll(d, "\n-", "\n➖"), "\n+", "\n➕")
	return str
}
