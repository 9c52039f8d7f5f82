package position

import (
	"fmt"
	"strings"

	"github.com/apparentlymart/go-textseg/v13/textseg"
	"gitlab.com/tozd/go/errors"
)

// Place is a zero-based line and a zero-based column counted in grapheme clusters.
type Place struct {
	Line      int
	Character int
}

func (p Place) String() string {
	return fmt.Sprintf("%d:%d", p.Line+1, p.Character+1)
}

// Range is a half-open byte interval [Start, End) in a text.
type Range struct {
	Start int
	End   int
}

func NewRange(start, end int) Range {
	if end < start {
		start, end = end, start
	}
	return Range{Start: start, End: end}
}

// Point returns the empty range at offset.
func Point(offset int) Range {
	return Range{Start: offset, End: offset}
}

func (r Range) Len() int {
	return r.End - r.Start
}

func (r Range) IsEmpty() bool {
	return r.Start == r.End
}

// Contains reports whether offset lies inside the range, the end boundary included.
func (r Range) Contains(offset int) bool {
	return r.Start <= offset && offset <= r.End
}

// Covers reports whether other lies completely inside the range, boundaries included.
func (r Range) Covers(other Range) bool {
	return r.Start <= other.Start && other.End <= r.End
}

// Touches reports whether both ranges share a boundary offset.
func (r Range) Touches(other Range) bool {
	return r.Start == other.End || r.End == other.Start
}

func (r Range) Shift(delta int) Range {
	return Range{Start: r.Start + delta, End: r.End + delta}
}

// Slice returns the part of text covered by the range, clamped to the text bounds.
func (r Range) Slice(text string) string {
	start, end := clamp(r.Start, len(text)), clamp(r.End, len(text))
	if end < start {
		return ""
	}
	return text[start:end]
}

func (r Range) InBounds(length int) bool {
	return r.Start >= 0 && r.Start <= r.End && r.End <= length
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// PlaceOf converts a byte offset into a line/column place.
func PlaceOf(text string, offset int) Place {
	offset = clamp(offset, len(text))
	lineStart := strings.LastIndexByte(text[:offset], '\n') + 1
	line := strings.Count(text[:lineStart], "\n")
	return Place{Line: line, Character: graphemeCount(text[lineStart:offset])}
}

// OffsetOf converts a line/column place back into a byte offset. Columns past the end of
// the line resolve to the line end.
func OffsetOf(text string, p Place) (int, error) {
	if p.Line < 0 || p.Character < 0 {
		return 0, errors.Errorf("invalid place %s", p)
	}
	offset := 0
	for i := 0; i < p.Line; i++ {
		idx := strings.IndexByte(text[offset:], '\n')
		if idx < 0 {
			return 0, errors.Errorf("line %d out of range", p.Line+1)
		}
		offset += idx + 1
	}
	lineEnd := strings.IndexByte(text[offset:], '\n')
	if lineEnd < 0 {
		lineEnd = len(text) - offset
	}
	line := text[offset : offset+lineEnd]

	col := 0
	rest := []byte(line)
	for col < p.Character && len(rest) > 0 {
		adv, _, err := textseg.ScanGraphemeClusters(rest, true)
		if err != nil || adv == 0 {
			break
		}
		offset += adv
		rest = rest[adv:]
		col++
	}
	return offset, nil
}

// LineStart returns the offset of the first byte of the line containing offset.
func LineStart(text string, offset int) int {
	offset = clamp(offset, len(text))
	return strings.LastIndexByte(text[:offset], '\n') + 1
}

// LineEnd returns the offset of the newline ending the line containing offset, or the text length.
func LineEnd(text string, offset int) int {
	offset = clamp(offset, len(text))
	idx := strings.IndexByte(text[offset:], '\n')
	if idx < 0 {
		return len(text)
	}
	return offset + idx
}

func graphemeCount(s string) int {
	if s == "" {
		return 0
	}
	n, err := textseg.TokenCount([]byte(s), textseg.ScanGraphemeClusters)
	if err != nil {
		return len([]rune(s))
	}
	return n
}
