// Package marker keeps half-open ranges of a mutable text consistent while the text changes.
//
// Every edit of the owning text must be reported through [Set.ApplyEdit]. Ranges before the
// edit keep their offsets, ranges after it shift, ranges containing it grow or shrink, and a
// range whose whole content is removed together with surrounding text becomes invalid.
package marker

import (
	"fmt"
	"sort"

	"github.com/walteh/livetmpl/pkg/position"
)

// ID addresses a range inside a Set. IDs are never reused.
type ID int

// None is never returned by Create.
const None ID = 0

type entry struct {
	start, end  int
	greedyLeft  bool
	greedyRight bool
	valid       bool
}

// Set is an arena of tracked ranges.
type Set struct {
	entries map[ID]*entry
	next    ID
}

func NewSet() *Set {
	return &Set{entries: make(map[ID]*entry), next: None}
}

// Create tracks [start, end). The new range is not greedy.
func (me *Set) Create(start, end int) ID {
	r := position.NewRange(start, end)
	me.next++
	me.entries[me.next] = &entry{start: r.Start, end: r.End, valid: true}
	return me.next
}

// Release stops tracking id. Releasing an unknown id is a no-op.
func (me *Set) Release(id ID) {
	delete(me.entries, id)
}

func (me *Set) Len() int {
	return len(me.entries)
}

// Bounds returns the current range of id. Released ids report ok=false.
func (me *Set) Bounds(id ID) (position.Range, bool) {
	e, ok := me.entries[id]
	if !ok {
		return position.Range{}, false
	}
	return position.Range{Start: e.start, End: e.end}, true
}

// IsValid reports whether id is tracked and was not destroyed by an edit.
func (me *Set) IsValid(id ID) bool {
	e, ok := me.entries[id]
	return ok && e.valid
}

// SetGreedy controls whether insertions exactly at the left or right boundary are absorbed.
func (me *Set) SetGreedy(id ID, left, right bool) {
	if e, ok := me.entries[id]; ok {
		e.greedyLeft = left
		e.greedyRight = right
	}
}

func (me *Set) Greedy(id ID) (left, right bool) {
	if e, ok := me.entries[id]; ok {
		return e.greedyLeft, e.greedyRight
	}
	return false, false
}

// ApplyEdit updates every tracked range for the replacement of removed bytes at offset
// with inserted bytes.
func (me *Set) ApplyEdit(offset, removed, inserted int) {
	for _, e := range me.entries {
		if e.valid {
			e.apply(offset, removed, inserted)
		}
	}
}

func (e *entry) apply(offset, removed, inserted int) {
	delta := inserted - removed
	editEnd := offset + removed

	if removed == 0 {
		e.applyInsert(offset, inserted)
		return
	}

	switch {
	case editEnd <= e.start:
		// entirely before, touching the start at most
		if editEnd == e.start && e.greedyLeft && inserted > 0 {
			e.start = offset
			e.end += delta
			return
		}
		e.start += delta
		e.end += delta
	case offset >= e.end:
		// entirely after, touching the end at most
		if offset == e.end && e.greedyRight && inserted > 0 && e.start < e.end {
			e.end = offset + inserted
		}
	case offset == e.start && editEnd == e.end:
		// exact replacement of the range content
		e.end = e.start + inserted
	case offset <= e.start && editEnd >= e.end:
		// the whole range vanished together with surrounding text
		e.valid = false
		e.start = offset
		e.end = offset
	case offset < e.start:
		// overlaps the start
		e.start = offset + inserted
		if e.greedyLeft {
			e.start = offset
		}
		e.end += delta
	case editEnd <= e.end:
		// inside
		e.end += delta
	default:
		// overlaps the end
		e.end = offset
		if e.greedyRight {
			e.end += inserted
		}
	}
}

func (e *entry) applyInsert(offset, inserted int) {
	if inserted == 0 {
		return
	}
	switch {
	case offset < e.start:
		e.start += inserted
		e.end += inserted
	case offset > e.end:
	case e.start == e.end:
		// empty range at the insertion point
		if e.greedyLeft || e.greedyRight {
			e.end += inserted
		} else {
			e.start += inserted
			e.end += inserted
		}
	case offset == e.start:
		if e.greedyLeft {
			e.end += inserted
		} else {
			e.start += inserted
			e.end += inserted
		}
	case offset == e.end:
		if e.greedyRight {
			e.end += inserted
		}
	default:
		e.end += inserted
	}
}

// Dump renders all ranges ordered by id, for diagnostics.
func (me *Set) Dump() string {
	ids := make([]int, 0, len(me.entries))
	for id := range me.entries {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	out := ""
	for _, id := range ids {
		e := me.entries[ID(id)]
		out += fmt.Sprintf("#%d[%d,%d) greedy=%t/%t valid=%t\n", id, e.start, e.end, e.greedyLeft, e.greedyRight, e.valid)
	}
	return out
}
