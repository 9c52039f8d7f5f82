// Package segment tracks the buffer ranges backing placeholder occurrences.
package segment

import (
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/livetmpl/pkg/buffer"
	"github.com/walteh/livetmpl/pkg/position"
)

type tracked struct {
	id          buffer.RangeID
	greedyLeft  bool
	greedyRight bool
}

// Tracker is an ordered list of tracked ranges, addressed by index. It borrows the host
// and must be released before the host goes away.
type Tracker struct {
	host     buffer.Host
	segments []tracked
}

func NewTracker(host buffer.Host) *Tracker {
	return &Tracker{host: host}
}

// Add tracks [start, end) as a new greedy segment and returns its index.
func (me *Tracker) Add(start, end int) int {
	t := tracked{id: me.host.CreateTrackedRange(start, end), greedyLeft: true, greedyRight: true}
	me.host.SetRangeGreedy(t.id, true, true)
	me.segments = append(me.segments, t)
	return len(me.segments) - 1
}

func (me *Tracker) Len() int { return len(me.segments) }

func (me *Tracker) Bounds(i int) position.Range {
	start, end := me.host.RangeBounds(me.segments[i].id)
	return position.Range{Start: start, End: end}
}

func (me *Tracker) Text(i int) string {
	r := me.Bounds(i)
	if r.Start < 0 {
		return ""
	}
	return r.Slice(me.host.Text())
}

// Replace writes text over segment i and tracks the written text as the new segment
// range, keeping its greedy flags.
func (me *Tracker) Replace(i int, text string) error {
	r := me.Bounds(i)
	if r.Start < 0 || !me.host.RangeIsValid(me.segments[i].id) {
		return errors.Errorf("segment %d is not valid", i)
	}
	if err := me.host.ReplaceText(r.Start, r.End, text); err != nil {
		return errors.Errorf("replacing segment %d %s: %w", i, r, err)
	}
	me.Reset(i, r.Start, r.Start+len(text))
	return nil
}

// Reset tracks [start, end) as segment i, keeping its greedy flags.
func (me *Tracker) Reset(i, start, end int) {
	old := me.segments[i]
	me.host.ReleaseRange(old.id)
	old.id = me.host.CreateTrackedRange(start, end)
	me.host.SetRangeGreedy(old.id, old.greedyLeft, old.greedyRight)
	me.segments[i] = old
}

func (me *Tracker) SetGreedy(i int, greedy bool) {
	me.segments[i].greedyLeft = greedy
	me.segments[i].greedyRight = greedy
	me.host.SetRangeGreedy(me.segments[i].id, greedy, greedy)
}

func (me *Tracker) SetAllGreedy(greedy bool) {
	for i := range me.segments {
		me.SetGreedy(i, greedy)
	}
}

// SetActive makes exactly the listed segments greedy. Negative indices are ignored.
func (me *Tracker) SetActive(indices ...int) {
	active := make(map[int]bool, len(indices))
	for _, i := range indices {
		if i >= 0 {
			active[i] = true
		}
	}
	for i := range me.segments {
		me.SetGreedy(i, active[i])
	}
}

// SetNeighboursGreedy makes the segments touching segment i non-greedy towards it, so
// that text written into i is not absorbed by them.
func (me *Tracker) SetNeighboursGreedy(i int, greedy bool) {
	r := me.Bounds(i)
	for j := range me.segments {
		if j == i {
			continue
		}
		other := me.Bounds(j)
		if other.End == r.Start || other.Start == r.End {
			me.SetGreedy(j, greedy)
		}
	}
}

// Touches reports whether segment i shares a boundary with segment j.
func (me *Tracker) Touches(i, j int) bool {
	a, b := me.Bounds(i), me.Bounds(j)
	return a.End == b.Start || b.End == a.Start
}

func (me *Tracker) IsValid(i int) bool {
	return me.host.RangeIsValid(me.segments[i].id)
}

// IsInvalid reports whether any segment was destroyed by an edit.
func (me *Tracker) IsInvalid() bool {
	for i := range me.segments {
		if !me.IsValid(i) {
			return true
		}
	}
	return false
}

// Index returns the segment containing offset, boundaries included, preferring the
// segment listed first. It returns -1 when no segment contains offset.
func (me *Tracker) Index(offset int) int {
	for i := range me.segments {
		if me.Bounds(i).Contains(offset) {
			return i
		}
	}
	return -1
}

// ReleaseAll stops tracking every segment.
func (me *Tracker) ReleaseAll() {
	for _, s := range me.segments {
		me.host.ReleaseRange(s.id)
	}
	me.segments = nil
}
