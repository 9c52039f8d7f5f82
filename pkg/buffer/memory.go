package buffer

import (
	"sort"
	"strings"

	"github.com/rs/xid"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/livetmpl/pkg/marker"
	"github.com/walteh/livetmpl/pkg/position"
)

var _ Host = (*Memory)(nil)

type change struct {
	offset  int
	oldText string
	newText string
}

type undoStep struct {
	id      string
	name    string
	changes []change
	onUndo  []func()
}

// Memory is an in-memory Host. It is not safe for concurrent use.
type Memory struct {
	text      string
	caret     int
	selection *position.Range
	markers   *marker.Set
	listeners map[int]EditListener
	nextLis   int

	current *undoStep
	depth   int
	undo    []*undoStep
	redo    []*undoStep
}

// NewMemory creates a buffer holding text with the caret at offset 0.
func NewMemory(text string) *Memory {
	return &Memory{
		text:      text,
		markers:   marker.NewSet(),
		listeners: make(map[int]EditListener),
	}
}

// NewMemoryWithCaret parses a "<caret>" marker out of text and places the caret there.
func NewMemoryWithCaret(text string) *Memory {
	idx := strings.Index(text, "<caret>")
	if idx < 0 {
		return NewMemory(text)
	}
	m := NewMemory(text[:idx] + text[idx+len("<caret>"):])
	m.caret = idx
	return m
}

func (me *Memory) Text() string { return me.text }

func (me *Memory) Len() int { return len(me.text) }

func (me *Memory) CreateTrackedRange(start, end int) RangeID {
	return me.markers.Create(start, end)
}

func (me *Memory) RangeBounds(id RangeID) (int, int) {
	r, ok := me.markers.Bounds(id)
	if !ok {
		return -1, -1
	}
	return r.Start, r.End
}

func (me *Memory) RangeIsValid(id RangeID) bool {
	return me.markers.IsValid(id)
}

func (me *Memory) SetRangeGreedy(id RangeID, left, right bool) {
	me.markers.SetGreedy(id, left, right)
}

func (me *Memory) ReleaseRange(id RangeID) {
	me.markers.Release(id)
}

// TrackedRanges reports how many ranges are still tracked.
func (me *Memory) TrackedRanges() int {
	return me.markers.Len()
}

func (me *Memory) InsertText(offset int, text string) error {
	return me.ReplaceText(offset, offset, text)
}

func (me *Memory) ReplaceText(start, end int, text string) error {
	r := position.NewRange(start, end)
	if !r.InBounds(len(me.text)) {
		return errors.Errorf("%w: %s in text of length %d", ErrOutOfRange, r, len(me.text))
	}
	if r.IsEmpty() && text == "" {
		return nil
	}
	c := change{offset: r.Start, oldText: me.text[r.Start:r.End], newText: text}
	if me.current != nil {
		me.apply(c, false)
		return nil
	}
	// edits made by listeners in reaction to this one belong to the same step
	return me.RunAsOneUndoStep("edit", func() error {
		me.apply(c, false)
		return nil
	}, nil)
}

// DeleteText removes [start, end).
func (me *Memory) DeleteText(start, end int) error {
	return me.ReplaceText(start, end, "")
}

func (me *Memory) apply(c change, undo bool) {
	ev := EditEvent{Offset: c.offset, OldLen: len(c.oldText), NewLen: len(c.newText), Undo: undo}
	for _, l := range me.snapshotListeners() {
		l.BeforeEdit(ev)
	}

	me.text = me.text[:c.offset] + c.newText + me.text[c.offset+len(c.oldText):]
	me.markers.ApplyEdit(c.offset, len(c.oldText), len(c.newText))
	me.caret = shiftOffset(me.caret, c.offset, len(c.oldText), len(c.newText))
	if me.selection != nil {
		sel := position.NewRange(
			shiftOffset(me.selection.Start, c.offset, len(c.oldText), len(c.newText)),
			shiftOffset(me.selection.End, c.offset, len(c.oldText), len(c.newText)),
		)
		if sel.IsEmpty() {
			me.selection = nil
		} else {
			me.selection = &sel
		}
	}

	if !undo {
		me.record(c)
	}

	for _, l := range me.snapshotListeners() {
		l.AfterEdit(ev)
	}
}

func shiftOffset(v, offset, removed, inserted int) int {
	switch {
	case v <= offset:
		return v
	case v >= offset+removed:
		return v + inserted - removed
	default:
		return offset + inserted
	}
}

func (me *Memory) record(c change) {
	me.current.changes = append(me.current.changes, c)
}

func (me *Memory) snapshotListeners() []EditListener {
	keys := make([]int, 0, len(me.listeners))
	for k := range me.listeners {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]EditListener, 0, len(keys))
	for _, k := range keys {
		out = append(out, me.listeners[k])
	}
	return out
}

func (me *Memory) AddEditListener(l EditListener) func() {
	me.nextLis++
	key := me.nextLis
	me.listeners[key] = l
	return func() {
		delete(me.listeners, key)
	}
}

func (me *Memory) CaretOffset() int { return me.caret }

func (me *Memory) MoveCaret(offset int) {
	me.caret = clampOffset(offset, len(me.text))
}

func (me *Memory) Selection() (int, int, bool) {
	if me.selection == nil {
		return 0, 0, false
	}
	return me.selection.Start, me.selection.End, true
}

func (me *Memory) SetSelection(start, end int) {
	r := position.NewRange(clampOffset(start, len(me.text)), clampOffset(end, len(me.text)))
	if r.IsEmpty() {
		me.selection = nil
		return
	}
	me.selection = &r
}

func (me *Memory) RemoveSelection() {
	me.selection = nil
}

// SelectedText returns the selected text, or an empty string without a selection.
func (me *Memory) SelectedText() string {
	if me.selection == nil {
		return ""
	}
	return me.selection.Slice(me.text)
}

func clampOffset(v, length int) int {
	if v < 0 {
		return 0
	}
	if v > length {
		return length
	}
	return v
}

// Type simulates user typing: the selection, if any, is replaced, otherwise text is
// inserted at the caret. The caret ends up after the typed text.
func (me *Memory) Type(text string) error {
	start, end := me.caret, me.caret
	if me.selection != nil {
		start, end = me.selection.Start, me.selection.End
	}
	me.selection = nil

	// listeners may edit elsewhere while the text goes in, so the caret follows a marker
	typed := me.markers.Create(start, end)
	me.markers.SetGreedy(typed, true, true)
	defer me.markers.Release(typed)
	if err := me.ReplaceText(start, end, text); err != nil {
		return err
	}
	r, _ := me.markers.Bounds(typed)
	me.caret = r.End
	return nil
}

// Backspace simulates deleting the selection or the byte before the caret.
func (me *Memory) Backspace() error {
	if me.selection != nil {
		return me.Type("")
	}
	if me.caret == 0 {
		return nil
	}
	return me.DeleteText(me.caret-1, me.caret)
}

func (me *Memory) RunAsOneUndoStep(name string, fn func() error, onUndo func()) error {
	if me.current == nil {
		me.current = &undoStep{id: xid.New().String(), name: name}
	}
	if onUndo != nil {
		me.current.onUndo = append(me.current.onUndo, onUndo)
	}
	me.depth++
	defer func() {
		me.depth--
		if me.depth == 0 {
			step := me.current
			me.current = nil
			if len(step.changes) > 0 || len(step.onUndo) > 0 {
				me.undo = append(me.undo, step)
				me.redo = nil
			}
		}
	}()
	return fn()
}

// UndoDepth reports how many undoable steps are recorded.
func (me *Memory) UndoDepth() int {
	return len(me.undo)
}

// UndoStep describes a recorded undo step. The ID stays the same when the step is undone
// and redone.
type UndoStep struct {
	ID      string
	Name    string
	Changes int
}

// UndoSteps lists the undoable steps, oldest first.
func (me *Memory) UndoSteps() []UndoStep {
	out := make([]UndoStep, 0, len(me.undo))
	for _, step := range me.undo {
		out = append(out, UndoStep{ID: step.id, Name: step.name, Changes: len(step.changes)})
	}
	return out
}

// LastUndoStep returns the step Undo would revert next.
func (me *Memory) LastUndoStep() (UndoStep, bool) {
	steps := me.UndoSteps()
	if len(steps) == 0 {
		return UndoStep{}, false
	}
	return steps[len(steps)-1], true
}

// Undo reverts the most recent undo step. It reports false when there is nothing to undo.
func (me *Memory) Undo() bool {
	if len(me.undo) == 0 || me.current != nil {
		return false
	}
	step := me.undo[len(me.undo)-1]
	me.undo = me.undo[:len(me.undo)-1]

	for _, f := range step.onUndo {
		f()
	}

	for i := len(step.changes) - 1; i >= 0; i-- {
		c := step.changes[i]
		me.apply(change{offset: c.offset, oldText: c.newText, newText: c.oldText}, true)
	}
	me.redo = append(me.redo, step)
	return true
}

// Redo re-applies the most recently undone step. Undo callbacks are not re-armed.
func (me *Memory) Redo() bool {
	if len(me.redo) == 0 || me.current != nil {
		return false
	}
	step := me.redo[len(me.redo)-1]
	me.redo = me.redo[:len(me.redo)-1]
	for _, c := range step.changes {
		me.apply(c, true)
	}
	me.undo = append(me.undo, &undoStep{id: step.id, name: step.name, changes: step.changes})
	return true
}

// String renders the text with "<caret>" inserted, and "<selection>" markers around a selection.
func (me *Memory) String() string {
	var sb strings.Builder
	for i := 0; i <= len(me.text); i++ {
		if me.selection != nil && me.selection.End == i {
			sb.WriteString("</selection>")
		}
		if me.caret == i {
			sb.WriteString("<caret>")
		}
		if me.selection != nil && me.selection.Start == i {
			sb.WriteString("<selection>")
		}
		if i < len(me.text) {
			sb.WriteByte(me.text[i])
		}
	}
	return sb.String()
}
