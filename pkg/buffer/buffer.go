// Package buffer defines the editable text a template is expanded into.
package buffer

import (
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/livetmpl/pkg/marker"
	"github.com/walteh/livetmpl/pkg/position"
)

var ErrOutOfRange = errors.Base("offset out of range")

// RangeID addresses a tracked range of a Host.
type RangeID = marker.ID

// EditEvent describes a single replacement of OldLen bytes at Offset with NewLen bytes.
type EditEvent struct {
	Offset int
	OldLen int
	NewLen int
	// Undo is set while an undo step is being reverted.
	Undo bool
}

func (e EditEvent) Range() position.Range {
	return position.Range{Start: e.Offset, End: e.Offset + e.OldLen}
}

// EditListener observes every edit of a Host.
type EditListener interface {
	BeforeEdit(e EditEvent)
	AfterEdit(e EditEvent)
}

// Host is the text container a session is bound to. A session borrows it and never owns it.
type Host interface {
	Text() string
	Len() int

	CreateTrackedRange(start, end int) RangeID
	RangeBounds(id RangeID) (start, end int)
	RangeIsValid(id RangeID) bool
	SetRangeGreedy(id RangeID, left, right bool)
	ReleaseRange(id RangeID)

	ReplaceText(start, end int, text string) error
	InsertText(offset int, text string) error

	CaretOffset() int
	MoveCaret(offset int)
	Selection() (start, end int, ok bool)
	SetSelection(start, end int)
	RemoveSelection()

	// AddEditListener registers l and returns a function removing it again.
	AddEditListener(l EditListener) (remove func())

	// RunAsOneUndoStep groups every edit made by fn into one undoable unit. onUndo, when
	// not nil, runs before the unit is reverted.
	RunAsOneUndoStep(name string, fn func() error, onUndo func()) error
}

// EditListenerFuncs adapts plain functions to EditListener.
type EditListenerFuncs struct {
	Before func(e EditEvent)
	After  func(e EditEvent)
}

func (f EditListenerFuncs) BeforeEdit(e EditEvent) {
	if f.Before != nil {
		f.Before(e)
	}
}

func (f EditListenerFuncs) AfterEdit(e EditEvent) {
	if f.After != nil {
		f.After(e)
	}
}
