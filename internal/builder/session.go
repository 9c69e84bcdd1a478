package builder

import (
	"errors"
	"fmt"

	"github.com/drfirst/go-intake/internal/domain/template"
)

// State of the editing session
type State string

const (
	StateUnselected State = "unselected"
	StateSelected   State = "selected"
	StatePreview    State = "preview"
)

// ErrNoPreview is returned when committing without a preview
var ErrNoPreview = errors.New("no preview to commit")

// ErrNotSelected is returned when editing an item that is not selected
var ErrNotSelected = errors.New("item is not selected")

// Session is a single-user authoring session. It is not safe for concurrent use.
type Session struct {
	items    []*template.Question
	state    State
	selected string
	preview  *template.Question
}

// NewSession starts a session over a copy of items
func NewSession(items []*template.Question) *Session {
	s := &Session{items: cloneAll(items), state: StateUnselected}
	Repair(s.items)
	return s
}

// Items returns a copy of the current list
func (s *Session) Items() []*template.Question {
	return cloneAll(s.items)
}

// Len returns the number of items
func (s *Session) Len() int { return len(s.items) }

// State returns the current state
func (s *Session) State() State { return s.state }

// Selected returns the selected item
func (s *Session) Selected() (*template.Question, bool) {
	if s.state != StateSelected {
		return nil, false
	}
	i := IndexOf(s.items, s.selected)
	if i < 0 {
		return nil, false
	}
	return s.items[i].Clone(), true
}

// PreviewItem returns the uncommitted palette item
func (s *Session) PreviewItem() (*template.Question, bool) {
	if s.state != StatePreview || s.preview == nil {
		return nil, false
	}
	return s.preview.Clone(), true
}

// Select makes the item with key editable
func (s *Session) Select(key string) error {
	if IndexOf(s.items, key) < 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, key)
	}
	s.preview = nil
	s.selected = key
	s.state = StateSelected
	return nil
}

// Deselect returns to the unselected state
func (s *Session) Deselect() {
	s.selected = ""
	s.preview = nil
	s.state = StateUnselected
}

// Add appends a new default item of type t and selects it
func (s *Session) Add(t template.Type) (*template.Question, error) {
	q, err := template.NewQuestion(t)
	if err != nil {
		return nil, err
	}
	s.items = append(s.items, q)
	s.afterMutation()
	s.selected = q.Key
	s.state = StateSelected
	return q.Clone(), nil
}

// Preview shows an editor for a palette type without touching the list
func (s *Session) Preview(t template.Type) (*template.Question, error) {
	q, err := template.NewQuestion(t)
	if err != nil {
		return nil, err
	}
	s.preview = q
	s.selected = ""
	s.state = StatePreview
	return q.Clone(), nil
}

// CommitPreview inserts the preview at index with a freshly minted key; index < 0 appends.
func (s *Session) CommitPreview(index int) (*template.Question, error) {
	if s.state != StatePreview || s.preview == nil {
		return nil, ErrNoPreview
	}
	q := s.preview.Clone()
	q.Key = template.NewKey()
	q.StorageID = ""

	if index < 0 || index > len(s.items) {
		index = len(s.items)
	}
	next := make([]*template.Question, 0, len(s.items)+1)
	next = append(next, s.items[:index]...)
	next = append(next, q)
	next = append(next, s.items[index:]...)
	s.items = next
	s.preview = nil
	s.afterMutation()
	s.selected = q.Key
	s.state = StateSelected
	return q.Clone(), nil
}

// Edit applies fn to the selected item. The key cannot be changed through fn.
func (s *Session) Edit(key string, fn func(q *template.Question)) error {
	if s.state != StateSelected || s.selected != key {
		return ErrNotSelected
	}
	i := IndexOf(s.items, key)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, key)
	}
	q := s.items[i].Clone()
	fn(q)
	q.Key = key
	if err := q.Validate(); err != nil {
		return err
	}
	s.items[i] = q
	s.afterMutation()
	return nil
}

// Duplicate copies the item at index and inserts the copy at index+1
func (s *Session) Duplicate(index int) (*template.Question, error) {
	dup, err := duplicateInPlace(&s.items, index)
	if err != nil {
		return nil, err
	}
	s.afterMutation()
	s.Deselect()
	return dup.Clone(), nil
}

// Delete removes the item with key
func (s *Session) Delete(key string) error {
	i := IndexOf(s.items, key)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, key)
	}
	s.items = append(s.items[:i:i], s.items[i+1:]...)
	s.afterMutation()
	s.Deselect()
	return nil
}

// Reorder applies a drag-and-drop
func (s *Session) Reorder(m Move) error {
	if err := reorderInPlace(&s.items, m); err != nil {
		return err
	}
	s.afterMutation()
	s.Deselect()
	return nil
}

// PrepareForSave returns the storage form of the current list
func (s *Session) PrepareForSave() []*template.Question {
	return PrepareForSave(s.items)
}

func (s *Session) afterMutation() {
	Repair(s.items)
}
