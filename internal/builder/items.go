// Package builder manages the authoring-time item list of a template.
//
// Every mutation is followed by a repair pass, so no two items ever share an authoring key.
package builder

import (
	"errors"
	"fmt"

	"github.com/drfirst/go-intake/internal/domain/template"
)

// ErrItemNotFound is returned when an operation cannot resolve its target item
var ErrItemNotFound = errors.New("item not found")

// Move describes a drag-and-drop. ID is tried first, FromIndex is the fallback.
type Move struct {
	ID        string `json:"id"`
	FromIndex int    `json:"fromIndex"`
	ToIndex   int    `json:"toIndex"`
}

// Repair assigns a fresh key to any item with an empty key or a key already used by an earlier item.
// It returns the number of keys reassigned.
func Repair(items []*template.Question) int {
	seen := make(map[string]bool, len(items))
	fixed := 0
	for _, q := range items {
		if q.Key == "" || seen[q.Key] {
			k := template.NewKey()
			for seen[k] {
				k = template.NewKey()
			}
			q.Key = k
			fixed++
		}
		seen[q.Key] = true
	}
	return fixed
}

// IndexOf returns the position of the item with key, or -1
func IndexOf(items []*template.Question, key string) int {
	if key == "" {
		return -1
	}
	for i, q := range items {
		if q.Key == key {
			return i
		}
	}
	return -1
}

func cloneAll(items []*template.Question) []*template.Question {
	out := make([]*template.Question, len(items))
	for i, q := range items {
		out[i] = q.Clone()
	}
	return out
}

func clamp(i, lo, hi int) int {
	if i < lo {
		return lo
	}
	if i > hi {
		return hi
	}
	return i
}

// Reorder moves one item and returns the repaired list. The input is not modified.
// The item is resolved by key first and by m.FromIndex when the key is unknown.
func Reorder(items []*template.Question, m Move) ([]*template.Question, error) {
	out := cloneAll(items)
	if err := reorderInPlace(&out, m); err != nil {
		return nil, err
	}
	Repair(out)
	return out, nil
}

func reorderInPlace(items *[]*template.Question, m Move) error {
	list := *items
	from := IndexOf(list, m.ID)
	if from < 0 {
		if m.FromIndex < 0 || m.FromIndex >= len(list) {
			return fmt.Errorf("%w: id %q, index %d", ErrItemNotFound, m.ID, m.FromIndex)
		}
		from = m.FromIndex
	}
	to := clamp(m.ToIndex, 0, len(list)-1)
	if from == to {
		return nil
	}

	moved := list[from]
	next := make([]*template.Question, 0, len(list))
	next = append(next, list[:from]...)
	next = append(next, list[from+1:]...)
	next = append(next[:to], append([]*template.Question{moved}, next[to:]...)...)
	*items = next
	return nil
}

// Duplicate inserts a copy of items[index] right after it. The copy gets a new key and no storage id.
func Duplicate(items []*template.Question, index int) ([]*template.Question, *template.Question, error) {
	out := cloneAll(items)
	dup, err := duplicateInPlace(&out, index)
	if err != nil {
		return nil, nil, err
	}
	Repair(out)
	return out, dup, nil
}

func duplicateInPlace(items *[]*template.Question, index int) (*template.Question, error) {
	list := *items
	if index < 0 || index >= len(list) {
		return nil, fmt.Errorf("%w: index %d", ErrItemNotFound, index)
	}
	dup := list[index].Clone()
	dup.Key = template.NewKey()
	dup.StorageID = ""

	next := make([]*template.Question, 0, len(list)+1)
	next = append(next, list[:index+1]...)
	next = append(next, dup)
	next = append(next, list[index+1:]...)
	*items = next
	return dup, nil
}

// PrepareForSave translates authoring items to storage items: identity fields are stripped and
// untouched matrix and section title placeholders are dropped.
func PrepareForSave(items []*template.Question) []*template.Question {
	out := make([]*template.Question, 0, len(items))
	for _, q := range items {
		if template.DroppedOnSave(q) {
			continue
		}
		c := q.Clone()
		c.Key = ""
		c.StorageID = ""
		out = append(out, c)
	}
	return out
}

// Hydrate turns stored items into authoring items with fresh keys
func Hydrate(stored []*template.Question) []*template.Question {
	out := cloneAll(stored)
	for _, q := range out {
		q.Key = template.NewKey()
	}
	Repair(out)
	return out
}
