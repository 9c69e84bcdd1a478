package builder

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-intake/internal/domain/template"
)

func newItems(t *testing.T, types ...template.Type) []*template.Question {
	t.Helper()
	out := make([]*template.Question, 0, len(types))
	for _, typ := range types {
		q, err := template.NewQuestion(typ)
		require.NoError(t, err)
		out = append(out, q)
	}
	return out
}

func keys(items []*template.Question) []string {
	out := make([]string, len(items))
	for i, q := range items {
		out[i] = q.Key
	}
	return out
}

func sorted(s []string) []string {
	c := append([]string(nil), s...)
	sort.Strings(c)
	return c
}

func assertUnique(t *testing.T, items []*template.Question) {
	t.Helper()
	seen := map[string]bool{}
	for _, q := range items {
		require.NotEmpty(t, q.Key)
		require.False(t, seen[q.Key], "duplicate key %s", q.Key)
		seen[q.Key] = true
	}
}

func fiveItems(t *testing.T) []*template.Question {
	return newItems(t, template.TypeShortAnswer, template.TypeRadio, template.TypeAllergies, template.TypeDate, template.TypeBodyMap)
}

func TestReorderPreservesKeys(t *testing.T) {
	items := fiveItems(t)
	before := keys(items)

	out, err := Reorder(items, Move{ID: items[2].Key, FromIndex: 2, ToIndex: 0})
	require.NoError(t, err)
	require.Len(t, out, 5)
	assert.Equal(t, sorted(before), sorted(keys(out)))
	assert.Equal(t, []string{before[2], before[0], before[1], before[3], before[4]}, keys(out))
	assert.Equal(t, template.TypeAllergies, out[0].Type)

	// input untouched
	assert.Equal(t, before, keys(items))
}

func TestReorderFallsBackToIndex(t *testing.T) {
	items := fiveItems(t)
	before := keys(items)

	out, err := Reorder(items, Move{ID: "stale-key", FromIndex: 4, ToIndex: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{before[0], before[4], before[1], before[2], before[3]}, keys(out))

	_, err = Reorder(items, Move{ID: "stale-key", FromIndex: 9, ToIndex: 1})
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestReorderClampsTarget(t *testing.T) {
	items := fiveItems(t)
	before := keys(items)
	out, err := Reorder(items, Move{ID: before[0], ToIndex: 99})
	require.NoError(t, err)
	assert.Equal(t, before[0], out[4].Key)
}

func TestReorderRepairsCollisions(t *testing.T) {
	items := fiveItems(t)
	items[3].Key = items[1].Key
	items[4].Key = ""

	out, err := Reorder(items, Move{ID: items[0].Key, ToIndex: 2})
	require.NoError(t, err)
	assert.Len(t, out, 5)
	assertUnique(t, out)
}

func TestDuplicate(t *testing.T) {
	items := newItems(t, template.TypeShortAnswer, template.TypeCheckbox, template.TypeParagraph)
	items[1].StorageID = "stored-1"
	items[1].QuestionText = "Symptoms"
	origKey := items[1].Key

	out, dup, err := Duplicate(items, 1)
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, origKey, out[1].Key)
	assert.Equal(t, dup.Key, out[2].Key)
	assert.NotEqual(t, origKey, out[2].Key)
	assert.Empty(t, out[2].StorageID)
	assert.Equal(t, "stored-1", out[1].StorageID)
	assert.Equal(t, "Symptoms", out[2].QuestionText)
	assertUnique(t, out)

	_, _, err = Duplicate(items, 3)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestRepair(t *testing.T) {
	items := newItems(t, template.TypeShortAnswer, template.TypeShortAnswer, template.TypeShortAnswer)
	first := items[0].Key
	items[1].Key = first
	items[2].Key = ""

	assert.Equal(t, 2, Repair(items))
	assert.Equal(t, first, items[0].Key, "earliest holder keeps its key")
	assertUnique(t, items)
	assert.Equal(t, 0, Repair(items))
}

func TestPrepareForSave(t *testing.T) {
	items := newItems(t, template.TypeMatrix, template.TypeSectionTitle, template.TypeMatrixSingleAnswer,
		template.TypeDropdown, template.TypeMatrix)
	items[3].StorageID = "old"
	items[4].QuestionText = "Vaccination history"

	out := PrepareForSave(items)
	require.Len(t, out, 2)
	assert.Equal(t, template.TypeDropdown, out[0].Type, "default dropdown is kept")
	assert.Equal(t, "Vaccination history", out[1].QuestionText)
	for _, q := range out {
		assert.Empty(t, q.Key)
		assert.Empty(t, q.StorageID)
	}
	assert.Equal(t, "old", items[3].StorageID, "input untouched")
}

func TestHydrate(t *testing.T) {
	stored := newItems(t, template.TypeShortAnswer, template.TypeRadio)
	for i, q := range stored {
		q.Key = ""
		q.StorageID = []string{"s1", "s2"}[i]
	}
	out := Hydrate(stored)
	assertUnique(t, out)
	assert.Equal(t, "s1", out[0].StorageID)
}

func TestSessionPreviewDoesNotMutate(t *testing.T) {
	s := NewSession(newItems(t, template.TypeShortAnswer))
	before := keys(s.Items())

	p, err := s.Preview(template.TypeBodyMap)
	require.NoError(t, err)
	assert.Equal(t, StatePreview, s.State())
	assert.Equal(t, before, keys(s.Items()))

	q, err := s.CommitPreview(0)
	require.NoError(t, err)
	assert.NotEqual(t, p.Key, q.Key)
	assert.Equal(t, StateSelected, s.State())
	require.Equal(t, 2, s.Len())
	assert.Equal(t, q.Key, s.Items()[0].Key)

	_, err = s.CommitPreview(0)
	assert.ErrorIs(t, err, ErrNoPreview)
}

func TestSessionEditRequiresSelection(t *testing.T) {
	s := NewSession(newItems(t, template.TypeShortAnswer, template.TypeRadio))
	key := s.Items()[1].Key

	err := s.Edit(key, func(q *template.Question) { q.QuestionText = "Smoker?" })
	assert.ErrorIs(t, err, ErrNotSelected)

	require.NoError(t, s.Select(key))
	require.NoError(t, s.Edit(key, func(q *template.Question) {
		q.QuestionText = "Smoker?"
		q.Key = "hijack"
	}))
	sel, ok := s.Selected()
	require.True(t, ok)
	assert.Equal(t, key, sel.Key)
	assert.Equal(t, "Smoker?", sel.QuestionText)

	err = s.Edit(key, func(q *template.Question) { q.Config = &template.ChoiceConfig{} })
	assert.Error(t, err, "empty options fail validation")
}

func TestSessionMutationsReturnToUnselected(t *testing.T) {
	s := NewSession(fiveItems(t))
	k := s.Items()[0].Key

	require.NoError(t, s.Select(k))
	_, err := s.Duplicate(0)
	require.NoError(t, err)
	assert.Equal(t, StateUnselected, s.State())

	require.NoError(t, s.Select(k))
	require.NoError(t, s.Reorder(Move{ID: k, ToIndex: 3}))
	assert.Equal(t, StateUnselected, s.State())

	require.NoError(t, s.Select(k))
	require.NoError(t, s.Delete(k))
	assert.Equal(t, StateUnselected, s.State())
	assert.Equal(t, -1, IndexOf(s.Items(), k))
	assert.Equal(t, 5, s.Len())
}

func TestSessionRandomOpsKeepKeysUnique(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := NewSession(fiveItems(t))
	types := []template.Type{template.TypeShortAnswer, template.TypeMatrix, template.TypeSignature}

	for i := 0; i < 300; i++ {
		n := s.Len()
		switch rng.Intn(5) {
		case 0:
			_, err := s.Add(types[rng.Intn(len(types))])
			require.NoError(t, err)
		case 1:
			if n > 0 {
				_, err := s.Duplicate(rng.Intn(n))
				require.NoError(t, err)
			}
		case 2:
			if n > 1 {
				require.NoError(t, s.Delete(s.Items()[rng.Intn(n)].Key))
			}
		case 3:
			if n > 0 {
				before := sorted(keys(s.Items()))
				require.NoError(t, s.Reorder(Move{FromIndex: rng.Intn(n), ToIndex: rng.Intn(n)}))
				assert.Equal(t, before, sorted(keys(s.Items())))
			}
		case 4:
			_, err := s.Preview(types[rng.Intn(len(types))])
			require.NoError(t, err)
			_, err = s.CommitPreview(rng.Intn(n + 1))
			require.NoError(t, err)
		}
		assertUnique(t, s.Items())
	}
}
