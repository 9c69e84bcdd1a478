// Package integration runs the intake flow end to end on the in-memory stores.
package integration

import (
	"context"
	"testing"

	"github.com/drfirst/go-intake/internal/apperrors"
	"github.com/drfirst/go-intake/internal/builder"
	"github.com/drfirst/go-intake/internal/canonical"
	"github.com/drfirst/go-intake/internal/domain/profile"
	"github.com/drfirst/go-intake/internal/domain/response"
	"github.com/drfirst/go-intake/internal/domain/template"
	fhir "github.com/drfirst/go-intake/internal/fhir/r5"
	"github.com/drfirst/go-intake/internal/infrastructure/memory"
	"github.com/drfirst/go-intake/internal/intake"
	"github.com/drfirst/go-intake/pkg/idempotency"
)

type env struct {
	store     *memory.Store
	merger    *intake.ProfileMerger
	templates *intake.TemplateService
	submitter *intake.Submitter
}

// newEnv mirrors STORE=memory with inline merging off, so every merge goes through the outbox
func newEnv() *env {
	store := memory.NewStore(nil)
	inbox := idempotency.NewInbox(idempotency.NewMemoryStore(), idempotency.InboxConfig{IsTerminal: apperrors.IsTerminal}, nil)
	merger := intake.NewProfileMerger(store.Templates, store.Responses, store.Profiles, inbox, nil, intake.MergerConfig{}, nil, nil)
	return &env{
		store:     store,
		merger:    merger,
		templates: intake.NewTemplateService(store.Templates, store.Responses, nil, nil),
		submitter: intake.NewSubmitter(store.Templates, store.Responses, nil, merger, intake.SubmitterConfig{}, nil, nil),
	}
}

func newItem(t *testing.T, typ template.Type, text string) *template.Question {
	t.Helper()
	q, err := template.NewQuestion(typ)
	if err != nil {
		t.Fatalf("new %s: %v", typ, err)
	}
	q.QuestionText = text
	return q
}

func TestAllergyMatrixReachesProfile(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	owner := intake.Actor{ID: "dr-1"}

	tpl, err := e.templates.Create(ctx, owner, intake.TemplateInput{
		Metadata: template.Metadata{Title: "New patient", IsActive: true},
		Items:    []*template.Question{newItem(t, template.TypeAllergies, "Known allergies")},
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	q := tpl.Items[0]

	res, err := e.submitter.Submit(ctx, intake.SubmitRequest{
		TemplateID: tpl.ID,
		PatientID:  "patient-42",
		Entries: []response.Entry{{
			QuestionID:   q.StorageID,
			QuestionType: q.Type,
			Answer: response.MatrixAnswer{Cells: []response.MatrixCell{
				{RowIndex: 0, ColumnIndex: 0, Value: "Peanuts"},
				{RowIndex: 1, ColumnIndex: 0, Value: ""},
				{RowIndex: 2, ColumnIndex: 0, Value: ""},
			}},
		}},
	}, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Merge != nil {
		t.Fatal("inline merge is off; nothing should merge before the relay runs")
	}

	pub := intake.NewLocalPublisher(e.merger, nil)
	if n := e.store.Outbox.RunOnce(ctx, pub); n == 0 {
		t.Fatal("expected the completion event in the outbox")
	}
	// a second relay pass has nothing left to publish
	if n := e.store.Outbox.RunOnce(ctx, pub); n != 0 {
		t.Errorf("second pass published %d records", n)
	}

	p, err := e.store.Profiles.Get(ctx, "patient-42")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	got := canonical.Strings(p, profile.KeyAllergies)
	if len(got) != 1 || got[0] != "Peanuts" {
		t.Fatalf("allergies = %v, want [Peanuts]", got)
	}

	// a manual merge of the same completion is recognized as a replay
	out, err := e.submitter.Merge(ctx, res.Response.ID)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !out.Duplicate {
		t.Error("expected the replayed merge to be a duplicate")
	}

	bundle := fhir.ProfileBundle(p)
	if n := bundle.ResourceTypes()["AllergyIntolerance"]; n != 1 {
		t.Errorf("bundle has %d AllergyIntolerance resources, want 1", n)
	}
}

func TestDuplicatedItemSurvivesSave(t *testing.T) {
	ctx := context.Background()
	e := newEnv()

	items := []*template.Question{
		newItem(t, template.TypeShortAnswer, "Name"),
		newItem(t, template.TypeRadio, "Smoker?"),
		newItem(t, template.TypeParagraph, "Anything else"),
	}
	original := items[1].Key

	out, dup, err := builder.Duplicate(items, 1)
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("len = %d, want 4", len(out))
	}
	if out[1].Key != original {
		t.Errorf("original key changed: %s -> %s", original, out[1].Key)
	}
	if out[2] != dup || dup.Key == original {
		t.Errorf("duplicate at index 2 must carry a fresh key, got %q", out[2].Key)
	}

	tpl, err := e.templates.Create(ctx, intake.Actor{ID: "dr-1"}, intake.TemplateInput{
		Metadata: template.Metadata{Title: "Screening"},
		Items:    out,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	seen := map[string]bool{}
	for _, q := range tpl.Items {
		if q.StorageID == "" || seen[q.StorageID] {
			t.Fatalf("storage ids must be unique and assigned: %q", q.StorageID)
		}
		seen[q.StorageID] = true
	}
	if tpl.Items[2].QuestionText != "Smoker?" {
		t.Errorf("item 2 = %q, want the duplicated question", tpl.Items[2].QuestionText)
	}
}

func TestMergeKeysAreStable(t *testing.T) {
	key1 := idempotency.GenerateKey("response", "r-1", "1")
	key2 := idempotency.GenerateKey("response", "r-1", "1")
	key3 := idempotency.GenerateKey("response", "r-1", "2")
	key4 := idempotency.GenerateKey("intake", "r-1", "1")

	if key1 != key2 {
		t.Error("same inputs should produce same key")
	}
	if key1 == key3 {
		t.Error("a new completion version must merge again")
	}
	if key1 == key4 {
		t.Error("responses and intakes must not share keys")
	}
}
