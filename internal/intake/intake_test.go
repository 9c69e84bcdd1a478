package intake

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-intake/internal/apperrors"
	"github.com/drfirst/go-intake/internal/canonical"
	"github.com/drfirst/go-intake/internal/domain/profile"
	"github.com/drfirst/go-intake/internal/domain/response"
	"github.com/drfirst/go-intake/internal/domain/template"
	"github.com/drfirst/go-intake/internal/infrastructure/memory"
	"github.com/drfirst/go-intake/internal/infrastructure/objectstore"
	"github.com/drfirst/go-intake/internal/observability/metrics"
	"github.com/drfirst/go-intake/pkg/idempotency"
)

var owner = Actor{ID: "dr-1"}

type fixture struct {
	store     *memory.Store
	objects   objectstore.Store
	profiles  profile.Repository
	merger    *ProfileMerger
	submitter *Submitter
	templates *TemplateService
}

type fixtureOption func(*fixture)

func withObjects(s objectstore.Store) fixtureOption {
	return func(f *fixture) { f.objects = s }
}

func withProfiles(p profile.Repository) fixtureOption {
	return func(f *fixture) { f.profiles = p }
}

func newFixture(t *testing.T, inline bool, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{store: memory.NewStore(nil), objects: objectstore.NewMemoryStore("")}
	f.profiles = f.store.Profiles
	for _, o := range opts {
		o(f)
	}
	m := metrics.New(nil)

	inbox := idempotency.NewInbox(idempotency.NewMemoryStore(), idempotency.InboxConfig{IsTerminal: apperrors.IsTerminal}, nil)
	f.merger = NewProfileMerger(f.store.Templates, f.store.Responses, f.profiles, inbox, nil, MergerConfig{}, m, nil)

	uploader, err := NewAttachmentUploader(f.objects, nil, UploaderConfig{Bucket: "test", Workers: 2}, m, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = uploader.Close() })

	f.submitter = NewSubmitter(f.store.Templates, f.store.Responses, uploader, f.merger, SubmitterConfig{InlineMerge: inline}, m, nil)
	f.templates = NewTemplateService(f.store.Templates, f.store.Responses, m, nil)
	return f
}

func item(t *testing.T, typ template.Type, text string) *template.Question {
	t.Helper()
	q, err := template.NewQuestion(typ)
	require.NoError(t, err)
	if text != "" {
		q.QuestionText = text
	}
	return q
}

// createTemplate stores a template and returns it with storage ids
func (f *fixture) createTemplate(t *testing.T, items ...*template.Question) *template.Template {
	t.Helper()
	tpl, err := f.templates.Create(context.Background(), owner, TemplateInput{
		Metadata: template.Metadata{Title: "New patient intake", IsActive: true},
		Items:    items,
	})
	require.NoError(t, err)
	return tpl
}

func itemOf(t *testing.T, tpl *template.Template, typ template.Type) *template.Question {
	t.Helper()
	for _, q := range tpl.Items {
		if q.Type == typ {
			return q
		}
	}
	t.Fatalf("template has no %s item", typ)
	return nil
}

func allergyEntry(q *template.Question, values ...string) response.Entry {
	cells := make([]response.MatrixCell, len(values))
	for i, v := range values {
		cells[i] = response.MatrixCell{RowIndex: i, ColumnIndex: 0, Value: v}
	}
	return response.Entry{QuestionID: q.StorageID, QuestionType: q.Type, Answer: response.MatrixAnswer{Cells: cells}}
}

func (f *fixture) profile(t *testing.T, patientID string) *profile.Profile {
	t.Helper()
	p, err := f.profiles.Get(context.Background(), patientID)
	require.NoError(t, err)
	return p
}

func TestSubmitMergesAllergyMatrix(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	tpl := f.createTemplate(t, item(t, template.TypeAllergies, ""))
	q := itemOf(t, tpl, template.TypeAllergies)

	res, err := f.submitter.Submit(ctx, SubmitRequest{
		TemplateID: tpl.ID,
		PatientID:  "patient-1",
		Entries:    []response.Entry{allergyEntry(q, "Peanuts", "", "")},
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Merge)
	assert.Empty(t, res.MergeError)
	assert.Equal(t, response.StatusCompleted, res.Response.Status)

	p := f.profile(t, "patient-1")
	assert.Equal(t, []string{"Peanuts"}, canonical.Strings(p, profile.KeyAllergies))
	require.Len(t, p.FormData, 1)
	assert.Equal(t, res.Response.ID.String(), p.FormData[0].FormID)
	assert.Equal(t, tpl.Title, p.FormData[0].FormType)
}

func TestRelayAfterInlineMergeIsDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	tpl := f.createTemplate(t, item(t, template.TypeAllergies, ""))
	q := itemOf(t, tpl, template.TypeAllergies)

	_, err := f.submitter.Submit(ctx, SubmitRequest{
		TemplateID: tpl.ID,
		PatientID:  "patient-1",
		Entries:    []response.Entry{allergyEntry(q, "Penicillin", "Penicillin")},
	}, nil)
	require.NoError(t, err)
	before := f.profile(t, "patient-1")

	f.store.Outbox.RunOnce(ctx, NewLocalPublisher(f.merger, nil))
	assert.Empty(t, f.store.Outbox.Pending())

	after := f.profile(t, "patient-1")
	assert.Equal(t, before.Version, after.Version)
	assert.Len(t, after.FormData, 1)
	assert.Equal(t, []string{"Penicillin"}, canonical.Strings(after, profile.KeyAllergies))
}

func TestRelayMergesWhenInlineIsOff(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	tpl := f.createTemplate(t, item(t, template.TypeAllergies, ""))
	q := itemOf(t, tpl, template.TypeAllergies)

	res, err := f.submitter.Submit(ctx, SubmitRequest{
		TemplateID: tpl.ID,
		PatientID:  "patient-1",
		Entries:    []response.Entry{allergyEntry(q, "Latex")},
	}, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Merge)

	_, err = f.profiles.Get(ctx, "patient-1")
	assert.True(t, apperrors.IsNotFound(err))

	f.store.Outbox.RunOnce(ctx, NewLocalPublisher(f.merger, nil))
	assert.Equal(t, []string{"Latex"}, canonical.Strings(f.profile(t, "patient-1"), profile.KeyAllergies))
}

func TestSubmitStoresFiles(t *testing.T) {
	ctx := context.Background()
	objects := objectstore.NewMemoryStore("https://files.test")
	f := newFixture(t, true, withObjects(objects))
	fileItem := item(t, template.TypeFileUpload, "Insurance card")
	fileItem.IsRequired = true
	tpl := f.createTemplate(t, fileItem)
	q := itemOf(t, tpl, template.TypeFileUpload)

	res, err := f.submitter.Submit(ctx, SubmitRequest{TemplateID: tpl.ID}, []Upload{
		{QuestionID: q.StorageID, FileName: "front.png", ContentType: "image/png", Data: []byte("front")},
		{QuestionID: q.StorageID, FileName: "back.png", ContentType: "image/png", Data: []byte("back")},
	})
	require.NoError(t, err)
	assert.Empty(t, res.FailedUploads)
	assert.Equal(t, 2, objects.Len())

	e, ok := res.Response.Entry(q.StorageID)
	require.True(t, ok)
	atts := e.Answer.(response.FileAnswer).Attachments
	require.Len(t, atts, 2)
	names := []string{atts[0].FileName, atts[1].FileName}
	assert.ElementsMatch(t, []string{"front.png", "back.png"}, names)
	for _, a := range atts {
		assert.Contains(t, a.URL, "https://files.test/responses/"+res.Response.ID.String())
		data, err := objects.Get(ctx, a.StorageKey)
		require.NoError(t, err)
		assert.NotEmpty(t, data)
	}
}

func TestSubmitRequiredFileMissing(t *testing.T) {
	f := newFixture(t, true)
	fileItem := item(t, template.TypeFileUpload, "Insurance card")
	fileItem.IsRequired = true
	tpl := f.createTemplate(t, fileItem)

	_, err := f.submitter.Submit(context.Background(), SubmitRequest{TemplateID: tpl.ID}, nil)
	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, apperrors.CodeRequired, verr.Code)
}

type brokenStore struct {
	objectstore.Store
	failName string
}

func (b *brokenStore) Put(ctx context.Context, obj objectstore.Object) (string, error) {
	if strings.HasSuffix(obj.Key, b.failName) {
		return "", errors.New("disk on fire")
	}
	return b.Store.Put(ctx, obj)
}

func TestSubmitPartialUploadIsNotFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, withObjects(&brokenStore{Store: objectstore.NewMemoryStore(""), failName: "bad.pdf"}))
	tpl := f.createTemplate(t, item(t, template.TypeFileUpload, "Records"))
	q := itemOf(t, tpl, template.TypeFileUpload)

	res, err := f.submitter.Submit(ctx, SubmitRequest{TemplateID: tpl.ID, PatientID: "p1"}, []Upload{
		{QuestionID: q.StorageID, FileName: "good.pdf", Data: []byte("ok")},
		{QuestionID: q.StorageID, FileName: "bad.pdf", Data: []byte("nope")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"bad.pdf"}, res.FailedUploads)

	stored, err := f.submitter.Get(ctx, res.Response.ID)
	require.NoError(t, err)
	e, _ := stored.Entry(q.StorageID)
	atts := e.Answer.(response.FileAnswer).Attachments
	require.Len(t, atts, 1)
	assert.Equal(t, "good.pdf", atts[0].FileName)
}

func TestSubmitFileForNonFileItem(t *testing.T) {
	f := newFixture(t, true)
	tpl := f.createTemplate(t, item(t, template.TypeShortAnswer, "Name"))
	q := itemOf(t, tpl, template.TypeShortAnswer)

	_, err := f.submitter.Submit(context.Background(), SubmitRequest{TemplateID: tpl.ID},
		[]Upload{{QuestionID: q.StorageID, FileName: "x.pdf", Data: []byte("x")}})
	assert.True(t, apperrors.IsValidation(err))
}

func TestSubmitEnforcesFileLimits(t *testing.T) {
	ctx := context.Background()
	objects := objectstore.NewMemoryStore("")
	f := newFixture(t, true, withObjects(objects))
	fileItem := item(t, template.TypeFileUpload, "Referral letter")
	fileItem.File().FileTypes = []string{".pdf"}
	fileItem.File().MaxFileSize = 1
	tpl := f.createTemplate(t, fileItem)
	q := itemOf(t, tpl, template.TypeFileUpload)

	cases := map[string]struct {
		upload Upload
		code   string
	}{
		"wrong extension": {Upload{QuestionID: q.StorageID, FileName: "payload.exe", Data: []byte("MZ")}, apperrors.CodeInvalidValue},
		"too large":       {Upload{QuestionID: q.StorageID, FileName: "scan.pdf", Data: make([]byte, 3<<20)}, apperrors.CodeOutOfRange},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.submitter.Submit(ctx, SubmitRequest{TemplateID: tpl.ID}, []Upload{tc.upload})
			var verr *apperrors.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.code, verr.Code)
		})
	}

	n, err := f.store.Responses.CountForTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, objects.Len())

	res, err := f.submitter.Submit(ctx, SubmitRequest{TemplateID: tpl.ID}, []Upload{
		{QuestionID: q.StorageID, FileName: "Letter.PDF", Data: make([]byte, 1<<20)},
	})
	require.NoError(t, err)
	assert.Empty(t, res.FailedUploads)

	_, err = f.submitter.AddAttachments(ctx, res.Response.ID, []Upload{{QuestionID: q.StorageID, FileName: "notes.docx", Data: []byte("x")}})
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, 1, objects.Len())
}

func TestSubmitValidationBlocksPersistence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	name := item(t, template.TypeShortAnswer, "Name")
	name.IsRequired = true
	tpl := f.createTemplate(t, name)

	_, err := f.submitter.Submit(ctx, SubmitRequest{TemplateID: tpl.ID, PatientID: "p1"}, nil)
	assert.True(t, apperrors.IsValidation(err))

	n, err := f.store.Responses.CountForTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.store.Outbox.Pending())
}

func TestSubmitUnknownTemplate(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.submitter.Submit(context.Background(), SubmitRequest{TemplateID: uuid.New()}, nil)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCompleteMergesIncompleteResponse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	tpl := f.createTemplate(t, item(t, template.TypeAllergies, ""))
	q := itemOf(t, tpl, template.TypeAllergies)

	res, err := f.submitter.Submit(ctx, SubmitRequest{
		TemplateID: tpl.ID,
		PatientID:  "p1",
		Status:     response.StatusIncomplete,
		Entries:    []response.Entry{allergyEntry(q, "Shellfish")},
	}, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Merge)

	done, err := f.submitter.Complete(ctx, res.Response.ID)
	require.NoError(t, err)
	require.NotNil(t, done.Merge)
	assert.Equal(t, []string{"Shellfish"}, canonical.Strings(f.profile(t, "p1"), profile.KeyAllergies))

	_, err = f.submitter.Complete(ctx, res.Response.ID)
	assert.True(t, apperrors.IsConflict(err))
}

func TestReview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	tpl := f.createTemplate(t, item(t, template.TypeShortAnswer, "Name"))

	res, err := f.submitter.Submit(ctx, SubmitRequest{TemplateID: tpl.ID, Status: response.StatusIncomplete}, nil)
	require.NoError(t, err)

	_, err = f.submitter.Review(ctx, res.Response.ID, "nurse")
	assert.True(t, apperrors.IsConflict(err), "incomplete responses cannot be reviewed")

	_, err = f.submitter.Complete(ctx, res.Response.ID)
	require.NoError(t, err)
	rec, err := f.submitter.Review(ctx, res.Response.ID, "nurse")
	require.NoError(t, err)
	assert.Equal(t, response.StatusReviewed, rec.Status)
	assert.NotNil(t, rec.ReviewedAt)
}

func TestAddAttachmentsToExistingResponse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	tpl := f.createTemplate(t, item(t, template.TypeFileUpload, "Labs"))
	q := itemOf(t, tpl, template.TypeFileUpload)

	res, err := f.submitter.Submit(ctx, SubmitRequest{
		TemplateID: tpl.ID,
		Entries:    []response.Entry{{QuestionID: q.StorageID, QuestionType: q.Type}},
	}, nil)
	require.NoError(t, err)

	more, err := f.submitter.AddAttachments(ctx, res.Response.ID, []Upload{{QuestionID: q.StorageID, FileName: "lab.pdf", Data: []byte("x")}})
	require.NoError(t, err)
	e, _ := more.Response.Entry(q.StorageID)
	assert.Len(t, e.Answer.(response.FileAnswer).Attachments, 1)

	_, err = f.submitter.AddAttachments(ctx, res.Response.ID, nil)
	assert.True(t, apperrors.IsValidation(err))
}

func TestManualMergeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	tpl := f.createTemplate(t, item(t, template.TypeAllergies, ""))
	q := itemOf(t, tpl, template.TypeAllergies)
	res, err := f.submitter.Submit(ctx, SubmitRequest{
		TemplateID: tpl.ID,
		PatientID:  "p1",
		Entries:    []response.Entry{allergyEntry(q, "Peanuts")},
	}, nil)
	require.NoError(t, err)

	out, err := f.submitter.Merge(ctx, res.Response.ID)
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Len(t, f.profile(t, "p1").FormData, 1)
}

func TestMergeWithoutPatientIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	tpl := f.createTemplate(t, item(t, template.TypeAllergies, ""))
	q := itemOf(t, tpl, template.TypeAllergies)
	res, err := f.submitter.Submit(ctx, SubmitRequest{
		TemplateID: tpl.ID,
		Entries:    []response.Entry{allergyEntry(q, "Peanuts")},
	}, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Merge)

	out, err := f.submitter.Merge(ctx, res.Response.ID)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
}

func TestIntakeMergesThroughRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	in, out, err := f.submitter.SubmitIntake(ctx, "p1", "", []response.Section{{
		Name: "History",
		Fields: []response.Field{
			{FieldName: "Known allergies", FieldType: template.TypeShortAnswer, FieldValue: "Peanuts"},
			{FieldName: "Current medications", FieldType: template.TypeCheckbox, FieldValue: []interface{}{"Aspirin", "Metformin"}},
		},
	}})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "intake", in.FormType)

	p := f.profile(t, "p1")
	assert.Equal(t, []string{"Peanuts"}, canonical.Strings(p, profile.KeyAllergies))
	assert.Equal(t, []string{"Aspirin", "Metformin"}, canonical.Strings(p, profile.KeyMedications))

	_, _, err = f.submitter.SubmitIntake(ctx, "", "", nil)
	assert.True(t, apperrors.IsValidation(err))
}

func TestIntakeRejectsOutOfRangePain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	_, _, err := f.submitter.SubmitIntake(ctx, "p1", "", []response.Section{{
		Name: "Pain",
		Fields: []response.Field{
			{FieldName: "Pain map", FieldType: template.TypeBodyMap, FieldValue: []interface{}{
				map[string]interface{}{"x": -40.0, "y": 10.0, "type": "knee", "intensity": 99.0},
			}},
		},
	}})
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.profiles.Get(ctx, "p1")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestConcurrentMergesForOnePatient(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	allergies := []string{"Peanuts", "Latex", "Penicillin", "Shellfish", "Sulfa", "Eggs"}
	var wg sync.WaitGroup
	for _, a := range allergies {
		wg.Add(1)
		go func(a string) {
			defer wg.Done()
			_, out, err := f.submitter.SubmitIntake(ctx, "p1", "", []response.Section{{
				Name:   "Allergies",
				Fields: []response.Field{{FieldName: "Allergies", FieldType: template.TypeShortAnswer, FieldValue: a}},
			}})
			assert.NoError(t, err)
			assert.NotNil(t, out)
		}(a)
	}
	wg.Wait()

	p := f.profile(t, "p1")
	assert.ElementsMatch(t, allergies, canonical.Strings(p, profile.KeyAllergies))
	assert.Len(t, p.FormData, len(allergies))
}

// conflictingProfiles fails the first Save with a version conflict
type conflictingProfiles struct {
	profile.Repository
	mu    sync.Mutex
	fails int
}

func (c *conflictingProfiles) Save(ctx context.Context, p *profile.Profile) error {
	c.mu.Lock()
	if c.fails > 0 {
		c.fails--
		c.mu.Unlock()
		return profile.ErrVersionConflict
	}
	c.mu.Unlock()
	return c.Repository.Save(ctx, p)
}

func TestMergeRetriesVersionConflicts(t *testing.T) {
	ctx := context.Background()
	profiles := &conflictingProfiles{Repository: memory.NewProfileRepository(), fails: 2}
	f := newFixture(t, true, withProfiles(profiles))

	_, out, err := f.submitter.SubmitIntake(ctx, "p1", "", []response.Section{{
		Fields: []response.Field{{FieldName: "Allergies", FieldType: template.TypeShortAnswer, FieldValue: "Peanuts"}},
	}})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 1, out.Version)
	assert.Zero(t, profiles.fails)
}

func TestMergeGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	profiles := &conflictingProfiles{Repository: memory.NewProfileRepository(), fails: 100}
	f := newFixture(t, true, withProfiles(profiles))

	in, err := response.NewIntakeRecord("p1", "", nil)
	require.NoError(t, err)
	_, err = f.merger.MergeIntake(ctx, in)

	var merr *apperrors.MergeError
	require.ErrorAs(t, err, &merr)
	assert.ErrorIs(t, err, profile.ErrVersionConflict)
	assert.False(t, apperrors.IsTerminal(err))
}

func TestHandleEventIgnoresOtherTypes(t *testing.T) {
	f := newFixture(t, true)
	ev, err := response.NewEvent(response.AggregateFormResponse, uuid.NewString(), response.EventResponseReviewed, struct{}{})
	require.NoError(t, err)
	assert.NoError(t, f.merger.HandleEvent(context.Background(), ev))

	ev.AggregateID = "not-a-uuid"
	assert.True(t, apperrors.IsValidation(f.merger.HandleEvent(context.Background(), ev)))
}
