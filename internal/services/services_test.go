package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/ecommpipeline/internal/models"
	"github.com/Lllllllleong/ecommpipeline/internal/pipeline"
	"github.com/Lllllllleong/ecommpipeline/internal/schema"
	"github.com/Lllllllleong/ecommpipeline/internal/wizard"
)

const storedMapping = `{"shipperCity":{"title":"Shipper City","content":"Sender City"},"recipientCity":{"title":"Recipient City","content":"Receiver City"},"headers":["Sender City","Receiver City"]}`

func (m *MemorySessions) put(s models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

func (m *MemorySessions) get(t *testing.T, id string) models.Session {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	require.True(t, ok, "session %s not stored", id)
	return s
}

func (m *MemorySessions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// racingSessions lets another instance claim the submission slot of the
// session between a read and the following write.
type racingSessions struct {
	*MemorySessions
	claimed bool
}

func (r *racingSessions) claim(ctx context.Context, id string) {
	if r.claimed {
		return
	}
	r.claimed = true
	_, _ = r.MemorySessions.ClaimSubmission(ctx, id)
}

func (r *racingSessions) Get(ctx context.Context, id string) (*models.Session, error) {
	s, err := r.MemorySessions.Get(ctx, id)
	r.claim(ctx, id)
	return s, err
}

func (r *racingSessions) Mutate(ctx context.Context, id string, fn func(s *models.Session) error) (*models.Session, error) {
	r.claim(ctx, id)
	return r.MemorySessions.Mutate(ctx, id, fn)
}

type stubInferrer struct {
	doc   schema.MappingDocument
	err   error
	calls int
}

func (s *stubInferrer) InferSchema(ctx context.Context, filename string, spreadsheet io.Reader) (schema.MappingDocument, error) {
	s.calls++
	if _, err := io.ReadAll(spreadsheet); err != nil {
		return schema.MappingDocument{}, err
	}
	return s.doc, s.err
}

type stubCreator struct {
	mu    sync.Mutex
	calls []string
	ref   string
	err   error
	// during runs while the pipeline is being created.
	during func()
}

func (s *stubCreator) CreatePipeline(ctx context.Context, name string, doc schema.MappingDocument) (string, error) {
	if s.during != nil {
		s.during()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
	return s.ref, s.err
}

type stubAdvisor map[string]string

func (a stubAdvisor) AdviseField(ctx context.Context, card schema.Card, candidates []string) (string, error) {
	return a[card.Key], nil
}

func inferredDocument(t *testing.T) schema.MappingDocument {
	t.Helper()
	var doc schema.MappingDocument
	require.NoError(t, json.Unmarshal([]byte(storedMapping), &doc))
	return doc
}

func confirmSession(id string) models.Session {
	return models.Session{
		ID:       id,
		Name:     "Temu March",
		Filename: "march.xlsx",
		Step:     wizard.StepConfirm.String(),
		Mapping:  storedMapping,
	}
}

func testBackends(inferrer *stubInferrer, creator *stubCreator) WizardBackends {
	config := wizard.DefaultConfig()
	config.TransitionDelay = 0
	return WizardBackends{Inferrer: inferrer, Creator: creator, Config: config}
}

func TestUpload_CreatesSessionOnSuccess(t *testing.T) {
	sessions := NewMemorySessions()
	f := NewUploadFunction(sessions, testBackends(&stubInferrer{doc: inferredDocument(t)}, &stubCreator{}))

	res, err := f.Process(context.Background(), &UploadRequest{Name: "Temu March", Filename: "march.XLSX", Data: []byte("xls")})
	require.NoError(t, err)

	assert.Equal(t, "confirm", res.Step)
	require.True(t, res.View.Loaded)
	assert.Len(t, res.View.Cards, 2)
	assert.Equal(t, []string{"Sender City", "Receiver City"}, res.View.Candidates)

	stored := sessions.get(t, res.SessionID)
	assert.Equal(t, "Temu March", stored.Name)
	assert.Equal(t, "march.XLSX", stored.Filename)
	assert.JSONEq(t, storedMapping, stored.Mapping)
	assert.Empty(t, stored.ErrorDetails)
}

func TestUpload_FailedNewUploadCreatesNoSession(t *testing.T) {
	sessions := NewMemorySessions()
	upstream := &pipeline.StatusError{Op: "schema inference", StatusCode: http.StatusServiceUnavailable}
	f := NewUploadFunction(sessions, testBackends(&stubInferrer{err: upstream}, &stubCreator{}))

	_, err := f.Process(context.Background(), &UploadRequest{Filename: "march.xls", Data: []byte("xls")})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(err))
	assert.Zero(t, sessions.count())
}

func TestUpload_FailureKeepsExistingMapping(t *testing.T) {
	sessions := NewMemorySessions()
	sessions.put(confirmSession("s1"))
	f := NewUploadFunction(sessions, testBackends(&stubInferrer{err: errors.New("connection refused")}, &stubCreator{}))

	_, err := f.Process(context.Background(), &UploadRequest{SessionID: "s1", Filename: "april.xls", Data: []byte("xls")})
	require.Error(t, err)

	stored := sessions.get(t, "s1")
	assert.JSONEq(t, storedMapping, stored.Mapping)
	assert.Equal(t, "march.xlsx", stored.Filename)
	assert.Equal(t, "confirm", stored.Step)
	assert.Contains(t, stored.ErrorDetails, "connection refused")
}

func TestUpload_RejectsUnsupportedFile(t *testing.T) {
	f := NewUploadFunction(NewMemorySessions(), testBackends(&stubInferrer{}, &stubCreator{}))

	_, err := f.Process(context.Background(), &UploadRequest{Filename: "march.csv", Data: []byte("a,b")})
	assert.ErrorIs(t, err, wizard.ErrUnsupportedFile)
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))

	_, err = f.Process(context.Background(), &UploadRequest{Filename: "march.xls"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestConfirm_RemapPersists(t *testing.T) {
	sessions := NewMemorySessions()
	sessions.put(confirmSession("s1"))
	f := NewConfirmFunction(sessions, testBackends(&stubInferrer{}, &stubCreator{}))

	res, err := f.Remap(context.Background(), &models.RemapRequest{SessionID: "s1", Key: "shipperCity", Value: "Receiver City"})
	require.NoError(t, err)
	assert.Equal(t, "Receiver City", res.View.Cards[0].Content)

	view, err := f.View(context.Background(), "s1", false)
	require.NoError(t, err)
	assert.Equal(t, "Receiver City", view.View.Cards[0].Content)
	assert.Equal(t, "Receiver City", view.View.Cards[1].Content)

	var doc schema.MappingDocument
	require.NoError(t, json.Unmarshal([]byte(sessions.get(t, "s1").Mapping), &doc))
	entry, _ := doc.Entry("shipperCity")
	assert.Equal(t, "Receiver City", entry.Content)
	assert.Equal(t, []string{"Sender City", "Receiver City"}, doc.Headers())
}

func TestConfirm_RemapErrors(t *testing.T) {
	sessions := NewMemorySessions()
	sessions.put(confirmSession("s1"))
	sessions.put(models.Session{ID: "empty", Step: "confirm"})
	f := NewConfirmFunction(sessions, testBackends(&stubInferrer{}, &stubCreator{}))
	ctx := context.Background()

	_, err := f.Remap(ctx, &models.RemapRequest{SessionID: "s1", Key: schema.HeadersKey, Value: "x"})
	assert.ErrorIs(t, err, wizard.ErrReservedField)

	_, err = f.Remap(ctx, &models.RemapRequest{SessionID: "s1", Key: "hsCode", Value: "x"})
	assert.ErrorIs(t, err, wizard.ErrUnknownField)

	_, err = f.Remap(ctx, &models.RemapRequest{SessionID: "empty", Key: "shipperCity", Value: "x"})
	assert.ErrorIs(t, err, wizard.ErrNoSchemaLoaded)

	_, err = f.Remap(ctx, &models.RemapRequest{SessionID: "missing", Key: "shipperCity", Value: "x"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, http.StatusNotFound, HTTPStatus(err))

	assert.JSONEq(t, storedMapping, sessions.get(t, "s1").Mapping)
}

func TestConfirm_ViewOfEmptySession(t *testing.T) {
	sessions := NewMemorySessions()
	sessions.put(models.Session{ID: "empty", Step: "confirm"})
	f := NewConfirmFunction(sessions, testBackends(&stubInferrer{}, &stubCreator{}))

	res, err := f.View(context.Background(), "empty", false)
	require.NoError(t, err)
	assert.False(t, res.View.Loaded)
	assert.Empty(t, res.View.Cards)
}

func TestConfirm_ViewWithAdvice(t *testing.T) {
	sessions := NewMemorySessions()
	sessions.put(confirmSession("s1"))
	backends := testBackends(&stubInferrer{}, &stubCreator{})
	backends.Advisor = stubAdvisor{"recipientCity": "Sender City"}
	f := NewConfirmFunction(sessions, backends)

	res, err := f.View(context.Background(), "s1", true)
	require.NoError(t, err)
	assert.Equal(t, []wizard.Advice{{Key: "recipientCity", Current: "Receiver City", Suggested: "Sender City"}}, res.Advice)
	assert.JSONEq(t, storedMapping, sessions.get(t, "s1").Mapping, "advice must not be applied")

	f.backends.Advisor = nil
	_, err = f.View(context.Background(), "s1", true)
	assert.ErrorIs(t, err, wizard.ErrNoAdvisor)
}

func TestSubmit_Success(t *testing.T) {
	sessions := NewMemorySessions()
	sessions.put(confirmSession("s1"))
	creator := &stubCreator{ref: "pipelines/temu-march"}
	f := NewSubmitFunction(sessions, testBackends(&stubInferrer{}, creator))

	res, err := f.Process(context.Background(), &models.SubmitRequest{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "one_record", res.Step)
	assert.Equal(t, "pipelines/temu-march", res.PipelineRef)
	assert.Equal(t, []string{"Temu March"}, creator.calls)

	stored := sessions.get(t, "s1")
	assert.False(t, stored.Submitting)
	assert.Equal(t, "one_record", stored.Step)
	assert.Equal(t, "pipelines/temu-march", stored.PipelineRef)
}

func TestSubmit_BusySessionIsRejected(t *testing.T) {
	sessions := NewMemorySessions()
	busy := confirmSession("s1")
	busy.Submitting = true
	sessions.put(busy)
	creator := &stubCreator{}
	f := NewSubmitFunction(sessions, testBackends(&stubInferrer{}, creator))

	_, err := f.Process(context.Background(), &models.SubmitRequest{SessionID: "s1"})
	assert.ErrorIs(t, err, ErrSessionBusy)
	assert.Equal(t, http.StatusConflict, HTTPStatus(err))
	assert.Empty(t, creator.calls)
	assert.True(t, sessions.get(t, "s1").Submitting)
}

func TestSubmit_FailureReleasesClaim(t *testing.T) {
	sessions := NewMemorySessions()
	sessions.put(confirmSession("s1"))
	creator := &stubCreator{err: &pipeline.StatusError{Op: "pipeline creation", StatusCode: http.StatusInternalServerError}}
	f := NewSubmitFunction(sessions, testBackends(&stubInferrer{}, creator))

	_, err := f.Process(context.Background(), &models.SubmitRequest{SessionID: "s1"})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(err))

	stored := sessions.get(t, "s1")
	assert.False(t, stored.Submitting)
	assert.Equal(t, "confirm", stored.Step)
	assert.NotEmpty(t, stored.ErrorDetails)

	creator.err = nil
	res, err := f.Process(context.Background(), &models.SubmitRequest{SessionID: "s1"})
	require.NoError(t, err, "retry after a failed submission")
	assert.Equal(t, "one_record", res.Step)
	assert.Empty(t, sessions.get(t, "s1").ErrorDetails)
}

func TestSubmit_WithoutSchema(t *testing.T) {
	sessions := NewMemorySessions()
	sessions.put(models.Session{ID: "empty", Step: "confirm"})
	creator := &stubCreator{}
	f := NewSubmitFunction(sessions, testBackends(&stubInferrer{}, creator))

	_, err := f.Process(context.Background(), &models.SubmitRequest{SessionID: "empty"})
	assert.ErrorIs(t, err, wizard.ErrNoSchemaLoaded)
	assert.Empty(t, creator.calls)
	assert.False(t, sessions.get(t, "empty").Submitting)
}

func newTestIntake(sessions SessionRepository, inferrer *stubInferrer) *IntakeFunction {
	return &IntakeFunction{
		sessions: sessions,
		backends: testBackends(inferrer, &stubCreator{}),
		open: func(bucket, object string) wizard.SpreadsheetFile {
			return wizard.NewMemoryFile(object, []byte("xls"))
		},
		config: IntakeConfig{Prefix: "incoming/"},
	}
}

func TestIntake_SkipsOtherObjects(t *testing.T) {
	sessions := NewMemorySessions()
	f := newTestIntake(sessions, &stubInferrer{doc: inferredDocument(t)})

	require.NoError(t, f.Process(context.Background(), GCSEvent{Bucket: "drops", Name: "archive/march.xls"}))
	require.NoError(t, f.Process(context.Background(), GCSEvent{Bucket: "drops", Name: "incoming/readme.txt"}))
	assert.Zero(t, sessions.count())
}

func TestIntake_CreatesConfirmSession(t *testing.T) {
	sessions := NewMemorySessions()
	f := newTestIntake(sessions, &stubInferrer{doc: inferredDocument(t)})
	event := GCSEvent{Bucket: "drops", Name: "incoming/temu/march.xlsx", Generation: "1710000000000001"}

	require.NoError(t, f.Process(context.Background(), event))

	stored := sessions.get(t, intakeSessionID(event))
	assert.Equal(t, "march", stored.Name)
	assert.Equal(t, "march.xlsx", stored.Filename)
	assert.Equal(t, "gs://drops/incoming/temu/march.xlsx", stored.SourceURI)
	assert.Equal(t, "confirm", stored.Step)
	assert.JSONEq(t, storedMapping, stored.Mapping)
}

func TestIntake_RecordsFailure(t *testing.T) {
	sessions := NewMemorySessions()
	f := newTestIntake(sessions, &stubInferrer{err: errors.New("connection refused")})
	event := GCSEvent{Bucket: "drops", Name: "incoming/march.xls", Generation: "7"}

	err := f.Process(context.Background(), event)
	require.Error(t, err)

	stored := sessions.get(t, intakeSessionID(event))
	assert.Equal(t, "upload", stored.Step)
	assert.Empty(t, stored.Mapping)
	assert.Contains(t, stored.ErrorDetails, "schema inference failed")
}

func TestIntake_RedeliveryIsSkipped(t *testing.T) {
	sessions := NewMemorySessions()
	inferrer := &stubInferrer{doc: inferredDocument(t)}
	f := newTestIntake(sessions, inferrer)
	event := GCSEvent{Bucket: "drops", Name: "incoming/march.xlsx"}

	require.NoError(t, f.Process(context.Background(), event))
	require.NoError(t, f.Process(context.Background(), event))

	assert.Equal(t, 1, sessions.count())
	assert.Equal(t, 1, inferrer.calls)
	assert.Equal(t, "confirm", sessions.get(t, intakeSessionID(event)).Step)
}

func TestIntake_RedeliveryRetriesFailedInference(t *testing.T) {
	sessions := NewMemorySessions()
	inferrer := &stubInferrer{err: errors.New("connection refused")}
	f := newTestIntake(sessions, inferrer)
	event := GCSEvent{Bucket: "drops", Name: "incoming/march.xlsx", Generation: "3"}

	require.Error(t, f.Process(context.Background(), event))

	inferrer.doc, inferrer.err = inferredDocument(t), nil
	require.NoError(t, f.Process(context.Background(), event))

	assert.Equal(t, 1, sessions.count())
	assert.Equal(t, 2, inferrer.calls)
	stored := sessions.get(t, intakeSessionID(event))
	assert.Equal(t, "confirm", stored.Step)
	assert.Empty(t, stored.ErrorDetails)
}

func TestIntake_NewGenerationStartsNewSession(t *testing.T) {
	sessions := NewMemorySessions()
	f := newTestIntake(sessions, &stubInferrer{doc: inferredDocument(t)})
	ctx := context.Background()

	require.NoError(t, f.Process(ctx, GCSEvent{Bucket: "drops", Name: "incoming/march.xlsx", Generation: "1"}))
	require.NoError(t, f.Process(ctx, GCSEvent{Bucket: "drops", Name: "incoming/march.xlsx", Generation: "2"}))

	assert.Equal(t, 2, sessions.count())
}

func TestSessions_RemapDuringClaimIsRejected(t *testing.T) {
	sessions := &racingSessions{MemorySessions: NewMemorySessions()}
	sessions.put(confirmSession("s1"))
	creator := &stubCreator{ref: "pipelines/temu-march"}
	backends := testBackends(&stubInferrer{}, creator)
	ctx := context.Background()

	_, err := NewConfirmFunction(sessions, backends).Remap(ctx, &models.RemapRequest{SessionID: "s1", Key: "shipperCity", Value: "Receiver City"})
	assert.ErrorIs(t, err, ErrSessionBusy)

	stored := sessions.get(t, "s1")
	assert.True(t, stored.Submitting, "the other instance's claim must survive")
	assert.JSONEq(t, storedMapping, stored.Mapping)

	_, err = NewSubmitFunction(sessions, backends).Process(ctx, &models.SubmitRequest{SessionID: "s1"})
	assert.ErrorIs(t, err, ErrSessionBusy)
	assert.Empty(t, creator.calls)
}

func TestSessions_UploadDuringClaimIsRejected(t *testing.T) {
	sessions := &racingSessions{MemorySessions: NewMemorySessions()}
	sessions.put(confirmSession("s1"))
	inferrer := &stubInferrer{doc: inferredDocument(t)}
	f := NewUploadFunction(sessions, testBackends(inferrer, &stubCreator{}))

	_, err := f.Process(context.Background(), &UploadRequest{SessionID: "s1", Filename: "april.xls", Data: []byte("xls")})
	assert.ErrorIs(t, err, ErrSessionBusy)
	assert.Equal(t, http.StatusConflict, HTTPStatus(err))

	stored := sessions.get(t, "s1")
	assert.True(t, stored.Submitting)
	assert.Equal(t, "march.xlsx", stored.Filename)
}

func TestSessions_UploadOfClaimedSessionIsRejected(t *testing.T) {
	sessions := NewMemorySessions()
	busy := confirmSession("s1")
	busy.Submitting = true
	sessions.put(busy)
	inferrer := &stubInferrer{doc: inferredDocument(t)}
	f := NewUploadFunction(sessions, testBackends(inferrer, &stubCreator{}))

	_, err := f.Process(context.Background(), &UploadRequest{SessionID: "s1", Filename: "april.xls", Data: []byte("xls")})
	assert.ErrorIs(t, err, ErrSessionBusy)
	assert.Zero(t, inferrer.calls)
}

func TestSessions_SubmitKeepsConcurrentRemapOut(t *testing.T) {
	sessions := NewMemorySessions()
	sessions.put(confirmSession("s1"))
	creator := &stubCreator{ref: "pipelines/temu-march"}
	backends := testBackends(&stubInferrer{}, creator)
	confirm := NewConfirmFunction(sessions, backends)

	var remapErr error
	creator.during = func() {
		_, remapErr = confirm.Remap(context.Background(), &models.RemapRequest{SessionID: "s1", Key: "shipperCity", Value: "Receiver City"})
	}

	res, err := NewSubmitFunction(sessions, backends).Process(context.Background(), &models.SubmitRequest{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "one_record", res.Step)
	assert.ErrorIs(t, remapErr, ErrSessionBusy)

	stored := sessions.get(t, "s1")
	assert.False(t, stored.Submitting)
	assert.Equal(t, "pipelines/temu-march", stored.PipelineRef)
	assert.JSONEq(t, storedMapping, stored.Mapping)
}

func TestSessions_ReleaseLeavesMappingAlone(t *testing.T) {
	sessions := NewMemorySessions()
	sessions.put(confirmSession("s1"))
	ctx := context.Background()

	_, err := sessions.ClaimSubmission(ctx, "s1")
	require.NoError(t, err)
	edited := sessions.get(t, "s1")
	edited.Mapping = `{"headers":["Only"]}`
	sessions.put(edited)

	require.NoError(t, sessions.ReleaseSubmission(ctx, "s1", SubmissionOutcome{Step: "confirm", ErrorDetails: "boom"}))

	stored := sessions.get(t, "s1")
	assert.False(t, stored.Submitting)
	assert.Equal(t, `{"headers":["Only"]}`, stored.Mapping)
	assert.Equal(t, "boom", stored.ErrorDetails)
}

func TestSessions_CreateRejectsUsedID(t *testing.T) {
	sessions := NewMemorySessions()
	ctx := context.Background()

	require.NoError(t, sessions.Create(ctx, &models.Session{ID: "s1"}))
	assert.ErrorIs(t, sessions.Create(ctx, &models.Session{ID: "s1"}), ErrSessionExists)

	generated := &models.Session{}
	require.NoError(t, sessions.Create(ctx, generated))
	assert.NotEmpty(t, generated.ID)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("wrap: %w", ErrSessionNotFound), http.StatusNotFound},
		{wizard.ErrSubmissionInFlight, http.StatusConflict},
		{ErrSessionBusy, http.StatusConflict},
		{wizard.ErrUnknownField, http.StatusBadRequest},
		{fmt.Errorf("schema upload failed: %w", pipeline.ErrMalformedResponse), http.StatusBadGateway},
		{fmt.Errorf("x: %w", &pipeline.StatusError{StatusCode: 500}), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "%v", tt.err)
	}
}
