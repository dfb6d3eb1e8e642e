package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldfox/FieldFox/app/models"
	"github.com/fieldfox/FieldFox/internal/pkg/servicem8"
	"github.com/fieldfox/FieldFox/internal/pkg/syncer"
)

// fakeEventRepo is an in-memory WebhookEventRepository keyed by webhook id.
type fakeEventRepo struct {
	byWebhookID map[string]*models.WebhookEvent
	nextID      uint
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{byWebhookID: map[string]*models.WebhookEvent{}}
}

func (r *fakeEventRepo) CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	if existing, ok := r.byWebhookID[event.WebhookID]; ok {
		return false, existing, nil
	}
	r.nextID++
	event.ID = r.nextID
	r.byWebhookID[event.WebhookID] = event
	return true, event, nil
}

func (r *fakeEventRepo) MarkStatus(id uint, status string, processingErr string) error {
	for _, e := range r.byWebhookID {
		if e.ID == id {
			e.Status = status
			e.Error = processingErr
			now := time.Now()
			e.ProcessedAt = &now
			return nil
		}
	}
	return fmt.Errorf("event %d not found", id)
}

func (r *fakeEventRepo) GetByWebhookID(webhookID string) (*models.WebhookEvent, error) {
	if e, ok := r.byWebhookID[webhookID]; ok {
		return e, nil
	}
	return nil, errors.New("not found")
}

// fakeRetryRepo records enqueued entries.
type fakeRetryRepo struct {
	entries []*models.RetryQueueEntry
}

func (r *fakeRetryRepo) Enqueue(entry *models.RetryQueueEntry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func (r *fakeRetryRepo) ClaimDue(limit int, now time.Time) ([]models.RetryQueueEntry, error) {
	return nil, nil
}
func (r *fakeRetryRepo) ReleaseStuck(olderThan time.Time) (int64, error) { return 0, nil }
func (r *fakeRetryRepo) MarkCompleted(id uint) error { return nil }
func (r *fakeRetryRepo) Reschedule(id uint, attemptCount int, nextRetryAt time.Time, lastError string) error {
	return nil
}
func (r *fakeRetryRepo) DeadLetter(id uint, attemptCount int, lastError string) error { return nil }
func (r *fakeRetryRepo) GetByID(id uint) (*models.RetryQueueEntry, error)             { return nil, errors.New("not found") }
func (r *fakeRetryRepo) ListDeadLetters(limit int) ([]models.RetryQueueEntry, error)  { return nil, nil }

// fakeTrigger counts sync invocations per company.
type fakeTrigger struct {
	calls map[string]int
	err   error
}

func (f *fakeTrigger) SyncCustomerData(ctx context.Context, companyUUID string) (*syncer.SyncResult, error) {
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[companyUUID]++
	if f.err != nil {
		return nil, f.err
	}
	return &syncer.SyncResult{CompanyUUID: companyUUID}, nil
}

// fakeResolver returns canned entities.
type fakeResolver struct {
	job     *servicem8.Job
	jobErr  error
	payment *servicem8.Payment
}

func (f *fakeResolver) GetJob(ctx context.Context, jobUUID string) (*servicem8.Job, error) {
	return f.job, f.jobErr
}

func (f *fakeResolver) GetAttachment(ctx context.Context, attachmentUUID string) (*servicem8.Attachment, error) {
	return &servicem8.Attachment{UUID: attachmentUUID, RelatedObjectUUID: "job-1"}, nil
}

func (f *fakeResolver) GetJobMaterial(ctx context.Context, materialUUID string) (*servicem8.JobMaterial, error) {
	return &servicem8.JobMaterial{UUID: materialUUID, JobUUID: "job-1"}, nil
}

func (f *fakeResolver) GetPayment(ctx context.Context, paymentUUID string) (*servicem8.Payment, error) {
	return f.payment, nil
}

const testSecret = "whsec-test"

func signedDelivery(t *testing.T, payload Payload) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return raw, Sign(raw, testSecret)
}

func newTestIngestor(events *fakeEventRepo, retries *fakeRetryRepo, trigger *fakeTrigger, resolver *fakeResolver) *Ingestor {
	return NewIngestor(events, retries, trigger, resolver, testSecret)
}

func TestHandleDispatchesAndCompletes(t *testing.T) {
	events := newFakeEventRepo()
	retries := &fakeRetryRepo{}
	trigger := &fakeTrigger{}
	resolver := &fakeResolver{job: &servicem8.Job{UUID: "job-1", CompanyUUID: "company-1"}}
	ing := newTestIngestor(events, retries, trigger, resolver)

	raw, sig := signedDelivery(t, Payload{EventType: "job.updated", ObjectUUID: "job-1", WebhookID: "wh-123"})
	outcome, err := ing.Handle(context.Background(), raw, sig)
	require.NoError(t, err)
	assert.True(t, outcome.Success)

	assert.Equal(t, 1, trigger.calls["company-1"])
	stored, err := events.GetByWebhookID("wh-123")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusCompleted, stored.Status)
}

func TestHandleDuplicateDeliveryRunsHandlerOnce(t *testing.T) {
	events := newFakeEventRepo()
	retries := &fakeRetryRepo{}
	trigger := &fakeTrigger{}
	resolver := &fakeResolver{job: &servicem8.Job{UUID: "job-1", CompanyUUID: "company-1"}}
	ing := newTestIngestor(events, retries, trigger, resolver)

	raw, sig := signedDelivery(t, Payload{EventType: "job.updated", ObjectUUID: "job-1", WebhookID: "wh-123"})

	first, err := ing.Handle(context.Background(), raw, sig)
	require.NoError(t, err)
	assert.True(t, first.Success)

	second, err := ing.Handle(context.Background(), raw, sig)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, "Already processed", second.Message)

	// Same webhook id, same effect count: the handler ran exactly once.
	assert.Equal(t, 1, trigger.calls["company-1"])
}

func TestHandleDerivesWebhookIDWhenMissing(t *testing.T) {
	events := newFakeEventRepo()
	retries := &fakeRetryRepo{}
	trigger := &fakeTrigger{}
	resolver := &fakeResolver{job: &servicem8.Job{UUID: "job-1", CompanyUUID: "company-1"}}
	ing := newTestIngestor(events, retries, trigger, resolver)

	raw, sig := signedDelivery(t, Payload{EventType: "job.updated", ObjectUUID: "job-1"})

	_, err := ing.Handle(context.Background(), raw, sig)
	require.NoError(t, err)
	_, err = ing.Handle(context.Background(), raw, sig)
	require.NoError(t, err)

	// Identical raw payloads still dedupe through the derived id.
	assert.Equal(t, 1, trigger.calls["company-1"])
	assert.Len(t, events.byWebhookID, 1)
}

func TestHandleRejectsInvalidSignature(t *testing.T) {
	events := newFakeEventRepo()
	trigger := &fakeTrigger{}
	ing := newTestIngestor(events, &fakeRetryRepo{}, trigger, &fakeResolver{})

	raw, _ := signedDelivery(t, Payload{EventType: "job.updated", ObjectUUID: "job-1", WebhookID: "wh-123"})

	_, err := ing.Handle(context.Background(), raw, Sign(raw, "wrong-secret"))
	var sigErr *SignatureError
	require.ErrorAs(t, err, &sigErr)

	// Rejected deliveries must leave no trace: no event row, no handler run.
	assert.Empty(t, events.byWebhookID)
	assert.Empty(t, trigger.calls)
}

func TestHandleRejectsMalformedPayloads(t *testing.T) {
	ing := newTestIngestor(newFakeEventRepo(), &fakeRetryRepo{}, &fakeTrigger{}, &fakeResolver{})

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{"event_type":`},
		{name: "missing event type", body: `{"object_uuid":"job-1"}`},
		{name: "missing object uuid", body: `{"event_type":"job.updated"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := []byte(tt.body)
			_, err := ing.Handle(context.Background(), raw, Sign(raw, testSecret))
			var vErr *ValidationError
			assert.ErrorAs(t, err, &vErr)
		})
	}
}

func TestHandleSkipsUnknownEventTypes(t *testing.T) {
	events := newFakeEventRepo()
	trigger := &fakeTrigger{}
	ing := newTestIngestor(events, &fakeRetryRepo{}, trigger, &fakeResolver{})

	raw, sig := signedDelivery(t, Payload{EventType: "staff.updated", ObjectUUID: "staff-1", WebhookID: "wh-9"})
	outcome, err := ing.Handle(context.Background(), raw, sig)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, "Event type not handled", outcome.Message)

	stored, err := events.GetByWebhookID("wh-9")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusSkipped, stored.Status)
	assert.Empty(t, trigger.calls)
}

func TestHandleQueuesRetryOnTransientFailure(t *testing.T) {
	events := newFakeEventRepo()
	retries := &fakeRetryRepo{}
	trigger := &fakeTrigger{err: &servicem8.TransientError{Operation: "GetCompany", Status: 503}}
	resolver := &fakeResolver{job: &servicem8.Job{UUID: "job-1", CompanyUUID: "company-1"}}
	ing := newTestIngestor(events, retries, trigger, resolver)

	raw, sig := signedDelivery(t, Payload{EventType: "job.updated", ObjectUUID: "job-1", WebhookID: "wh-123"})
	outcome, err := ing.Handle(context.Background(), raw, sig)
	require.NoError(t, err)
	assert.False(t, outcome.Success)

	stored, err := events.GetByWebhookID("wh-123")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusFailed, stored.Status)

	require.Len(t, retries.entries, 1)
	entry := retries.entries[0]
	assert.Equal(t, models.RetryKindWebhookReplay, entry.Kind)
	assert.Equal(t, stored.ID, *entry.WebhookEventID)
	assert.Equal(t, string(raw), entry.PayloadJSON)
	assert.Equal(t, servicem8.IdempotencyKey("webhook_replay", "wh-123"), entry.IdempotencyKey)
}

func TestHandleCompletesWhenObjectVanished(t *testing.T) {
	events := newFakeEventRepo()
	retries := &fakeRetryRepo{}
	resolver := &fakeResolver{jobErr: &servicem8.NotFoundError{Operation: "GetJob", UUID: "job-1"}}
	ing := newTestIngestor(events, retries, &fakeTrigger{}, resolver)

	raw, sig := signedDelivery(t, Payload{EventType: "job.updated", ObjectUUID: "job-1", WebhookID: "wh-123"})
	outcome, err := ing.Handle(context.Background(), raw, sig)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, "Object no longer exists", outcome.Message)

	stored, err := events.GetByWebhookID("wh-123")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusCompleted, stored.Status)
	assert.Empty(t, retries.entries)
}

func TestHandleDoesNotQueueAuthFailures(t *testing.T) {
	events := newFakeEventRepo()
	retries := &fakeRetryRepo{}
	trigger := &fakeTrigger{err: &servicem8.AuthError{Operation: "GetCompany", Message: "status=401"}}
	resolver := &fakeResolver{job: &servicem8.Job{UUID: "job-1", CompanyUUID: "company-1"}}
	ing := newTestIngestor(events, retries, trigger, resolver)

	raw, sig := signedDelivery(t, Payload{EventType: "job.updated", ObjectUUID: "job-1", WebhookID: "wh-123"})
	outcome, err := ing.Handle(context.Background(), raw, sig)
	require.NoError(t, err)
	assert.False(t, outcome.Success)

	stored, err := events.GetByWebhookID("wh-123")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusFailed, stored.Status)
	assert.Empty(t, retries.entries)
}

func TestHandleTreatsCoalescedSyncAsRetryable(t *testing.T) {
	events := newFakeEventRepo()
	retries := &fakeRetryRepo{}
	trigger := &fakeTrigger{err: syncer.ErrSyncInProgress}
	resolver := &fakeResolver{job: &servicem8.Job{UUID: "job-1", CompanyUUID: "company-1"}}
	ing := newTestIngestor(events, retries, trigger, resolver)

	raw, sig := signedDelivery(t, Payload{EventType: "job.updated", ObjectUUID: "job-1", WebhookID: "wh-123"})
	outcome, err := ing.Handle(context.Background(), raw, sig)
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	require.Len(t, retries.entries, 1)
}

func TestReplayContinuesOriginalDelivery(t *testing.T) {
	events := newFakeEventRepo()
	trigger := &fakeTrigger{}
	resolver := &fakeResolver{job: &servicem8.Job{UUID: "job-1", CompanyUUID: "company-1"}}
	ing := newTestIngestor(events, &fakeRetryRepo{}, trigger, resolver)

	payload := Payload{EventType: "job.updated", ObjectUUID: "job-1", WebhookID: "wh-123"}
	raw, _ := json.Marshal(payload)
	_, stored, err := events.CreateIfNotExists(&models.WebhookEvent{
		WebhookID: "wh-123", EventType: payload.EventType, ObjectUUID: payload.ObjectUUID,
		PayloadJSON: string(raw), Status: models.WebhookStatusFailed,
	})
	require.NoError(t, err)

	require.NoError(t, ing.Replay(context.Background(), stored.ID, string(raw)))
	assert.Equal(t, 1, trigger.calls["company-1"])
	assert.Equal(t, models.WebhookStatusCompleted, stored.Status)
}

func TestReplayPropagatesFailure(t *testing.T) {
	events := newFakeEventRepo()
	trigger := &fakeTrigger{err: &servicem8.TransientError{Operation: "GetCompany", Status: 502}}
	resolver := &fakeResolver{job: &servicem8.Job{UUID: "job-1", CompanyUUID: "company-1"}}
	ing := newTestIngestor(events, &fakeRetryRepo{}, trigger, resolver)

	payload := Payload{EventType: "job.updated", ObjectUUID: "job-1", WebhookID: "wh-123"}
	raw, _ := json.Marshal(payload)
	_, stored, err := events.CreateIfNotExists(&models.WebhookEvent{
		WebhookID: "wh-123", EventType: payload.EventType, ObjectUUID: payload.ObjectUUID,
		PayloadJSON: string(raw), Status: models.WebhookStatusFailed,
	})
	require.NoError(t, err)

	err = ing.Replay(context.Background(), stored.ID, string(raw))
	require.Error(t, err)
	assert.True(t, servicem8.IsTransient(err))
	assert.Equal(t, models.WebhookStatusFailed, stored.Status)
}
