package retryqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldfox/FieldFox/app/models"
	"github.com/fieldfox/FieldFox/internal/pkg/servicem8"
)

// fakeQueueRepo hands out claimed entries and records state transitions.
type fakeQueueRepo struct {
	due         []models.RetryQueueEntry
	stuck       []models.RetryQueueEntry
	claimErr    error
	completed   []uint
	rescheduled map[uint]time.Time
	attempts    map[uint]int
	deadLetters map[uint]string
}

func newFakeQueueRepo(due ...models.RetryQueueEntry) *fakeQueueRepo {
	return &fakeQueueRepo{
		due:         due,
		rescheduled: map[uint]time.Time{},
		attempts:    map[uint]int{},
		deadLetters: map[uint]string{},
	}
}

func (r *fakeQueueRepo) Enqueue(entry *models.RetryQueueEntry) error { return nil }

func (r *fakeQueueRepo) ReleaseStuck(olderThan time.Time) (int64, error) {
	released := int64(len(r.stuck))
	for i := range r.stuck {
		r.stuck[i].Status = models.RetryStatusPending
		r.due = append(r.due, r.stuck[i])
	}
	r.stuck = nil
	return released, nil
}

func (r *fakeQueueRepo) ClaimDue(limit int, now time.Time) ([]models.RetryQueueEntry, error) {
	if r.claimErr != nil {
		return nil, r.claimErr
	}
	if len(r.due) > limit {
		return r.due[:limit], nil
	}
	return r.due, nil
}

func (r *fakeQueueRepo) MarkCompleted(id uint) error {
	r.completed = append(r.completed, id)
	return nil
}

func (r *fakeQueueRepo) Reschedule(id uint, attemptCount int, nextRetryAt time.Time, lastError string) error {
	r.rescheduled[id] = nextRetryAt
	r.attempts[id] = attemptCount
	return nil
}

func (r *fakeQueueRepo) DeadLetter(id uint, attemptCount int, lastError string) error {
	r.deadLetters[id] = lastError
	r.attempts[id] = attemptCount
	return nil
}

func (r *fakeQueueRepo) GetByID(id uint) (*models.RetryQueueEntry, error) {
	return nil, errors.New("not found")
}

func (r *fakeQueueRepo) ListDeadLetters(limit int) ([]models.RetryQueueEntry, error) {
	return nil, nil
}

// fakeReplayer fails a configurable number of times before succeeding.
type fakeReplayer struct {
	err   error
	calls int
}

func (f *fakeReplayer) Replay(ctx context.Context, eventID uint, rawPayload string) error {
	f.calls++
	return f.err
}

// fakeOutbound records the idempotency keys of outbound writes.
type fakeOutbound struct {
	approveKeys []string
	noteKeys    []string
	err         error
}

func (f *fakeOutbound) ApproveQuote(ctx context.Context, jobUUID string, approval servicem8.QuoteApproval, idemKey string) error {
	f.approveKeys = append(f.approveKeys, idemKey)
	return f.err
}

func (f *fakeOutbound) AddJobNote(ctx context.Context, jobUUID, note, idemKey string) error {
	f.noteKeys = append(f.noteKeys, idemKey)
	return f.err
}

func webhookEntry(id uint, attempts int) models.RetryQueueEntry {
	eventID := uint(77)
	return models.RetryQueueEntry{
		ID:             id,
		Kind:           models.RetryKindWebhookReplay,
		SubjectUUID:    "job-1",
		WebhookEventID: &eventID,
		PayloadJSON:    `{"event_type":"job.updated","object_uuid":"job-1","webhook_id":"wh-123"}`,
		IdempotencyKey: servicem8.IdempotencyKey("webhook_replay", "wh-123"),
		Status:         models.RetryStatusProcessing,
		AttemptCount:   attempts,
		MaxAttempts:    5,
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 30 * time.Second},
		{attempt: 2, want: time.Minute},
		{attempt: 3, want: 2 * time.Minute},
		{attempt: 4, want: 4 * time.Minute},
		{attempt: 8, want: time.Hour},
		{attempt: 20, want: time.Hour},
		{attempt: 0, want: 30 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempt); got != tt.want {
			t.Fatalf("Backoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestProcessQueueCompletesSuccessfulReplay(t *testing.T) {
	queue := newFakeQueueRepo(webhookEntry(1, 0))
	replayer := &fakeReplayer{}
	proc := NewProcessor(queue, replayer, &fakeOutbound{})

	summary, err := proc.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Claimed)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, replayer.calls)
	assert.Equal(t, []uint{1}, queue.completed)
}

func TestProcessQueueReschedulesWithBackoff(t *testing.T) {
	queue := newFakeQueueRepo(webhookEntry(1, 1))
	replayer := &fakeReplayer{err: &servicem8.TransientError{Operation: "GetCompany", Status: 503}}
	proc := NewProcessor(queue, replayer, &fakeOutbound{})

	before := time.Now()
	summary, err := proc.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Rescheduled)
	assert.Equal(t, 2, queue.attempts[1])

	next, ok := queue.rescheduled[1]
	require.True(t, ok)
	// Attempt 2 backs off by one minute.
	assert.WithinDuration(t, before.Add(time.Minute), next, 5*time.Second)
}

func TestProcessQueueDeadLettersAfterMaxAttempts(t *testing.T) {
	// Entry already failed four times; this pass is the fifth and last.
	queue := newFakeQueueRepo(webhookEntry(1, 4))
	replayer := &fakeReplayer{err: &servicem8.TransientError{Operation: "GetCompany", Status: 503}}
	proc := NewProcessor(queue, replayer, &fakeOutbound{})

	summary, err := proc.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DeadLettered)
	assert.Equal(t, 5, queue.attempts[1])
	assert.Contains(t, queue.deadLetters, uint(1))
	assert.Empty(t, queue.rescheduled)
}

func TestProcessQueueDeadLettersAuthFailuresImmediately(t *testing.T) {
	queue := newFakeQueueRepo(webhookEntry(1, 0))
	replayer := &fakeReplayer{err: &servicem8.AuthError{Operation: "GetCompany", Message: "status=401"}}
	proc := NewProcessor(queue, replayer, &fakeOutbound{})

	summary, err := proc.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DeadLettered)
	assert.Empty(t, queue.rescheduled)
}

func TestProcessQueueReusesStoredIdempotencyKey(t *testing.T) {
	payload, err := json.Marshal(QuoteApprovalPayload{JobUUID: "job-1", ApprovedBy: "Jane Doe"})
	require.NoError(t, err)
	key := servicem8.IdempotencyKey("quote_approval", "job-1", "Jane Doe")

	queue := newFakeQueueRepo(models.RetryQueueEntry{
		ID:             3,
		Kind:           models.RetryKindQuoteApproval,
		SubjectUUID:    "job-1",
		PayloadJSON:    string(payload),
		IdempotencyKey: key,
		MaxAttempts:    5,
	})
	outbound := &fakeOutbound{}
	proc := NewProcessor(queue, &fakeReplayer{}, outbound)

	_, err = proc.ProcessQueue(context.Background())
	require.NoError(t, err)

	// The retry must present the identical key as the original attempt.
	require.Len(t, outbound.approveKeys, 1)
	assert.Equal(t, key, outbound.approveKeys[0])
	assert.Equal(t, []uint{3}, queue.completed)
}

func TestProcessQueueIsolatesEntryFailures(t *testing.T) {
	notePayload, err := json.Marshal(JobNotePayload{JobUUID: "job-2", Note: "customer called"})
	require.NoError(t, err)

	queue := newFakeQueueRepo(
		webhookEntry(1, 0),
		models.RetryQueueEntry{
			ID:             2,
			Kind:           models.RetryKindJobNote,
			SubjectUUID:    "job-2",
			PayloadJSON:    string(notePayload),
			IdempotencyKey: servicem8.IdempotencyKey("job_note", "job-2", "customer called"),
			MaxAttempts:    5,
		},
	)
	// Replays fail transiently, outbound writes succeed.
	replayer := &fakeReplayer{err: &servicem8.TransientError{Operation: "GetCompany", Status: 502}}
	outbound := &fakeOutbound{}
	proc := NewProcessor(queue, replayer, outbound)

	summary, err := proc.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Claimed)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Rescheduled)
	assert.Equal(t, []uint{2}, queue.completed)
}

func TestProcessQueueDeadLettersUnknownKinds(t *testing.T) {
	entry := webhookEntry(1, 4)
	entry.Kind = "mystery"
	queue := newFakeQueueRepo(entry)
	proc := NewProcessor(queue, &fakeReplayer{}, &fakeOutbound{})

	summary, err := proc.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DeadLettered)
}

func TestProcessQueueReleasesStuckEntries(t *testing.T) {
	// An entry left in processing by a crashed pass is swept back to pending
	// at the start of the next pass and processed like any other due entry.
	queue := newFakeQueueRepo()
	queue.stuck = []models.RetryQueueEntry{webhookEntry(9, 1)}
	replayer := &fakeReplayer{}
	proc := NewProcessor(queue, replayer, &fakeOutbound{})

	summary, err := proc.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Empty(t, queue.stuck)
	assert.Equal(t, 1, summary.Claimed)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, []uint{9}, queue.completed)
}

func TestProcessQueueClaimFailureAborts(t *testing.T) {
	queue := newFakeQueueRepo()
	queue.claimErr = errors.New("db down")
	proc := NewProcessor(queue, &fakeReplayer{}, &fakeOutbound{})

	_, err := proc.ProcessQueue(context.Background())
	assert.Error(t, err)
}
