package retryqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/fieldfox/FieldFox/app/models"
	"github.com/fieldfox/FieldFox/app/repository"
	"github.com/fieldfox/FieldFox/internal/pkg/servicem8"
)

const (
	// Backoff tuning: 30s, 1m, 2m, 4m, ... capped at 1h. Five attempts
	// total before an entry is parked for manual review.
	backoffBase    = 30 * time.Second
	backoffCeiling = time.Hour

	defaultBatchSize = 25

	// A processing entry untouched for this long was claimed by a pass
	// that died before finishing; it goes back to pending.
	stuckClaimAge = 10 * time.Minute
)

// Backoff returns the delay before the given attempt is retried.
// Exponential, capped at backoffCeiling.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffCeiling {
			return backoffCeiling
		}
	}
	return d
}

// WebhookReplayer re-runs a failed webhook delivery's handler.
type WebhookReplayer interface {
	Replay(ctx context.Context, eventID uint, rawPayload string) error
}

// OutboundClient re-issues failed outbound writes. Re-attempts reuse the
// idempotency key stored on the queue entry, so ServiceM8 sees the identical
// key as the original attempt.
type OutboundClient interface {
	ApproveQuote(ctx context.Context, jobUUID string, approval servicem8.QuoteApproval, idemKey string) error
	AddJobNote(ctx context.Context, jobUUID, note, idemKey string) error
}

// QuoteApprovalPayload is the stored payload for a queued quote approval.
type QuoteApprovalPayload struct {
	JobUUID    string `json:"job_uuid"`
	ApprovedBy string `json:"approved_by"`
	Note       string `json:"note"`
}

// JobNotePayload is the stored payload for a queued job note.
type JobNotePayload struct {
	JobUUID string `json:"job_uuid"`
	Note    string `json:"note"`
}

// Summary reports what one queue pass did.
type Summary struct {
	Claimed      int `json:"claimed"`
	Succeeded    int `json:"succeeded"`
	Rescheduled  int `json:"rescheduled"`
	DeadLettered int `json:"dead_lettered"`
}

// Processor drains the durable retry queue. Safe to invoke concurrently
// from multiple instances: claiming is a conditional update, so no two
// passes ever hold the same entry.
type Processor struct {
	queue     repository.RetryQueueRepository
	replayer  WebhookReplayer
	client    OutboundClient
	batchSize int
	now       func() time.Time
}

// NewProcessor creates a retry queue processor.
func NewProcessor(queue repository.RetryQueueRepository, replayer WebhookReplayer, client OutboundClient) *Processor {
	return &Processor{
		queue:     queue,
		replayer:  replayer,
		client:    client,
		batchSize: defaultBatchSize,
		now:       time.Now,
	}
}

// ProcessQueue claims one batch of due entries and re-executes them.
// A claim failure aborts the whole pass; failures inside individual entries
// are isolated and never abort the batch.
func (p *Processor) ProcessQueue(ctx context.Context) (*Summary, error) {
	// Reclaim entries orphaned by a crash mid-pass before claiming fresh ones.
	if released, err := p.queue.ReleaseStuck(p.now().Add(-stuckClaimAge)); err != nil {
		log.Errorf("[RetryQueue] Failed to release stuck entries: %v", err)
	} else if released > 0 {
		log.Warnf("[RetryQueue] Released %d stuck entries back to pending", released)
	}

	entries, err := p.queue.ClaimDue(p.batchSize, p.now())
	if err != nil {
		return nil, fmt.Errorf("claiming retry batch: %w", err)
	}

	summary := &Summary{Claimed: len(entries)}
	for i := range entries {
		p.processEntry(ctx, &entries[i], summary)
	}

	if summary.Claimed > 0 {
		log.Infof("[RetryQueue] Pass finished: claimed=%d succeeded=%d rescheduled=%d dead_lettered=%d",
			summary.Claimed, summary.Succeeded, summary.Rescheduled, summary.DeadLettered)
	}
	return summary, nil
}

func (p *Processor) processEntry(ctx context.Context, entry *models.RetryQueueEntry, summary *Summary) {
	err := p.execute(ctx, entry)
	if err == nil {
		if merr := p.queue.MarkCompleted(entry.ID); merr != nil {
			log.Errorf("[RetryQueue] Failed to mark entry %d completed: %v", entry.ID, merr)
		}
		summary.Succeeded++
		return
	}

	attempt := entry.AttemptCount + 1

	// Credential failures cannot succeed on a later attempt; park the entry
	// immediately so an operator sees it.
	if servicem8.IsAuth(err) {
		log.Errorf("[RetryQueue] Entry %d dead-lettered on authentication failure: %v", entry.ID, err)
		if derr := p.queue.DeadLetter(entry.ID, attempt, err.Error()); derr != nil {
			log.Errorf("[RetryQueue] Failed to dead-letter entry %d: %v", entry.ID, derr)
		}
		summary.DeadLettered++
		return
	}

	if attempt >= entry.MaxAttempts {
		log.Errorf("[RetryQueue] Entry %d dead-lettered after %d attempts: %v", entry.ID, attempt, err)
		if derr := p.queue.DeadLetter(entry.ID, attempt, err.Error()); derr != nil {
			log.Errorf("[RetryQueue] Failed to dead-letter entry %d: %v", entry.ID, derr)
		}
		summary.DeadLettered++
		return
	}

	nextRetryAt := p.now().Add(Backoff(attempt))
	log.Warnf("[RetryQueue] Entry %d failed (attempt %d/%d), next retry at %s: %v",
		entry.ID, attempt, entry.MaxAttempts, nextRetryAt.Format(time.RFC3339), err)
	if rerr := p.queue.Reschedule(entry.ID, attempt, nextRetryAt, err.Error()); rerr != nil {
		log.Errorf("[RetryQueue] Failed to reschedule entry %d: %v", entry.ID, rerr)
	}
	summary.Rescheduled++
}

func (p *Processor) execute(ctx context.Context, entry *models.RetryQueueEntry) error {
	switch entry.Kind {
	case models.RetryKindWebhookReplay:
		if entry.WebhookEventID == nil {
			return fmt.Errorf("webhook replay entry %d has no event reference", entry.ID)
		}
		return p.replayer.Replay(ctx, *entry.WebhookEventID, entry.PayloadJSON)

	case models.RetryKindQuoteApproval:
		var payload QuoteApprovalPayload
		if err := json.Unmarshal([]byte(entry.PayloadJSON), &payload); err != nil {
			return fmt.Errorf("decoding quote approval payload: %w", err)
		}
		approval := servicem8.QuoteApproval{ApprovedBy: payload.ApprovedBy, Note: payload.Note}
		return p.client.ApproveQuote(ctx, payload.JobUUID, approval, entry.IdempotencyKey)

	case models.RetryKindJobNote:
		var payload JobNotePayload
		if err := json.Unmarshal([]byte(entry.PayloadJSON), &payload); err != nil {
			return fmt.Errorf("decoding job note payload: %w", err)
		}
		return p.client.AddJobNote(ctx, payload.JobUUID, payload.Note, entry.IdempotencyKey)

	default:
		return fmt.Errorf("unknown retry kind: %s", entry.Kind)
	}
}
