package models

import "time"

// RetryQueueEntry status values.
const (
	RetryStatusPending    = "pending"
	RetryStatusProcessing = "processing"
	RetryStatusCompleted  = "completed"
	RetryStatusDeadLetter = "dead_letter"
)

// RetryQueueEntry kinds identify which side effect to re-execute.
const (
	RetryKindWebhookReplay = "webhook_replay"
	RetryKindQuoteApproval = "quote_approval"
	RetryKindJobNote       = "job_note"
)

// RetryQueueEntry is one durable pending side effect: a webhook-triggered
// sync or an outbound write that failed transiently. Entries are claimed
// by conditional update (pending -> processing) so concurrent processor
// runs never pick up the same row, and they carry the idempotency key of
// the original attempt so re-attempts present the identical key upstream.
type RetryQueueEntry struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Kind           string    `gorm:"type:varchar(32);not null;index" json:"kind"`
	SubjectUUID    string    `gorm:"type:varchar(64);not null;index" json:"subject_uuid"`
	WebhookEventID *uint     `gorm:"index" json:"webhook_event_id,omitempty"`
	PayloadJSON    string    `gorm:"type:longtext" json:"payload_json"`
	IdempotencyKey string    `gorm:"type:varchar(64);not null" json:"idempotency_key"`
	Status         string    `gorm:"type:varchar(16);not null;default:'pending';index:idx_retry_due" json:"status"`
	AttemptCount   int       `gorm:"not null;default:0" json:"attempt_count"`
	MaxAttempts    int       `gorm:"not null;default:5" json:"max_attempts"`
	NextRetryAt    time.Time `gorm:"not null;index:idx_retry_due" json:"next_retry_at"`
	LastError      string    `gorm:"type:text" json:"last_error"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (RetryQueueEntry) TableName() string {
	return "retry_queue_entries"
}

// Exhausted reports whether the entry has used up its attempt budget.
func (e *RetryQueueEntry) Exhausted() bool {
	return e.AttemptCount >= e.MaxAttempts
}
