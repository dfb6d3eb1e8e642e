package repository

import (
	"time"

	"github.com/fieldfox/FieldFox/app/models"
	"gorm.io/gorm"
)

// MirrorRepository owns the local mirror rows of remote ServiceM8 entities.
// All writes go through upsert-by-remote-uuid; the sync path never deletes.
type MirrorRepository interface {
	UpsertCustomer(customer *models.Customer) error
	UpsertJob(job *models.Job) error
	UpsertMaterial(material *models.Material) error
	UpsertAttachment(attachment *models.Attachment) error
	UpsertQuote(quote *models.Quote) error
	UpsertPayment(payment *models.Payment) error

	GetCustomerByRemoteUUID(uuid string) (*models.Customer, error)
	GetJobByRemoteUUID(uuid string) (*models.Job, error)
	GetAttachmentByRemoteUUID(uuid string) (*models.Attachment, error)
	ListJobsByCompany(companyUUID string, offset, limit int) ([]models.Job, error)
	ListQuotesByCompany(companyUUID string) ([]models.Quote, error)
	ListPaymentsByCompany(companyUUID string, offset, limit int) ([]models.Payment, error)
	CountJobsByCompany(companyUUID string) (int64, error)
	CountOpenQuotesByCompany(companyUUID string) (int64, error)
	SumPaymentsByCompany(companyUUID string) (float64, error)
	MarkQuoteApproved(remoteUUID string, approvedAt time.Time) error
	MarkAttachmentArchived(remoteUUID, objectKey string, archivedAt time.Time) error
}

// SyncRepository records sync runs and implements the per-company
// single-flight claim.
type SyncRepository interface {
	CreateRun(run *models.SyncRun) error
	FinalizeRun(run *models.SyncRun) error
	ListRecentRuns(limit int) ([]models.SyncRun, error)
	GetLastRun(companyUUID string) (*models.SyncRun, error)

	// AcquireLock claims the company for the given owner until expiry.
	// Returns ErrLockHeld when another owner holds an unexpired claim.
	AcquireLock(companyUUID, owner string, ttl time.Duration) error
	ReleaseLock(companyUUID, owner string) error
}

// WebhookEventRepository persists inbound webhook deliveries and answers
// idempotency lookups.
type WebhookEventRepository interface {
	// CreateIfNotExists inserts the event with status "processing". The
	// returned bool is false when a row with the same webhook id already
	// existed; the stored row is returned either way.
	CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkStatus(id uint, status string, processingErr string) error
	GetByWebhookID(webhookID string) (*models.WebhookEvent, error)
}

// RetryQueueRepository is the durable queue of failed side effects.
type RetryQueueRepository interface {
	Enqueue(entry *models.RetryQueueEntry) error
	// ClaimDue atomically transitions up to limit due pending entries to
	// processing and returns them. Concurrent callers never claim the same
	// entry. Any error aborts the whole claim without partial results.
	ClaimDue(limit int, now time.Time) ([]models.RetryQueueEntry, error)
	// ReleaseStuck flips processing entries whose claim went stale (a crash
	// between claim and terminal update) back to pending so a later pass can
	// pick them up again. Returns how many entries were released.
	ReleaseStuck(olderThan time.Time) (int64, error)
	MarkCompleted(id uint) error
	Reschedule(id uint, attemptCount int, nextRetryAt time.Time, lastError string) error
	DeadLetter(id uint, attemptCount int, lastError string) error
	GetByID(id uint) (*models.RetryQueueEntry, error)
	ListDeadLetters(limit int) ([]models.RetryQueueEntry, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Mirror       MirrorRepository
	Sync         SyncRepository
	WebhookEvent WebhookEventRepository
	RetryQueue   RetryQueueRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Mirror:       NewMirrorRepository(db),
		Sync:         NewSyncRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
		RetryQueue:   NewRetryQueueRepository(db),
	}
}
