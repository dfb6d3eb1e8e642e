package repository

import (
	"time"

	"github.com/fieldfox/FieldFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// retryQueueRepository implements the RetryQueueRepository interface
type retryQueueRepository struct {
	db *gorm.DB
}

// NewRetryQueueRepository creates a new retry queue repository instance
func NewRetryQueueRepository(db *gorm.DB) RetryQueueRepository {
	return &retryQueueRepository{db: db}
}

func (r *retryQueueRepository) Enqueue(entry *models.RetryQueueEntry) error {
	if entry.Status == "" {
		entry.Status = models.RetryStatusPending
	}
	if entry.MaxAttempts == 0 {
		entry.MaxAttempts = 5
	}
	if entry.NextRetryAt.IsZero() {
		entry.NextRetryAt = time.Now()
	}
	return r.db.Create(entry).Error
}

// ClaimDue selects due pending entries under a row lock and flips them to
// processing inside one transaction, so two concurrent processor runs never
// claim the same entry. A failure anywhere aborts the whole claim.
func (r *retryQueueRepository) ClaimDue(limit int, now time.Time) ([]models.RetryQueueEntry, error) {
	var claimed []models.RetryQueueEntry
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("status = ? AND next_retry_at <= ?", models.RetryStatusPending, now).
			Order("next_retry_at ASC").
			Limit(limit).
			Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]uint, 0, len(claimed))
		for i := range claimed {
			ids = append(ids, claimed[i].ID)
		}
		res := tx.Model(&models.RetryQueueEntry{}).
			Where("id IN ? AND status = ?", ids, models.RetryStatusPending).
			Update("status", models.RetryStatusProcessing)
		if res.Error != nil {
			return res.Error
		}
		for i := range claimed {
			claimed[i].Status = models.RetryStatusProcessing
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ReleaseStuck returns stale processing entries to pending. updated_at is
// touched by the claim, so a processing row older than the cutoff means the
// claimer died before reaching a terminal update.
func (r *retryQueueRepository) ReleaseStuck(olderThan time.Time) (int64, error) {
	res := r.db.Model(&models.RetryQueueEntry{}).
		Where("status = ? AND updated_at <= ?", models.RetryStatusProcessing, olderThan).
		Update("status", models.RetryStatusPending)
	return res.RowsAffected, res.Error
}

func (r *retryQueueRepository) MarkCompleted(id uint) error {
	return r.db.Model(&models.RetryQueueEntry{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.RetryStatusCompleted,
			"last_error": "",
		}).Error
}

func (r *retryQueueRepository) Reschedule(id uint, attemptCount int, nextRetryAt time.Time, lastError string) error {
	return r.db.Model(&models.RetryQueueEntry{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        models.RetryStatusPending,
			"attempt_count": attemptCount,
			"next_retry_at": nextRetryAt,
			"last_error":    lastError,
		}).Error
}

func (r *retryQueueRepository) DeadLetter(id uint, attemptCount int, lastError string) error {
	return r.db.Model(&models.RetryQueueEntry{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        models.RetryStatusDeadLetter,
			"attempt_count": attemptCount,
			"last_error":    lastError,
		}).Error
}

func (r *retryQueueRepository) GetByID(id uint) (*models.RetryQueueEntry, error) {
	var entry models.RetryQueueEntry
	if err := r.db.First(&entry, id).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *retryQueueRepository) ListDeadLetters(limit int) ([]models.RetryQueueEntry, error) {
	var entries []models.RetryQueueEntry
	err := r.db.Where("status = ?", models.RetryStatusDeadLetter).
		Order("updated_at DESC").Limit(limit).Find(&entries).Error
	return entries, err
}
