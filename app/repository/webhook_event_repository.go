package repository

import (
	"time"

	"github.com/fieldfox/FieldFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// webhookEventRepository implements the WebhookEventRepository interface
type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a new webhook event repository instance
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

// CreateIfNotExists inserts the delivery before its handler runs, closing
// the race between "check" and "act": a concurrent duplicate delivery loses
// on the unique webhook_id index and is short-circuited by the caller.
func (r *webhookEventRepository) CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "webhook_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("webhook_id = ?", event.WebhookID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *webhookEventRepository) MarkStatus(id uint, status string, processingErr string) error {
	now := time.Now()
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       status,
			"error":        processingErr,
			"processed_at": &now,
		}).Error
}

func (r *webhookEventRepository) GetByWebhookID(webhookID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.Where("webhook_id = ?", webhookID).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}
