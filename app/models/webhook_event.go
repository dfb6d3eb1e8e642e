package models

import "time"

// WebhookEvent status values.
const (
	WebhookStatusProcessing = "processing"
	WebhookStatusCompleted  = "completed"
	WebhookStatusFailed     = "failed"
	WebhookStatusSkipped    = "skipped"
)

// WebhookEvent stores one inbound ServiceM8 delivery with deduplication
// metadata for idempotent processing. The unique index on WebhookID is what
// guarantees at-most-once handler execution: the row is inserted with status
// "processing" before the handler runs, so a concurrent duplicate delivery
// loses the insert race and short-circuits.
type WebhookEvent struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	WebhookID   string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"webhook_id"`
	EventType   string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	ObjectUUID  string     `gorm:"type:varchar(64);not null;index" json:"object_uuid"`
	PayloadJSON string     `gorm:"type:longtext;not null" json:"payload_json"`
	Status      string     `gorm:"type:varchar(16);not null;default:'processing';index" json:"status"`
	Error       string     `gorm:"type:text" json:"error"`
	ProcessedAt *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}

// IsTerminal reports whether the event has finished processing.
func (e *WebhookEvent) IsTerminal() bool {
	return e.Status == WebhookStatusCompleted || e.Status == WebhookStatusFailed || e.Status == WebhookStatusSkipped
}
