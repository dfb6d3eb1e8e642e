package models

import "time"

// SyncRun status values.
const (
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusPartial = "partial"
	SyncRunStatusFailed  = "failed"
)

// SyncRun records one sync-engine invocation for a company: when it ran,
// what it touched, and whether it fully succeeded.
type SyncRun struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	CompanyUUID   string     `gorm:"type:varchar(64);not null;index" json:"company_uuid"`
	Status        string     `gorm:"type:varchar(16);not null;default:'running';index" json:"status"`
	JobCount      int        `gorm:"default:0" json:"job_count"`
	MaterialCount int        `gorm:"default:0" json:"material_count"`
	DocumentCount int        `gorm:"default:0" json:"document_count"`
	QuoteCount    int        `gorm:"default:0" json:"quote_count"`
	PaymentCount  int        `gorm:"default:0" json:"payment_count"`
	Errors        string     `gorm:"type:text" json:"errors"`
	StartedAt     time.Time  `gorm:"autoCreateTime" json:"started_at"`
	FinishedAt    *time.Time `gorm:"type:timestamp;default:null" json:"finished_at,omitempty"`
}

func (SyncRun) TableName() string {
	return "sync_runs"
}

// SyncLock is the single-flight claim row for per-company syncs. The unique
// index on CompanyUUID makes the claim a conditional insert/update, so two
// service instances can never sync the same company at once. ExpiresAt lets
// a crashed holder's lock be reclaimed.
type SyncLock struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CompanyUUID string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"company_uuid"`
	Owner       string    `gorm:"type:varchar(64);not null" json:"owner"`
	ExpiresAt   time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (SyncLock) TableName() string {
	return "sync_locks"
}
