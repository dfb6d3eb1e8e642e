package models

import "time"

// Job status values as ServiceM8 reports them.
const (
	JobStatusQuote     = "Quote"
	JobStatusWorkOrder = "Work Order"
	JobStatusCompleted = "Completed"
	JobStatusCancelled = "Cancelled"
)

// Job mirrors a ServiceM8 job record for a customer.
type Job struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	RemoteUUID     string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"remote_uuid"`
	CompanyUUID    string     `gorm:"type:varchar(64);not null;index" json:"company_uuid"`
	JobNumber      string     `gorm:"type:varchar(32);index" json:"job_number"`
	Status         string     `gorm:"type:varchar(32);index" json:"status"`
	Description    string     `gorm:"type:text" json:"description"`
	JobAddress     string     `gorm:"type:text" json:"job_address"`
	TotalAmount    float64    `gorm:"type:decimal(12,2);default:0" json:"total_amount"`
	QuoteSent      bool       `gorm:"default:false" json:"quote_sent"`
	QuoteApproved  bool       `gorm:"default:false" json:"quote_approved"`
	CompletedAt    *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	RemoteEditedAt *time.Time `gorm:"type:timestamp;default:null" json:"remote_edited_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Job) TableName() string {
	return "jobs"
}

// IsQuote reports whether the job is still in the quoting stage.
func (j *Job) IsQuote() bool {
	return j.Status == JobStatusQuote
}
