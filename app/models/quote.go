package models

import "time"

// Quote mirrors a ServiceM8 job that is in the quoting stage. ServiceM8 has
// no standalone quote resource; quotes are jobs with status "Quote", so the
// mirror carries the job UUID as RemoteUUID.
type Quote struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	RemoteUUID     string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"remote_uuid"`
	CompanyUUID    string     `gorm:"type:varchar(64);not null;index" json:"company_uuid"`
	JobNumber      string     `gorm:"type:varchar(32)" json:"job_number"`
	Description    string     `gorm:"type:text" json:"description"`
	Amount         float64    `gorm:"type:decimal(12,2);default:0" json:"amount"`
	Sent           bool       `gorm:"default:false" json:"sent"`
	Approved       bool       `gorm:"default:false;index" json:"approved"`
	ApprovedAt     *time.Time `gorm:"type:timestamp;default:null" json:"approved_at,omitempty"`
	RemoteEditedAt *time.Time `gorm:"type:timestamp;default:null" json:"remote_edited_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Quote) TableName() string {
	return "quotes"
}
