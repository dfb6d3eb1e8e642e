package models

import "time"

// Payment mirrors a ServiceM8 payment record scoped to a company.
type Payment struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	RemoteUUID     string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"remote_uuid"`
	CompanyUUID    string     `gorm:"type:varchar(64);not null;index" json:"company_uuid"`
	JobUUID        string     `gorm:"type:varchar(64);index" json:"job_uuid"`
	Amount         float64    `gorm:"type:decimal(12,2);default:0" json:"amount"`
	Method         string     `gorm:"type:varchar(64)" json:"method"`
	PaidAt         *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	RemoteEditedAt *time.Time `gorm:"type:timestamp;default:null" json:"remote_edited_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}
