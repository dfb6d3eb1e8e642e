package models

import "time"

// Material mirrors a ServiceM8 job material line item.
type Material struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	RemoteUUID     string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"remote_uuid"`
	JobUUID        string     `gorm:"type:varchar(64);not null;index" json:"job_uuid"`
	Name           string     `gorm:"type:varchar(255)" json:"name"`
	Quantity       float64    `gorm:"type:decimal(12,3);default:0" json:"quantity"`
	UnitPrice      float64    `gorm:"type:decimal(12,2);default:0" json:"unit_price"`
	TotalPrice     float64    `gorm:"type:decimal(12,2);default:0" json:"total_price"`
	RemoteEditedAt *time.Time `gorm:"type:timestamp;default:null" json:"remote_edited_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Material) TableName() string {
	return "materials"
}
