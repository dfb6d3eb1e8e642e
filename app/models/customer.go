package models

import "time"

// Customer mirrors a ServiceM8 company record. Rows are owned by the sync
// engine and written only via upsert on RemoteUUID; the sync path never
// deletes them.
type Customer struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	RemoteUUID string `gorm:"type:varchar(64);not null;uniqueIndex" json:"remote_uuid"`
	Name       string `gorm:"type:varchar(255);not null" json:"name"`
	Email      string `gorm:"type:varchar(255)" json:"email"`
	Phone      string `gorm:"type:varchar(64)" json:"phone"`
	Address    string `gorm:"type:text" json:"address"`
	Active     bool   `gorm:"default:true;index" json:"active"`
	// PortalViewCount is local-only analytics, never written by the sync path.
	PortalViewCount uint       `gorm:"default:0" json:"portal_view_count"`
	RemoteEditedAt  *time.Time `gorm:"type:timestamp;default:null" json:"remote_edited_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Customer) TableName() string {
	return "customers"
}
