package models

import "time"

// Attachment mirrors a ServiceM8 job attachment (photos, PDFs, invoices).
// ArchiveObjectKey is set once a copy has been archived to object storage
// so the document center can serve files while ServiceM8 is unreachable.
type Attachment struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	RemoteUUID       string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"remote_uuid"`
	JobUUID          string     `gorm:"type:varchar(64);not null;index" json:"job_uuid"`
	FileName         string     `gorm:"type:varchar(255)" json:"file_name"`
	FileType         string     `gorm:"type:varchar(32)" json:"file_type"`
	ContentType      string     `gorm:"type:varchar(128)" json:"content_type"`
	ArchiveObjectKey string     `gorm:"type:varchar(512)" json:"archive_object_key"`
	DownloadCount    uint       `gorm:"default:0" json:"download_count"`
	ArchivedAt       *time.Time `gorm:"type:timestamp;default:null" json:"archived_at,omitempty"`
	RemoteEditedAt   *time.Time `gorm:"type:timestamp;default:null" json:"remote_edited_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Attachment) TableName() string {
	return "attachments"
}
