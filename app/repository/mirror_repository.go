package repository

import (
	"time"

	"github.com/fieldfox/FieldFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// mirrorRepository implements the MirrorRepository interface
type mirrorRepository struct {
	db *gorm.DB
}

// NewMirrorRepository creates a new mirror repository instance
func NewMirrorRepository(db *gorm.DB) MirrorRepository {
	return &mirrorRepository{db: db}
}

func upsertByRemoteUUID(db *gorm.DB, value interface{}, columns []string) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "remote_uuid"}},
		DoUpdates: clause.AssignmentColumns(append(columns, "updated_at")),
	}).Create(value).Error
}

func (r *mirrorRepository) UpsertCustomer(customer *models.Customer) error {
	return upsertByRemoteUUID(r.db, customer, []string{
		"name", "email", "phone", "address", "active", "remote_edited_at",
	})
}

func (r *mirrorRepository) UpsertJob(job *models.Job) error {
	// quote_approved is excluded: the approval is written back at approval
	// time (MarkQuoteApproved) and must survive re-syncs against a remote
	// read that may not reflect it yet.
	return upsertByRemoteUUID(r.db, job, []string{
		"company_uuid", "job_number", "status", "description", "job_address",
		"total_amount", "quote_sent", "completed_at", "remote_edited_at",
	})
}

func (r *mirrorRepository) UpsertMaterial(material *models.Material) error {
	return upsertByRemoteUUID(r.db, material, []string{
		"job_uuid", "name", "quantity", "unit_price", "total_price", "remote_edited_at",
	})
}

func (r *mirrorRepository) UpsertAttachment(attachment *models.Attachment) error {
	// Archive fields and the download counter are intentionally excluded:
	// that state is local and must survive re-syncs of the remote record.
	return upsertByRemoteUUID(r.db, attachment, []string{
		"job_uuid", "file_name", "file_type", "content_type", "remote_edited_at",
	})
}

func (r *mirrorRepository) UpsertQuote(quote *models.Quote) error {
	// approved and approved_at are excluded for the same reason as
	// quote_approved on jobs: approval state is local write-back state.
	return upsertByRemoteUUID(r.db, quote, []string{
		"company_uuid", "job_number", "description", "amount", "sent",
		"remote_edited_at",
	})
}

func (r *mirrorRepository) UpsertPayment(payment *models.Payment) error {
	return upsertByRemoteUUID(r.db, payment, []string{
		"company_uuid", "job_uuid", "amount", "method", "paid_at", "remote_edited_at",
	})
}

func (r *mirrorRepository) GetCustomerByRemoteUUID(uuid string) (*models.Customer, error) {
	var customer models.Customer
	if err := r.db.Where("remote_uuid = ?", uuid).First(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *mirrorRepository) GetJobByRemoteUUID(uuid string) (*models.Job, error) {
	var job models.Job
	if err := r.db.Where("remote_uuid = ?", uuid).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *mirrorRepository) GetAttachmentByRemoteUUID(uuid string) (*models.Attachment, error) {
	var attachment models.Attachment
	if err := r.db.Where("remote_uuid = ?", uuid).First(&attachment).Error; err != nil {
		return nil, err
	}
	return &attachment, nil
}

func (r *mirrorRepository) ListJobsByCompany(companyUUID string, offset, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.Where("company_uuid = ?", companyUUID).
		Order("updated_at DESC").Offset(offset).Limit(limit).Find(&jobs).Error
	return jobs, err
}

func (r *mirrorRepository) ListQuotesByCompany(companyUUID string) ([]models.Quote, error) {
	var quotes []models.Quote
	err := r.db.Where("company_uuid = ?", companyUUID).Order("updated_at DESC").Find(&quotes).Error
	return quotes, err
}

func (r *mirrorRepository) ListPaymentsByCompany(companyUUID string, offset, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.Where("company_uuid = ?", companyUUID).
		Order("paid_at DESC").Offset(offset).Limit(limit).Find(&payments).Error
	return payments, err
}

func (r *mirrorRepository) CountJobsByCompany(companyUUID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Job{}).Where("company_uuid = ?", companyUUID).Count(&count).Error
	return count, err
}

func (r *mirrorRepository) CountOpenQuotesByCompany(companyUUID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Quote{}).
		Where("company_uuid = ? AND approved = ?", companyUUID, false).Count(&count).Error
	return count, err
}

func (r *mirrorRepository) SumPaymentsByCompany(companyUUID string) (float64, error) {
	var total float64
	err := r.db.Model(&models.Payment{}).
		Where("company_uuid = ?", companyUUID).
		Select("COALESCE(SUM(amount), 0)").Scan(&total).Error
	return total, err
}

// MarkQuoteApproved records a confirmed upstream approval on both mirror
// rows of the quote job.
func (r *mirrorRepository) MarkQuoteApproved(remoteUUID string, approvedAt time.Time) error {
	if err := r.db.Model(&models.Job{}).
		Where("remote_uuid = ?", remoteUUID).
		Update("quote_approved", true).Error; err != nil {
		return err
	}
	return r.db.Model(&models.Quote{}).
		Where("remote_uuid = ?", remoteUUID).
		Updates(map[string]interface{}{
			"approved":    true,
			"approved_at": &approvedAt,
		}).Error
}

func (r *mirrorRepository) MarkAttachmentArchived(remoteUUID, objectKey string, archivedAt time.Time) error {
	return r.db.Model(&models.Attachment{}).
		Where("remote_uuid = ?", remoteUUID).
		Updates(map[string]interface{}{
			"archive_object_key": objectKey,
			"archived_at":        &archivedAt,
		}).Error
}
