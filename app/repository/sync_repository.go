package repository

import (
	"errors"
	"time"

	"github.com/fieldfox/FieldFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrLockHeld is returned when another owner holds an unexpired sync claim
// for the company.
var ErrLockHeld = errors.New("sync lock held by another owner")

// syncRepository implements the SyncRepository interface
type syncRepository struct {
	db *gorm.DB
}

// NewSyncRepository creates a new sync repository instance
func NewSyncRepository(db *gorm.DB) SyncRepository {
	return &syncRepository{db: db}
}

func (r *syncRepository) CreateRun(run *models.SyncRun) error {
	return r.db.Create(run).Error
}

func (r *syncRepository) FinalizeRun(run *models.SyncRun) error {
	now := time.Now()
	run.FinishedAt = &now
	return r.db.Save(run).Error
}

func (r *syncRepository) ListRecentRuns(limit int) ([]models.SyncRun, error) {
	var runs []models.SyncRun
	err := r.db.Order("started_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

func (r *syncRepository) GetLastRun(companyUUID string) (*models.SyncRun, error) {
	var run models.SyncRun
	err := r.db.Where("company_uuid = ?", companyUUID).Order("started_at DESC").First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// AcquireLock claims the company via the unique index on company_uuid. If
// the insert conflicts, a conditional update takes over only an expired
// claim; otherwise ErrLockHeld.
func (r *syncRepository) AcquireLock(companyUUID, owner string, ttl time.Duration) error {
	now := time.Now()
	lock := &models.SyncLock{
		CompanyUUID: companyUUID,
		Owner:       owner,
		ExpiresAt:   now.Add(ttl),
	}

	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "company_uuid"}},
		DoNothing: true,
	}).Create(lock)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected > 0 {
		return nil
	}

	// Row exists: take it over only if the previous claim expired.
	res := r.db.Model(&models.SyncLock{}).
		Where("company_uuid = ? AND expires_at <= ?", companyUUID, now).
		Updates(map[string]interface{}{
			"owner":      owner,
			"expires_at": now.Add(ttl),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLockHeld
	}
	return nil
}

func (r *syncRepository) ReleaseLock(companyUUID, owner string) error {
	return r.db.Where("company_uuid = ? AND owner = ?", companyUUID, owner).
		Delete(&models.SyncLock{}).Error
}
