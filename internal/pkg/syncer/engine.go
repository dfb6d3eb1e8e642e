package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/fieldfox/FieldFox/app/models"
	"github.com/fieldfox/FieldFox/app/repository"
	"github.com/fieldfox/FieldFox/internal/pkg/servicem8"
)

const (
	// inline retries for a transient fetch before the resource type is
	// recorded as a partial failure
	fetchAttempts   = 3
	fetchRetryDelay = 500 * time.Millisecond

	lockTTL = 5 * time.Minute
)

// ErrSyncInProgress is returned when another sync for the same company holds
// the single-flight claim.
var ErrSyncInProgress = errors.New("sync already in progress for company")

// ErrUnknownCompany is returned when the remote system has no record of the
// requested company.
var ErrUnknownCompany = errors.New("unknown company")

// RemoteAPI is the slice of the ServiceM8 client the engine consumes.
type RemoteAPI interface {
	GetCompany(ctx context.Context, companyUUID string) (*servicem8.Company, error)
	ListJobsByCompany(ctx context.Context, companyUUID string) ([]servicem8.Job, error)
	ListJobMaterials(ctx context.Context, jobUUID string) ([]servicem8.JobMaterial, error)
	ListJobAttachments(ctx context.Context, jobUUID string) ([]servicem8.Attachment, error)
	ListPaymentsByCompany(ctx context.Context, companyUUID string) ([]servicem8.Payment, error)
}

// SyncResult summarizes one sync run. Errors holds one entry per failed
// resource type; a non-empty Errors with nonzero counts means the run was
// partially successful, never silently dropped.
type SyncResult struct {
	CompanyUUID   string   `json:"company_uuid"`
	JobCount      int      `json:"job_count"`
	MaterialCount int      `json:"material_count"`
	DocumentCount int      `json:"document_count"`
	QuoteCount    int      `json:"quote_count"`
	PaymentCount  int      `json:"payment_count"`
	Errors        []string `json:"errors,omitempty"`
}

// Status derives the sync run status from the result.
func (r *SyncResult) Status() string {
	if len(r.Errors) == 0 {
		return models.SyncRunStatusSuccess
	}
	if r.JobCount+r.MaterialCount+r.DocumentCount+r.QuoteCount+r.PaymentCount > 0 {
		return models.SyncRunStatusPartial
	}
	return models.SyncRunStatusFailed
}

// Engine is the pull-based reconciler keeping mirror rows consistent with
// ServiceM8. One engine instance is safe for concurrent use; cross-process
// coordination goes through the sync_locks table, not in-memory state.
type Engine struct {
	client RemoteAPI
	mirror repository.MirrorRepository
	syncs  repository.SyncRepository
	owner  string
}

// NewEngine creates a sync engine with a unique owner id for lock claims.
func NewEngine(client RemoteAPI, mirror repository.MirrorRepository, syncs repository.SyncRepository) *Engine {
	return &Engine{
		client: client,
		mirror: mirror,
		syncs:  syncs,
		owner:  uuid.New().String(),
	}
}

// SyncCustomerData fetches all jobs, materials, attachments, quotes and
// payments for the company and upserts them into the mirror tables.
// Resource types are isolated: a failure in one is recorded in the result
// and does not abort the others. An authentication failure aborts the whole
// run. A second call for the same company while one is in flight returns
// ErrSyncInProgress.
func (e *Engine) SyncCustomerData(ctx context.Context, companyUUID string) (*SyncResult, error) {
	if companyUUID == "" {
		return nil, errors.New("company uuid is required")
	}

	if err := e.syncs.AcquireLock(companyUUID, e.owner, lockTTL); err != nil {
		if errors.Is(err, repository.ErrLockHeld) {
			return nil, ErrSyncInProgress
		}
		return nil, fmt.Errorf("acquiring sync claim: %w", err)
	}
	defer func() {
		if err := e.syncs.ReleaseLock(companyUUID, e.owner); err != nil {
			log.Errorf("[Syncer] Failed to release claim for company %s: %v", companyUUID, err)
		}
	}()

	run := &models.SyncRun{CompanyUUID: companyUUID, Status: models.SyncRunStatusRunning}
	if err := e.syncs.CreateRun(run); err != nil {
		return nil, fmt.Errorf("recording sync run: %w", err)
	}

	result := &SyncResult{CompanyUUID: companyUUID}
	err := e.sync(ctx, companyUUID, result)
	e.finalizeRun(run, result, err)
	if err != nil {
		return result, err
	}

	log.Infof("[Syncer] Company %s synced: %d jobs, %d materials, %d documents, %d quotes, %d payments, %d errors",
		companyUUID, result.JobCount, result.MaterialCount, result.DocumentCount,
		result.QuoteCount, result.PaymentCount, len(result.Errors))
	return result, nil
}

func (e *Engine) sync(ctx context.Context, companyUUID string, result *SyncResult) error {
	company, err := e.fetchCompany(ctx, companyUUID)
	if err != nil {
		return err
	}
	if err := e.mirror.UpsertCustomer(companyToMirror(company)); err != nil {
		return fmt.Errorf("upserting customer mirror: %w", err)
	}

	jobs, err := e.syncJobs(ctx, companyUUID, result)
	if err != nil {
		// AuthError: nothing else can succeed without credentials.
		return err
	}

	// Materials and attachments hang off the fetched jobs; quotes and
	// payments are company scoped. Each type fails independently.
	e.syncMaterials(ctx, jobs, result)
	e.syncAttachments(ctx, jobs, result)
	e.syncQuotes(jobs, result)
	if err := e.syncPayments(ctx, companyUUID, result); err != nil {
		return err
	}
	return nil
}

func (e *Engine) fetchCompany(ctx context.Context, companyUUID string) (*servicem8.Company, error) {
	var company *servicem8.Company
	err := withRetry(ctx, func() error {
		var ferr error
		company, ferr = e.client.GetCompany(ctx, companyUUID)
		return ferr
	})
	if err != nil {
		if servicem8.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCompany, companyUUID)
		}
		return nil, err
	}
	return company, nil
}

func (e *Engine) syncJobs(ctx context.Context, companyUUID string, result *SyncResult) ([]servicem8.Job, error) {
	var jobs []servicem8.Job
	err := withRetry(ctx, func() error {
		var ferr error
		jobs, ferr = e.client.ListJobsByCompany(ctx, companyUUID)
		return ferr
	})
	if err != nil {
		if servicem8.IsAuth(err) {
			return nil, err
		}
		result.Errors = append(result.Errors, fmt.Sprintf("jobs: %v", err))
		return nil, nil
	}

	for i := range jobs {
		// Skip the write when the remote edit date says nothing changed.
		// Upserts are idempotent either way; this only saves the roundtrip.
		if existing, gerr := e.mirror.GetJobByRemoteUUID(jobs[i].UUID); gerr == nil &&
			existing.RemoteEditedAt != nil && !jobs[i].EditDate.IsZero() &&
			!jobs[i].EditDate.After(*existing.RemoteEditedAt) {
			result.JobCount++
			continue
		}
		if err := e.mirror.UpsertJob(jobToMirror(&jobs[i])); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("jobs: %v", err))
			return jobs, nil
		}
		result.JobCount++
	}
	return jobs, nil
}

func (e *Engine) syncMaterials(ctx context.Context, jobs []servicem8.Job, result *SyncResult) {
	for i := range jobs {
		var materials []servicem8.JobMaterial
		err := withRetry(ctx, func() error {
			var ferr error
			materials, ferr = e.client.ListJobMaterials(ctx, jobs[i].UUID)
			return ferr
		})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("materials: %v", err))
			return
		}
		for j := range materials {
			if err := e.mirror.UpsertMaterial(materialToMirror(&materials[j])); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("materials: %v", err))
				return
			}
			result.MaterialCount++
		}
	}
}

func (e *Engine) syncAttachments(ctx context.Context, jobs []servicem8.Job, result *SyncResult) {
	for i := range jobs {
		var attachments []servicem8.Attachment
		err := withRetry(ctx, func() error {
			var ferr error
			attachments, ferr = e.client.ListJobAttachments(ctx, jobs[i].UUID)
			return ferr
		})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("attachments: %v", err))
			return
		}
		for j := range attachments {
			if err := e.mirror.UpsertAttachment(attachmentToMirror(&attachments[j])); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("attachments: %v", err))
				return
			}
			result.DocumentCount++
		}
	}
}

// syncQuotes derives quote mirrors from the already-fetched jobs; ServiceM8
// has no standalone quote resource.
func (e *Engine) syncQuotes(jobs []servicem8.Job, result *SyncResult) {
	for i := range jobs {
		if jobs[i].Status != models.JobStatusQuote {
			continue
		}
		if err := e.mirror.UpsertQuote(jobToQuoteMirror(&jobs[i])); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("quotes: %v", err))
			return
		}
		result.QuoteCount++
	}
}

func (e *Engine) syncPayments(ctx context.Context, companyUUID string, result *SyncResult) error {
	var payments []servicem8.Payment
	err := withRetry(ctx, func() error {
		var ferr error
		payments, ferr = e.client.ListPaymentsByCompany(ctx, companyUUID)
		return ferr
	})
	if err != nil {
		if servicem8.IsAuth(err) {
			return err
		}
		result.Errors = append(result.Errors, fmt.Sprintf("payments: %v", err))
		return nil
	}
	for i := range payments {
		if err := e.mirror.UpsertPayment(paymentToMirror(&payments[i])); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("payments: %v", err))
			return nil
		}
		result.PaymentCount++
	}
	return nil
}

func (e *Engine) finalizeRun(run *models.SyncRun, result *SyncResult, syncErr error) {
	run.JobCount = result.JobCount
	run.MaterialCount = result.MaterialCount
	run.DocumentCount = result.DocumentCount
	run.QuoteCount = result.QuoteCount
	run.PaymentCount = result.PaymentCount
	if syncErr != nil {
		run.Status = models.SyncRunStatusFailed
		run.Errors = syncErr.Error()
	} else {
		run.Status = result.Status()
		if len(result.Errors) > 0 {
			if data, err := json.Marshal(result.Errors); err == nil {
				run.Errors = string(data)
			}
		}
	}
	if err := e.syncs.FinalizeRun(run); err != nil {
		log.Errorf("[Syncer] Failed to finalize sync run %d: %v", run.ID, err)
	}
}

// withRetry re-attempts fn on transient failures a small fixed number of
// times before giving up. Non-transient errors return immediately.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		err = fn()
		if err == nil || !servicem8.IsTransient(err) {
			return err
		}
		if attempt == fetchAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * fetchRetryDelay):
		}
	}
	return err
}

func companyToMirror(c *servicem8.Company) *models.Customer {
	return &models.Customer{
		RemoteUUID:     c.UUID,
		Name:           c.Name,
		Email:          c.Email,
		Phone:          c.Mobile,
		Address:        c.BillingAddress,
		Active:         c.Active != 0,
		RemoteEditedAt: c.EditDate.TimePtr(),
	}
}

func jobToMirror(j *servicem8.Job) *models.Job {
	return &models.Job{
		RemoteUUID:     j.UUID,
		CompanyUUID:    j.CompanyUUID,
		JobNumber:      j.GeneratedJobID,
		Status:         j.Status,
		Description:    j.Description,
		JobAddress:     j.JobAddress,
		TotalAmount:    j.TotalInvoiced,
		QuoteSent:      j.QuoteSent != 0,
		QuoteApproved:  j.QuoteApproved != 0,
		CompletedAt:    j.CompletionDate.TimePtr(),
		RemoteEditedAt: j.EditDate.TimePtr(),
	}
}

func jobToQuoteMirror(j *servicem8.Job) *models.Quote {
	return &models.Quote{
		RemoteUUID:     j.UUID,
		CompanyUUID:    j.CompanyUUID,
		JobNumber:      j.GeneratedJobID,
		Description:    j.Description,
		Amount:         j.TotalInvoiced,
		Sent:           j.QuoteSent != 0,
		Approved:       j.QuoteApproved != 0,
		RemoteEditedAt: j.EditDate.TimePtr(),
	}
}

func materialToMirror(m *servicem8.JobMaterial) *models.Material {
	return &models.Material{
		RemoteUUID:     m.UUID,
		JobUUID:        m.JobUUID,
		Name:           m.Name,
		Quantity:       m.Quantity,
		UnitPrice:      m.UnitPrice,
		TotalPrice:     m.Total,
		RemoteEditedAt: m.EditDate.TimePtr(),
	}
}

func attachmentToMirror(a *servicem8.Attachment) *models.Attachment {
	return &models.Attachment{
		RemoteUUID:     a.UUID,
		JobUUID:        a.RelatedObjectUUID,
		FileName:       a.FileName,
		FileType:       a.FileType,
		RemoteEditedAt: a.EditDate.TimePtr(),
	}
}

func paymentToMirror(p *servicem8.Payment) *models.Payment {
	return &models.Payment{
		RemoteUUID:     p.UUID,
		CompanyUUID:    p.CompanyUUID,
		JobUUID:        p.JobUUID,
		Amount:         p.Amount,
		Method:         p.Method,
		PaidAt:         p.PaymentDate.TimePtr(),
		RemoteEditedAt: p.EditDate.TimePtr(),
	}
}
