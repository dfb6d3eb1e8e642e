package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/fieldfox/FieldFox/app/models"
	"github.com/fieldfox/FieldFox/app/repository"
	"github.com/fieldfox/FieldFox/internal/pkg/archive"
	"github.com/fieldfox/FieldFox/internal/pkg/cache"
	"github.com/fieldfox/FieldFox/internal/pkg/metrics/counter"
	"github.com/fieldfox/FieldFox/internal/pkg/middleware"
	"github.com/fieldfox/FieldFox/internal/pkg/servicem8"
)

const (
	dashboardCacheTTL = 60 * time.Second

	// Attachments above this size are served but not buffered for archiving.
	maxArchiveBytes = 64 << 20

	defaultPageSize = 25
	maxPageSize     = 100
)

// HandlePortalDashboard returns the aggregate view the portal landing page
// renders: job counts, open quotes, payment total and the last sync run.
func HandlePortalDashboard(c *fiber.Ctx) error {
	companyUUID := middleware.CompanyFromContext(c)
	cacheKey := "portal:dashboard:" + companyUUID

	if cached, err := cache.Get(cacheKey); err == nil && cached != "" {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.SendString(cached)
	}

	repos := repository.GetGlobalRepositories()

	jobCount, err := repos.Mirror.CountJobsByCompany(companyUUID)
	if err != nil {
		return dashboardError(c, err)
	}
	openQuotes, err := repos.Mirror.CountOpenQuotesByCompany(companyUUID)
	if err != nil {
		return dashboardError(c, err)
	}
	paymentTotal, err := repos.Mirror.SumPaymentsByCompany(companyUUID)
	if err != nil {
		return dashboardError(c, err)
	}

	dashboard := fiber.Map{
		"company_uuid":  companyUUID,
		"job_count":     jobCount,
		"open_quotes":   openQuotes,
		"payment_total": paymentTotal,
	}

	if customer, err := repos.Mirror.GetCustomerByRemoteUUID(companyUUID); err == nil {
		dashboard["customer_name"] = customer.Name
		if cerr := counter.AddPortalView(customer.ID); cerr != nil {
			log.Debugf("[Portal] Portal view counter failed: %v", cerr)
		}
	}

	if lastRun, err := repos.Sync.GetLastRun(companyUUID); err == nil {
		dashboard["last_sync"] = fiber.Map{
			"status":      lastRun.Status,
			"started_at":  lastRun.StartedAt,
			"finished_at": lastRun.FinishedAt,
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dashboardError(c, err)
	}

	if encoded, err := json.Marshal(dashboard); err == nil {
		if err := cache.Set(cacheKey, string(encoded), dashboardCacheTTL); err != nil {
			log.Warnf("[Portal] Failed to cache dashboard for %s: %v", companyUUID, err)
		}
	}

	return c.JSON(dashboard)
}

func dashboardError(c *fiber.Ctx, err error) error {
	log.Errorf("[Portal] Dashboard query failed: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "dashboard_failed"})
}

// HandlePortalJobs lists the company's mirrored jobs, paginated.
func HandlePortalJobs(c *fiber.Ctx) error {
	companyUUID := middleware.CompanyFromContext(c)
	page, limit := pagination(c)

	repos := repository.GetGlobalRepositories()
	jobs, err := repos.Mirror.ListJobsByCompany(companyUUID, (page-1)*limit, limit)
	if err != nil {
		log.Errorf("[Portal] Job listing failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "jobs_failed"})
	}
	total, err := repos.Mirror.CountJobsByCompany(companyUUID)
	if err != nil {
		log.Errorf("[Portal] Job count failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "jobs_failed"})
	}

	return c.JSON(fiber.Map{"jobs": jobs, "page": page, "limit": limit, "total": total})
}

// HandlePortalQuotes lists the company's open and approved quotes.
func HandlePortalQuotes(c *fiber.Ctx) error {
	companyUUID := middleware.CompanyFromContext(c)

	repos := repository.GetGlobalRepositories()
	quotes, err := repos.Mirror.ListQuotesByCompany(companyUUID)
	if err != nil {
		log.Errorf("[Portal] Quote listing failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "quotes_failed"})
	}

	return c.JSON(fiber.Map{"quotes": quotes})
}

// HandlePortalPayments lists the company's mirrored payments, paginated.
func HandlePortalPayments(c *fiber.Ctx) error {
	companyUUID := middleware.CompanyFromContext(c)
	page, limit := pagination(c)

	repos := repository.GetGlobalRepositories()
	payments, err := repos.Mirror.ListPaymentsByCompany(companyUUID, (page-1)*limit, limit)
	if err != nil {
		log.Errorf("[Portal] Payment listing failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "payments_failed"})
	}
	total, err := repos.Mirror.SumPaymentsByCompany(companyUUID)
	if err != nil {
		log.Errorf("[Portal] Payment sum failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "payments_failed"})
	}

	return c.JSON(fiber.Map{"payments": payments, "page": page, "limit": limit, "total_amount": total})
}

// HandlePortalAttachmentDownload streams an attachment to the customer.
// ServiceM8 is the source of truth; when it is unreachable and an archived
// copy exists, the archive copy is served instead. Fresh downloads are
// archived best-effort in the background.
func HandlePortalAttachmentDownload(c *fiber.Ctx) error {
	companyUUID := middleware.CompanyFromContext(c)
	attachmentUUID := strings.TrimSpace(c.Params("uuid"))

	repos := repository.GetGlobalRepositories()
	att, err := repos.Mirror.GetAttachmentByRemoteUUID(attachmentUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}
		log.Errorf("[Portal] Attachment lookup failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "attachment_failed"})
	}

	// Attachments are only reachable through the job that owns them.
	job, err := repos.Mirror.GetJobByRemoteUUID(att.JobUUID)
	if err != nil || job.CompanyUUID != companyUUID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client := servicem8.NewClientFromEnv()
	body, contentType, err := client.DownloadAttachment(ctx, attachmentUUID)
	if err != nil {
		if servicem8.IsTransient(err) && att.ArchiveObjectKey != "" {
			return serveArchivedAttachment(c, att)
		}
		if servicem8.IsNotFound(err) {
			if att.ArchiveObjectKey != "" {
				return serveArchivedAttachment(c, att)
			}
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}
		log.Errorf("[Portal] Attachment download failed: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "download_failed"})
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxArchiveBytes))
	if err != nil {
		log.Errorf("[Portal] Attachment read failed: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "download_failed"})
	}

	archiveAttachmentCopy(att, companyUUID, contentType, data)

	if cerr := counter.AddAttachmentDownload(att.ID); cerr != nil {
		log.Debugf("[Portal] Download counter failed: %v", cerr)
	}

	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", att.FileName))
	return c.Send(data)
}

// serveArchivedAttachment serves the archived copy of an attachment.
func serveArchivedAttachment(c *fiber.Ctx, att *models.Attachment) error {
	client := archive.GetClient()
	if client == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "source_unavailable"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	body, contentType, err := client.FetchObject(ctx, att.ArchiveObjectKey)
	if err != nil {
		log.Errorf("[Portal] Archive fetch failed for %s: %v", att.ArchiveObjectKey, err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "source_unavailable"})
	}

	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", att.FileName))
	return c.SendStream(body)
}

// archiveAttachmentCopy stores a copy of a freshly downloaded attachment in
// the archive bucket. Best-effort: failures only cost the offline fallback.
func archiveAttachmentCopy(att *models.Attachment, companyUUID, contentType string, data []byte) {
	client := archive.GetClient()
	if client == nil || att.ArchiveObjectKey != "" || len(data) == 0 {
		return
	}

	attCopy := *att
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		objectKey := archive.GetConfig().GetObjectKey(companyUUID, attCopy.RemoteUUID, attCopy.FileName)
		if _, err := client.ArchiveObject(ctx, objectKey, contentType, bytes.NewReader(data)); err != nil {
			log.Warnf("[Portal] Archiving attachment %s failed: %v", attCopy.RemoteUUID, err)
			return
		}
		if err := repository.GetGlobalRepositories().Mirror.MarkAttachmentArchived(attCopy.RemoteUUID, objectKey, time.Now()); err != nil {
			log.Warnf("[Portal] Failed to record archive key for %s: %v", attCopy.RemoteUUID, err)
		}
	}()
}

// quoteApprovalRequest is the portal's quote approval body.
type quoteApprovalRequest struct {
	ApprovedBy string `json:"approved_by"`
	Note       string `json:"note"`
}

// HandlePortalQuoteApprove records a customer's quote approval in ServiceM8.
// The outbound write carries a deterministic idempotency key, and transient
// failures are queued for durable retry with the same key, so double-submits
// and retries never approve twice.
func HandlePortalQuoteApprove(c *fiber.Ctx) error {
	companyUUID := middleware.CompanyFromContext(c)
	jobUUID := strings.TrimSpace(c.Params("uuid"))

	var req quoteApprovalRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	req.ApprovedBy = strings.TrimSpace(req.ApprovedBy)
	if req.ApprovedBy == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": "approved_by is required"})
	}

	repos := repository.GetGlobalRepositories()
	job, err := repos.Mirror.GetJobByRemoteUUID(jobUUID)
	if err != nil || job.CompanyUUID != companyUUID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	}
	if !job.IsQuote() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "not_a_quote"})
	}
	if job.QuoteApproved {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "already_approved": true})
	}

	approval := servicem8.QuoteApproval{ApprovedBy: req.ApprovedBy, Note: req.Note}
	idemKey := servicem8.IdempotencyKey("quote_approval", jobUUID, req.ApprovedBy)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := servicem8.NewClientFromEnv().ApproveQuote(ctx, jobUUID, approval, idemKey); err != nil {
		return handleOutboundWriteError(c, err, models.RetryKindQuoteApproval, jobUUID, idemKey, fiber.Map{
			"job_uuid":    jobUUID,
			"approved_by": req.ApprovedBy,
			"note":        req.Note,
		})
	}

	markQuoteApproved(job)
	cache.Delete("portal:dashboard:" + companyUUID)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// jobNoteRequest is the portal's job note body.
type jobNoteRequest struct {
	Note string `json:"note"`
}

// HandlePortalJobNote attaches a customer note to a job in ServiceM8.
func HandlePortalJobNote(c *fiber.Ctx) error {
	companyUUID := middleware.CompanyFromContext(c)
	jobUUID := strings.TrimSpace(c.Params("uuid"))

	var req jobNoteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	req.Note = strings.TrimSpace(req.Note)
	if req.Note == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": "note is required"})
	}

	repos := repository.GetGlobalRepositories()
	job, err := repos.Mirror.GetJobByRemoteUUID(jobUUID)
	if err != nil || job.CompanyUUID != companyUUID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	}

	idemKey := servicem8.IdempotencyKey("job_note", jobUUID, req.Note)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := servicem8.NewClientFromEnv().AddJobNote(ctx, jobUUID, req.Note, idemKey); err != nil {
		return handleOutboundWriteError(c, err, models.RetryKindJobNote, jobUUID, idemKey, fiber.Map{
			"job_uuid": jobUUID,
			"note":     req.Note,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// handleOutboundWriteError maps a failed outbound write to a response.
// Transient failures are queued for durable retry reusing the original
// idempotency key and acknowledged with 202.
func handleOutboundWriteError(c *fiber.Ctx, err error, kind, subjectUUID, idemKey string, payload fiber.Map) error {
	if servicem8.IsNotFound(err) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	}
	if servicem8.IsAuth(err) {
		log.Errorf("[Portal] Outbound write rejected for credentials: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_auth_failed"})
	}
	if !servicem8.IsTransient(err) {
		log.Errorf("[Portal] Outbound write failed: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
	}

	encoded, merr := json.Marshal(payload)
	if merr != nil {
		log.Errorf("[Portal] Failed to encode retry payload: %v", merr)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
	}

	entry := &models.RetryQueueEntry{
		Kind:           kind,
		SubjectUUID:    subjectUUID,
		PayloadJSON:    string(encoded),
		IdempotencyKey: idemKey,
		LastError:      err.Error(),
	}
	if qerr := repository.GetGlobalRepositories().RetryQueue.Enqueue(entry); qerr != nil {
		log.Errorf("[Portal] Failed to enqueue retry for %s: %v", kind, qerr)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
	}

	log.Warnf("[Portal] Outbound %s queued for retry after transient failure: %v", kind, err)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ok": true, "queued": true})
}

// markQuoteApproved reflects a successful approval in the mirror without
// waiting for the next sync.
func markQuoteApproved(job *models.Job) {
	repos := repository.GetGlobalRepositories()
	if err := repos.Mirror.MarkQuoteApproved(job.RemoteUUID, time.Now()); err != nil {
		log.Warnf("[Portal] Failed to mirror quote approval on %s: %v", job.RemoteUUID, err)
	}
}

// pagination reads page/limit query parameters with sane bounds.
func pagination(c *fiber.Ctx) (page, limit int) {
	page = c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit = c.QueryInt("limit", defaultPageSize)
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return page, limit
}
