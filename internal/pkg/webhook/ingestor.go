package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"

	"github.com/fieldfox/FieldFox/app/models"
	"github.com/fieldfox/FieldFox/app/repository"
	"github.com/fieldfox/FieldFox/internal/pkg/servicem8"
	"github.com/fieldfox/FieldFox/internal/pkg/syncer"
)

// ValidationError means the inbound payload is malformed. Rejected at the
// boundary, never queued.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "webhook validation failed: " + e.Message
}

// SignatureError means the delivery failed HMAC verification. Rejected,
// logged as a security event, never queued.
type SignatureError struct{}

func (e *SignatureError) Error() string {
	return "webhook signature verification failed"
}

// Payload is the JSON body ServiceM8 posts on entity changes.
type Payload struct {
	EventType  string `json:"event_type" validate:"required"`
	ObjectUUID string `json:"object_uuid" validate:"required"`
	WebhookID  string `json:"webhook_id"`
}

// Outcome is the definitive answer for one delivery.
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SyncTrigger is the slice of the sync engine handlers invoke.
type SyncTrigger interface {
	SyncCustomerData(ctx context.Context, companyUUID string) (*syncer.SyncResult, error)
}

// EntityResolver resolves an event's object to its owning company.
type EntityResolver interface {
	GetJob(ctx context.Context, jobUUID string) (*servicem8.Job, error)
	GetAttachment(ctx context.Context, attachmentUUID string) (*servicem8.Attachment, error)
	GetJobMaterial(ctx context.Context, materialUUID string) (*servicem8.JobMaterial, error)
	GetPayment(ctx context.Context, paymentUUID string) (*servicem8.Payment, error)
}

type handlerFunc func(ctx context.Context, objectUUID string) error

// Ingestor is the push-based entry point for ServiceM8 webhooks: verify,
// dedupe, dispatch, record. Deduplication is durable (webhook_events rows),
// so at-most-once handler execution holds across restarts and instances.
type Ingestor struct {
	events   repository.WebhookEventRepository
	retries  repository.RetryQueueRepository
	engine   SyncTrigger
	resolver EntityResolver
	secret   string
	validate *validator.Validate
	handlers map[string]handlerFunc
}

// NewIngestor wires the dispatch table. An empty secret disables signature
// verification (development setups without a configured webhook secret).
func NewIngestor(events repository.WebhookEventRepository, retries repository.RetryQueueRepository, engine SyncTrigger, resolver EntityResolver, secret string) *Ingestor {
	ing := &Ingestor{
		events:   events,
		retries:  retries,
		engine:   engine,
		resolver: resolver,
		secret:   secret,
		validate: validator.New(),
	}
	ing.handlers = map[string]handlerFunc{
		"job.created":         ing.handleJobEvent,
		"job.updated":         ing.handleJobEvent,
		"attachment.created":  ing.handleAttachmentEvent,
		"attachment.updated":  ing.handleAttachmentEvent,
		"jobmaterial.updated": ing.handleMaterialEvent,
		"company.created":     ing.handleCompanyEvent,
		"company.updated":     ing.handleCompanyEvent,
		"payment.created":     ing.handlePaymentEvent,
		"payment.updated":     ing.handlePaymentEvent,
	}
	return ing
}

// Handle processes one delivery end to end. The error return carries the
// boundary failures (*ValidationError, *SignatureError); everything else is
// resolved into the Outcome so senders always get a definitive answer.
func (i *Ingestor) Handle(ctx context.Context, rawBody []byte, signatureHeader string) (*Outcome, error) {
	var payload Payload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, &ValidationError{Message: "invalid JSON payload"}
	}
	if err := i.validate.Struct(&payload); err != nil {
		return nil, &ValidationError{Message: "event_type and object_uuid are required"}
	}

	if i.secret != "" && !VerifySignature(rawBody, signatureHeader, i.secret) {
		log.Warnf("[Webhook] Signature verification failed for event %s object %s", payload.EventType, payload.ObjectUUID)
		return nil, &SignatureError{}
	}

	webhookID := payload.WebhookID
	if webhookID == "" {
		// Sender gave us nothing to dedupe on; derive a stable id from the
		// delivery contents so repeats of the identical payload still dedupe.
		sum := sha256.Sum256(rawBody)
		webhookID = "derived:" + hex.EncodeToString(sum[:])
	}

	created, stored, err := i.events.CreateIfNotExists(&models.WebhookEvent{
		WebhookID:   webhookID,
		EventType:   payload.EventType,
		ObjectUUID:  payload.ObjectUUID,
		PayloadJSON: string(rawBody),
		Status:      models.WebhookStatusProcessing,
	})
	if err != nil {
		return nil, fmt.Errorf("persisting webhook event: %w", err)
	}
	if !created {
		// Duplicate delivery: the handler ran (or is running) for the first
		// copy. Never re-invoke.
		if stored.Status == models.WebhookStatusCompleted {
			return &Outcome{Success: true, Message: "Already processed"}, nil
		}
		return &Outcome{Success: true, Message: "Duplicate delivery"}, nil
	}

	return i.dispatch(ctx, stored, &payload)
}

// Replay re-runs the handler for a previously failed delivery under its
// original webhook_events row. Used by the retry processor; the dedupe
// short-circuit in Handle is deliberately bypassed because the replay is
// the continuation of the original delivery, not a new one.
func (i *Ingestor) Replay(ctx context.Context, eventID uint, rawPayload string) error {
	var payload Payload
	if err := json.Unmarshal([]byte(rawPayload), &payload); err != nil {
		return &ValidationError{Message: "stored payload is not valid JSON"}
	}
	handler, ok := i.handlers[payload.EventType]
	if !ok {
		return nil
	}
	if err := handler(ctx, payload.ObjectUUID); err != nil {
		if servicem8.IsNotFound(err) {
			// Same as first delivery: the object vanished, nothing to redo.
			if merr := i.events.MarkStatus(eventID, models.WebhookStatusCompleted, err.Error()); merr != nil {
				log.Errorf("[Webhook] Failed to mark event %d completed: %v", eventID, merr)
			}
			return nil
		}
		if merr := i.events.MarkStatus(eventID, models.WebhookStatusFailed, err.Error()); merr != nil {
			log.Errorf("[Webhook] Failed to mark event %d failed: %v", eventID, merr)
		}
		return err
	}
	if err := i.events.MarkStatus(eventID, models.WebhookStatusCompleted, ""); err != nil {
		log.Errorf("[Webhook] Failed to mark event %d completed: %v", eventID, err)
	}
	return nil
}

func (i *Ingestor) dispatch(ctx context.Context, event *models.WebhookEvent, payload *Payload) (*Outcome, error) {
	handler, ok := i.handlers[payload.EventType]
	if !ok {
		// Unknown event types are a deliberate no-op so new remote event
		// types never fail deliveries.
		log.Infof("[Webhook] Event type %s not handled", payload.EventType)
		if err := i.events.MarkStatus(event.ID, models.WebhookStatusSkipped, ""); err != nil {
			log.Errorf("[Webhook] Failed to mark event %d skipped: %v", event.ID, err)
		}
		return &Outcome{Success: true, Message: "Event type not handled"}, nil
	}

	if err := handler(ctx, payload.ObjectUUID); err != nil {
		return i.recordFailure(event, payload, err)
	}

	if err := i.events.MarkStatus(event.ID, models.WebhookStatusCompleted, ""); err != nil {
		log.Errorf("[Webhook] Failed to mark event %d completed: %v", event.ID, err)
	}
	return &Outcome{Success: true}, nil
}

func (i *Ingestor) recordFailure(event *models.WebhookEvent, payload *Payload, handlerErr error) (*Outcome, error) {
	if servicem8.IsNotFound(handlerErr) {
		// The object vanished remotely between delivery and processing;
		// nothing to sync, nothing to retry.
		if err := i.events.MarkStatus(event.ID, models.WebhookStatusCompleted, handlerErr.Error()); err != nil {
			log.Errorf("[Webhook] Failed to mark event %d completed: %v", event.ID, err)
		}
		return &Outcome{Success: true, Message: "Object no longer exists"}, nil
	}

	if err := i.events.MarkStatus(event.ID, models.WebhookStatusFailed, handlerErr.Error()); err != nil {
		log.Errorf("[Webhook] Failed to mark event %d failed: %v", event.ID, err)
	}

	if servicem8.IsAuth(handlerErr) {
		// Fatal: retrying without valid credentials cannot succeed.
		log.Errorf("[Webhook] Authentication failure processing event %d: %v", event.ID, handlerErr)
		return &Outcome{Success: false, Message: "Authentication failure"}, nil
	}

	eventID := event.ID
	entry := &models.RetryQueueEntry{
		Kind:           models.RetryKindWebhookReplay,
		SubjectUUID:    payload.ObjectUUID,
		WebhookEventID: &eventID,
		PayloadJSON:    event.PayloadJSON,
		IdempotencyKey: servicem8.IdempotencyKey("webhook_replay", event.WebhookID),
	}
	if err := i.retries.Enqueue(entry); err != nil {
		log.Errorf("[Webhook] Failed to enqueue retry for event %d: %v", event.ID, err)
		return &Outcome{Success: false, Message: "Processing failed"}, nil
	}

	log.Warnf("[Webhook] Event %d failed, queued for retry: %v", event.ID, handlerErr)
	return &Outcome{Success: false, Message: "Processing failed, queued for retry"}, nil
}

func (i *Ingestor) handleJobEvent(ctx context.Context, jobUUID string) error {
	job, err := i.resolver.GetJob(ctx, jobUUID)
	if err != nil {
		return err
	}
	return i.syncCompany(ctx, job.CompanyUUID)
}

func (i *Ingestor) handleAttachmentEvent(ctx context.Context, attachmentUUID string) error {
	attachment, err := i.resolver.GetAttachment(ctx, attachmentUUID)
	if err != nil {
		return err
	}
	job, err := i.resolver.GetJob(ctx, attachment.RelatedObjectUUID)
	if err != nil {
		return err
	}
	return i.syncCompany(ctx, job.CompanyUUID)
}

func (i *Ingestor) handleMaterialEvent(ctx context.Context, materialUUID string) error {
	material, err := i.resolver.GetJobMaterial(ctx, materialUUID)
	if err != nil {
		return err
	}
	job, err := i.resolver.GetJob(ctx, material.JobUUID)
	if err != nil {
		return err
	}
	return i.syncCompany(ctx, job.CompanyUUID)
}

func (i *Ingestor) handleCompanyEvent(ctx context.Context, companyUUID string) error {
	return i.syncCompany(ctx, companyUUID)
}

func (i *Ingestor) handlePaymentEvent(ctx context.Context, paymentUUID string) error {
	payment, err := i.resolver.GetPayment(ctx, paymentUUID)
	if err != nil {
		return err
	}
	return i.syncCompany(ctx, payment.CompanyUUID)
}

func (i *Ingestor) syncCompany(ctx context.Context, companyUUID string) error {
	_, err := i.engine.SyncCustomerData(ctx, companyUUID)
	if errors.Is(err, syncer.ErrSyncInProgress) {
		// Another instance is mid-sync for this company; the retry queue
		// will pick the change up on the next pass.
		return fmt.Errorf("sync coalesced: %w", err)
	}
	return err
}
