package servicem8

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fieldfox/FieldFox/internal/pkg/env"
)

const defaultAPIBaseURL = "https://api.servicem8.com/api_1.0"

// IdempotencyKeyHeader carries the deterministic key on mutating calls so
// ServiceM8 can dedupe replays of the same logical intent.
const IdempotencyKeyHeader = "X-Idempotency-Key"

// Client is a thin typed client over the ServiceM8 REST API. It holds no
// local state beyond its configuration; every call is a plain HTTP exchange
// with a bounded timeout.
type Client struct {
	APIKey     string
	APIBaseURL string

	HTTPClient *http.Client
}

// NewClientFromEnv builds a client from SERVICEM8_* environment variables.
func NewClientFromEnv() *Client {
	return &Client{
		APIKey:     strings.TrimSpace(env.GetEnv("SERVICEM8_API_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("SERVICEM8_API_BASE_URL", defaultAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetCompany fetches a single company record.
func (c *Client) GetCompany(ctx context.Context, companyUUID string) (*Company, error) {
	if strings.TrimSpace(companyUUID) == "" {
		return nil, errors.New("company uuid is required")
	}
	var out Company
	if err := c.getJSON(ctx, "GetCompany", "/company/"+companyUUID+".json", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListCompanies lists companies with simple pagination.
func (c *Client) ListCompanies(ctx context.Context, limit, offset int) ([]Company, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("$top", fmt.Sprintf("%d", limit))
	}
	if offset > 0 {
		q.Set("$skip", fmt.Sprintf("%d", offset))
	}
	var out []Company
	if err := c.getJSON(ctx, "ListCompanies", "/company.json", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetJob fetches a single job record.
func (c *Client) GetJob(ctx context.Context, jobUUID string) (*Job, error) {
	if strings.TrimSpace(jobUUID) == "" {
		return nil, errors.New("job uuid is required")
	}
	var out Job
	if err := c.getJSON(ctx, "GetJob", "/job/"+jobUUID+".json", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListJobsByCompany lists all jobs belonging to a company.
func (c *Client) ListJobsByCompany(ctx context.Context, companyUUID string) ([]Job, error) {
	if strings.TrimSpace(companyUUID) == "" {
		return nil, errors.New("company uuid is required")
	}
	q := url.Values{}
	q.Set("$filter", fmt.Sprintf("company_uuid eq '%s'", companyUUID))
	var out []Job
	if err := c.getJSON(ctx, "ListJobsByCompany", "/job.json", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListJobQuotesByCompany lists a company's jobs that are still in the
// quoting stage. ServiceM8 has no standalone quote resource.
func (c *Client) ListJobQuotesByCompany(ctx context.Context, companyUUID string) ([]Job, error) {
	if strings.TrimSpace(companyUUID) == "" {
		return nil, errors.New("company uuid is required")
	}
	q := url.Values{}
	q.Set("$filter", fmt.Sprintf("company_uuid eq '%s' and status eq 'Quote'", companyUUID))
	var out []Job
	if err := c.getJSON(ctx, "ListJobQuotesByCompany", "/job.json", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListJobMaterials lists the material line items of a job.
func (c *Client) ListJobMaterials(ctx context.Context, jobUUID string) ([]JobMaterial, error) {
	if strings.TrimSpace(jobUUID) == "" {
		return nil, errors.New("job uuid is required")
	}
	q := url.Values{}
	q.Set("$filter", fmt.Sprintf("job_uuid eq '%s'", jobUUID))
	var out []JobMaterial
	if err := c.getJSON(ctx, "ListJobMaterials", "/jobmaterial.json", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListJobAttachments lists the attachments related to a job.
func (c *Client) ListJobAttachments(ctx context.Context, jobUUID string) ([]Attachment, error) {
	if strings.TrimSpace(jobUUID) == "" {
		return nil, errors.New("job uuid is required")
	}
	q := url.Values{}
	q.Set("$filter", fmt.Sprintf("related_object_uuid eq '%s'", jobUUID))
	var out []Attachment
	if err := c.getJSON(ctx, "ListJobAttachments", "/attachment.json", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAttachment fetches a single attachment record.
func (c *Client) GetAttachment(ctx context.Context, attachmentUUID string) (*Attachment, error) {
	if strings.TrimSpace(attachmentUUID) == "" {
		return nil, errors.New("attachment uuid is required")
	}
	var out Attachment
	if err := c.getJSON(ctx, "GetAttachment", "/attachment/"+attachmentUUID+".json", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetJobMaterial fetches a single job material record.
func (c *Client) GetJobMaterial(ctx context.Context, materialUUID string) (*JobMaterial, error) {
	if strings.TrimSpace(materialUUID) == "" {
		return nil, errors.New("material uuid is required")
	}
	var out JobMaterial
	if err := c.getJSON(ctx, "GetJobMaterial", "/jobmaterial/"+materialUUID+".json", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPaymentsByCompany lists payments recorded for a company.
func (c *Client) ListPaymentsByCompany(ctx context.Context, companyUUID string) ([]Payment, error) {
	if strings.TrimSpace(companyUUID) == "" {
		return nil, errors.New("company uuid is required")
	}
	q := url.Values{}
	q.Set("$filter", fmt.Sprintf("company_uuid eq '%s'", companyUUID))
	var out []Payment
	if err := c.getJSON(ctx, "ListPaymentsByCompany", "/jobpayment.json", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPayment fetches a single payment record.
func (c *Client) GetPayment(ctx context.Context, paymentUUID string) (*Payment, error) {
	if strings.TrimSpace(paymentUUID) == "" {
		return nil, errors.New("payment uuid is required")
	}
	var out Payment
	if err := c.getJSON(ctx, "GetPayment", "/jobpayment/"+paymentUUID+".json", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadAttachment streams an attachment's file contents. The caller must
// close the returned reader.
func (c *Client) DownloadAttachment(ctx context.Context, attachmentUUID string) (io.ReadCloser, string, error) {
	const op = "DownloadAttachment"
	if strings.TrimSpace(attachmentUUID) == "" {
		return nil, "", errors.New("attachment uuid is required")
	}
	req, err := c.newRequest(ctx, op, http.MethodGet, "/attachment/"+attachmentUUID+".file", nil, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, "", &TransientError{Operation: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, "", c.classifyStatus(op, attachmentUUID, resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// ApproveQuote marks a quote job as approved on behalf of the customer.
// Mutating: requires a non-empty idempotency key.
func (c *Client) ApproveQuote(ctx context.Context, jobUUID string, approval QuoteApproval, idemKey string) error {
	const op = "ApproveQuote"
	if strings.TrimSpace(jobUUID) == "" {
		return errors.New("job uuid is required")
	}
	body := map[string]string{
		"quote_approved":    "1",
		"quote_approved_by": approval.ApprovedBy,
		"quote_note":        approval.Note,
	}
	return c.postJSON(ctx, op, "/job/"+jobUUID+".json", jobUUID, body, idemKey)
}

// AddJobNote appends a note to a job. Mutating: requires a non-empty
// idempotency key.
func (c *Client) AddJobNote(ctx context.Context, jobUUID, note, idemKey string) error {
	const op = "AddJobNote"
	if strings.TrimSpace(jobUUID) == "" {
		return errors.New("job uuid is required")
	}
	if strings.TrimSpace(note) == "" {
		return errors.New("note is required")
	}
	body := map[string]string{
		"related_object":      "job",
		"related_object_uuid": jobUUID,
		"note":                note,
	}
	return c.postJSON(ctx, op, "/note.json", jobUUID, body, idemKey)
}

func (c *Client) newRequest(ctx context.Context, op, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, &AuthError{Operation: op, Message: "SERVICEM8_API_KEY is not configured"}
	}
	u := c.APIBaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.APIKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, out interface{}) error {
	req, err := c.newRequest(ctx, op, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &TransientError{Operation: op, Err: err}
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.classifyStatus(op, path, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("servicem8: %s: decoding response: %w", op, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, op, path, subjectUUID string, body interface{}, idemKey string) error {
	if strings.TrimSpace(idemKey) == "" {
		return fmt.Errorf("servicem8: %s: idempotency key is required for mutating calls", op)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, op, http.MethodPost, path, nil, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyKeyHeader, idemKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &TransientError{Operation: op, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.classifyStatus(op, subjectUUID, resp.StatusCode)
	}
	return nil
}

func (c *Client) classifyStatus(op, subject string, status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Operation: op, Message: fmt.Sprintf("status=%d", status)}
	case status == http.StatusNotFound:
		return &NotFoundError{Operation: op, UUID: subject}
	case status == http.StatusTooManyRequests || status >= 500:
		return &TransientError{Operation: op, Status: status}
	default:
		return fmt.Errorf("servicem8: %s: unexpected status %d", op, status)
	}
}
