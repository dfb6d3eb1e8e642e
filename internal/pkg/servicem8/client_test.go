package servicem8

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Client{
		APIKey:     "test-key",
		APIBaseURL: srv.URL,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func TestGetJobParsesServiceM8Formats(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "/job/job-1.json", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"uuid": "job-1",
			"company_uuid": "company-1",
			"generated_job_id": "1042",
			"status": "Quote",
			"total_invoice_amount": "1234.50",
			"quote_sent": 1,
			"completion_date": "0000-00-00 00:00:00",
			"edit_date": "2026-03-01 10:20:30"
		}`))
	})

	job, err := client.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "company-1", job.CompanyUUID)
	assert.Equal(t, 1234.50, job.TotalInvoiced)
	assert.Equal(t, 1, job.QuoteSent)
	assert.True(t, job.CompletionDate.IsZero())
	assert.Equal(t, time.Date(2026, 3, 1, 10, 20, 30, 0, time.UTC), job.EditDate.Time)
}

func TestClientErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{name: "401 is auth", status: http.StatusUnauthorized, check: IsAuth},
		{name: "403 is auth", status: http.StatusForbidden, check: IsAuth},
		{name: "404 is not found", status: http.StatusNotFound, check: IsNotFound},
		{name: "429 is transient", status: http.StatusTooManyRequests, check: IsTransient},
		{name: "500 is transient", status: http.StatusInternalServerError, check: IsTransient},
		{name: "503 is transient", status: http.StatusServiceUnavailable, check: IsTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := client.GetCompany(context.Background(), "company-1")
			require.Error(t, err)
			assert.True(t, tt.check(err), "got %v", err)
		})
	}
}

func TestClientNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := &Client{
		APIKey:     "test-key",
		APIBaseURL: srv.URL,
		HTTPClient: &http.Client{Timeout: time.Second},
	}
	_, err := client.GetCompany(context.Background(), "company-1")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestClientMissingAPIKeyIsAuthError(t *testing.T) {
	client := &Client{
		APIKey:     "",
		APIBaseURL: "http://127.0.0.1:1",
		HTTPClient: &http.Client{Timeout: time.Second},
	}
	_, err := client.GetCompany(context.Background(), "company-1")
	require.Error(t, err)
	assert.True(t, IsAuth(err))
}

func TestApproveQuoteSendsIdempotencyKey(t *testing.T) {
	var gotKeys []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/job/job-1.json", r.URL.Path)
		gotKeys = append(gotKeys, r.Header.Get(IdempotencyKeyHeader))
		w.WriteHeader(http.StatusOK)
	})

	key := IdempotencyKey("quote_approval", "job-1", "Jane Doe")
	approval := QuoteApproval{ApprovedBy: "Jane Doe"}

	require.NoError(t, client.ApproveQuote(context.Background(), "job-1", approval, key))
	require.NoError(t, client.ApproveQuote(context.Background(), "job-1", approval, key))

	// A retried call presents the identical key so the remote can dedupe.
	require.Len(t, gotKeys, 2)
	assert.Equal(t, key, gotKeys[0])
	assert.Equal(t, gotKeys[0], gotKeys[1])
}

func TestMutatingCallsRequireIdempotencyKey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request must not be sent without an idempotency key")
	})

	err := client.ApproveQuote(context.Background(), "job-1", QuoteApproval{ApprovedBy: "Jane"}, "")
	assert.Error(t, err)

	err = client.AddJobNote(context.Background(), "job-1", "note", "")
	assert.Error(t, err)
}

func TestListJobsByCompanyFilters(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/job.json", r.URL.Path)
		assert.Equal(t, "company_uuid eq 'company-1'", r.URL.Query().Get("$filter"))
		w.Write([]byte(`[{"uuid":"job-1","company_uuid":"company-1","total_invoice_amount":"0"},{"uuid":"job-2","company_uuid":"company-1","total_invoice_amount":"0"}]`))
	})

	jobs, err := client.ListJobsByCompany(context.Background(), "company-1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-1", jobs[0].UUID)
}
