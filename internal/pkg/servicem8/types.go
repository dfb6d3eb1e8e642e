package servicem8

import (
	"strings"
	"time"
)

const timestampLayout = "2006-01-02 15:04:05"

// Timestamp wraps time.Time to accept the "YYYY-MM-DD HH:MM:SS" strings the
// ServiceM8 API returns. Zero dates ("0000-00-00 00:00:00") and empty
// strings unmarshal to the zero time.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" || strings.HasPrefix(s, "0000-00-00") {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(timestampLayout, s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(`"` + t.Format(timestampLayout) + `"`), nil
}

// TimePtr returns the wrapped time as *time.Time, nil when zero.
func (t Timestamp) TimePtr() *time.Time {
	if t.IsZero() {
		return nil
	}
	tt := t.Time
	return &tt
}

// Company is a ServiceM8 company (the portal's customer).
type Company struct {
	UUID           string    `json:"uuid"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Mobile         string    `json:"mobile"`
	BillingAddress string    `json:"billing_address"`
	Active         int       `json:"active"`
	EditDate       Timestamp `json:"edit_date"`
}

// Job is a ServiceM8 job record. Quotes are jobs with Status "Quote".
type Job struct {
	UUID           string    `json:"uuid"`
	CompanyUUID    string    `json:"company_uuid"`
	GeneratedJobID string    `json:"generated_job_id"`
	Status         string    `json:"status"`
	Description    string    `json:"job_description"`
	JobAddress     string    `json:"job_address"`
	TotalInvoiced  float64   `json:"total_invoice_amount,string"`
	QuoteSent      int       `json:"quote_sent"`
	QuoteApproved  int       `json:"quote_approved"`
	CompletionDate Timestamp `json:"completion_date"`
	EditDate       Timestamp `json:"edit_date"`
}

// JobMaterial is one material line item on a job.
type JobMaterial struct {
	UUID      string    `json:"uuid"`
	JobUUID   string    `json:"job_uuid"`
	Name      string    `json:"name"`
	Quantity  float64   `json:"qty,string"`
	UnitPrice float64   `json:"price,string"`
	Total     float64   `json:"total,string"`
	EditDate  Timestamp `json:"edit_date"`
}

// Attachment is a file attached to a job (photo, PDF, invoice).
type Attachment struct {
	UUID              string    `json:"uuid"`
	RelatedObjectUUID string    `json:"related_object_uuid"`
	FileName          string    `json:"attachment_name"`
	FileType          string    `json:"file_type"`
	EditDate          Timestamp `json:"edit_date"`
}

// Payment is a payment recorded against a job.
type Payment struct {
	UUID        string    `json:"uuid"`
	CompanyUUID string    `json:"company_uuid"`
	JobUUID     string    `json:"job_uuid"`
	Amount      float64   `json:"amount,string"`
	Method      string    `json:"payment_method"`
	PaymentDate Timestamp `json:"payment_date"`
	EditDate    Timestamp `json:"edit_date"`
}

// QuoteApproval is the payload for approving a quote job.
type QuoteApproval struct {
	ApprovedBy string `json:"approved_by" validate:"required"`
	Note       string `json:"note"`
}
