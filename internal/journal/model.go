package journal

// LineType marks the side a journal line posts to.
type LineType string

const (
	LineTypeCredit LineType = "CR"
	LineTypeDebit  LineType = "DR"
)

// Header captures the identity shared by every line of one journal.
type Header struct {
	SourceCode         string `json:"journal_header_source_code"`
	ExternalReference  string `json:"journal_external_reference"`
	HeaderDescription  string `json:"journal_header_description"`
	PeriodCode         string `json:"period_code"`
	PeriodDate         string `json:"period_date"`
	CurrencyCode       string `json:"currency_code"`
	CategoryCode       string `json:"journal_category_code"`
	PostedDate         string `json:"journal_posted_date"`
	CreatedDate        string `json:"journal_created_date"`
	CreatedTimestamp   string `json:"journal_created_timestamp"`
	ActualFlag         string `json:"journal_actual_flag"`
	Status             string `json:"journal_status"`
	Name               string `json:"journal_header_name"`
	ReversalFlag       string `json:"reversal_flag"`
	ReversalSourceCode string `json:"reversal_journal_header_source_code"`
}

// Line stores the debit or credit amount posted to one account combination.
// Accounted amounts equal entered amounts; no currency conversion is modeled.
type Line struct {
	Number           int      `json:"journal_line_number"`
	AccountCode      string   `json:"account_code"`
	OrganizationCode string   `json:"organization_code"`
	ProjectCode      string   `json:"project_code"`
	Type             LineType `json:"journal_line_type"`
	EnteredDebit     float64  `json:"entered_debit_amount"`
	EnteredCredit    float64  `json:"entered_credit_amount"`
	AccountedDebit   float64  `json:"accounted_debit_amount"`
	AccountedCredit  float64  `json:"accounted_credit_amount"`
	LineDescription  string   `json:"journal_line_description"`
}

// Batch is one balanced journal: a header and its lines.
type Batch struct {
	Header Header
	Lines  []Line
}

// Record is the flat, denormalized form of a line that gets persisted or
// published. Its JSON encoding is the payload of every generated envelope.
type Record struct {
	Header
	Line
}

// Totals returns the entered debit and credit sums of the batch.
func (b Batch) Totals() (debit, credit float64) {
	for _, line := range b.Lines {
		debit += line.EnteredDebit
		credit += line.EnteredCredit
	}
	return debit, credit
}

// Records denormalizes the batch into one record per line.
func (b Batch) Records() []Record {
	out := make([]Record, 0, len(b.Lines))
	for _, line := range b.Lines {
		out = append(out, Record{Header: b.Header, Line: line})
	}
	return out
}

// Flatten returns the records of all batches, preserving batch and line order.
func Flatten(batches []Batch) []Record {
	size := 0
	for _, b := range batches {
		size += len(b.Lines)
	}
	out := make([]Record, 0, size)
	for _, b := range batches {
		out = append(out, b.Records()...)
	}
	return out
}
