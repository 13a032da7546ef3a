package worker

import (
	"time"
)

// TimestampLayout renders result timestamps, for example
// 2024/05/06 07:08:09,123456.
const TimestampLayout = "2006/01/02 15:04:05,000000"

// Timestamp marshals as TimestampLayout.
type Timestamp time.Time

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).Format(TimestampLayout) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	parsed, err := time.ParseInLocation(`"`+TimestampLayout+`"`, string(data), time.Local)
	if err != nil {
		return err
	}
	*t = Timestamp(parsed)
	return nil
}

// Time returns the underlying time.
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

// Result is the per-worker summary. The aggregate reuses the same shape.
type Result struct {
	Type          string    `json:"type"`
	Scenario      string    `json:"scenario"`
	Table         string    `json:"table"`
	Topic         string    `json:"topic"`
	Size          string    `json:"size"`
	Threads       int       `json:"threads"`
	Thread        int       `json:"thread"`
	MinRec        int       `json:"minrec"`
	MaxRec        int       `json:"maxrec"`
	Iterations    int       `json:"iterations"`
	Sleep         int       `json:"sleep"`
	RunID         string    `json:"run_id"`
	MaxRunSeconds int       `json:"max_run_seconds"`
	Start         Timestamp `json:"load_start_datetime"`
	End           Timestamp `json:"load_end_datetime"`
	ElapsedSec    float64   `json:"elapsed_sec_total"`

	TotalIterations  int   `json:"total_iteration_count"`
	TotalData        int   `json:"total_data_count"`
	TotalFailures    int   `json:"total_failure_count"`
	TotalRetries     int   `json:"total_retry_count"`
	TotalDataSize    int64 `json:"total_data_size"`
	TotalEncodedSize int64 `json:"total_encoded_size"`
}

const (
	TypeDetail = "detail"
	TypeSum    = "sum"
)
