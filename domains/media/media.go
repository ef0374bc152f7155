package media

import "time"

type JobState string

const (
	JobPending    JobState = "PENDING"
	JobProcessing JobState = "PROCESSING"
	JobDone       JobState = "DONE"
	JobFailed     JobState = "FAILED"
)

// MaxAttempts is the retry budget before a job is dead-lettered.
const MaxAttempts = 5

// Job is a deferred inbound media download. Created by the inbound
// pipeline when neither download path succeeds synchronously, drained by
// the media retry worker.
type Job struct {
	ID                string         `json:"id"`
	TenantID          string         `json:"tenant_id"`
	MessageID         string         `json:"message_id"`
	MessageExternalID string         `json:"message_external_id,omitempty"`
	InstanceID        string         `json:"instance_id,omitempty"`
	BrokerID          string         `json:"broker_id,omitempty"`
	MediaType         string         `json:"media_type"`
	MediaKey          string         `json:"media_key,omitempty"`
	DirectPath        string         `json:"direct_path,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	Attempts          int            `json:"attempts"`
	NextRetryAt       time.Time      `json:"next_retry_at"`
	State             JobState       `json:"state"`
	LastError         string         `json:"last_error,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Backoff returns the delay before retry n (1-based), capped at 30m.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := 60 * time.Second << (attempt - 1)
	if d > 30*time.Minute || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// Object is a stored media body with its public (possibly signed) URL.
type Object struct {
	URL       string     `json:"url"`
	Path      string     `json:"path,omitempty"`
	MimeType  string     `json:"mime_type,omitempty"`
	FileName  string     `json:"file_name,omitempty"`
	Size      int64      `json:"size,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
