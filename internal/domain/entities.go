package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrNoCredentials     = errors.New("no API keys configured")
	ErrInternal          = errors.New("internal error")
)

// Provider identifiers recognized by the Provider Call adapter.
const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderGemini     = "gemini"
	ProviderPerplexity = "perplexity"
)

// Cell markers written by the row loop on per-cell and per-row failures.
const (
	CellLLMError = "LLM_ERROR"
	CellRowError = "ROW_ERROR"
)

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobPaused     JobStatus = "paused"
	JobStopped    JobStatus = "stopped"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status is absorbing. Terminal jobs are never
// re-claimed.
func (s JobStatus) Terminal() bool {
	return s == JobStopped || s == JobCompleted || s == JobFailed
}

// PromptSpec is one enrichment step. OutputColumn names the column the step
// fills; {{name}} tokens in SystemText/PromptText reference input headers or
// the OutputColumn of an earlier step.
type PromptSpec struct {
	SystemText   string `json:"systemText,omitempty"`
	PromptText   string `json:"promptText"`
	OutputColumn string `json:"outputColumnName"`
	Provider     string `json:"provider"`
	ModelID      string `json:"modelId"`
}

// ErrorDetails is the structured record attached to a job on auto-pause.
type ErrorDetails struct {
	Category           string            `json:"category"`
	UserMessage        string            `json:"userMessage"`
	TechnicalMessage   string            `json:"technicalMessage"`
	RowNumber          int               `json:"rowNumber"`   // 1-based
	PromptIndex        int               `json:"promptIndex"` // 0-based
	PromptOutputColumn string            `json:"promptOutputColumn"`
	Provider           string            `json:"provider"`
	ModelID            string            `json:"modelId,omitempty"`
	Timestamp          time.Time         `json:"timestamp"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

type Job struct {
	ID               string
	UserID           string
	FileID           string
	Status           JobStatus
	Prompts          []PromptSpec
	TotalRows        int
	RowsProcessed    int
	CurrentRow       *int
	LeaseExpiresAt   *time.Time
	EnrichedFilePath string
	ErrorMessage     string
	ErrorDetails     *ErrorDetails
	FinishedAt       *time.Time
	CreatedAt        time.Time
}

type LogLevel string

const (
	LogInfo  LogLevel = "INFO"
	LogWarn  LogLevel = "WARN"
	LogError LogLevel = "ERROR"
)

// JobLog is one append-only log entry for a job, ordered by timestamp.
type JobLog struct {
	ID        string
	JobID     string
	Level     LogLevel
	Message   string
	Timestamp time.Time
}

// InputFile is the metadata row for an uploaded input table; the bytes live in
// the blob store under Path.
type InputFile struct {
	ID        string
	UserID    string
	Path      string
	Filename  string
	MIME      string
	Size      int64
	CreatedAt time.Time
}

// JobOptions is the small controls blob read at run start. Absence of the blob
// implies the zero value.
type JobOptions struct {
	SkipIfExistingValue bool `json:"skipIfExistingValue"`
}

// ProgressUpdate carries the unconditional per-row bookkeeping fields.
// Nil pointers leave the column untouched; ClearCurrentRow nulls current_row.
type ProgressUpdate struct {
	RowsProcessed   *int
	CurrentRow      *int
	ClearCurrentRow bool
	TotalRows       *int
	LeaseExpiresAt  *time.Time
}

// TransitionExtra carries the optional fields set alongside a conditional
// status transition.
type TransitionExtra struct {
	EnrichedFilePath  *string
	ErrorMessage      *string
	ErrorDetails      *ErrorDetails
	ClearErrorDetails bool
	FinishedAt        *time.Time
	RowsProcessed     *int
	ClearCurrentRow   bool
	ClearLease        bool
}

// Repositories (ports)

type JobRepository interface {
	Create(ctx Context, j Job) (string, error)
	Get(ctx Context, id string) (Job, error)
	// ClaimNext atomically claims one queued job, or one processing job whose
	// lease expired, extending the lease by the given duration. ok is false
	// when no job is claimable.
	ClaimNext(ctx Context, lease time.Duration) (Job, bool, error)
	// Heartbeat extends the lease on a processing job.
	Heartbeat(ctx Context, id string, lease time.Duration) error
	UpdateProgress(ctx Context, id string, upd ProgressUpdate) error
	// TransitionStatus performs a conditional status update; matched reports
	// whether the job's prior status was in from.
	TransitionStatus(ctx Context, id string, from []JobStatus, to JobStatus, extra TransitionExtra) (bool, error)
	AppendLog(ctx Context, id string, level LogLevel, message string) error
	ListLogs(ctx Context, id string) ([]JobLog, error)
}

type FileRepository interface {
	Create(ctx Context, f InputFile) (string, error)
	Get(ctx Context, id string) (InputFile, error)
}

// BlobStore (port) — opaque byte storage keyed by path.

type BlobStore interface {
	Put(ctx Context, path string, data []byte, contentType string) error
	// Get returns ErrNotFound when no blob exists at path.
	Get(ctx Context, path string) ([]byte, error)
	Delete(ctx Context, path string) error
	List(ctx Context, prefix string) ([]string, error)
}

// CredentialsStore (port)

type CredentialsStore interface {
	// GetProviderKeys returns the per-provider API keys for a user. An empty
	// map means the user has no keys configured.
	GetProviderKeys(ctx Context, userID string) (map[string]string, error)
}

// EventPublisher (port) — best-effort lifecycle notifications.

type JobEvent struct {
	JobID         string    `json:"job_id"`
	UserID        string    `json:"user_id"`
	Status        JobStatus `json:"status"`
	RowsProcessed int       `json:"rows_processed"`
	TotalRows     int       `json:"total_rows"`
	At            time.Time `json:"at"`
}

type EventPublisher interface {
	PublishJobEvent(ctx Context, evt JobEvent) error
}

// Context is an alias so adapters and usecases pass context.Context through
// without the domain package re-exporting it under another name.
type Context = context.Context
