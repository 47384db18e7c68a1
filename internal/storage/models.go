package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// AuditRecord is the durable copy of one answered (or failed) question.
type AuditRecord struct {
	ID            string
	CreatedAt     time.Time
	CompanyKey    string
	Question      string
	RetrievedJSON string // JSON array of {source, page, score}
	AnswerExcerpt string
	Confidence    float64
	Verified      bool
	Status        string // "ok" or "error"
	Error         string
}

// Artifact registers the on-disk index and knowledge files of a loaded
// company.
type Artifact struct {
	CompanyKey string
	Ticker     string
	Market     string
	Dir        string
	FilingPath string
	Chunks     int
	Dim        int
	Degraded   bool
	UpdatedAt  time.Time
}

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Job is a unit of background work, such as loading a company.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
