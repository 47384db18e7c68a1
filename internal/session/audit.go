package session

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/finrag/internal/storage"
)

// excerptRunes bounds the answer text kept in an audit record.
const excerptRunes = 400

// Evidence is the audit view of one retrieved chunk.
type Evidence struct {
	ChunkID string  `json:"chunk_id"`
	Source  string  `json:"source"`
	Page    int     `json:"page,omitempty"`
	Score   float32 `json:"score"`
}

// AuditRecord is one entry of the audit trail.
type AuditRecord struct {
	ID            string     `json:"id"`
	Timestamp     time.Time  `json:"timestamp"`
	Key           string     `json:"key"`
	Question      string     `json:"query"`
	Retrieved     []Evidence `json:"retrieved"`
	AnswerExcerpt string     `json:"answer_excerpt"`
	Confidence    float64    `json:"confidence"`
	Verified      bool       `json:"verified"`
	Error         string     `json:"error,omitempty"`
}

// AuditSink receives a durable copy of every audit record.
type AuditSink interface {
	SaveAuditRecord(storage.AuditRecord) error
}

// AuditLog is an append-only, in-memory audit trail. Records are mirrored
// to an optional sink; sink failures are logged and otherwise ignored.
type AuditLog struct {
	mu      sync.Mutex
	records []AuditRecord
	sink    AuditSink
}

// NewAuditLog creates an AuditLog. sink may be nil.
func NewAuditLog(sink AuditSink) *AuditLog {
	return &AuditLog{sink: sink}
}

// Append adds rec to the log.
func (l *AuditLog) Append(rec AuditRecord) {
	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()

	slog.Info("audit", "id", rec.ID, "key", rec.Key, "confidence", rec.Confidence, "retrieved", len(rec.Retrieved))

	if l.sink == nil {
		return
	}
	if err := l.sink.SaveAuditRecord(toStorage(rec)); err != nil {
		slog.Warn("persisting audit record failed", "id", rec.ID, "error", err)
	}
}

// Len returns the number of records.
func (l *AuditLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Records returns a copy of the log, oldest first.
func (l *AuditLog) Records() []AuditRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Recent returns up to n records, newest first. n <= 0 returns all.
func (l *AuditLog) Recent(n int) []AuditRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.records) {
		n = len(l.records)
	}
	out := make([]AuditRecord, 0, n)
	for i := len(l.records) - 1; i >= len(l.records)-n; i-- {
		out = append(out, l.records[i])
	}
	return out
}

func toStorage(rec AuditRecord) storage.AuditRecord {
	retrieved, err := json.Marshal(rec.Retrieved)
	if err != nil || rec.Retrieved == nil {
		retrieved = []byte("[]")
	}
	status := "ok"
	if rec.Error != "" {
		status = "error"
	}
	return storage.AuditRecord{
		ID:            rec.ID,
		CreatedAt:     rec.Timestamp,
		CompanyKey:    rec.Key,
		Question:      rec.Question,
		RetrievedJSON: string(retrieved),
		AnswerExcerpt: rec.AnswerExcerpt,
		Confidence:    rec.Confidence,
		Verified:      rec.Verified,
		Status:        status,
		Error:         rec.Error,
	}
}

func excerpt(s string) string {
	r := []rune(s)
	if len(r) <= excerptRunes {
		return s
	}
	return string(r[:excerptRunes])
}
