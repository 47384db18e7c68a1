package storage

import (
	"database/sql"
	"errors"
	"time"
)

const auditColumns = `id, created_at, company_key, question, retrieved_json, answer_excerpt, confidence, verified, status, error`

type scanner interface {
	Scan(dest ...any) error
}

// SaveAuditRecord appends an audit record. Records are never updated.
func (s *Store) SaveAuditRecord(r AuditRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = "ok"
	}
	if r.RetrievedJSON == "" {
		r.RetrievedJSON = "[]"
	}
	_, err := s.db.Exec(`INSERT INTO audit_records (`+auditColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, formatTime(r.CreatedAt), r.CompanyKey, r.Question, r.RetrievedJSON,
		r.AnswerExcerpt, r.Confidence, boolInt(r.Verified), r.Status, r.Error,
	)
	return err
}

// GetAuditRecord returns the record with id or ErrNotFound.
func (s *Store) GetAuditRecord(id string) (AuditRecord, error) {
	r, err := scanAudit(s.db.QueryRow(`SELECT `+auditColumns+` FROM audit_records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return AuditRecord{}, ErrNotFound
	}
	return r, err
}

// RecentAuditRecords returns up to limit records, newest first. A non-empty
// companyKey restricts the result to that company.
func (s *Store) RecentAuditRecords(companyKey string, limit int) ([]AuditRecord, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_records`
	args := []any{}
	if companyKey != "" {
		query += ` WHERE company_key = ?`
		args = append(args, companyKey)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		r, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanAudit(row scanner) (AuditRecord, error) {
	var (
		r         AuditRecord
		createdAt string
		verified  int
	)
	if err := row.Scan(&r.ID, &createdAt, &r.CompanyKey, &r.Question, &r.RetrievedJSON,
		&r.AnswerExcerpt, &r.Confidence, &verified, &r.Status, &r.Error); err != nil {
		return AuditRecord{}, err
	}
	t, err := parseTime("created_at", createdAt)
	if err != nil {
		return AuditRecord{}, err
	}
	r.CreatedAt = t
	r.Verified = verified != 0
	return r, nil
}
