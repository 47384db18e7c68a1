package storage

import (
	"database/sql"
	"errors"
	"time"
)

const artifactColumns = `company_key, ticker, market, dir, filing_path, chunks, dim, degraded, updated_at`

// PutArtifact registers or replaces the artifact entry for a company.
func (s *Store) PutArtifact(a Artifact) error {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO artifacts (`+artifactColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(company_key) DO UPDATE SET
			ticker = excluded.ticker, market = excluded.market, dir = excluded.dir,
			filing_path = excluded.filing_path, chunks = excluded.chunks, dim = excluded.dim,
			degraded = excluded.degraded, updated_at = excluded.updated_at`,
		a.CompanyKey, a.Ticker, a.Market, a.Dir, a.FilingPath, a.Chunks, a.Dim,
		boolInt(a.Degraded), formatTime(a.UpdatedAt),
	)
	return err
}

// GetArtifact returns the artifact registered for companyKey or ErrNotFound.
func (s *Store) GetArtifact(companyKey string) (Artifact, error) {
	a, err := scanArtifact(s.db.QueryRow(`SELECT `+artifactColumns+` FROM artifacts WHERE company_key = ?`, companyKey))
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, ErrNotFound
	}
	return a, err
}

// ListArtifacts returns every registered artifact ordered by key.
func (s *Store) ListArtifacts() ([]Artifact, error) {
	rows, err := s.db.Query(`SELECT ` + artifactColumns + ` FROM artifacts ORDER BY company_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteArtifact removes the registry entry. The files are left alone.
func (s *Store) DeleteArtifact(companyKey string) error {
	res, err := s.db.Exec(`DELETE FROM artifacts WHERE company_key = ?`, companyKey)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanArtifact(row scanner) (Artifact, error) {
	var (
		a         Artifact
		degraded  int
		updatedAt string
	)
	if err := row.Scan(&a.CompanyKey, &a.Ticker, &a.Market, &a.Dir, &a.FilingPath,
		&a.Chunks, &a.Dim, &degraded, &updatedAt); err != nil {
		return Artifact{}, err
	}
	t, err := parseTime("updated_at", updatedAt)
	if err != nil {
		return Artifact{}, err
	}
	a.UpdatedAt = t
	a.Degraded = degraded != 0
	return a, nil
}
