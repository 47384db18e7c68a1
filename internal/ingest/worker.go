// Package ingest loads companies in the background from the SQLite job
// queue.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/finrag/internal/session"
	"github.com/kalambet/finrag/internal/storage"
)

// JobLoadCompany is the job type handled by Worker.
const JobLoadCompany = "load_company"

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Loader makes a company resident.
type Loader interface {
	LoadCompany(ctx context.Context, ticker, market string) session.LoadStatus
}

// LoadPayload is the payload of a load_company job.
type LoadPayload struct {
	Ticker string `json:"ticker"`
	Market string `json:"market"`
}

// EnqueueLoad queues a background load and returns the job ID.
func EnqueueLoad(store JobStore, ticker, market string) (string, error) {
	if ticker == "" {
		return "", errors.New("ticker is required")
	}
	if market == "" {
		market = "US"
	}
	payload, err := json.Marshal(LoadPayload{Ticker: strings.ToUpper(ticker), Market: strings.ToUpper(market)})
	if err != nil {
		return "", err
	}
	job := storage.Job{ID: uuid.NewString(), Type: JobLoadCompany, PayloadJSON: string(payload)}
	if err := store.EnqueueJob(job); err != nil {
		return "", fmt.Errorf("enqueueing load: %w", err)
	}
	return job.ID, nil
}

// Worker processes load_company jobs.
type Worker struct {
	store  JobStore
	loader Loader
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, loader Loader, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		loader: loader,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job. It reports whether a job was
// processed, regardless of its outcome.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobLoadCompany})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.process(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *storage.Job) error {
	var p LoadPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if p.Ticker == "" {
		return errors.New("payload has no ticker")
	}

	st := w.loader.LoadCompany(ctx, p.Ticker, p.Market)
	if st.Status == session.StatusError {
		return errors.New(st.Error)
	}
	w.logger.Info("background load finished", "job_id", job.ID, "key", st.Key, "status", st.Status, "documents", st.Documents)
	return nil
}
