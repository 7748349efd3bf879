// Package jobs tracks long-running background work like index rebuilds so
// HTTP clients can poll for progress.
package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a job id is unknown or already cleaned up.
var ErrNotFound = errors.New("job not found")

// Status is a job's lifecycle state.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Progress describes how far a job has advanced.
type Progress struct {
	CurrentStep   string `json:"current_step"`
	Percentage    int    `json:"percentage"`
	TotalPDFs     int    `json:"total_pdfs"`
	TotalURLs     int    `json:"total_urls"`
	ProcessedPDFs int    `json:"processed_pdfs"`
	ProcessedURLs int    `json:"processed_urls"`
}

// Job is a snapshot of one tracked job.
type Job struct {
	ID        string    `json:"job_id"`
	Status    Status    `json:"status"`
	Progress  Progress  `json:"progress"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// Update carries partial progress changes. Nil fields are left untouched.
type Update struct {
	CurrentStep   *string
	Percentage    *int
	TotalPDFs     *int
	TotalURLs     *int
	ProcessedPDFs *int
	ProcessedURLs *int
}

// Tracker keeps jobs in memory. Finished jobs linger for the retention
// period so late pollers still see the terminal state.
type Tracker struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	retention time.Duration
	now       func() time.Time
}

// NewTracker builds a Tracker. A non-positive retention defaults to one hour.
func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = time.Hour
	}
	return &Tracker{
		jobs:      map[string]*Job{},
		retention: retention,
		now:       time.Now,
	}
}

// Create registers a new processing job and returns its id.
func (t *Tracker) Create(step string) string {
	id := uuid.NewString()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[id] = &Job{
		ID:        id,
		Status:    StatusProcessing,
		Progress:  Progress{CurrentStep: step},
		StartedAt: t.now(),
	}
	return id
}

// Update applies partial progress to a processing job. Updating an unknown
// or terminal job is an error so stale goroutines cannot resurrect finished
// work.
func (t *Tracker) Update(id string, upd Update) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok {
		return fmt.Errorf("updating job %s: %w", id, ErrNotFound)
	}
	if job.Status != StatusProcessing {
		return fmt.Errorf("job %s already %s", id, job.Status)
	}
	if upd.CurrentStep != nil {
		job.Progress.CurrentStep = *upd.CurrentStep
	}
	if upd.Percentage != nil {
		job.Progress.Percentage = *upd.Percentage
	}
	if upd.TotalPDFs != nil {
		job.Progress.TotalPDFs = *upd.TotalPDFs
	}
	if upd.TotalURLs != nil {
		job.Progress.TotalURLs = *upd.TotalURLs
	}
	if upd.ProcessedPDFs != nil {
		job.Progress.ProcessedPDFs = *upd.ProcessedPDFs
	}
	if upd.ProcessedURLs != nil {
		job.Progress.ProcessedURLs = *upd.ProcessedURLs
	}
	return nil
}

// Complete marks a processing job as finished at 100%.
func (t *Tracker) Complete(id, step string) error {
	return t.finish(id, StatusCompleted, step, "")
}

// Fail marks a processing job as failed with the given message.
func (t *Tracker) Fail(id, msg string) error {
	return t.finish(id, StatusError, "", msg)
}

func (t *Tracker) finish(id string, status Status, step, msg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok {
		return fmt.Errorf("finishing job %s: %w", id, ErrNotFound)
	}
	if job.Status != StatusProcessing {
		return fmt.Errorf("job %s already %s", id, job.Status)
	}
	job.Status = status
	job.EndedAt = t.now()
	if status == StatusCompleted {
		job.Progress.Percentage = 100
		if step != "" {
			job.Progress.CurrentStep = step
		}
	}
	job.Error = msg
	return nil
}

// Get returns a copy of the job.
func (t *Tracker) Get(id string) (Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *job, nil
}

// Cleanup drops terminal jobs older than the retention period and returns
// how many were removed.
func (t *Tracker) Cleanup() int {
	cutoff := t.now().Add(-t.retention)
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, job := range t.jobs {
		if job.Status != StatusProcessing && job.EndedAt.Before(cutoff) {
			delete(t.jobs, id)
			removed++
		}
	}
	return removed
}
