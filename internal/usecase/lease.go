package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"booksoul/internal/domain"
	"booksoul/internal/metrics"
)

const (
	minLeaseBatch = 1
	maxLeaseBatch = 5
)

// LeaseConfig controls job claiming. A zero TTL leaves claimed jobs without an
// expiry and disables Reclaim.
type LeaseConfig struct {
	Owner    string
	TTL      time.Duration
	MaxBatch int
}

// LeaseManager claims, finalizes and reclaims jobs. Every transition is a
// conditional store write, so any number of pollers may share the store.
type LeaseManager struct {
	jobs JobStore
	cfg  LeaseConfig
	log  *slog.Logger
	now  Clock
}

func NewLeaseManager(jobs JobStore, cfg LeaseConfig, log *slog.Logger) (*LeaseManager, error) {
	if jobs == nil {
		return nil, errors.New("usecase: job store must not be nil")
	}
	if cfg.Owner == "" {
		cfg.Owner = "poller-" + newUUID()
	}
	if cfg.TTL < 0 {
		return nil, errors.New("usecase: lease ttl must not be negative")
	}
	cfg.MaxBatch = clampBatch(cfg.MaxBatch)
	if log == nil {
		log = slog.Default()
	}
	return &LeaseManager{jobs: jobs, cfg: cfg, log: log, now: time.Now}, nil
}

func clampBatch(n int) int {
	if n <= 0 {
		return maxLeaseBatch
	}
	return min(max(n, minLeaseBatch), maxLeaseBatch)
}

func (m *LeaseManager) Owner() string { return m.cfg.Owner }

// Enqueue inserts a pending job and returns its id. It is the entry point
// for producers outside this process; book operations enqueue their jobs
// inside the same transaction as the stage change.
func (m *LeaseManager) Enqueue(ctx context.Context, subjectID string, jobType domain.JobType) (string, error) {
	if subjectID == "" {
		return "", newError(ErrorValidation, "empty_subject", nil)
	}
	job := newJob(subjectID, jobType, domain.JobPending, m.now().UTC())
	if err := m.jobs.EnqueueJob(ctx, job); err != nil {
		return "", storeError("enqueue_failed", err)
	}
	m.log.Info("job enqueued", "jobId", job.ID, "type", jobType, "subjectId", subjectID)
	return job.ID, nil
}

// LeaseBatch claims up to limit pending jobs. Jobs claimed by another poller
// in the meantime are left out of the result.
func (m *LeaseManager) LeaseBatch(ctx context.Context, limit int) ([]domain.Job, error) {
	limit = min(clampBatch(limit), m.cfg.MaxBatch)
	candidates, err := m.jobs.ListJobsByStatus(ctx, domain.JobPending, limit)
	if err != nil {
		return nil, storeError("list_pending_failed", err)
	}

	leased := make([]domain.Job, 0, len(candidates))
	for _, c := range candidates {
		now := m.now().UTC()
		var until time.Time
		if m.cfg.TTL > 0 {
			until = now.Add(m.cfg.TTL)
		}
		job, won, err := m.jobs.ClaimJob(ctx, c.ID, m.cfg.Owner, now, until)
		if err != nil {
			return leased, storeError("claim_failed", fmt.Errorf("job %s: %w", c.ID, err))
		}
		if !won {
			metrics.LeaseConflicts.Inc()
			m.log.Debug("lease lost", "jobId", c.ID)
			continue
		}
		metrics.JobsLeased.WithLabelValues(string(job.Type)).Inc()
		leased = append(leased, job)
	}
	return leased, nil
}

// Finalize moves a leased job to done or error. A job already finalized, or
// reclaimed from this owner, is left untouched.
func (m *LeaseManager) Finalize(ctx context.Context, job domain.Job, status domain.JobStatus, resultRef string) (bool, error) {
	if !status.Terminal() {
		return false, newError(ErrorValidation, "non_terminal_status", fmt.Errorf("status %q", status))
	}
	ok, err := m.jobs.FinalizeJob(ctx, job.ID, m.cfg.Owner, status, resultRef, m.now().UTC())
	if err != nil {
		return false, storeError("finalize_failed", err)
	}
	if ok {
		metrics.JobsFinalized.WithLabelValues(string(job.Type), string(status)).Inc()
	} else {
		m.log.Warn("finalize skipped, lease no longer held", "jobId", job.ID)
	}
	return ok, nil
}

// Reclaim returns jobs whose lease expired to pending. It is a no-op when no
// lease TTL is configured.
func (m *LeaseManager) Reclaim(ctx context.Context) (int, error) {
	if m.cfg.TTL <= 0 {
		return 0, nil
	}
	now := m.now().UTC()
	expired, err := m.jobs.ListExpiredLeases(ctx, now, maxLeaseBatch*4)
	if err != nil {
		return 0, storeError("list_expired_failed", err)
	}
	n := 0
	for _, j := range expired {
		ok, err := m.jobs.ReclaimJob(ctx, j.ID, j.LeaseExpiresAt, now)
		if err != nil {
			return n, storeError("reclaim_failed", fmt.Errorf("job %s: %w", j.ID, err))
		}
		if ok {
			n++
			metrics.JobsReclaimed.Inc()
			m.log.Warn("expired lease reclaimed", "jobId", j.ID, "leasedBy", j.LeasedBy)
		}
	}
	return n, nil
}
