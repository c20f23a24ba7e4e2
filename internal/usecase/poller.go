package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"booksoul/internal/domain"
	"booksoul/internal/metrics"
)

// JobExecutor performs the side effect of one job type and returns a result
// reference to store on the job.
type JobExecutor interface {
	Execute(ctx context.Context, job domain.Job) (string, error)
}

type TickResult struct {
	Skipped   bool
	Reclaimed int
	Leased    int
	Done      int
	Failed    int
}

// Poller runs one bounded sweep per tick. Ticks on the same instance never
// overlap; ticks across instances are kept apart by the job leases.
type Poller struct {
	leases    *LeaseManager
	executors map[domain.JobType]JobExecutor
	batch     int
	log       *slog.Logger

	mu sync.Mutex
}

func NewPoller(leases *LeaseManager, executors map[domain.JobType]JobExecutor, batch int, log *slog.Logger) (*Poller, error) {
	if leases == nil {
		return nil, errors.New("usecase: lease manager must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Poller{leases: leases, executors: executors, batch: clampBatch(batch), log: log}, nil
}

func (p *Poller) Tick(ctx context.Context) (TickResult, error) {
	if !p.mu.TryLock() {
		metrics.PollTicks.WithLabelValues("skipped").Inc()
		return TickResult{Skipped: true}, nil
	}
	defer p.mu.Unlock()

	var res TickResult
	reclaimed, err := p.leases.Reclaim(ctx)
	if err != nil {
		p.log.Error("reclaim sweep failed", "err", err)
	}
	res.Reclaimed = reclaimed

	jobs, err := p.leases.LeaseBatch(ctx, p.batch)
	res.Leased = len(jobs)
	if err != nil {
		p.log.Error("lease batch failed", "err", err, "leased", len(jobs))
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.batch)
	for _, job := range jobs {
		g.Go(func() error {
			status := p.run(gctx, job)
			mu.Lock()
			if status == domain.JobDone {
				res.Done++
			} else {
				res.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case err != nil:
		metrics.PollTicks.WithLabelValues("error").Inc()
	case res.Leased == 0:
		metrics.PollTicks.WithLabelValues("idle").Inc()
	default:
		metrics.PollTicks.WithLabelValues("ok").Inc()
	}
	return res, err
}

// run executes one job and always finalizes it.
func (p *Poller) run(ctx context.Context, job domain.Job) domain.JobStatus {
	log := p.log.With("jobId", job.ID, "type", job.Type, "subjectId", job.SubjectID)
	ref, execErr := p.execute(ctx, job)
	status := domain.JobDone
	if execErr != nil {
		status = domain.JobError
		ref = execErr.Error()
		log.Warn("job failed", "err", execErr)
	}

	// Finalize even when ctx was cancelled mid-execution.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := p.leases.Finalize(fctx, job, status, ref); err != nil {
		log.Error("finalize failed", "err", err)
	}
	return status
}

func (p *Poller) execute(ctx context.Context, job domain.Job) (ref string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("usecase: executor panic: %v", r)
		}
	}()
	ex, ok := p.executors[job.Type]
	if !ok {
		return "", fmt.Errorf("usecase: no executor for job type %q", job.Type)
	}
	return ex.Execute(ctx, job)
}

// Run ticks every interval until ctx is done.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := p.Tick(ctx); err != nil {
			p.log.Warn("poll tick failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
