package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/quillforum/backend/internal/domain"
)

// Handler executes one job payload. Returning an error leaves the job
// eligible for retry until maxAttempts is reached.
type Handler func(ctx context.Context, payload json.RawMessage) error

const (
	maxAttempts  = 5
	retryBackoff = 30 * time.Second
	claimBatch   = 20
)

// Runner polls the jobs table on a cron schedule and dispatches pending
// jobs to registered handlers. One runner per process is expected; the
// claim step flips state to running so overlapping polls skip each
// other's work.
type Runner struct {
	DB  *gorm.DB
	Log zerolog.Logger

	// PollSpec is a robfig/cron spec with seconds field, e.g. "*/2 * * * * *".
	PollSpec string

	mu       sync.Mutex
	handlers map[string]Handler
	cron     *cron.Cron
}

// Register binds a handler to a job type. Must be called before Start.
func (r *Runner) Register(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[string]Handler)
	}
	r.handlers[jobType] = h
}

// Start begins polling. The returned error only reflects cron spec
// parsing; job failures are logged and retried.
func (r *Runner) Start(ctx context.Context) error {
	spec := r.PollSpec
	if spec == "" {
		spec = "*/2 * * * * *"
	}
	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(spec, func() { r.poll(ctx) }); err != nil {
		return err
	}
	r.cron = c
	c.Start()
	return nil
}

// Stop halts polling and waits for in-flight jobs.
func (r *Runner) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

func (r *Runner) poll(ctx context.Context) {
	now := time.Now().UTC()
	var batch []domain.Job
	err := r.DB.WithContext(ctx).
		Where("state = ? AND run_after <= ?", domain.JobStatePending, now).
		Order("run_after ASC").
		Limit(claimBatch).
		Find(&batch).Error
	if err != nil {
		r.Log.Error().Err(err).Msg("job poll failed")
		return
	}

	for _, job := range batch {
		if !r.claim(ctx, job.ID) {
			continue
		}
		r.run(ctx, job)
	}
}

// claim flips pending → running; false means another poll got there first.
func (r *Runner) claim(ctx context.Context, id string) bool {
	res := r.DB.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND state = ?", id, domain.JobStatePending).
		Update("state", domain.JobStateRunning)
	return res.Error == nil && res.RowsAffected == 1
}

func (r *Runner) run(ctx context.Context, job domain.Job) {
	r.mu.Lock()
	h, ok := r.handlers[job.Type]
	r.mu.Unlock()

	if !ok {
		r.finish(ctx, job.ID, domain.JobStateFailed, fmt.Sprintf("no handler for %q", job.Type))
		return
	}

	err := h(ctx, json.RawMessage(job.Payload))
	if err == nil {
		r.finish(ctx, job.ID, domain.JobStateDone, "")
		return
	}

	r.Log.Warn().Err(err).Str("job_id", job.ID).Str("type", job.Type).Msg("job failed")
	if job.Attempts+1 >= maxAttempts {
		r.finish(ctx, job.ID, domain.JobStateFailed, err.Error())
		return
	}
	r.DB.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", job.ID).Updates(map[string]any{
		"state":      domain.JobStatePending,
		"attempts":   job.Attempts + 1,
		"last_error": err.Error(),
		"run_after":  time.Now().UTC().Add(retryBackoff),
	})
}

func (r *Runner) finish(ctx context.Context, id, state, lastErr string) {
	r.DB.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", id).Updates(map[string]any{
		"state":      state,
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": lastErr,
	})
}
