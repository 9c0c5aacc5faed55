// Package batch schedules bounded-concurrency document processing per tenant
// and tracks per-item status through retries.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgarciaq/forms-auditor/constants"
	"github.com/dgarciaq/forms-auditor/internal/common"
	"github.com/dgarciaq/forms-auditor/internal/entity"
	"github.com/dgarciaq/forms-auditor/internal/quota"
)

// WorkFunc executes the document pipeline for one item. The orchestrator owns
// status bookkeeping; the caller owns the document payloads.
type WorkFunc func(ctx context.Context, itemID uuid.UUID) (*entity.DocumentResult, error)

// Store is the opaque persistence accessor for job and task state. Updates
// are per-item atomic from the store's point of view.
type Store interface {
	CreateJob(ctx context.Context, job *entity.BatchJob) error
	UpdateTask(ctx context.Context, jobID uuid.UUID, task entity.DocumentTask) error
}

// Config bounds the orchestrator.
type Config struct {
	MaxItemsPerJob int
	WorkersPerJob  int
	GlobalWorkers  int
	MaxRetries     int
	ItemTimeout    time.Duration
	InFlightLease  time.Duration
	SweepInterval  time.Duration
}

type jobState struct {
	mu        sync.Mutex
	job       *entity.BatchJob
	work      WorkFunc
	cancelled bool
	done      chan struct{}
	closed    bool
}

// Orchestrator runs batch jobs under per-job worker pools bounded by a global
// concurrency ceiling, so one large job cannot starve the others.
type Orchestrator struct {
	cfg    Config
	guard  *quota.Guard
	store  Store
	logger *slog.Logger

	global chan struct{} // global worker slots across all jobs

	mu   sync.Mutex
	jobs map[uuid.UUID]*jobState

	sweepStop chan struct{}
	sweepOnce sync.Once
}

func NewOrchestrator(cfg Config, guard *quota.Guard, store Store, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WorkersPerJob <= 0 {
		cfg.WorkersPerJob = 4
	}
	if cfg.GlobalWorkers <= 0 {
		cfg.GlobalWorkers = 16
	}
	if cfg.MaxItemsPerJob <= 0 {
		cfg.MaxItemsPerJob = 500
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = 2 * time.Minute
	}
	if cfg.InFlightLease <= 0 {
		cfg.InFlightLease = 5 * time.Minute
	}
	o := &Orchestrator{
		cfg:       cfg,
		guard:     guard,
		store:     store,
		logger:    logger,
		global:    make(chan struct{}, cfg.GlobalWorkers),
		jobs:      map[uuid.UUID]*jobState{},
		sweepStop: make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		go o.sweepLoop()
	}
	return o
}

// CreateBatch admits a job for the tenant and starts its worker pool.
// Admission fails when the item list is empty or over the ceiling, or when
// the tenant's remaining quota is smaller than the item count.
func (o *Orchestrator) CreateBatch(ctx context.Context, tenantID string, itemIDs []uuid.UUID, priority int, work WorkFunc) (uuid.UUID, error) {
	if len(itemIDs) == 0 {
		return uuid.Nil, common.NewAppError("BATCH", "item list is empty", common.ErrInvalidInput)
	}
	if len(itemIDs) > o.cfg.MaxItemsPerJob {
		return uuid.Nil, common.NewAppError("BATCH", "item count exceeds the per-job ceiling", common.ErrInvalidInput)
	}
	granted, err := o.guard.Reserve(ctx, tenantID, len(itemIDs))
	if err != nil {
		return uuid.Nil, common.WrapError(err, "quota reservation")
	}
	if !granted {
		return uuid.Nil, common.NewAppError("BATCH", "tenant quota too small for this batch", common.ErrQuotaExceeded)
	}

	job := &entity.BatchJob{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Priority:  priority,
		CreatedAt: time.Now(),
		Items:     make([]entity.DocumentTask, 0, len(itemIDs)),
	}
	for _, id := range itemIDs {
		job.Items = append(job.Items, entity.DocumentTask{ID: id, Status: constants.TaskStatusPending})
	}
	if o.store != nil {
		if err := o.store.CreateJob(ctx, job); err != nil {
			return uuid.Nil, common.WrapError(err, "persist job")
		}
	}

	st := &jobState{job: job, work: work, done: make(chan struct{})}
	o.mu.Lock()
	o.jobs[job.ID] = st
	o.mu.Unlock()

	workers := o.workersFor(len(itemIDs), priority)
	o.logger.Info("batch.job_admitted",
		"job_id", job.ID,
		"tenant_id", tenantID,
		"items", len(itemIDs),
		"priority", priority,
		"workers", workers,
	)
	for i := 0; i < workers; i++ {
		go o.worker(st, i+1)
	}
	return job.ID, nil
}

// workersFor applies the coarse priority weighting at admission: higher
// priority buys one extra worker, capped by items and by the per-job bound.
func (o *Orchestrator) workersFor(items, priority int) int {
	n := o.cfg.WorkersPerJob
	if priority > 0 {
		n++
	}
	if n > items {
		n = items
	}
	return n
}

func (o *Orchestrator) worker(st *jobState, workerID int) {
	for {
		// Take a global slot before claiming, so an item's lease only runs
		// while its pipeline actually runs. Claiming first would let a
		// healthy worker's item go stale while queued for a slot, and the
		// sweep would hand it to a second worker.
		o.global <- struct{}{}
		task, ok := o.claim(st)
		if !ok {
			<-o.global
			return
		}
		claimed := *task.ClaimedAt

		ctx, cancel := common.WithTimeout(common.WithTenantID(context.Background(), st.job.TenantID), o.cfg.ItemTimeout)
		res, err := st.work(ctx, task.ID)
		cancel()
		<-o.global

		if err != nil {
			o.failOrRetry(st, task.ID, claimed, err)
			continue
		}
		o.complete(st, task.ID, claimed, res)
	}
}

// claim atomically moves the next pending item to in-flight. It returns false
// when nothing is pending or the job is cancelled; no two workers ever claim
// the same item.
func (o *Orchestrator) claim(st *jobState) (entity.DocumentTask, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.cancelled {
		o.maybeFinishLocked(st)
		return entity.DocumentTask{}, false
	}
	for i := range st.job.Items {
		if st.job.Items[i].Status == constants.TaskStatusPending {
			now := time.Now()
			st.job.Items[i].Status = constants.TaskStatusInFlight
			st.job.Items[i].ClaimedAt = &now
			o.persistTask(st.job.ID, st.job.Items[i])
			return st.job.Items[i], true
		}
	}
	return entity.DocumentTask{}, false
}

// ownsLocked reports whether a worker that claimed the item at "claimed"
// still holds it. After a lease sweep the item's claim timestamp is gone or
// belongs to a newer worker, and the old worker's outcome must be discarded.
func ownsLocked(it *entity.DocumentTask, claimed time.Time) bool {
	return it.Status == constants.TaskStatusInFlight &&
		it.ClaimedAt != nil && it.ClaimedAt.Equal(claimed)
}

func (o *Orchestrator) complete(st *jobState, id uuid.UUID, claimed time.Time, res *entity.DocumentResult) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for i := range st.job.Items {
		if st.job.Items[i].ID == id {
			if !ownsLocked(&st.job.Items[i], claimed) {
				o.logger.Warn("batch.stale_result_discarded", "job_id", st.job.ID, "item_id", id)
				break
			}
			st.job.Items[i].Status = constants.TaskStatusCompleted
			st.job.Items[i].Result = res
			st.job.Items[i].ClaimedAt = nil
			st.job.Items[i].Error = ""
			o.persistTask(st.job.ID, st.job.Items[i])
			break
		}
	}
	o.maybeFinishLocked(st)
}

// failOrRetry sends a failed item back to pending while retries remain, then
// marks it terminally failed.
func (o *Orchestrator) failOrRetry(st *jobState, id uuid.UUID, claimed time.Time, cause error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for i := range st.job.Items {
		if st.job.Items[i].ID != id {
			continue
		}
		if !ownsLocked(&st.job.Items[i], claimed) {
			o.logger.Warn("batch.stale_failure_discarded", "job_id", st.job.ID, "item_id", id)
			break
		}
		st.job.Items[i].ClaimedAt = nil
		if st.job.Items[i].RetryCount < o.cfg.MaxRetries && !st.cancelled {
			st.job.Items[i].RetryCount++
			st.job.Items[i].Status = constants.TaskStatusPending
			st.job.Items[i].Error = cause.Error()
			o.logger.Warn("batch.item_retry",
				"job_id", st.job.ID, "item_id", id,
				"retry", st.job.Items[i].RetryCount, "error", cause)
		} else {
			cause = fmt.Errorf("%w: %v", common.ErrRetriesExhausted, cause)
			st.job.Items[i].Status = constants.TaskStatusFailed
			st.job.Items[i].Error = cause.Error()
			o.logger.Error("batch.item_failed",
				"job_id", st.job.ID, "item_id", id, "error", cause)
		}
		o.persistTask(st.job.ID, st.job.Items[i])
		break
	}
	o.maybeFinishLocked(st)
}

func (o *Orchestrator) persistTask(jobID uuid.UUID, task entity.DocumentTask) {
	if o.store == nil {
		return
	}
	if err := o.store.UpdateTask(context.Background(), jobID, task); err != nil {
		o.logger.Error("batch.persist_task_failed", "job_id", jobID, "item_id", task.ID, "error", err)
	}
}

func (o *Orchestrator) maybeFinishLocked(st *jobState) {
	if st.closed {
		return
	}
	for _, it := range st.job.Items {
		switch it.Status {
		case constants.TaskStatusInFlight:
			return
		case constants.TaskStatusPending:
			if !st.cancelled {
				return
			}
		}
	}
	st.closed = true
	close(st.done)
}

// Cancel stops the job from admitting new pending items. In-flight items
// finish and write their results; they are never killed mid-write.
func (o *Orchestrator) Cancel(jobID uuid.UUID) error {
	st, err := o.state(jobID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	if st.cancelled {
		st.mu.Unlock()
		return common.NewAppError("BATCH", "job already cancelled", common.ErrJobCancelled)
	}
	st.cancelled = true
	o.maybeFinishLocked(st)
	st.mu.Unlock()
	o.logger.Info("batch.job_cancelled", "job_id", jobID)
	return nil
}

// Job returns a deep copy of the job's current state. Results are cloned so
// the caller can read them while workers and corrections keep writing.
func (o *Orchestrator) Job(jobID uuid.UUID) (entity.BatchJob, error) {
	st, err := o.state(jobID)
	if err != nil {
		return entity.BatchJob{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	cp := *st.job
	cp.Items = make([]entity.DocumentTask, len(st.job.Items))
	copy(cp.Items, st.job.Items)
	for i := range cp.Items {
		cp.Items[i].Result = cp.Items[i].Result.Clone()
		if cp.Items[i].ClaimedAt != nil {
			at := *cp.Items[i].ClaimedAt
			cp.Items[i].ClaimedAt = &at
		}
	}
	return cp, nil
}

// AmendResult applies a mutation to a completed item's result under the
// job's lock, then persists the task. This is the only sanctioned way to
// touch a stored result after completion; readers always get clones.
func (o *Orchestrator) AmendResult(jobID, itemID uuid.UUID, amend func(*entity.DocumentResult) error) error {
	st, err := o.state(jobID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for i := range st.job.Items {
		if st.job.Items[i].ID != itemID {
			continue
		}
		if st.job.Items[i].Result == nil {
			return common.NewAppError("BATCH", "item has no result to amend", common.ErrInvalidInput)
		}
		if err := amend(st.job.Items[i].Result); err != nil {
			return err
		}
		o.persistTask(st.job.ID, st.job.Items[i])
		return nil
	}
	return common.NewAppError("BATCH", "unknown item "+itemID.String(), common.ErrNotFound)
}

// Status derives the job-level status from its items.
func (o *Orchestrator) Status(jobID uuid.UUID) (constants.JobStatus, error) {
	st, err := o.state(jobID)
	if err != nil {
		return "", err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return deriveStatusLocked(st), nil
}

func deriveStatusLocked(st *jobState) constants.JobStatus {
	anyFailed := false
	for _, it := range st.job.Items {
		switch it.Status {
		case constants.TaskStatusInFlight:
			return constants.JobStatusRunning
		case constants.TaskStatusPending:
			if st.cancelled {
				continue
			}
			return constants.JobStatusRunning
		case constants.TaskStatusFailed:
			anyFailed = true
		}
	}
	if st.cancelled {
		return constants.JobStatusCancelled
	}
	if anyFailed {
		return constants.JobStatusCompletedWithErrors
	}
	return constants.JobStatusCompleted
}

// Wait blocks until the job is terminal or the context expires.
func (o *Orchestrator) Wait(ctx context.Context, jobID uuid.UUID) error {
	st, err := o.state(jobID)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-st.done:
		return nil
	}
}

func (o *Orchestrator) state(jobID uuid.UUID) (*jobState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.jobs[jobID]
	if !ok {
		return nil, common.NewAppError("BATCH", "unknown job "+jobID.String(), common.ErrNotFound)
	}
	return st, nil
}

// sweepLoop reclaims items whose worker died mid-item: an in-flight state is
// only valid while its lease is fresh.
func (o *Orchestrator) sweepLoop() {
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.sweepStop:
			return
		case <-ticker.C:
			o.SweepStale()
		}
	}
}

// SweepStale moves in-flight items with an expired lease back to pending so a
// crashed or hung worker never wedges an item forever.
func (o *Orchestrator) SweepStale() int {
	o.mu.Lock()
	states := make([]*jobState, 0, len(o.jobs))
	for _, st := range o.jobs {
		states = append(states, st)
	}
	o.mu.Unlock()

	reclaimed := 0
	cutoff := time.Now().Add(-o.cfg.InFlightLease)
	for _, st := range states {
		st.mu.Lock()
		jobReclaimed := 0
		for i := range st.job.Items {
			it := &st.job.Items[i]
			if it.Status == constants.TaskStatusInFlight && it.ClaimedAt != nil && it.ClaimedAt.Before(cutoff) {
				it.Status = constants.TaskStatusPending
				it.ClaimedAt = nil
				o.persistTask(st.job.ID, *it)
				jobReclaimed++
				o.logger.Warn("batch.stale_item_reclaimed", "job_id", st.job.ID, "item_id", it.ID)
			}
		}
		st.mu.Unlock()
		if jobReclaimed > 0 {
			// The original worker is presumed dead; a fresh one picks the
			// reclaimed items up.
			go o.worker(st, 0)
			reclaimed += jobReclaimed
		}
	}
	return reclaimed
}

// Close stops the background sweep.
func (o *Orchestrator) Close() {
	o.sweepOnce.Do(func() { close(o.sweepStop) })
}
