package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgarciaq/forms-auditor/constants"
	"github.com/dgarciaq/forms-auditor/internal/common"
	"github.com/dgarciaq/forms-auditor/internal/entity"
	"github.com/dgarciaq/forms-auditor/internal/quota"
)

func testGuard(limit int) *quota.Guard {
	store := quota.NewMemoryStore()
	store.SetQuota("acme", limit)
	return quota.NewGuard(store, 0, nil)
}

func testOrchestrator(cfg Config, limit int) *Orchestrator {
	if cfg.ItemTimeout == 0 {
		cfg.ItemTimeout = time.Second
	}
	return NewOrchestrator(cfg, testGuard(limit), nil, nil)
}

func ids(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.New()
	}
	return out
}

func okWork(ctx context.Context, _ uuid.UUID) (*entity.DocumentResult, error) {
	return &entity.DocumentResult{Verdict: constants.VerdictValidated}, nil
}

func TestCreateBatchValidation(t *testing.T) {
	o := testOrchestrator(Config{MaxItemsPerJob: 3, WorkersPerJob: 1}, 100)
	defer o.Close()

	_, err := o.CreateBatch(context.Background(), "acme", nil, 0, okWork)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = o.CreateBatch(context.Background(), "acme", ids(4), 0, okWork)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestCreateBatchQuotaRejected(t *testing.T) {
	o := testOrchestrator(Config{MaxItemsPerJob: 100, WorkersPerJob: 1}, 2)
	defer o.Close()

	_, err := o.CreateBatch(context.Background(), "acme", ids(3), 0, okWork)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrQuotaExceeded)
}

func TestJobCompletes(t *testing.T) {
	o := testOrchestrator(Config{MaxItemsPerJob: 100, WorkersPerJob: 2}, 100)
	defer o.Close()

	jobID, err := o.CreateBatch(context.Background(), "acme", ids(5), 0, okWork)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Wait(ctx, jobID))

	status, err := o.Status(jobID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, status)

	job, err := o.Job(jobID)
	require.NoError(t, err)
	for _, it := range job.Items {
		assert.Equal(t, constants.TaskStatusCompleted, it.Status)
		require.NotNil(t, it.Result)
	}
}

// Scenario: three items, pool of one worker, one item fails its first attempt
// and completes on retry. The job still ends COMPLETED.
func TestRetryThenComplete(t *testing.T) {
	o := testOrchestrator(Config{MaxItemsPerJob: 100, WorkersPerJob: 1, MaxRetries: 1}, 100)
	defer o.Close()

	items := ids(3)
	flaky := items[1]
	var attempts sync.Map
	work := func(ctx context.Context, id uuid.UUID) (*entity.DocumentResult, error) {
		if id == flaky {
			n, _ := attempts.LoadOrStore(id, new(atomic.Int32))
			if n.(*atomic.Int32).Add(1) == 1 {
				return nil, errors.New("external call timed out")
			}
		}
		return &entity.DocumentResult{Verdict: constants.VerdictValidated}, nil
	}

	jobID, err := o.CreateBatch(context.Background(), "acme", items, 0, work)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Wait(ctx, jobID))

	status, _ := o.Status(jobID)
	assert.Equal(t, constants.JobStatusCompleted, status)

	job, _ := o.Job(jobID)
	for _, it := range job.Items {
		assert.Equal(t, constants.TaskStatusCompleted, it.Status)
		if it.ID == flaky {
			assert.Equal(t, 1, it.RetryCount)
		}
	}
}

func TestRetriesExhausted(t *testing.T) {
	o := testOrchestrator(Config{MaxItemsPerJob: 100, WorkersPerJob: 1, MaxRetries: 2}, 100)
	defer o.Close()

	items := ids(2)
	broken := items[0]
	work := func(ctx context.Context, id uuid.UUID) (*entity.DocumentResult, error) {
		if id == broken {
			return nil, errors.New("corrupt image data")
		}
		return okWork(ctx, id)
	}

	jobID, err := o.CreateBatch(context.Background(), "acme", items, 0, work)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Wait(ctx, jobID))

	status, _ := o.Status(jobID)
	assert.Equal(t, constants.JobStatusCompletedWithErrors, status,
		"one terminal failure must not sink the rest of the job")

	job, _ := o.Job(jobID)
	for _, it := range job.Items {
		if it.ID == broken {
			assert.Equal(t, constants.TaskStatusFailed, it.Status)
			assert.Equal(t, 2, it.RetryCount)
			assert.Contains(t, it.Error, common.ErrRetriesExhausted.Error())
			assert.Contains(t, it.Error, "corrupt image data")
		} else {
			assert.Equal(t, constants.TaskStatusCompleted, it.Status)
		}
	}
}

func TestNoItemProcessedTwiceConcurrently(t *testing.T) {
	o := testOrchestrator(Config{MaxItemsPerJob: 200, WorkersPerJob: 8, GlobalWorkers: 8}, 500)
	defer o.Close()

	var mu sync.Mutex
	seen := map[uuid.UUID]int{}
	work := func(ctx context.Context, id uuid.UUID) (*entity.DocumentResult, error) {
		mu.Lock()
		seen[id]++
		mu.Unlock()
		return &entity.DocumentResult{}, nil
	}

	items := ids(100)
	jobID, err := o.CreateBatch(context.Background(), "acme", items, 0, work)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, o.Wait(ctx, jobID))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 100)
	for id, n := range seen {
		assert.Equal(t, 1, n, "item %s executed %d times", id, n)
	}
}

func TestCancelStopsAdmission(t *testing.T) {
	o := testOrchestrator(Config{MaxItemsPerJob: 100, WorkersPerJob: 1}, 100)
	defer o.Close()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	work := func(ctx context.Context, id uuid.UUID) (*entity.DocumentResult, error) {
		started <- struct{}{}
		<-release
		return &entity.DocumentResult{}, nil
	}

	jobID, err := o.CreateBatch(context.Background(), "acme", ids(5), 0, work)
	require.NoError(t, err)

	<-started // first item is in flight
	require.NoError(t, o.Cancel(jobID))
	close(release) // let the in-flight item finish its write

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Wait(ctx, jobID))

	status, _ := o.Status(jobID)
	assert.Equal(t, constants.JobStatusCancelled, status)

	job, _ := o.Job(jobID)
	completed, pending := 0, 0
	for _, it := range job.Items {
		switch it.Status {
		case constants.TaskStatusCompleted:
			completed++
		case constants.TaskStatusPending:
			pending++
		}
	}
	assert.Equal(t, 1, completed, "the in-flight item finishes rather than dying mid-write")
	assert.Equal(t, 4, pending, "no new admissions after cancel")
}

func TestSweepReclaimsStaleItems(t *testing.T) {
	o := testOrchestrator(Config{
		MaxItemsPerJob: 100,
		WorkersPerJob:  1,
		InFlightLease:  10 * time.Millisecond,
	}, 100)
	defer o.Close()

	hang := make(chan struct{})
	var calls atomic.Int32
	work := func(ctx context.Context, id uuid.UUID) (*entity.DocumentResult, error) {
		if calls.Add(1) == 1 {
			<-hang // simulate a dead worker holding the claim
		}
		return &entity.DocumentResult{}, nil
	}

	jobID, err := o.CreateBatch(context.Background(), "acme", ids(1), 0, work)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond) // let the lease expire

	reclaimed := o.SweepStale()
	assert.Equal(t, 1, reclaimed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Wait(ctx, jobID))
	status, _ := o.Status(jobID)
	assert.Equal(t, constants.JobStatusCompleted, status)
	close(hang)
}

func TestUnknownJob(t *testing.T) {
	o := testOrchestrator(Config{MaxItemsPerJob: 10, WorkersPerJob: 1}, 10)
	defer o.Close()
	_, err := o.Status(uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
}

// A worker must not lease an item while it is still queued for a global
// slot: with one slot and several workers, the queued workers have claimed
// nothing, so the sweep finds nothing stale and every item runs exactly once.
func TestQueuedItemsHoldNoLease(t *testing.T) {
	o := testOrchestrator(Config{
		MaxItemsPerJob: 100,
		WorkersPerJob:  4,
		GlobalWorkers:  1,
		InFlightLease:  50 * time.Millisecond,
	}, 100)
	defer o.Close()

	var mu sync.Mutex
	seen := map[uuid.UUID]int{}
	work := func(ctx context.Context, id uuid.UUID) (*entity.DocumentResult, error) {
		mu.Lock()
		seen[id]++
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return &entity.DocumentResult{Verdict: constants.VerdictValidated}, nil
	}

	items := ids(12)
	jobID, err := o.CreateBatch(context.Background(), "acme", items, 0, work)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		assert.NoError(t, o.Wait(ctx, jobID))
		close(done)
	}()
	for {
		select {
		case <-done:
		default:
			assert.Zero(t, o.SweepStale(), "items waiting for a slot must carry no lease")
			time.Sleep(2 * time.Millisecond)
			continue
		}
		break
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 12)
	for id, n := range seen {
		assert.Equal(t, 1, n, "item %s executed %d times", id, n)
	}
}

// A worker that outlives its lease loses the item: the sweep hands it to a
// fresh worker, and whichever outcome arrives under an expired claim is
// discarded instead of overwriting the replacement's result.
func TestStaleWorkerResultDiscarded(t *testing.T) {
	o := testOrchestrator(Config{
		MaxItemsPerJob: 100,
		WorkersPerJob:  1,
		GlobalWorkers:  2,
		InFlightLease:  10 * time.Millisecond,
	}, 100)
	defer o.Close()

	hold := make(chan struct{})
	var calls atomic.Int32
	work := func(ctx context.Context, id uuid.UUID) (*entity.DocumentResult, error) {
		if calls.Add(1) == 1 {
			<-hold
			return &entity.DocumentResult{Verdict: constants.VerdictNeedsReview}, nil
		}
		return &entity.DocumentResult{Verdict: constants.VerdictValidated}, nil
	}

	jobID, err := o.CreateBatch(context.Background(), "acme", ids(1), 0, work)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond) // let the lease expire
	require.Equal(t, 1, o.SweepStale())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Wait(ctx, jobID))

	close(hold)                       // the original worker finally returns
	time.Sleep(50 * time.Millisecond) // and its write gets discarded

	job, err := o.Job(jobID)
	require.NoError(t, err)
	require.NotNil(t, job.Items[0].Result)
	assert.Equal(t, constants.TaskStatusCompleted, job.Items[0].Status)
	assert.Equal(t, constants.VerdictValidated, job.Items[0].Result.Verdict,
		"the replacement worker's result must stand")
}

func resultWork(ctx context.Context, _ uuid.UUID) (*entity.DocumentResult, error) {
	return &entity.DocumentResult{
		Verdict: constants.VerdictValidated,
		Fields: map[string]entity.FieldValue{
			"expediente": {Name: "expediente", NormalizedValue: "B241889AC"},
		},
	}, nil
}

// Amendments and reads of the same completed item run concurrently; the
// amend path holds the job lock and readers get clones, so neither side
// observes a half-applied write.
func TestAmendResultConcurrentWithReads(t *testing.T) {
	o := testOrchestrator(Config{MaxItemsPerJob: 100, WorkersPerJob: 1}, 100)
	defer o.Close()

	items := ids(1)
	jobID, err := o.CreateBatch(context.Background(), "acme", items, 0, resultWork)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Wait(ctx, jobID))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				err := o.AmendResult(jobID, items[0], func(res *entity.DocumentResult) error {
					v := res.Fields["expediente"]
					v.NormalizedValue = "B999999ZZ"
					res.Fields["expediente"] = v
					res.Verdict = constants.VerdictNeedsReview
					return nil
				})
				assert.NoError(t, err)
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				job, err := o.Job(jobID)
				assert.NoError(t, err)
				res := job.Items[0].Result
				if assert.NotNil(t, res) {
					_ = res.Fields["expediente"].NormalizedValue
					_ = res.Verdict
				}
			}
		}()
	}
	wg.Wait()

	job, err := o.Job(jobID)
	require.NoError(t, err)
	assert.Equal(t, "B999999ZZ", job.Items[0].Result.Fields["expediente"].NormalizedValue)
}

func TestJobReturnsDetachedResults(t *testing.T) {
	o := testOrchestrator(Config{MaxItemsPerJob: 100, WorkersPerJob: 1}, 100)
	defer o.Close()

	jobID, err := o.CreateBatch(context.Background(), "acme", ids(1), 0, resultWork)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Wait(ctx, jobID))

	first, err := o.Job(jobID)
	require.NoError(t, err)
	first.Items[0].Result.Verdict = constants.VerdictUnprocessable
	first.Items[0].Result.Fields["expediente"] = entity.FieldValue{Name: "expediente", NormalizedValue: "tampered"}

	second, err := o.Job(jobID)
	require.NoError(t, err)
	assert.Equal(t, constants.VerdictValidated, second.Items[0].Result.Verdict)
	assert.Equal(t, "B241889AC", second.Items[0].Result.Fields["expediente"].NormalizedValue)
}

func TestAmendResultErrors(t *testing.T) {
	o := testOrchestrator(Config{MaxItemsPerJob: 100, WorkersPerJob: 1}, 100)
	defer o.Close()

	release := make(chan struct{})
	work := func(ctx context.Context, id uuid.UUID) (*entity.DocumentResult, error) {
		<-release
		return &entity.DocumentResult{}, nil
	}
	items := ids(2)
	jobID, err := o.CreateBatch(context.Background(), "acme", items, 0, work)
	require.NoError(t, err)

	err = o.AmendResult(jobID, items[1], func(*entity.DocumentResult) error { return nil })
	assert.ErrorIs(t, err, common.ErrInvalidInput, "no result to amend yet")

	err = o.AmendResult(jobID, uuid.New(), func(*entity.DocumentResult) error { return nil })
	assert.ErrorIs(t, err, common.ErrNotFound)

	close(release)
}

func TestCancelTwice(t *testing.T) {
	o := testOrchestrator(Config{MaxItemsPerJob: 100, WorkersPerJob: 1}, 100)
	defer o.Close()

	release := make(chan struct{})
	work := func(ctx context.Context, id uuid.UUID) (*entity.DocumentResult, error) {
		<-release
		return &entity.DocumentResult{}, nil
	}
	jobID, err := o.CreateBatch(context.Background(), "acme", ids(2), 0, work)
	require.NoError(t, err)

	require.NoError(t, o.Cancel(jobID))
	err = o.Cancel(jobID)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrJobCancelled)
	close(release)
}
