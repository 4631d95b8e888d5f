package parsimon

// dispatch.go turns a ClusteredNetwork into a SimulatedNetwork by running one
// link simulation job per cluster.  Jobs are pulled by a bounded set of runner
// goroutines, each bound to a Worker; a failed or timed-out job goes back to the
// queue after an exponential backoff until its retry budget is spent, at which point
// the whole run fails.  The same coordinator drives in-process and remote workers.

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Job asks a worker to simulate the representative descriptor of a cluster.
// ID is the same for every attempt at the job.
type Job struct {
	ID        string       `json:"id" yaml:"id"`
	ClusterID ClusterID    `json:"cluster" yaml:"cluster"`
	Attempt   int          `json:"attempt" yaml:"attempt"`
	Desc      *LinkSimDesc `json:"desc" yaml:"desc"`
	Buckets   BucketOpts   `json:"buckets" yaml:"buckets"`
}

// Worker executes simulation jobs.  RunJob should give up when ctx is done; the
// coordinator stops waiting for it at that point in any case.
type Worker interface {
	Name() string
	RunJob(ctx context.Context, job *Job) (*LinkResult, error)
}

// LocalWorker runs jobs in process
type LocalWorker struct {
	Sim   LinkSim
	Label string
}

func (lw *LocalWorker) Name() string {
	if len(lw.Label) > 0 {
		return lw.Label
	}
	return "local/" + lw.Sim.Name()
}

func (lw *LocalWorker) RunJob(ctx context.Context, job *Job) (*LinkResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return SimulateLink(lw.Sim, job.Desc, job.Buckets)
}

// Coordinator hands simulation jobs to workers and collects their results
type Coordinator struct {
	cfg     DispatchConfig
	workers []Worker
	log     logrus.FieldLogger
	trace   *TraceManager
	metrics *DispatchMetrics
}

type CoordinatorOption func(*Coordinator)

func WithCoordinatorLogger(log logrus.FieldLogger) CoordinatorOption {
	return func(c *Coordinator) { c.log = log }
}

func WithCoordinatorTrace(tm *TraceManager) CoordinatorOption {
	return func(c *Coordinator) { c.trace = tm }
}

func WithCoordinatorMetrics(dm *DispatchMetrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = dm }
}

// NewCoordinator is a constructor.  Runners (cfg.MaxInFlight of them) are assigned to
// workers round-robin.
func NewCoordinator(cfg DispatchConfig, workers []Worker, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{cfg: cfg, workers: workers, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// dispatchState is the coordinator's bookkeeping for one run.  All fields are
// guarded by mu; every change closes and replaces the changed channel.
type dispatchState struct {
	mu        sync.Mutex
	pending   []*Job
	running   map[ClusterID]*Job
	completed map[ClusterID]*LinkResult
	total     int
	failure   error
	closed    bool
	timers    []*time.Timer
	changed   chan struct{}
}

func newDispatchState(jobs []*Job) *dispatchState {
	return &dispatchState{pending: jobs, running: make(map[ClusterID]*Job),
		completed: make(map[ClusterID]*LinkResult, len(jobs)), total: len(jobs), changed: make(chan struct{})}
}

// notify must be called with mu held
func (st *dispatchState) notify() {
	close(st.changed)
	st.changed = make(chan struct{})
}

// finished must be called with mu held
func (st *dispatchState) finished() bool {
	return st.closed || st.failure != nil || len(st.completed) == st.total
}

// next blocks until a job is available, returning false once the run is over
func (st *dispatchState) next(ctx context.Context) (*Job, bool) {
	for {
		st.mu.Lock()
		if st.finished() {
			st.mu.Unlock()
			return nil, false
		}
		if len(st.pending) > 0 {
			job := st.pending[0]
			st.pending = st.pending[1:]
			st.running[job.ClusterID] = job
			st.mu.Unlock()
			return job, true
		}
		changed := st.changed
		st.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (st *dispatchState) complete(job *Job, res *LinkResult) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.running, job.ClusterID)
	st.completed[job.ClusterID] = res
	st.notify()
}

func (st *dispatchState) fail(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.failure == nil {
		st.failure = err
	}
	st.notify()
}

// retryAfter puts the next attempt of job back in the queue once pause has elapsed
func (st *dispatchState) retryAfter(job *Job, pause time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.running, job.ClusterID)
	retry := &Job{ID: job.ID, ClusterID: job.ClusterID, Attempt: job.Attempt + 1, Desc: job.Desc, Buckets: job.Buckets}
	timer := time.AfterFunc(pause, func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		if st.closed {
			return
		}
		st.pending = append(st.pending, retry)
		st.notify()
	})
	st.timers = append(st.timers, timer)
}

// close ends the run; pending retries are dropped
func (st *dispatchState) close() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.closed = true
	for _, timer := range st.timers {
		timer.Stop()
	}
	st.notify()
}

// wait blocks until every cluster has completed, some cluster failed for good, or ctx is done
func (st *dispatchState) wait(ctx context.Context) error {
	for {
		st.mu.Lock()
		if st.failure != nil {
			err := st.failure
			st.mu.Unlock()
			return err
		}
		if len(st.completed) == st.total {
			st.mu.Unlock()
			return nil
		}
		changed := st.changed
		st.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			st.mu.Lock()
			done := len(st.completed)
			st.mu.Unlock()
			return fmt.Errorf("%w: %d of %d clusters simulated: %v", ErrCancelled, done, st.total, ctx.Err())
		}
	}
}

// Simulate runs one job per cluster and returns the network with a delay distribution
// for every cluster.  It returns a *SimulationFailedError when some cluster exhausts its
// retries, and an error wrapping ErrCancelled when ctx is cancelled first; in either case
// no partial result is returned.
func (c *Coordinator) Simulate(ctx context.Context, cn *ClusteredNetwork) (*SimulatedNetwork, error) {
	if len(c.workers) == 0 {
		return nil, errors.New("no workers to dispatch simulation jobs to")
	}
	if cn == nil || cn.dn == nil {
		return nil, errors.New("dispatch needs a clustered network")
	}
	runID := uuid.NewString()
	log := c.log.WithField("run", runID)

	clusters := cn.Clusters()
	jobs := make([]*Job, 0, len(clusters))
	for _, cluster := range clusters {
		desc, ok := cn.dn.Desc(cluster.Representative)
		if !ok {
			return nil, fmt.Errorf("cluster %d: representative link %d has no simulation descriptor",
				cluster.ID, cluster.Representative)
		}
		jobs = append(jobs, &Job{ID: uuid.NewString(), ClusterID: cluster.ID, Attempt: 1, Desc: desc,
			Buckets: c.cfg.SizeBuckets})
		c.trace.AddName(int(cluster.ID), fmt.Sprintf("link %d", cluster.Representative), "cluster")
	}
	st := newDispatchState(jobs)

	limit := rate.Inf
	if c.cfg.JobsPerSecond > 0 {
		limit = rate.Limit(c.cfg.JobsPerSecond)
	}
	limiter := rate.NewLimiter(limit, 1)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	nRunners := c.cfg.MaxInFlight
	if nRunners < 1 {
		nRunners = 1
	}
	if nRunners > len(jobs) {
		nRunners = len(jobs)
	}
	log.WithFields(logrus.Fields{"clusters": len(jobs), "runners": nRunners, "workers": len(c.workers)}).
		Info("dispatching link simulations")

	var wg sync.WaitGroup
	for idx := 0; idx < nRunners; idx++ {
		worker := c.workers[idx%len(c.workers)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runner(runCtx, st, worker, limiter, log)
		}()
	}

	err := st.wait(ctx)
	st.close()
	cancel()
	wg.Wait()

	if err != nil {
		log.WithError(err).Error("link simulations did not complete")
		return nil, err
	}

	sn := &SimulatedNetwork{cn: cn, dists: make([]*DelayDist, len(clusters)),
		buckets: make([]*SizeBuckets, len(clusters)), runID: runID}
	for _, cluster := range clusters {
		res := st.completed[cluster.ID]
		sn.dists[cluster.ID] = res.Dist
		sn.buckets[cluster.ID] = res.Buckets
	}
	log.Info("link simulations complete")
	return sn, nil
}

// runner pulls jobs and hands them to its worker until the run is over
func (c *Coordinator) runner(ctx context.Context, st *dispatchState, worker Worker,
	limiter *rate.Limiter, log logrus.FieldLogger) {

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		job, ok := st.next(ctx)
		if !ok {
			return
		}

		jlog := log.WithFields(logrus.Fields{"cluster": job.ClusterID, "link": job.Desc.Link.ID,
			"worker": worker.Name(), "attempt": job.Attempt})
		jlog.Debug("job dispatched")
		c.trace.AddTrace(TraceRecord{Stage: StageSimulated.String(), Op: "dispatch", ClusterID: int(job.ClusterID),
			LinkID: int(job.Desc.Link.ID), Worker: worker.Name(), Attempt: job.Attempt})

		c.metrics.jobStarted()
		began := time.Now()
		res, err := c.execute(ctx, worker, job)
		if ctx.Err() != nil {
			// the run is over, results no longer matter
			c.metrics.jobEnded("abandoned", time.Since(began).Seconds())
			return
		}
		if err == nil && (res == nil || res.Dist == nil) {
			err = errors.New("worker returned no distribution")
		}

		if err == nil {
			c.metrics.jobEnded("completed", time.Since(began).Seconds())
			st.complete(job, res)
			jlog.WithField("elapsed", time.Since(began)).Debug("job completed")
			c.trace.AddTrace(TraceRecord{Stage: StageSimulated.String(), Op: "complete", ClusterID: int(job.ClusterID),
				LinkID: int(job.Desc.Link.ID), Worker: worker.Name(), Attempt: job.Attempt})
			continue
		}

		outcome := "failed"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		c.metrics.jobEnded(outcome, time.Since(began).Seconds())

		if job.Attempt > c.cfg.MaxRetries {
			jlog.WithError(err).Error("job failed, retries exhausted")
			c.trace.AddTrace(TraceRecord{Stage: StageSimulated.String(), Op: "fail", ClusterID: int(job.ClusterID),
				LinkID: int(job.Desc.Link.ID), Worker: worker.Name(), Attempt: job.Attempt, Detail: err.Error()})
			st.fail(&SimulationFailedError{ClusterID: job.ClusterID, LinkID: job.Desc.Link.ID,
				Attempts: job.Attempt, Cause: err})
			return
		}

		pause := c.cfg.backoff(job.Attempt)
		jlog.WithError(err).WithField("backoff", pause).Warn("job failed, retrying")
		c.trace.AddTrace(TraceRecord{Stage: StageSimulated.String(), Op: "retry", ClusterID: int(job.ClusterID),
			LinkID: int(job.Desc.Link.ID), Worker: worker.Name(), Attempt: job.Attempt, Detail: err.Error()})
		c.metrics.retried()
		st.retryAfter(job, pause)
	}
}

type jobResult struct {
	res *LinkResult
	err error
}

// execute runs one attempt of a job under the job timeout
func (c *Coordinator) execute(ctx context.Context, worker Worker, job *Job) (*LinkResult, error) {
	var jobCtx context.Context
	var cancel context.CancelFunc
	timeout := seconds(c.cfg.JobTimeout)
	if timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan jobResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- jobResult{err: fmt.Errorf("worker %s panicked: %v", worker.Name(), r)}
			}
		}()
		res, err := worker.RunJob(jobCtx, job)
		done <- jobResult{res: res, err: err}
	}()

	select {
	case res := <-done:
		return res.res, res.err
	case <-jobCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("worker %s: no result within %v: %w", worker.Name(), timeout, context.DeadlineExceeded)
	}
}

// SimulatedNetwork is a ClusteredNetwork with one delay distribution per cluster,
// and size buckets for the clusters whose backend reported per-flow delays.
// Only the Coordinator produces one.
type SimulatedNetwork struct {
	cn      *ClusteredNetwork
	dists   []*DelayDist   // by cluster id
	buckets []*SizeBuckets // by cluster id, nil entries when not reported
	runID   string
}

// Simulate runs the clusters' jobs in process on sim
func (cn *ClusteredNetwork) Simulate(ctx context.Context, sim LinkSim, cfg DispatchConfig,
	opts ...CoordinatorOption) (*SimulatedNetwork, error) {

	return NewCoordinator(cfg, []Worker{&LocalWorker{Sim: sim}}, opts...).Simulate(ctx, cn)
}

// Clustered returns the clustered network that was simulated
func (sn *SimulatedNetwork) Clustered() *ClusteredNetwork {
	return sn.cn
}

// ClusterDist returns the distribution simulated for a cluster
func (sn *SimulatedNetwork) ClusterDist(id ClusterID) (*DelayDist, bool) {
	if int(id) < 0 || int(id) >= len(sn.dists) {
		return nil, false
	}
	return sn.dists[id], true
}

// ClusterBuckets returns the size buckets simulated for a cluster, if its backend reported them
func (sn *SimulatedNetwork) ClusterBuckets(id ClusterID) (*SizeBuckets, bool) {
	if int(id) < 0 || int(id) >= len(sn.buckets) || sn.buckets[id] == nil {
		return nil, false
	}
	return sn.buckets[id], true
}

// RunID identifies the dispatch run that produced the distributions
func (sn *SimulatedNetwork) RunID() string {
	return sn.runID
}

func (sn *SimulatedNetwork) Stage() Stage {
	return StageSimulated
}
