package scheduler

import (
	"sync/atomic"

	"github.com/ionforge/ioncore/platform"
	"github.com/ionforge/ioncore/workerpool"
)

// IOJob is a one-shot long task pushed to the companion pool. Mirrors
// ion::IOJob (src/ion/jobs/Job.h): each Execute runs the function once, and Wait
// polls until it's done rather than blocking on a synchronizer, matching
// the original's deliberately coarse polling loop for long tasks.
type IOJob struct {
	pool   *workerpool.Pool
	run    func()
	isDone atomic.Bool
	log    platform.Logger
}

// NewIOJob constructs an IOJob bound to pool.
func NewIOJob(pool *workerpool.Pool, run func(), log platform.Logger) *IOJob {
	if log == nil {
		log = platform.NopLogger{}
	}
	return &IOJob{pool: pool, run: run, log: log}
}

// Execute pushes the job to the companion (long-task) queue.
func (j *IOJob) Execute() {
	j.pool.PushLongTask(workerpool.Task{Run: func() {
		j.run()
		j.isDone.Store(true)
	}})
}

// IsDone reports whether the job's function has completed.
func (j *IOJob) IsDone() bool { return j.isDone.Load() }

// Wait blocks, polling, until the job finishes.
func (j *IOJob) Wait() {
	if j.isDone.Load() {
		return
	}
	j.log.Event("info", "waiting for IOJob to finish")
	for !j.isDone.Load() {
		platform.Sleep(100)
	}
}

// RepeatableIOJob is a long task that may be re-triggered while a previous
// run is still draining; repeated runs are always sequential. Mirrors
// ion::RepeatableIOJob.
type RepeatableIOJob struct {
	pool           *workerpool.Pool
	run            func()
	mu             atomic.Bool // acts as a lightweight mutex via CAS spin
	isStarving     atomic.Bool
	isDone         atomic.Bool
	log            platform.Logger
}

// NewRepeatableIOJob constructs a RepeatableIOJob bound to pool.
func NewRepeatableIOJob(pool *workerpool.Pool, run func(), log platform.Logger) *RepeatableIOJob {
	j := &RepeatableIOJob{pool: pool, run: run, log: log}
	j.isStarving.Store(true)
	j.isDone.Store(true)
	if j.log == nil {
		j.log = platform.NopLogger{}
	}
	return j
}

// Execute schedules a run if one is not already pending/active; concurrent
// callers coalesce into the same in-flight run.
func (j *RepeatableIOJob) Execute() {
	if !j.isStarving.CompareAndSwap(true, false) {
		return // a run is already pending or in progress
	}
	j.isDone.Store(false)
	j.pool.PushLongTask(workerpool.Task{Run: func() {
		for !j.lockRun() {
		}
		j.run()
		j.isStarving.Store(true)
		j.isDone.Store(true)
		j.unlockRun()
	}})
}

func (j *RepeatableIOJob) lockRun() bool  { return j.mu.CompareAndSwap(false, true) }
func (j *RepeatableIOJob) unlockRun()     { j.mu.Store(false) }

// IsDone reports whether the most recent run has completed.
func (j *RepeatableIOJob) IsDone() bool { return j.isDone.Load() }

// Wait blocks, polling, until the job finishes.
func (j *RepeatableIOJob) Wait() {
	if j.isDone.Load() {
		return
	}
	j.log.Event("info", "waiting for RepeatableIOJob to finish")
	for !j.isDone.Load() {
		platform.Sleep(100)
	}
}
