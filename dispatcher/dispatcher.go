// Package dispatcher implements the timed dispatcher (C3): a single
// high-priority goroutine draining an MPSC inbox of newly-scheduled or
// rearmed timed jobs, then sleeping until the nearest deadline. Grounded
// on src/ion/jobs/JobDispatcher.cpp and src/ion/jobs/TimedJob.cpp.
package dispatcher

import (
	"sync"
	"time"

	"github.com/ionforge/ioncore/conc"
	"github.com/ionforge/ioncore/scheduler"
)

// State mirrors TimedJob's {Inactive, Active, Stopping} lifecycle (§3).
type State int32

const (
	Inactive State = iota
	Active
	Stopping
)

// Job is a timed job tracked by the Dispatcher: {next fire time, period,
// pre-start hint, in-flight task count, state}.
type Job struct {
	d *Dispatcher

	fn               func()
	onMainThread     bool
	period           time.Duration
	preStartHint     time.Duration
	maxIntervalsLate int

	mu              sync.Mutex
	nextFire        time.Time
	state           State
	numTasksRunning int

	sync *conc.Synchronizer
}

// OneShotOptions configures a single-fire timed job.
type OneShotOptions struct {
	OnMainThread bool
}

// PeriodicOptions configures a repeating timed job, matching §6's periodic
// API and §4.6's catch-up rule.
type PeriodicOptions struct {
	ExtraIntervals   int // reserved for future warm-up behavior; unused by catch-up math
	MaxIntervalsLate int
	PreStartHint     time.Duration
	OnMainThread     bool
}

// Dispatcher is the single process-wide timed-job thread: an inbox plus an
// active-job set, re-armed by enqueue rather than in-place mutation.
type Dispatcher struct {
	sched *scheduler.Scheduler

	inboxMu sync.Mutex
	inbox   []*Job
	wake    chan struct{}

	active []*Job

	stop    chan struct{}
	stopped chan struct{}
}

// New starts the dispatcher goroutine against sched.
func New(sched *scheduler.Scheduler) *Dispatcher {
	d := &Dispatcher{
		sched:   sched,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.loop()
	return d
}

// OneShot schedules fn to run once after delay.
func (d *Dispatcher) OneShot(delay time.Duration, fn func(), opts OneShotOptions) *Job {
	j := &Job{d: d, fn: fn, onMainThread: opts.OnMainThread, sync: conc.NewSynchronizer()}
	j.nextFire = time.Now().Add(delay)
	j.state = Active
	d.enqueue(j)
	return j
}

// Periodic schedules fn to run every interval, with drift catch-up bounded
// by MaxIntervalsLate (§4.6, §8 periodic drift bound).
func (d *Dispatcher) Periodic(interval time.Duration, fn func(), opts PeriodicOptions) *Job {
	j := &Job{
		d: d, fn: fn, onMainThread: opts.OnMainThread,
		period: interval, preStartHint: opts.PreStartHint,
		maxIntervalsLate: opts.MaxIntervalsLate,
		sync:             conc.NewSynchronizer(),
	}
	j.nextFire = time.Now().Add(interval)
	j.state = Active
	d.enqueue(j)
	return j
}

func (d *Dispatcher) enqueue(j *Job) {
	d.inboxMu.Lock()
	d.inbox = append(d.inbox, j)
	d.inboxMu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// RescheduleImmediately sets the job's next fire time to now and re-enqueues
// it on the dispatcher inbox. The dispatcher only picks it up while the job
// is still Active. Periodic re-arming after a fire goes through
// advanceLocked and enqueue, not through this method.
func (j *Job) RescheduleImmediately() {
	j.mu.Lock()
	j.nextFire = time.Now()
	j.mu.Unlock()
	j.d.enqueue(j)
}

// Cancel sets state=Stopping if tasks are in flight, else Inactive
// immediately, preventing further re-arm either way (§4.6).
func (j *Job) Cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.numTasksRunning > 0 {
		j.state = Stopping
	} else {
		j.state = Inactive
	}
}

// WaitUntilDone polls the job's state under its mutex, once a millisecond,
// until no task is in-flight and the job is no longer active, a
// deterministic (non-best-effort) alternative to Cancel.
func (j *Job) WaitUntilDone() {
	for {
		j.mu.Lock()
		done := j.numTasksRunning == 0 && j.state != Active
		j.mu.Unlock()
		if done {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func (j *Job) isActive() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state == Active
}

func (j *Job) timeLeft(now time.Time) time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.nextFire.Sub(now)
}

// fire runs the job's function as a pool task (or main-thread task),
// then — for periodic jobs — advances nextFire and re-enqueues via the
// inbox, matching "a re-arm is an enqueue to the inbox, not an in-place
// mutation" (§4.6).
func (j *Job) fire() {
	j.mu.Lock()
	j.numTasksRunning++
	j.mu.Unlock()

	run := func() {
		if j.preStartHint > 0 {
			j.mu.Lock()
			target := j.nextFire.Add(j.preStartHint)
			j.mu.Unlock()
			for time.Now().Before(target) {
				time.Sleep(time.Microsecond * 50)
			}
		}
		j.fn()

		j.mu.Lock()
		j.numTasksRunning--
		if j.period > 0 && j.state != Stopping {
			j.advanceLocked()
			j.state = Active
			j.mu.Unlock()
			j.d.enqueue(j)
		} else {
			j.state = Inactive
			j.mu.Unlock()
		}
	}

	if j.onMainThread {
		j.d.sched.PushMainThreadTask(run)
	} else {
		j.d.sched.PushTask(run)
	}
}

// advanceLocked implements the periodic catch-up rule: advance by one
// period; if more than maxIntervalsLate*period behind, snap forward to
// now+period-preStartHint instead of firing a backlog of missed intervals.
// Caller must hold j.mu.
func (j *Job) advanceLocked() {
	j.nextFire = j.nextFire.Add(j.period)
	now := time.Now()
	maxLate := time.Duration(j.maxIntervalsLate) * j.period
	if maxLate > 0 && now.Sub(j.nextFire) > maxLate {
		j.nextFire = now.Add(j.period - j.preStartHint)
	}
}

func (d *Dispatcher) loop() {
	defer close(d.stopped)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		d.inboxMu.Lock()
		drained := d.inbox
		d.inbox = nil
		d.inboxMu.Unlock()
		for _, j := range drained {
			if j.isActive() {
				d.active = append(d.active, j)
			}
		}

		now := time.Now()
		var next []*Job
		minWait := time.Minute
		for _, j := range d.active {
			if !j.isActive() {
				continue
			}
			tl := j.timeLeft(now)
			if tl <= 0 {
				j.fire()
				continue
			}
			next = append(next, j)
			if tl < minWait {
				minWait = tl
			}
		}
		d.active = next

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(minWait)

		select {
		case <-d.stop:
			return
		case <-d.wake:
		case <-timer.C:
		}
	}
}

// Stop halts the dispatcher goroutine. In-flight fires already dispatched
// to the scheduler are not cancelled; use Job.Cancel/WaitUntilDone for
// deterministic per-job shutdown first.
func (d *Dispatcher) Stop() {
	close(d.stop)
	<-d.stopped
}
