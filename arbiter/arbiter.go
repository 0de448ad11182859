package arbiter

import (
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/Meander-Cloud/go-schedule/scheduler"

	"github.com/Meander-Cloud/go-cluster/metrics"
)

var (
	ErrClosed    = errors.New("arbiter closed")
	ErrQueueFull = errors.New("arbiter queue full")
)

type Options struct {
	// capacity of the task queue feeding the network goroutine
	QueueLength uint16

	// optional, queue wait and rejections are recorded when set
	Metrics *metrics.Metrics

	LogPrefix string
	LogDebug  bool
}

type task struct {
	f      func()
	queued time.Time
}

// Arbiter is the cluster's network goroutine. Packet handling, node events
// and request retries all run on it one at a time, so plugin state touched
// only from here needs no locking.
type Arbiter struct {
	options *Options
	s       *scheduler.Scheduler[Group]
	taskch  chan task
	closed  atomic.Bool

	// pending timers per group, arbiter goroutine only
	pending map[Group]int
}

func NewArbiter(options *Options) *Arbiter {
	a := &Arbiter{
		options: options,
		s: scheduler.NewScheduler[Group](
			&scheduler.Options{
				LogPrefix: fmt.Sprintf("%s-Arbiter", options.LogPrefix),
				LogDebug:  options.LogDebug,
			},
		),
		taskch:  make(chan task, options.QueueLength),
		closed:  atomic.Bool{},
		pending: make(map[Group]int),
	}

	a.s.ProcessAsync(
		&scheduler.ScheduleAsyncEvent[Group]{
			AsyncVariant: scheduler.NewAsyncVariant(
				false,
				[]Group{GroupTasks},
				a.taskch,
				func(_ *scheduler.Scheduler[Group], _ *scheduler.AsyncVariant[Group], recv interface{}) {
					t, ok := recv.(task)
					if !ok {
						log.Printf("%s: unexpected task %#v", options.LogPrefix, recv)
						return
					}
					a.run(t)
				},
				func(_ *scheduler.Scheduler[Group], v *scheduler.AsyncVariant[Group]) {
					log.Printf("%s: task queue released after %d tasks", options.LogPrefix, v.SelectCount)
				},
			),
		},
	)

	a.s.RunAsync()

	return a
}

// Shutdown stops accepting tasks, cancels pending timers and waits for the
// network goroutine to exit. Tasks still queued are dropped.
func (a *Arbiter) Shutdown() {
	if a.closed.Swap(true) {
		return
	}
	a.s.Shutdown() // wait
}

// invoked on arbiter goroutine
func (a *Arbiter) run(t task) {
	started := time.Now()
	if a.options.Metrics != nil {
		a.options.Metrics.ArbiterQueueWait.Observe(started.Sub(t.queued).Seconds())
	}

	defer func() {
		rec := recover()
		if rec == nil {
			return
		}

		log.Printf("%s: task recovered from panic: %+v", a.options.LogPrefix, rec)
		if a.options.Metrics != nil {
			a.options.Metrics.ArbiterPanics.Inc()
		}
	}()

	t.f()

	if a.options.LogDebug {
		log.Printf(
			"%s: task waited %dus, ran %dus",
			a.options.LogPrefix,
			started.Sub(t.queued).Microseconds(),
			time.Since(started).Microseconds(),
		)
	}
}

// Dispatch queues f for the arbiter goroutine without blocking.
// any goroutine
func (a *Arbiter) Dispatch(f func()) error {
	if a.closed.Load() {
		return ErrClosed
	}

	select {
	case a.taskch <- task{f: f, queued: time.Now()}:
		return nil
	default:
	}

	if a.options.Metrics != nil {
		a.options.Metrics.ArbiterRejected.Inc()
	}

	err := fmt.Errorf("%s: %w, length=%d", a.options.LogPrefix, ErrQueueFull, cap(a.taskch))
	log.Printf("%s", err.Error())
	return err
}

// ScheduleTimer runs f on the arbiter goroutine after wait. A timer already
// pending for group is cancelled first, ReleaseTimer cancels this one.
// invoked on arbiter goroutine
func (a *Arbiter) ScheduleTimer(group Group, wait time.Duration, f func()) {
	a.pending[group]++

	a.s.ProcessSync(
		&scheduler.ScheduleAsyncEvent[Group]{
			AsyncVariant: scheduler.TimerAsync(
				true,
				[]Group{group},
				wait,
				f,
				func(uint32) {
					// fired or cancelled
					a.pending[group]--
					if a.pending[group] <= 0 {
						delete(a.pending, group)
					}
				},
			),
		},
	)
}

// invoked on arbiter goroutine
func (a *Arbiter) ReleaseTimer(group Group) {
	a.s.ProcessSync(
		&scheduler.ReleaseGroupEvent[Group]{
			Group: group,
		},
	)
}

// PendingTimers reports how many timers of group have neither fired nor
// been released.
// invoked on arbiter goroutine
func (a *Arbiter) PendingTimers(group Group) int {
	return a.pending[group]
}
