package pool

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Pool executes jobs in order of their deadlines, using a fixed number of goroutines.
// Jobs are added to the pool with a function that returns the next deadline.
// The pool will execute the jobs in the order of their deadlines, ensuring that
// jobs with earlier deadlines are executed before those with later deadlines.
// If a job is added while the pool is waiting for the next job, it will wake up
// the waiting goroutine to process the new job immediately.
type Pool struct {
	mu    sync.Mutex
	queue []*job
	reg   map[string]*job
	wait  chan struct{}
}

type job struct {
	name     string
	fn       func(context.Context) time.Time
	deadline time.Time
	rerun    bool
}

func New(workers int) *Pool {
	pool := Pool{reg: make(map[string]*job)}

	for range workers {
		go pool.work()
	}

	return &pool
}

// Add registers a job for immediate execution. The job's fn returns the next
// deadline, or the zero time to remove itself from the pool.
func (p *Pool) Add(name string, fn func(context.Context) time.Time) {
	p.enqueue(&job{name: name, fn: fn, deadline: time.Now()})
}

// work is the main loop for each worker goroutine.
func (p *Pool) work() {
	for {
		ctx := context.Background()
		p.enqueue(p.dequeue().Execute(ctx))
	}
}

// Trigger runs the named job NOW, if it is in the queue, regardless of the
// previous deadline, by pulling it into the front of the queue. If the named
// job is not queued, it's running. In that case, we'll have it override its
// next deadline to NOW, causing an immediate re-run after the current run.
// Subsequent runs will use the deadline returned by the job's `fn`.
func (p *Pool) Trigger(n string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if i := slices.IndexFunc(p.queue, func(j *job) bool { return j.name == n }); i != -1 {
		p.queue[i].deadline = time.Now()
		p.sortAndWake()
		return nil
	}
	// if it's not in p.queue, it must be running at the moment
	if j, ok := p.reg[n]; ok {
		j.rerun = true
		return nil
	}

	return fmt.Errorf("no job with name %s", n)
}

// TriggerAll re-runs every registered job as soon as possible. Used for
// config reloads where all syncs should pick up changes immediately.
func (p *Pool) TriggerAll() {
	p.mu.Lock()
	names := make([]string, 0, len(p.reg))
	for name := range p.reg {
		names = append(names, name)
	}
	p.mu.Unlock()

	for _, name := range names {
		_ = p.Trigger(name)
	}
}

// sortAndWake is used in multiple places, but always needs to be run
// within a p.mu lock!
func (p *Pool) sortAndWake() {
	// Maintain the jobs in deadline order.
	slices.SortFunc(p.queue, func(a, b *job) int {
		return a.deadline.Compare(b.deadline)
	})

	// Wake up any waiting goroutine.
	if p.wait != nil {
		close(p.wait)
		p.wait = nil
	}
}

func (p *Pool) enqueue(j *job) {
	if j.deadline.IsZero() {
		// Job requested removal from the pool.
		delete(p.reg, j.name)
		return
	}

	p.mu.Lock()
	p.reg[j.name] = j
	p.queue = append(p.queue, j)
	p.sortAndWake()
	p.mu.Unlock()
}

func (p *Pool) dequeue() *job {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {

		var j *job
		if len(p.queue) == 0 {
			j = &job{name: "dummy", deadline: time.Now().Add(time.Hour * 24 * 365)} // Default to a far future deadline
		} else {
			j = p.queue[0]
		}

		if j.deadline.After(time.Now()) {
			// Job is not ready yet, wait for it to be executed or another (potentially earlier) job to arrive.

			if p.wait == nil {
				p.wait = make(chan struct{})
			}

			wait := p.wait

			p.mu.Unlock()

			select {
			case <-time.After(time.Until(j.deadline)):
			case <-wait:
			}

			p.mu.Lock()
			continue
		}

		// The first queued job is ready to be executed, remove it from the queue.
		break
	}

	var j *job
	j, p.queue = p.queue[0], p.queue[1:]
	return j
}

func (j *job) Execute(ctx context.Context) *job {
	j.deadline = j.fn(ctx)
	if j.rerun {
		j.rerun = false
		j.deadline = time.Now()
	}
	return j
}
