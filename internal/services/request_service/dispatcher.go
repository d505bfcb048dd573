package requestservice

import (
	"context"
	"errors"
	"sync"

	"vm-provisioner/internal/logger"
	"vm-provisioner/internal/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull        = errors.New("provisioning queue is full")
	ErrDispatcherClosed = errors.New("provisioning dispatcher is shut down")
)

type job struct {
	id  string
	run func(ctx context.Context)
}

// Dispatcher runs provisioning jobs on a fixed number of workers so the
// HTTP handler can return as soon as a request is approved.
type Dispatcher struct {
	queue  chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts workers goroutines reading from a queue of queueSize jobs.
// Jobs run under contexts derived from parent.
func NewDispatcher(parent context.Context, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(parent)
	d := &Dispatcher{
		queue:  make(chan job, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(worker int) {
			defer d.wg.Done()
			d.work(worker)
		}(i)
	}
	logger.FromContext(parent).WithFields(logrus.Fields{"workers": workers, "queue": queueSize}).Info("Provisioning dispatcher started")
	return d
}

// Enqueue hands fn to a worker and returns the job id. It never blocks:
// a full queue returns ErrQueueFull.
func (d *Dispatcher) Enqueue(fn func(ctx context.Context)) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return "", ErrDispatcherClosed
	}

	j := job{id: uuid.NewString(), run: fn}
	metrics.QueueDepth.Inc()
	select {
	case d.queue <- j:
		return j.id, nil
	default:
		metrics.QueueDepth.Dec()
		return "", ErrQueueFull
	}
}

func (d *Dispatcher) work(worker int) {
	for j := range d.queue {
		metrics.QueueDepth.Dec()
		d.runJob(worker, j)
	}
}

func (d *Dispatcher) runJob(worker int, j job) {
	log := logger.FromContext(d.ctx).WithFields(logrus.Fields{"job_id": j.id, "worker": worker})
	ctx := logger.WithLogger(d.ctx, log)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("provisioning job panicked")
		}
	}()
	j.run(ctx)
}

// Shutdown stops accepting jobs, cancels running ones and waits for the
// workers to exit or ctx to expire. Queued jobs still run, with a cancelled context.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
