package notify

import (
	"context"
	"hash/fnv"

	"github.com/rs/zerolog"

	"github.com/ecommerce-platform/user-service/internal/core/ports"
)

const (
	defaultWorkers = 4
	channelBuffer  = 256
)

type mailJob struct {
	Email    string
	Template string
	Data     map[string]any
}

// Dispatcher fans best-effort sends out to a fixed set of workers using
// consistent hashing on the recipient, so mail to the same address keeps its
// order. Failures are logged and dropped; callers that need delivery
// feedback use the Notifier directly.
type Dispatcher struct {
	workers  []chan mailJob
	notifier ports.Notifier
	log      zerolog.Logger
}

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, notifier ports.Notifier, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers:  make([]chan mailJob, numWorkers),
		notifier: notifier,
		log:      log,
	}
	for i := range d.workers {
		d.workers[i] = make(chan mailJob, channelBuffer)
	}
	return d
}

// Start launches all worker goroutines. Workers stop when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, ch := range d.workers {
		go d.runWorker(ctx, i, ch)
	}
}

// Enqueue hands a job to the worker responsible for its recipient. The call
// is non-blocking up to channelBuffer capacity.
func (d *Dispatcher) Enqueue(email, template string, data map[string]any) {
	d.workers[d.shardIndex(email)] <- mailJob{Email: email, Template: template, Data: data}
}

// shardIndex maps a recipient deterministically to a worker index.
func (d *Dispatcher) shardIndex(email string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(email))
	return int(h.Sum32()) % len(d.workers)
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan mailJob) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-ch:
			if !ok {
				return
			}
			if err := d.notifier.Send(ctx, job.Email, job.Template, job.Data); err != nil {
				d.log.Error().Err(err).
					Int("worker_id", id).
					Str("template", job.Template).
					Msg("notification delivery failed")
			}
		}
	}
}
