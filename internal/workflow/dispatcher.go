package workflow

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/crm-rules/internal/model"
)

// ErrDispatcherClosed is returned by Dispatch after Close.
var ErrDispatcherClosed = eris.New("workflow: dispatcher closed")

// Event is an entity lifecycle event waiting to run workflows.
type Event struct {
	EntityType model.EntityType
	EntityID   string
	Trigger    model.TriggerType
	Changes    []string
}

// Runner runs workflows for one event. *Engine implements it.
type Runner interface {
	RunWorkflows(ctx context.Context, entityType model.EntityType, entityID string, trigger model.TriggerType, changes []string) (*RunSummary, error)
}

// Dispatcher runs events asynchronously on a fixed set of workers. Events
// are partitioned by entity id, so one entity's events run one at a time
// and in order while different entities proceed in parallel.
type Dispatcher struct {
	runner Runner
	ctx    context.Context
	queues []chan Event
	g      errgroup.Group

	mu     sync.RWMutex
	closed bool

	// OnResult, if set, is called after each event. Set before the first
	// Dispatch.
	OnResult func(Event, *RunSummary, error)
}

// NewDispatcher starts workers goroutines, each with a queue of queueSize.
// ctx is passed to every RunWorkflows call.
func NewDispatcher(ctx context.Context, runner Runner, workers, queueSize int) *Dispatcher {
	workers = max(workers, 1)
	queueSize = max(queueSize, 0)

	d := &Dispatcher{
		runner: runner,
		ctx:    ctx,
		queues: make([]chan Event, workers),
	}
	for i := range d.queues {
		q := make(chan Event, queueSize)
		d.queues[i] = q
		d.g.Go(func() error {
			for ev := range q {
				dispatchQueueDepth.Dec()
				d.handle(ev)
			}
			return nil
		})
	}
	return d
}

// Dispatch queues ev on its entity's worker. It blocks while that queue is
// full and returns early if ctx is done.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	dispatchQueueDepth.Inc()
	select {
	case d.queues[d.partition(ev.EntityID)] <- ev:
		return nil
	case <-ctx.Done():
		dispatchQueueDepth.Dec()
		return eris.Wrap(ctx.Err(), "workflow: dispatch")
	}
}

// Close stops accepting events and waits for the queued ones to finish.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()
	return d.g.Wait()
}

func (d *Dispatcher) partition(entityID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(entityID))
	return int(h.Sum32() % uint32(len(d.queues)))
}

func (d *Dispatcher) handle(ev Event) {
	summary, err := d.runner.RunWorkflows(d.ctx, ev.EntityType, ev.EntityID, ev.Trigger, ev.Changes)
	if err != nil {
		zap.L().Error("workflow: dispatched run failed",
			zap.String("entity_type", string(ev.EntityType)),
			zap.String("entity_id", ev.EntityID),
			zap.String("trigger", string(ev.Trigger)),
			zap.Error(err),
		)
	}
	if d.OnResult != nil {
		d.OnResult(ev, summary, err)
	}
}
