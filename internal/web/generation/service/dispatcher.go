package service

import (
	"context"

	"github.com/Laisky/errors/v2"
	glog "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Dispatcher runs generation processing on a bounded worker pool.
//
// Submission is fire-and-forget: the caller never waits for processing, and
// a full queue fails the record instead of blocking the request handler.
type Dispatcher struct {
	logger  glog.Logger
	svc     *Generation
	queue   chan primitive.ObjectID
	workers int
}

// NewDispatcher create new dispatcher
func NewDispatcher(logger glog.Logger, svc *Generation,
	workers, queueDepth int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}

	return &Dispatcher{
		logger:  logger,
		svc:     svc,
		queue:   make(chan primitive.ObjectID, queueDepth),
		workers: workers,
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		go d.run(ctx, i)
	}

	d.logger.Info("generation dispatcher started",
		zap.Int("workers", d.workers),
		zap.Int("queue_depth", cap(d.queue)))
}

// Submit enqueues one record id without blocking. When the queue is full the
// record is failed immediately so the client can observe and retry it.
func (d *Dispatcher) Submit(ctx context.Context, id primitive.ObjectID) error {
	select {
	case d.queue <- id:
		return nil
	default:
		d.logger.Warn("generation queue full", zap.String("id", id.Hex()))
		d.svc.fail(ctx, d.logger, id, "server busy, please retry later", nil)
		return errors.Errorf("generation queue full")
	}
}

func (d *Dispatcher) run(ctx context.Context, worker int) {
	logger := d.logger.Named("worker").With(zap.Int("worker", worker))
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopped", zap.Error(ctx.Err()))
			return
		case id := <-d.queue:
			d.svc.Process(ctx, id)
		}
	}
}
