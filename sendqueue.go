package signalr

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// sendRequest is one producer's enqueued payload, paired with a channel the
// worker closes (carrying the batch's error, if any) once the payload has
// been flushed or the queue has failed.
type sendRequest struct {
	payload []byte
	done    chan error
}

// sendQueue is the ordered, coalescing outbound serialiser sitting in front
// of a Transport. Producers call Send and block until their payload has
// been flushed; a single worker goroutine drains a shared channel so that
// sends issued concurrently from multiple goroutines are still delivered to
// the transport in FIFO order, and payloads buffered at the same moment are
// batched into one transport.Send call.
type sendQueue struct {
	transport Transport
	logger    zerolog.Logger

	requests chan *sendRequest

	mu      sync.Mutex
	failed  bool
	failErr error

	stopOnce sync.Once
	stopped  chan struct{}
	workerWg sync.WaitGroup
}

// newSendQueue starts the background worker draining into transport.
func newSendQueue(transport Transport, logger zerolog.Logger) *sendQueue {
	q := &sendQueue{
		transport: transport,
		logger:    logger,
		requests:  make(chan *sendRequest, 64),
		stopped:   make(chan struct{}),
	}
	q.workerWg.Add(1)
	go q.run()
	return q
}

// Send appends payload to the FIFO buffer and blocks until it has been
// flushed to the transport (possibly batched with other payloads buffered
// at the same time) or the queue has failed/stopped.
func (q *sendQueue) Send(ctx context.Context, payload []byte) error {
	q.mu.Lock()
	if q.failed {
		err := q.failErr
		q.mu.Unlock()
		return err
	}
	q.mu.Unlock()

	req := &sendRequest{payload: payload, done: make(chan error, 1)}

	select {
	case q.requests <- req:
	case <-q.stopped:
		return ErrSendQueueStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the single worker: it blocks for the first request, then drains
// whatever else has accumulated in the channel without blocking, batches
// them into one transport.Send call, and fans the result out to every
// waiter in the batch — a batch contains everything buffered at the moment
// the worker wakes.
func (q *sendQueue) run() {
	defer q.workerWg.Done()

	for {
		var first *sendRequest
		select {
		case first = <-q.requests:
		case <-q.stopped:
			return
		}
		select {
		case <-q.stopped:
			// Stop raced the receive: nothing new is flushed after Stop.
			first.done <- ErrSendQueueStopped
			return
		default:
		}

		batch := []*sendRequest{first}
	drain:
		for {
			select {
			case req := <-q.requests:
				batch = append(batch, req)
			default:
				break drain
			}
		}

		q.flush(batch)
	}
}

func (q *sendQueue) flush(batch []*sendRequest) {
	var buf bytes.Buffer
	for _, req := range batch {
		buf.Write(req.payload)
	}

	batchID := uuid.NewString()
	q.logger.Debug().Str("batchId", batchID).Int("frames", len(batch)).Int("bytes", buf.Len()).Msg("send queue flushing batch")

	err := q.transport.Send(context.Background(), buf.Bytes())
	if err != nil {
		q.mu.Lock()
		q.failed = true
		q.failErr = err
		q.mu.Unlock()
		q.logger.Warn().Str("batchId", batchID).Err(err).Msg("send queue batch failed")
	}

	for _, req := range batch {
		req.done <- err
	}
}

// Stop prevents further Send calls from succeeding and waits for the worker
// to exit. A transport.Send already in flight is not cancelled: Stop waits
// for it to return. It does not flush anything new; any request already
// buffered but not yet picked up by the worker fails with
// ErrSendQueueStopped.
func (q *sendQueue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		if !q.failed {
			q.failed = true
			q.failErr = ErrSendQueueStopped
		}
		q.mu.Unlock()
		close(q.stopped)
	})
	q.workerWg.Wait()

	for {
		select {
		case req := <-q.requests:
			req.done <- ErrSendQueueStopped
		default:
			return
		}
	}
}
