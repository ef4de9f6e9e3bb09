package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/parley/internal/types"
)

// turnQueue manages per-participant lanes with a global concurrency
// semaphore. Each participant gets its own FIFO channel (lane) so that
// turns for one participant execute strictly in arrival order, while the
// semaphore limits the total number of concurrent turn executors across
// all participants.
type turnQueue struct {
	lanes     map[types.ParticipantID]*lane
	semaphore *semaphore.Weighted
	processor func(*Turn) error
	active    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// lane is one participant's FIFO turn channel plus the context that covers
// every turn executed on it. Cancelling the context aborts the in-flight
// turn and stops the lane.
type lane struct {
	ch     chan *Turn
	ctx    context.Context
	cancel context.CancelFunc
}

// newTurnQueue creates a queue allowing up to maxConcurrent turns to
// execute simultaneously across all lanes.
func newTurnQueue(maxConcurrent int64) *turnQueue {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &turnQueue{
		lanes:     make(map[types.ParticipantID]*lane),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// start initialises the queue's context. Must be called before enqueue.
func (q *turnQueue) start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// stop cancels the queue context, closes all lanes, and waits for in-flight
// turns to finish.
func (q *turnQueue) stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	for p, l := range q.lanes {
		l.cancel()
		close(l.ch)
		delete(q.lanes, p)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// enqueue adds a turn to the participant's lane, creating the lane (and
// its goroutine) on first use. Returns an error if the lane's buffer is
// full.
func (q *turnQueue) enqueue(turn *Turn) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, exists := q.lanes[turn.Participant]
	if !exists {
		laneCtx, laneCancel := context.WithCancel(q.ctx)
		l = &lane{
			ch:     make(chan *Turn, 100),
			ctx:    laneCtx,
			cancel: laneCancel,
		}
		q.lanes[turn.Participant] = l
		q.wg.Add(1)
		go q.processLane(turn.Participant, l)
	}

	select {
	case l.ch <- turn:
		return nil
	default:
		return fmt.Errorf("turn queue full for participant %s", turn.Participant)
	}
}

// closeLane cancels a participant's lane, aborting the outstanding turn
// and dropping any queued ones. Other participants are unaffected.
func (q *turnQueue) closeLane(p types.ParticipantID) {
	q.mu.Lock()
	l, exists := q.lanes[p]
	if exists {
		delete(q.lanes, p)
	}
	q.mu.Unlock()
	if exists {
		l.cancel()
		close(l.ch)
	}
}

// processLane drains a single lane, acquiring a semaphore slot before
// running the processor synchronously. Strict FIFO per participant; the
// semaphore bounds cross-participant parallelism.
func (q *turnQueue) processLane(p types.ParticipantID, l *lane) {
	defer q.wg.Done()
	for {
		select {
		case turn, ok := <-l.ch:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(l.ctx, 1); err != nil {
				return
			}
			if q.processor != nil {
				q.active.Add(1)
				turn.Ctx = l.ctx
				if err := q.processor(turn); err != nil {
					slog.Error("turn failed",
						"turn_id", string(turn.ID),
						"participant", string(p),
						"error", err,
					)
				}
				q.active.Add(-1)
			}
			q.semaphore.Release(1)
		case <-l.ctx.Done():
			return
		}
	}
}

// waitIdle blocks until no turns are actively executing, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *turnQueue) waitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// setProcessor sets the function invoked for each dequeued turn.
func (q *turnQueue) setProcessor(fn func(*Turn) error) {
	q.processor = fn
}
