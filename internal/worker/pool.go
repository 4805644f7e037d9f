package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"invoicing-backend/internal/models"
)

var (
	ErrQueueFull   = errors.New("event queue is full")
	ErrPoolStopped = errors.New("event pool is stopped")
)

const (
	deliveryAttempts = 3
	deliveryTimeout  = 5 * time.Second
)

// Publisher delivers one event to a user's live channel.
type Publisher interface {
	Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error
}

type delivery struct {
	userID uuid.UUID
	msg    models.WSMessage
}

// Pool moves event delivery off the request path. Publish only enqueues; worker
// goroutines hand each event to the wrapped Publisher, retrying transient failures.
// Events that still fail are logged and dropped.
type Pool struct {
	next        Publisher
	queue       chan delivery
	workerCount int
	stopChan    chan struct{}
	wg          sync.WaitGroup

	// mu orders enqueues against Stop: once stopped is set no event can enter
	// the queue, so the workers' final drain sees every accepted event.
	mu      sync.RWMutex
	stopped bool
}

func NewPool(next Publisher, workerCount, queueSize int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		next:        next,
		queue:       make(chan delivery, queueSize),
		workerCount: workerCount,
		stopChan:    make(chan struct{}),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	log.Info().Int("workers", p.workerCount).Int("queue_size", cap(p.queue)).Msg("event workers started")
}

// Stop lets the workers flush what is already queued, then waits for them.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stopChan)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Publish enqueues without blocking. The caller's ctx is not used for delivery
// because it usually ends with the HTTP request.
func (p *Pool) Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.queue <- delivery{userID: userID, msg: msg}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			p.drain(id)
			log.Debug().Int("worker", id).Msg("event worker shutting down")
			return
		case d := <-p.queue:
			p.deliver(id, d)
		}
	}
}

func (p *Pool) drain(id int) {
	for {
		select {
		case d := <-p.queue:
			p.deliver(id, d)
		default:
			return
		}
	}
}

func (p *Pool) deliver(id int, d delivery) {
	err := retry.Do(
		func() error {
			ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
			defer cancel()
			return p.next.Publish(ctx, d.userID, d.msg)
		},
		retry.Attempts(deliveryAttempts),
		retry.Delay(50*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		log.Warn().Err(err).
			Int("worker", id).
			Str("type", d.msg.Type).
			Str("user_id", d.userID.String()).
			Msg("dropping event after failed delivery")
	}
}
