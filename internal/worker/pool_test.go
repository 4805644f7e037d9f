package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoicing-backend/internal/models"
)

type recordingPublisher struct {
	mu       sync.Mutex
	got      []string
	failures int
	block    chan struct{}
}

func (r *recordingPublisher) Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("redis unavailable")
	}
	r.got = append(r.got, msg.Type)
	return nil
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func TestPool_DeliversQueuedEvents(t *testing.T) {
	rec := &recordingPublisher{}
	p := NewPool(rec, 1, 8)
	p.Start()

	require.NoError(t, p.Publish(context.Background(), uuid.New(), models.WSMessage{Type: models.EventSessionStarted}))
	require.NoError(t, p.Publish(context.Background(), uuid.New(), models.WSMessage{Type: models.EventSessionClosed}))

	p.Stop()
	assert.Equal(t, []string{models.EventSessionStarted, models.EventSessionClosed}, rec.types())
}

func TestPool_RetriesTransientFailures(t *testing.T) {
	rec := &recordingPublisher{failures: 2}
	p := NewPool(rec, 1, 4)
	p.Start()

	require.NoError(t, p.Publish(context.Background(), uuid.New(), models.WSMessage{Type: models.EventPageEventClosed}))
	p.Stop()

	assert.Equal(t, []string{models.EventPageEventClosed}, rec.types())
}

func TestPool_DropsAfterRepeatedFailures(t *testing.T) {
	rec := &recordingPublisher{failures: deliveryAttempts}
	p := NewPool(rec, 1, 4)
	p.Start()

	require.NoError(t, p.Publish(context.Background(), uuid.New(), models.WSMessage{Type: models.EventSessionClosed}))
	require.NoError(t, p.Publish(context.Background(), uuid.New(), models.WSMessage{Type: models.EventSessionStarted}))
	p.Stop()

	assert.Equal(t, []string{models.EventSessionStarted}, rec.types())
}

func TestPool_FullQueueRejects(t *testing.T) {
	rec := &recordingPublisher{block: make(chan struct{})}
	p := NewPool(rec, 1, 1)
	p.Start()

	ctx := context.Background()
	// The first event is picked up by the worker and blocks there.
	require.NoError(t, p.Publish(ctx, uuid.New(), models.WSMessage{Type: "a"}))
	require.Eventually(t, func() bool { return len(p.queue) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, p.Publish(ctx, uuid.New(), models.WSMessage{Type: "b"}))

	assert.ErrorIs(t, p.Publish(ctx, uuid.New(), models.WSMessage{Type: "c"}), ErrQueueFull)

	close(rec.block)
	p.Stop()
	assert.Equal(t, []string{"a", "b"}, rec.types())
}

func TestPool_PublishAfterStop(t *testing.T) {
	p := NewPool(&recordingPublisher{}, 2, 4)
	p.Start()
	p.Stop()
	p.Stop()

	assert.ErrorIs(t, p.Publish(context.Background(), uuid.New(), models.WSMessage{Type: "late"}), ErrPoolStopped)
}

func TestPool_StopNeverLosesAcceptedEvents(t *testing.T) {
	for round := 0; round < 50; round++ {
		rec := &recordingPublisher{}
		p := NewPool(rec, 2, 1024)
		p.Start()

		var (
			wg       sync.WaitGroup
			accepted atomic.Int32
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					err := p.Publish(context.Background(), uuid.New(), models.WSMessage{Type: "tick"})
					if err == nil {
						accepted.Add(1)
					} else {
						assert.ErrorIs(t, err, ErrPoolStopped)
					}
				}
			}()
		}

		p.Stop()
		wg.Wait()

		require.Len(t, rec.types(), int(accepted.Load()), "round %d", round)
	}
}
