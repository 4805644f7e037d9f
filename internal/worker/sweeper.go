package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type staleExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// Sweeper periodically closes active sessions whose heartbeat stopped, so clients
// that never come back still end up with a closed session.
type Sweeper struct {
	expirer  staleExpirer
	interval time.Duration
	stopChan chan struct{}
	done     chan struct{}
	once     sync.Once
}

func NewSweeper(expirer staleExpirer, interval time.Duration) *Sweeper {
	return &Sweeper{
		expirer:  expirer,
		interval: interval,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start is a no-op when the interval is zero.
func (s *Sweeper) Start() {
	if s.expirer == nil || s.interval <= 0 {
		close(s.done)
		return
	}

	go s.loop()
	log.Info().Dur("interval", s.interval).Msg("session sweeper started")
}

// Stop waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.stopChan) })
	<-s.done
}

func (s *Sweeper) loop() {
	defer close(s.done)

	// Run on startup as well as by interval.
	s.sweep()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	closed, err := s.expirer.ExpireStale(ctx)
	if err != nil {
		log.Error().Err(err).Msg("session sweep failed")
		return
	}
	if closed > 0 {
		log.Info().Int("closed", closed).Msg("expired stale sessions")
	}
}
