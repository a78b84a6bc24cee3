package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type Flusher interface {
	Flush(ctx context.Context) FlushReport
}

// Scheduler runs flush cycles on an interval and on demand. Demands are
// coalesced: any number of Trigger calls between two cycles cause one flush.
type Scheduler struct {
	flusher  Flusher
	net      Connectivity
	interval time.Duration
	kick     chan struct{}
}

func NewScheduler(f Flusher, net Connectivity, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		flusher:  f,
		net:      net,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Trigger requests a flush without blocking.
func (s *Scheduler) Trigger() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run flushes until ctx is cancelled. Connectivity is checked before every
// cycle.
func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	log.Info().Dur("interval", s.interval).Msg("flush scheduler started")
	s.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("flush scheduler stopped")
			return nil
		case <-t.C:
			s.cycle(ctx)
		case <-s.kick:
			s.cycle(ctx)
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	if !s.net.Online(ctx) {
		return
	}
	rep := s.flusher.Flush(ctx)
	if rep.Attempted > 0 {
		log.Info().Int("sent", rep.Sent).Int("requeued", rep.Requeued).
			Int("dropped", rep.Dropped).Int("skipped", rep.Skipped).Msg("offline queue flushed")
	}
}
