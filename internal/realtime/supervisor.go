package realtime

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"engagement-sdk/internal/observability"
)

// Supervise reconnects the channel whenever the server drops it, using fresh
// details from fetch and jittered backoff between failed attempts.
func Supervise(ctx context.Context, ch *Channel, fetch DetailsFunc, baseBackoff time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("realtime supervisor stopped")
			ch.Disconnect()
			return nil
		case <-ch.Drops():
		}

		for {
			observability.RealtimeReconnects.Inc()
			err := ch.EnsureConnected(ctx, fetch)
			if err == nil {
				break
			}
			backoff := jitter(baseBackoff)
			log.Error().Err(err).Dur("retry_in", backoff).Msg("realtime reconnect failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
		}
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x–1.5x
	return time.Duration(float64(base) * factor)
}
