package listener

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Refresher rebuilds a cached view after the database reports a change.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// ListenAndRefresh LISTENs on channel and refreshes target on every
// notification, reconnecting with jittered backoff when the connection drops.
// It returns when ctx is cancelled.
func ListenAndRefresh(ctx context.Context, pool *pgxpool.Pool, target Refresher, channel string, baseBackoff time.Duration) {
	if channel == "" {
		channel = "campaign_change"
	}
	for {
		err := listen(ctx, pool, target, channel)
		if ctx.Err() != nil {
			log.Info().Msg("listener stopped")
			return
		}
		backoff := jitter(baseBackoff)
		log.Error().Err(err).Str("channel", channel).Dur("retry_in", backoff).Msg("listen connection lost")
		select {
		case <-ctx.Done():
			log.Info().Msg("listener stopped")
			return
		case <-time.After(backoff):
		}
	}
}

// listenSQL quotes channel as an identifier. pg_notify channel names are
// case-sensitive, so the quoted form matches the trigger's literal.
func listenSQL(channel string) string {
	return "LISTEN " + pgx.Identifier{channel}.Sanitize()
}

func listen(ctx context.Context, pool *pgxpool.Pool, target Refresher, channel string) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, listenSQL(channel)); err != nil {
		return err
	}
	log.Info().Str("channel", channel).Msg("listening for campaign changes")

	// changes made while we were disconnected
	if err := target.Refresh(ctx); err != nil {
		log.Error().Err(err).Msg("refresh campaign index")
	}

	var lastRefresh time.Time
	for {
		ntf, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if time.Since(lastRefresh) < 200*time.Millisecond {
			continue // debounce burst of notifications
		}
		lastRefresh = time.Now()
		log.Info().Str("channel", ntf.Channel).Str("payload", ntf.Payload).Msg("db change; refreshing campaign index")
		if err := target.Refresh(ctx); err != nil {
			log.Error().Err(err).Msg("refresh campaign index")
		}
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x to 1.5x
	return time.Duration(float64(base) * factor)
}
