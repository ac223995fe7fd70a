package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Expirer sweeps stale pending opt-ins into the expired state.
type Expirer interface {
	ExpirePending(ctx context.Context) (int64, error)
}

// ExpiryJob runs the opt-in retention sweep on a fixed interval.
type ExpiryJob struct {
	optIns   Expirer
	interval time.Duration
	done     chan struct{}
}

func NewExpiryJob(optIns Expirer, interval time.Duration) *ExpiryJob {
	return &ExpiryJob{
		optIns:   optIns,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *ExpiryJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("expiry job started")
}

func (j *ExpiryJob) Stop() {
	close(j.done)
	log.Info().Msg("expiry job stopped")
}

func (j *ExpiryJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *ExpiryJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := j.optIns.ExpirePending(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to expire pending opt-ins")
	} else if count > 0 {
		log.Info().Int64("count", count).Msg("expired pending opt-ins")
	}
}
