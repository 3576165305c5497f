// Package purge periodically deletes messages whose expiry has passed.
package purge

import (
	"context"
	"log"
	"time"

	"github.com/npezzotti/securechat/internal/stats"
)

// purgeTimeout bounds a single sweep.
const purgeTimeout = 30 * time.Second

type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type Sweeper struct {
	log      *log.Logger
	purger   Purger
	interval time.Duration
	stats    stats.StatsProvider
}

func NewSweeper(logger *log.Logger, p Purger, interval time.Duration, su stats.StatsProvider) *Sweeper {
	su.RegisterMetric(stats.MessagesPurged)

	return &Sweeper{
		log:      logger,
		purger:   p,
		interval: interval,
		stats:    su,
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Println("purge loop stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, purgeTimeout)
	defer cancel()

	n, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		s.log.Printf("purge expired messages: %v", err)
		return
	}
	if n == 0 {
		return
	}

	s.log.Printf("purged %d expired messages", n)
	s.stats.Add(stats.MessagesPurged, n)
}
