package pollmgr

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RunSweep starts the periodic stale-waiter sweep described in SPEC_FULL
// §4.4, the same time.Ticker-driven goroutine shape as the teacher's
// queueUsageMonitor in ssepg.go. Cadence and staleness age come from the
// Manager's configured sweepInterval/staleAge (WithSweep). It blocks
// until ctx is cancelled.
func (m *Manager) RunSweep(ctx context.Context, log zerolog.Logger) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := m.sweepStale()
			if n > 0 {
				log.Info().Int("count", n).Msg("swept stale poll waiters")
			}
		}
	}
}

func (m *Manager) sweepStale() int {
	cutoff := time.Now().Add(-m.staleAge)

	m.mu.Lock()
	var stale []*waiter
	for _, w := range m.waiters {
		if w.createdAt.Before(cutoff) {
			stale = append(stale, w)
		}
	}
	for _, w := range stale {
		m.unregisterLocked(w)
	}
	m.mu.Unlock()

	for _, w := range stale {
		w.fire()
	}
	return len(stale)
}
