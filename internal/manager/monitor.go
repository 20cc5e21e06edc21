package manager

import (
	"context"
	"time"
)

// stuckAfter is the age past which an in-flight generation is reclaimed.
func (m *Manager) stuckAfter() time.Duration {
	return time.Duration(float64(m.cfg.InferenceTimeout) * m.cfg.StuckFactor)
}

// SweepOnce reclaims every generation older than InferenceTimeout times
// StuckFactor and returns how many it reclaimed. Entries already cleaned up
// by the normal path are skipped.
func (m *Manager) SweepOnce() int { return m.sweep(time.Now()) }

func (m *Manager) sweep(now time.Time) int {
	limit := m.stuckAfter()
	n := 0
	for _, g := range m.active.list() {
		if g.Age(now) <= limit {
			// list is oldest first
			break
		}
		if m.settle(g, StateReclaimed, nil) {
			m.stuckCleaned.Add(1)
			n++
		}
	}
	if n > 0 {
		m.log.Warn().Str("event", "stuck_sweep").Int("reclaimed", n).Dur("limit", limit).Msg("reclaimed stuck generations")
	}
	return n
}

func (m *Manager) runMonitor(ctx context.Context) error {
	t := time.NewTicker(m.cfg.MonitorInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			m.sweep(now)
		}
	}
}
