package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"support-widget-server/internal/db"
	"support-widget-server/internal/logger"
	"support-widget-server/internal/metrics"
)

// Manager purges expired contact sessions on a cron schedule.
type Manager struct {
	Store   db.Store
	Metrics *metrics.Metrics
	Cron    string
	Now     func() time.Time

	mu      sync.Mutex
	running bool
}

func New(store db.Store, m *metrics.Metrics, cron string) *Manager {
	return &Manager{Store: store, Metrics: m, Cron: cron, Now: time.Now}
}

// Start runs the schedule in the background until ctx ends.
func (rm *Manager) Start(ctx context.Context) error {
	if !gronx.IsValid(rm.Cron) {
		return fmt.Errorf("invalid retention cron %q", rm.Cron)
	}
	logger.Info("retention_enabled", "cron", rm.Cron)
	go rm.scheduleLoop(ctx)
	return nil
}

func (rm *Manager) scheduleLoop(ctx context.Context) {
	for {
		now := rm.Now()
		next, err := gronx.NextTickAfter(rm.Cron, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", rm.Cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(next.Sub(now)):
			rm.runJob(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (rm *Manager) runJob(ctx context.Context) {
	rm.mu.Lock()
	if rm.running {
		rm.mu.Unlock()
		return
	}
	rm.running = true
	rm.mu.Unlock()

	defer func() {
		rm.mu.Lock()
		rm.running = false
		rm.mu.Unlock()
	}()

	if _, err := rm.RunOnce(ctx); err != nil {
		logger.Error("retention_run_failed", "error", err)
	}
}

// RunOnce deletes every contact session expired by now and returns how many
// went.
func (rm *Manager) RunOnce(ctx context.Context) (int, error) {
	n, err := rm.Store.DeleteExpiredContactSessions(ctx, rm.Now())
	if err != nil {
		return 0, err
	}
	if rm.Metrics != nil {
		rm.Metrics.ContactSessionsExpired.Add(float64(n))
	}
	if n > 0 {
		logger.Info("retention_purged", "contact_sessions", n)
	}
	return n, nil
}
