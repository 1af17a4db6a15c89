package connections

import (
	"context"
	"time"

	"go.uber.org/zap"

	"formula/internal/dispatch"
	"formula/internal/metrics"
	"formula/internal/models"
)

// Monitor periodically sweeps the registry and evicts connections that have
// gone silent past the timeout.
type Monitor struct {
	registry *Registry
	disp     *dispatch.Dispatcher
	log      *zap.Logger

	interval time.Duration
	timeout  time.Duration
}

func NewMonitor(registry *Registry, disp *dispatch.Dispatcher, log *zap.Logger, interval, timeout time.Duration) *Monitor {
	return &Monitor{
		registry: registry,
		disp:     disp,
		log:      log,
		interval: interval,
		timeout:  timeout,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep evicts every stale connection: a terminal connection-timeout notice
// is sent, the socket is closed and unregistered. The bot identity never
// heartbeats and is skipped.
func (m *Monitor) Sweep() {
	for userID, conn := range m.registry.Snapshot() {
		if userID == models.BotUserID {
			continue
		}
		if !m.registry.IsStale(conn, m.timeout) {
			continue
		}

		m.log.Info("stale connection detected", zap.String("userId", userID))
		m.disp.Send(conn, models.EventConnectionTimeout, map[string]any{
			"message": "Connection timeout",
		})
		if err := conn.Close(); err != nil {
			m.log.Warn("error closing stale connection", zap.String("userId", userID), zap.Error(err))
		}
		m.registry.Unregister(conn)
		metrics.StaleEvictions.Inc()
	}
	metrics.LiveConnections.Set(float64(m.registry.Len()))
}
