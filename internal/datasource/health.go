package datasource

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"query-enhancements/internal/domain"
)

// healthCheckTimeout bounds a single data source's connection test.
const healthCheckTimeout = 10 * time.Second

// HealthMonitor tests every data source on a cron schedule and records the
// outcome on each row.
type HealthMonitor struct {
	cron     *cron.Cron
	svc      *Service
	schedule string
	logger   *slog.Logger
}

// NewHealthMonitor creates a monitor for schedule, a robfig/cron spec such as
// "@every 5m".
func NewHealthMonitor(svc *Service, schedule string, logger *slog.Logger) *HealthMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthMonitor{
		cron:     cron.New(),
		svc:      svc,
		schedule: schedule,
		logger:   logger,
	}
}

// Start registers the check and starts the scheduler.
func (m *HealthMonitor) Start() error {
	if _, err := m.cron.AddFunc(m.schedule, func() { m.CheckAll(context.Background()) }); err != nil {
		return err
	}
	m.cron.Start()
	m.logger.Info("data source health monitor started", "schedule", m.schedule)
	return nil
}

// Stop stops the scheduler and waits for a running check to finish.
func (m *HealthMonitor) Stop() {
	<-m.cron.Stop().Done()
	m.logger.Info("data source health monitor stopped")
}

// CheckAll tests every data source once and returns the results by id.
func (m *HealthMonitor) CheckAll(ctx context.Context) map[string]domain.HealthStatus {
	all, err := m.svc.GetDataSources(ctx)
	if err != nil {
		m.logger.Warn("list data sources for health check failed", "error", err)
		return nil
	}

	results := make(map[string]domain.HealthStatus, len(all))
	for i := range all {
		ds := &all[i]
		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		health := m.svc.CheckHealth(checkCtx, ds)
		cancel()

		results[ds.ID] = health
		if health.Status != domain.HealthStatusHealthy {
			m.logger.Warn("data source unhealthy",
				"id", ds.ID,
				"title", ds.Title,
				"error", health.Error,
			)
		}
	}
	return results
}
