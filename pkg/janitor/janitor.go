// Package janitor prunes aged proxy request log rows on a cron
// schedule. The log is append-only; without retention it grows
// without bound.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/webtosite/webtosite/pkg/persistence"
)

// DefaultSchedule runs the prune nightly, off the busy hours.
const DefaultSchedule = "17 3 * * *"

const pruneTimeout = 5 * time.Minute

// Janitor owns the retention schedule. Zero RetentionDays keeps every
// row and the janitor stays idle.
type Janitor struct {
	store         persistence.Persistence
	schedule      string
	retentionDays int
	cron          *cron.Cron
	prunedRows    prometheus.Counter
	logger        *slog.Logger
}

// Config tunes the janitor. Zero Schedule means DefaultSchedule.
type Config struct {
	Schedule      string
	RetentionDays int
}

func New(store persistence.Persistence, cfg Config, logger *slog.Logger) *Janitor {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}

	return &Janitor{
		store:         store,
		schedule:      schedule,
		retentionDays: cfg.RetentionDays,
		logger:        logger.With("module", "janitor"),
	}
}

// SetMetrics registers the pruned-rows counter.
func (j *Janitor) SetMetrics(reg prometheus.Registerer) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webtosite_request_log_pruned_rows_total",
		Help: "Proxy request log rows removed by the retention janitor.",
	})

	if err := reg.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			counter = already.ExistingCollector.(prometheus.Counter)
		}
	}

	j.prunedRows = counter
}

// Start schedules the prune job. A zero retention window logs and
// declines to schedule anything.
func (j *Janitor) Start() error {
	if j.retentionDays <= 0 {
		j.logger.Info("Request log retention disabled, keeping all rows")

		return nil
	}

	j.cron = cron.New()

	if _, err := j.cron.AddFunc(j.schedule, j.prune); err != nil {
		return err
	}

	j.cron.Start()
	j.logger.Info("Request log retention scheduled",
		"schedule", j.schedule, "retention_days", j.retentionDays)

	return nil
}

// Stop halts the schedule and waits for a running prune to finish.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}

	<-j.cron.Stop().Done()
}

func (j *Janitor) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()

	if err := j.PruneOnce(ctx); err != nil {
		j.logger.Error("Request log prune failed", "error", err)
	}
}

// PruneOnce removes rows older than the retention window.
func (j *Janitor) PruneOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -j.retentionDays)

	removed, err := j.store.RequestLogRepository().PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}

	if j.prunedRows != nil {
		j.prunedRows.Add(float64(removed))
	}

	j.logger.Info("Request log pruned", "removed", removed, "cutoff", cutoff)

	return nil
}
