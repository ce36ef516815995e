// Package report logs a scheduled device availability summary. It is a
// purely observational feature and is disabled unless a cron schedule
// is configured.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/superdash/superdash/internal/aggregator"
	"github.com/superdash/superdash/internal/device"
)

// Source supplies the figures each report summarises.
type Source interface {
	Snapshot() []device.Status
	Counters() map[int]aggregator.DeviceCounters
}

// Reporter fires on a cron schedule and logs one availability line per
// device plus an aggregate summary.
type Reporter struct {
	schedule cron.Schedule
	source   Source
	logger   *slog.Logger

	lastFire     time.Time
	lastCounters map[int]aggregator.DeviceCounters
}

// parser accepts 6-field expressions with a seconds column.
var parser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// New validates the cron expression and builds a reporter.
func New(spec string, source Source, logger *slog.Logger) (*Reporter, error) {
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("report: invalid cron expression %q: %w", spec, err)
	}
	return &Reporter{
		schedule:     schedule,
		source:       source,
		logger:       logger,
		lastFire:     time.Now(),
		lastCounters: make(map[int]aggregator.DeviceCounters),
	}, nil
}

// Run fires the report at each scheduled instant until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	for {
		next := r.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			r.fire(next)
		}
	}
}

// fire logs the availability summary for the period since the last one.
func (r *Reporter) fire(now time.Time) {
	snapshot := r.source.Snapshot()
	counters := r.source.Counters()
	period := now.Sub(r.lastFire)

	connected := 0
	for _, st := range snapshot {
		if st.Connected {
			connected++
		}
		delta := counters[st.ID]
		prev := r.lastCounters[st.ID]
		r.logger.Info("device availability",
			slog.Int("device", st.ID),
			slog.String("name", st.Name),
			slog.String("state", string(st.State)),
			slog.Bool("connected", st.Connected),
			slog.Int64("connects", delta.Connects-prev.Connects),
			slog.Int64("disconnects", delta.Disconnects-prev.Disconnects),
			slog.Int64("errors", delta.Errors-prev.Errors),
		)
	}

	percent := 100.0
	if len(snapshot) > 0 {
		percent = float64(connected) / float64(len(snapshot)) * 100
	}
	r.logger.Info("availability summary",
		slog.Int("devices", len(snapshot)),
		slog.Int("connected", connected),
		slog.String("availability", fmt.Sprintf("%.1f%%", percent)),
		slog.Duration("period", period),
	)

	r.lastFire = now
	r.lastCounters = counters
}
