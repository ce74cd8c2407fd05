package engagement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/radiusdt/pulse/internal/metrics"
	"github.com/radiusdt/pulse/internal/models"
	"github.com/radiusdt/pulse/internal/storage"
)

const reconcileTimeout = 5 * time.Minute

// Reconciler periodically rebuilds snapshots for today and yesterday so
// that inline aggregation failures and day boundaries self-correct.
type Reconciler struct {
	events     storage.EventStore
	aggregator *Aggregator
	mirror     storage.EventMirror
	schedule   string
	cron       *cron.Cron
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewReconciler creates a reconciler running on a cron schedule
// (standard five-field expression or descriptors such as "@every 15m").
func NewReconciler(events storage.EventStore, aggregator *Aggregator, mirror storage.EventMirror, schedule string, m *metrics.Metrics, logger *zap.Logger) *Reconciler {
	if mirror == nil {
		mirror = storage.NopEventMirror{}
	}
	return &Reconciler{
		events:     events,
		aggregator: aggregator,
		mirror:     mirror,
		schedule:   schedule,
		cron:       cron.New(cron.WithLocation(time.UTC)),
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// Start registers the job and starts the scheduler.
func (r *Reconciler) Start() error {
	_, err := r.cron.AddFunc(r.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
		defer cancel()
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("reconcile run failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", r.schedule, err)
	}

	r.cron.Start()
	r.logger.Info("reconciler started", zap.String("schedule", r.schedule))
	return nil
}

// Stop stops the scheduler and waits for a running job until ctx is done.
func (r *Reconciler) Stop(ctx context.Context) {
	r.logger.Info("stopping reconciler")
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
		r.logger.Warn("reconciler stop timed out")
	}
}

// RunOnce recomputes every campaign with events today or yesterday and
// flushes the event mirror. It returns the number of snapshots rebuilt.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	today := models.DayOf(r.now())
	days := []time.Time{today.AddDate(0, 0, -1), today}

	rebuilt := 0
	var errs []error
	for _, day := range days {
		campaigns, err := r.events.ActiveCampaigns(ctx, day, day.AddDate(0, 0, 1))
		if err != nil {
			errs = append(errs, fmt.Errorf("list active campaigns for %s: %w", day.Format(models.DateLayout), err))
			continue
		}
		for _, campaignID := range campaigns {
			if ctx.Err() != nil {
				errs = append(errs, ctx.Err())
				break
			}
			if _, err := r.aggregator.recompute(ctx, campaignID, day, triggerReconcile); err != nil {
				errs = append(errs, fmt.Errorf("recompute %s/%s: %w", campaignID, day.Format(models.DateLayout), err))
				continue
			}
			rebuilt++
		}
	}

	if err := r.mirror.Flush(ctx); err != nil {
		r.metrics.RecordAggregationFailure(stageMirror)
		errs = append(errs, fmt.Errorf("flush event mirror: %w", err))
	}

	err := errors.Join(errs...)
	r.metrics.RecordReconcile(err == nil)
	r.logger.Info("reconcile run finished",
		zap.Int("snapshots", rebuilt),
		zap.Bool("ok", err == nil),
	)
	return rebuilt, err
}
