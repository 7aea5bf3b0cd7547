package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Maintenance job types
const (
	TypePurgeCompleted = "jobs.purge_completed"
	TypeRequeueStale   = "jobs.requeue_stale"
)

// MaintenanceConfig configures the recurring queue housekeeping jobs
type MaintenanceConfig struct {
	Queue       string
	PurgeAfter  time.Duration
	LockTimeout time.Duration
}

// RegisterMaintenance wires the purge and stale-lock handlers into registry
// and schedules them on scheduler
func RegisterMaintenance(q *Queue, registry *HandlerRegistry, scheduler *Scheduler, cfg MaintenanceConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry.Register(TypePurgeCompleted, func(ctx context.Context, job *Job) error {
		n, err := q.PurgeCompleted(ctx, cfg.PurgeAfter)
		if err != nil {
			return err
		}
		logger.Info("purged completed jobs", zap.Int64("count", n))
		return nil
	})

	registry.Register(TypeRequeueStale, func(ctx context.Context, job *Job) error {
		requeued, failed, err := q.RequeueStale(ctx, cfg.LockTimeout)
		if err != nil {
			return err
		}
		if requeued > 0 || failed > 0 {
			logger.Warn("recovered stale jobs",
				zap.Int64("requeued", requeued),
				zap.Int64("failed", failed))
		}
		return nil
	})

	if err := scheduler.Add(&Schedule{
		Name:     TypePurgeCompleted,
		Queue:    cfg.Queue,
		Type:     TypePurgeCompleted,
		Payload:  struct{}{},
		Interval: time.Hour,
	}); err != nil {
		return err
	}

	interval := cfg.LockTimeout / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	return scheduler.Add(&Schedule{
		Name:     TypeRequeueStale,
		Queue:    cfg.Queue,
		Type:     TypeRequeueStale,
		Payload:  struct{}{},
		Interval: interval,
	})
}
