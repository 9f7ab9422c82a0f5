package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Scheduler enqueues periodic tasks.
type Scheduler interface {
	RegisterPromoSweep(spec string, period time.Duration) error
	Run()
	Shutdown()
}

type scheduler struct {
	asynqScheduler *asynq.Scheduler
	log            *slog.Logger
}

func NewScheduler(redisOpt asynq.RedisConnOpt, log *slog.Logger) Scheduler {
	if log == nil {
		log = slog.Default()
	}

	return &scheduler{
		asynqScheduler: asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
			Location: time.UTC,
			PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
				switch {
				case errors.Is(err, asynq.ErrDuplicateTask):
					log.Debug("scheduler: previous tick still queued")
				case err != nil:
					log.Warn("scheduler: enqueue failed", slog.Any("error", err))
				}
			},
		}),
		log: log,
	}
}

// RegisterPromoSweep schedules the promotion reminder sweep on spec.
func (s *scheduler) RegisterPromoSweep(spec string, period time.Duration) error {
	if _, err := s.asynqScheduler.Register(spec, NewPromoSweepTask(period)); err != nil {
		return err
	}

	s.log.InfoContext(context.Background(), "scheduler: registered promo sweep task",
		slog.String("schedule", spec),
		slog.Duration("period", period),
	)

	return nil
}

func (s *scheduler) Run() {
	s.log.InfoContext(context.Background(), "scheduler: starting")

	go func() {
		if err := s.asynqScheduler.Run(); err != nil {
			s.log.ErrorContext(context.Background(), "scheduler: run failed", "error", err)
		}
	}()
}

func (s *scheduler) Shutdown() {
	s.log.InfoContext(context.Background(), "scheduler: shutting down")
	s.asynqScheduler.Shutdown()
}
