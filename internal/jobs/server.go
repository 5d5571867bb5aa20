package jobs

import (
	"context"
	"fmt"
	"time"

	"ms-checkout/internal/config"
	"ms-checkout/internal/logger"

	"github.com/hibiken/asynq"
)

// Runner owns the asynq worker server and the cron scheduler.
type Runner struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	log       *logger.Logger
}

// scheduleEntry pairs a cron spec with the interval its task is unique for.
type scheduleEntry struct {
	spec     string
	taskType string
	unique   time.Duration
}

func schedule(cfg config.JobsConfig) []scheduleEntry {
	return []scheduleEntry{
		{spec: cfg.SweepCron, taskType: TypeSweepExpired, unique: time.Minute},
		{spec: cfg.PollCron, taskType: TypePollPayments, unique: 2 * time.Minute},
		{spec: cfg.BackfillCron, taskType: TypeBackfillTickets, unique: 5 * time.Minute},
	}
}

func NewRunner(redisOpt asynq.RedisClientOpt, cfg config.JobsConfig, worker *Worker, log *logger.Logger) (*Runner, error) {
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			QueueCritical: 6,
			QueueDefault:  3,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error("JOBS", fmt.Sprintf("Task %s failed: %v", task.Type(), err))
		}),
		Logger: asynqLogger{log},
	})

	mux := asynq.NewServeMux()
	worker.Register(mux)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC, Logger: asynqLogger{log}})
	for _, e := range schedule(cfg) {
		if e.spec == "" {
			continue
		}
		id, err := scheduler.Register(e.spec, periodicTask(e.taskType, e.unique))
		if err != nil {
			return nil, fmt.Errorf("schedule %s at %q: %w", e.taskType, e.spec, err)
		}
		log.Info("JOBS", fmt.Sprintf("Scheduled %s at %q (entry %s)", e.taskType, e.spec, id))
	}

	return &Runner{server: srv, scheduler: scheduler, mux: mux, log: log}, nil
}

// Start runs the worker and the scheduler in the background.
func (r *Runner) Start() error {
	if err := r.server.Start(r.mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	if err := r.scheduler.Start(); err != nil {
		r.server.Shutdown()
		return fmt.Errorf("start asynq scheduler: %w", err)
	}
	r.log.Info("JOBS", "Background jobs started")
	return nil
}

func (r *Runner) Shutdown() {
	r.scheduler.Shutdown()
	r.server.Shutdown()
	r.log.Info("JOBS", "Background jobs stopped")
}

// asynqLogger routes asynq's internal logs through the service logger.
type asynqLogger struct {
	log *logger.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug("JOBS", fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info("JOBS", fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn("JOBS", fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error("JOBS", fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal("JOBS", fmt.Sprint(args...)) }
