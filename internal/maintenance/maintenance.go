// Package maintenance runs the periodic housekeeping jobs over the
// event store: purging delivered events past retention, and requeueing
// events orphaned in Delivering by an unclean crash. Scheduling goes
// through asynq so a fleet runs each job once per interval, not once
// per instance.
package maintenance

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/bargom/hookrelay/internal/event/repository"
)

// Task type names, also the asynq queue routing keys.
const (
	TypePurgeDelivered = "maintenance:purge-delivered"
	TypeRequeueStale   = "maintenance:requeue-stale"
)

const (
	queueName = "maintenance"

	purgeSchedule   = "@every 1h"
	requeueSchedule = "@every 5m"
)

// Config holds the maintenance settings.
type Config struct {
	// RedisURL is the asynq broker, redis:// form.
	RedisURL string

	// Retention is how long delivered events are kept.
	Retention time.Duration

	// StaleDeliveringAfter is how long an event may sit in Delivering
	// before it is considered orphaned.
	StaleDeliveringAfter time.Duration
}

// Runner schedules and executes the maintenance jobs.
type Runner struct {
	scheduler *asynq.Scheduler
	server    *asynq.Server
	mux       *asynq.ServeMux
	log       *slog.Logger
}

// NewRunner creates a Runner over the event repository. It does not
// touch redis until Start.
func NewRunner(cfg Config, events repository.Repository, log *slog.Logger) (*Runner, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "maintenance")

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("maintenance: parse redis url: %w", err)
	}

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Logger:   asynqLogger{log},
		LogLevel: asynq.WarnLevel,
	})

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{queueName: 1},
		Logger:      asynqLogger{log},
		LogLevel:    asynq.WarnLevel,
	})

	mux := asynq.NewServeMux()
	mux.Handle(TypePurgeDelivered, NewPurgeDeliveredHandler(events, cfg.Retention, log))
	mux.Handle(TypeRequeueStale, NewRequeueStaleHandler(events, cfg.StaleDeliveringAfter, log))

	r := &Runner{
		scheduler: scheduler,
		server:    server,
		mux:       mux,
		log:       log,
	}

	// Unique keeps concurrent schedulers in a fleet from stacking the
	// same job.
	entries := []struct {
		spec string
		task *asynq.Task
		opts []asynq.Option
	}{
		{purgeSchedule, asynq.NewTask(TypePurgeDelivered, nil),
			[]asynq.Option{asynq.Queue(queueName), asynq.MaxRetry(3), asynq.Unique(time.Hour)}},
		{requeueSchedule, asynq.NewTask(TypeRequeueStale, nil),
			[]asynq.Option{asynq.Queue(queueName), asynq.MaxRetry(3), asynq.Unique(5 * time.Minute)}},
	}
	for _, e := range entries {
		if _, err := scheduler.Register(e.spec, e.task, e.opts...); err != nil {
			return nil, fmt.Errorf("maintenance: register %s: %w", e.task.Type(), err)
		}
	}

	return r, nil
}

// Start runs the scheduler and worker. It returns once both are
// started; errors after startup are logged.
func (r *Runner) Start() error {
	if err := r.scheduler.Start(); err != nil {
		return fmt.Errorf("maintenance: start scheduler: %w", err)
	}
	if err := r.server.Start(r.mux); err != nil {
		r.scheduler.Shutdown()
		return fmt.Errorf("maintenance: start worker: %w", err)
	}
	r.log.Info("maintenance jobs scheduled",
		"purge", purgeSchedule, "requeue", requeueSchedule)
	return nil
}

// Shutdown stops the scheduler and drains the worker.
func (r *Runner) Shutdown() {
	r.scheduler.Shutdown()
	r.server.Shutdown()
	r.log.Info("maintenance stopped")
}

// asynqLogger adapts slog to asynq's logger interface.
type asynqLogger struct {
	log *slog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Error(fmt.Sprint(args...)) }
