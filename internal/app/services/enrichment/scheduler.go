package enrichment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/tipsterhub/service_layer/pkg/logger"
)

// Job is a named periodic task.
type Job struct {
	Name     string
	Schedule string
	// Timeout bounds one run. Zero means no bound beyond scheduler stop.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Scheduler runs Jobs on cron schedules and implements system.Service.
// Overlapping runs of the same job are skipped.
type Scheduler struct {
	log  *logger.Logger
	jobs []Job

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewScheduler builds a scheduler. Jobs with an empty schedule are dropped.
func NewScheduler(log *logger.Logger, jobs ...Job) *Scheduler {
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	var kept []Job
	for _, job := range jobs {
		if strings.TrimSpace(job.Schedule) == "" || job.Run == nil {
			log.WithField("job", job.Name).Info("job disabled")
			continue
		}
		kept = append(kept, job)
	}
	return &Scheduler{log: log, jobs: kept}
}

func (s *Scheduler) Name() string { return "sync-scheduler" }

// Jobs lists the enabled job names.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for _, job := range s.jobs {
		names = append(names, job.Name)
	}
	return names
}

// Start registers every job and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	cl := cronLogger{entry: s.log.Entry}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl))
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	for _, job := range s.jobs {
		job := job
		if _, err := c.AddFunc(job.Schedule, func() { s.runJob(runCtx, job) }); err != nil {
			cancel()
			return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Schedule, err)
		}
		s.log.WithField("job", job.Name).WithField("schedule", job.Schedule).Info("job scheduled")
	}

	c.Start()
	s.cron = c
	s.cancel = cancel
	return nil
}

// Stop halts scheduling, cancels running jobs and waits for them or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	done := c.Stop()
	cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}
	ctx = logger.WithTraceID(ctx, logger.NewTraceID())
	start := time.Now()
	entry := s.log.WithContext(ctx).WithField("job", job.Name)
	if err := job.Run(ctx); err != nil {
		entry.WithError(err).WithField("duration", time.Since(start).String()).Error("scheduled job failed")
		return
	}
	entry.WithField("duration", time.Since(start).String()).Info("scheduled job finished")
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	entry *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(kv(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithError(err).WithFields(kv(keysAndValues)).Error("cron: " + msg)
}

func kv(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
