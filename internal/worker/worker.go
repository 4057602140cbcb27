// Package worker runs the scheduled background jobs: leaderboard refresh,
// stale attempt sweeps and rescoring of answers left pending by the AI.
package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"assessapp/internal/config"
	"assessapp/internal/observability"
	"assessapp/internal/services"
	contextutils "assessapp/internal/utils"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
)

// Job names
const (
	JobLeaderboard    = "leaderboard-refresh"
	JobStaleAttempts  = "stale-attempt-sweep"
	JobRescorePending = "pending-rescore"
)

const (
	maxHistory       = 100
	rescoreBatchSize = 50
)

// DashboardTrigger asks the live dashboard to push a fresh snapshot
type DashboardTrigger interface {
	Trigger()
}

// JobStatus is the state of a single scheduled job
type JobStatus struct {
	Name          string    `json:"name"`
	Schedule      string    `json:"schedule"`
	IsRunning     bool      `json:"is_running"`
	LastRunStart  time.Time `json:"last_run_start,omitempty"`
	LastRunFinish time.Time `json:"last_run_finish,omitempty"`
	LastRunError  string    `json:"last_run_error,omitempty"`
	NextRun       time.Time `json:"next_run,omitempty"`
}

// Status represents the current state of the scheduler
type Status struct {
	IsRunning bool        `json:"is_running"`
	IsPaused  bool        `json:"is_paused"`
	Jobs      []JobStatus `json:"jobs"`
}

// RunRecord tracks individual job runs
type RunRecord struct {
	Job       string        `json:"job"`
	Manual    bool          `json:"manual"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Status    string        `json:"status"` // Success, Failure, Skipped
	Details   string        `json:"details"`
}

type job struct {
	name    string
	spec    string
	run     func(ctx context.Context) (string, error)
	entryID cron.EntryID
	status  JobStatus
}

// Scheduler owns the cron runner and the job bookkeeping
type Scheduler struct {
	cron         *cron.Cron
	tests        services.TestServiceInterface
	gamification services.GamificationServiceInterface
	dashboard    DashboardTrigger
	cfg          config.GamificationConfig
	logger       *observability.Logger

	mu      sync.RWMutex
	jobs    map[string]*job
	history []RunRecord
	paused  bool
	running bool

	// Time function for testing - defaults to time.Now
	timeNow func() time.Time
}

// NewScheduler registers the jobs described by cfg. dashboard may be nil.
func NewScheduler(tests services.TestServiceInterface, gamification services.GamificationServiceInterface, dashboard DashboardTrigger, cfg config.GamificationConfig, logger *observability.Logger) (*Scheduler, error) {
	if cfg.LeaderboardSchedule == "" {
		cfg.LeaderboardSchedule = config.DefaultLeaderboardSchedule
	}
	if cfg.StaleAttemptSchedule == "" {
		cfg.StaleAttemptSchedule = config.DefaultStaleAttemptSchedule
	}
	if cfg.StaleAttemptMaxAge <= 0 {
		cfg.StaleAttemptMaxAge = config.DefaultStaleAttemptMaxAge
	}

	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		tests:        tests,
		gamification: gamification,
		dashboard:    dashboard,
		cfg:          cfg,
		logger:       logger,
		jobs:         make(map[string]*job),
		timeNow:      time.Now,
	}

	defs := []*job{
		{name: JobLeaderboard, spec: cfg.LeaderboardSchedule, run: s.refreshLeaderboard},
		{name: JobStaleAttempts, spec: cfg.StaleAttemptSchedule, run: s.sweepStaleAttempts},
		{name: JobRescorePending, spec: cfg.StaleAttemptSchedule, run: s.rescorePending},
	}
	for _, j := range defs {
		j := j
		id, err := s.cron.AddFunc(j.spec, func() { s.execute(context.Background(), j, false) })
		if err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrInvalidInput, "invalid schedule %q for %s: %v", j.spec, j.name, err)
		}
		j.entryID = id
		j.status = JobStatus{Name: j.name, Schedule: j.spec}
		s.jobs[j.name] = j
	}
	return s, nil
}

// Start begins running jobs on their schedules
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info(ctx, "Scheduler started", map[string]interface{}{
		"leaderboard_schedule":    s.cfg.LeaderboardSchedule,
		"stale_attempt_schedule":  s.cfg.StaleAttemptSchedule,
		"stale_attempt_max_age":   s.cfg.StaleAttemptMaxAge.String(),
		"rescore_pending_batches": rescoreBatchSize,
	})
}

// Stop halts the schedule and waits for running jobs until ctx expires
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info(ctx, "Scheduler stopped")
		return nil
	case <-ctx.Done():
		return contextutils.WrapError(contextutils.ErrTimeout, "scheduler jobs still running at shutdown")
	}
}

// Pause skips scheduled runs until Resume. Manual runs still execute.
func (s *Scheduler) Pause(ctx context.Context) {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.logger.Info(ctx, "Scheduler paused")
}

// Resume re-enables scheduled runs
func (s *Scheduler) Resume(ctx context.Context) {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.logger.Info(ctx, "Scheduler resumed")
}

// RunJob executes the named job immediately and returns its run record
func (s *Scheduler) RunJob(ctx context.Context, name string) (RunRecord, error) {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return RunRecord{}, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "unknown job %q", name)
	}
	rec := s.execute(ctx, j, true)
	if rec.Status == "Failure" {
		return rec, contextutils.WrapErrorf(contextutils.ErrInternalError, "job %s failed: %s", name, rec.Details)
	}
	return rec, nil
}

// GetStatus returns the current scheduler status
func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{IsRunning: s.running, IsPaused: s.paused}
	for _, j := range s.jobs {
		js := j.status
		if s.running {
			js.NextRun = s.cron.Entry(j.entryID).Next
		}
		st.Jobs = append(st.Jobs, js)
	}
	sort.Slice(st.Jobs, func(i, k int) bool { return st.Jobs[i].Name < st.Jobs[k].Name })
	return st
}

// GetHistory returns recent runs, oldest first
func (s *Scheduler) GetHistory() []RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := make([]RunRecord, len(s.history))
	copy(history, s.history)
	return history
}

func (s *Scheduler) execute(ctx context.Context, j *job, manual bool) RunRecord {
	ctx, span := observability.TraceWorkerFunction(ctx, "execute",
		attribute.String("job.name", j.name),
		attribute.Bool("job.manual", manual),
	)
	defer observability.FinishSpan(span, nil)

	start := s.timeNow()
	rec := RunRecord{Job: j.name, Manual: manual, StartTime: start}

	s.mu.Lock()
	if !manual && s.paused {
		s.mu.Unlock()
		rec.EndTime = start
		rec.Status = "Skipped"
		rec.Details = "scheduler paused"
		span.SetAttributes(attribute.String("job.skipped", "paused"))
		return rec
	}
	j.status.IsRunning = true
	j.status.LastRunStart = start
	s.mu.Unlock()

	details, err := j.run(ctx)

	end := s.timeNow()
	rec.EndTime = end
	rec.Duration = end.Sub(start)
	rec.Details = details
	if err != nil {
		rec.Status = "Failure"
		rec.Details = err.Error()
		span.RecordError(err)
		s.logger.Error(ctx, "Scheduled job failed", err, map[string]interface{}{"job": j.name})
	} else {
		rec.Status = "Success"
		s.logger.Debug(ctx, "Scheduled job finished", map[string]interface{}{
			"job":      j.name,
			"details":  details,
			"duration": rec.Duration.String(),
		})
	}

	s.mu.Lock()
	j.status.IsRunning = false
	j.status.LastRunFinish = end
	j.status.LastRunError = ""
	if err != nil {
		j.status.LastRunError = err.Error()
	}
	s.history = append(s.history, rec)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
	s.mu.Unlock()
	return rec
}

func (s *Scheduler) refreshLeaderboard(ctx context.Context) (string, error) {
	n, err := s.gamification.RefreshLeaderboard(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ranked %d users", n), nil
}

func (s *Scheduler) sweepStaleAttempts(ctx context.Context) (string, error) {
	n, err := s.tests.SweepStaleAttempts(ctx, s.cfg.StaleAttemptMaxAge)
	if err != nil {
		return "", err
	}
	if n > 0 {
		s.triggerDashboard()
	}
	return fmt.Sprintf("closed %d stale attempts", n), nil
}

func (s *Scheduler) rescorePending(ctx context.Context) (string, error) {
	n, err := s.tests.RescorePendingAnswers(ctx, rescoreBatchSize)
	if err != nil {
		return "", err
	}
	if n > 0 {
		s.triggerDashboard()
	}
	return fmt.Sprintf("rescored %d answers", n), nil
}

func (s *Scheduler) triggerDashboard() {
	if s.dashboard != nil {
		s.dashboard.Trigger()
	}
}

// cronLogger routes cron's internal logging through the app logger
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(context.Background(), "cron: "+msg, kvFields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(context.Background(), "cron: "+msg, err, kvFields(keysAndValues))
}

func kvFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
