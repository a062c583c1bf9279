// Package scheduler implements the Scheduler (C13, spec.md §4.11): a
// named-task registry that runs recurring maintenance jobs (Decay,
// Reflection, User Summary, Classifier retrain, waypoint pruning) on
// `robfig/cron/v3` schedules, with per-task timeout, concurrency cap, and
// run statistics. Grounded on hieuntg81-alfred-ai's
// internal/usecase/scheduling/Scheduler (cron.Cron wrapper, dynamic
// entries map, FuncJob closures capturing a cancellable context), adapted
// from chat-agent cron jobs to HSG's fixed set of maintenance tasks and
// extended with a per-task concurrency semaphore and exposed run stats.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hsgraph/hsg/pkg/errs"
	"github.com/hsgraph/hsg/pkg/logging"
)

// TaskFunc is the work a scheduled task performs on each firing.
type TaskFunc func(ctx context.Context) error

// TaskSpec describes one registered maintenance task.
type TaskSpec struct {
	Name        string
	Every       time.Duration // fires on a fixed interval (spec.md §6's "@every" style)
	JitterFrac  float64       // randomize each firing by up to ±JitterFrac of Every
	Timeout     time.Duration // per-run context deadline; 0 = no deadline
	Concurrency int           // max overlapping runs of this task; default 1
	Fn          TaskFunc
}

// Stats tracks a task's run history in memory (spec.md §4.11's per-task
// stats surface, feeding the engine's health Snapshot()).
type Stats struct {
	Runs      int64
	Failures  int64
	LastRunAt time.Time
	LastErr   string
	LastDur   time.Duration
}

// Scheduler wraps a cron.Cron instance with HSG's named-task registry.
type Scheduler struct {
	cron    *cron.Cron
	log     logging.Logger
	mu      sync.Mutex
	entries map[string]cron.EntryID
	sems    map[string]chan struct{}
	stats   map[string]*Stats
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New returns an empty Scheduler.
func New(log logging.Logger) *Scheduler {
	if log == nil {
		log = logging.Nop()
	}
	return &Scheduler{
		cron:    cron.New(),
		log:     log,
		entries: make(map[string]cron.EntryID),
		sems:    make(map[string]chan struct{}),
		stats:   make(map[string]*Stats),
	}
}

// Register adds a task to the schedule. Safe to call before or after Start.
func (s *Scheduler) Register(spec TaskSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if spec.Name == "" {
		return errs.Invalid("scheduler.Register", fmt.Errorf("task name must not be empty"))
	}
	if _, exists := s.entries[spec.Name]; exists {
		return errs.Invalid("scheduler.Register", fmt.Errorf("task %q already registered", spec.Name))
	}
	if spec.Every <= 0 {
		return errs.Invalid("scheduler.Register", fmt.Errorf("task %q: Every must be positive", spec.Name))
	}
	concurrency := spec.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	s.sems[spec.Name] = sem
	s.stats[spec.Name] = &Stats{}

	schedule := jitteredSchedule{every: spec.Every, jitterFrac: spec.JitterFrac}
	name := spec.Name
	entryID := s.cron.Schedule(schedule, cron.FuncJob(func() { s.runOnce(name, spec) }))
	s.entries[name] = entryID
	return nil
}

func (s *Scheduler) runOnce(name string, spec TaskSpec) {
	s.mu.Lock()
	ctx := s.ctx
	sem := s.sems[name]
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	select {
	case sem <- struct{}{}:
	default:
		s.log.Warnw("scheduler: skipping run, task still busy", "task", name)
		return
	}
	defer func() { <-sem }()

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := spec.Fn(runCtx)
	dur := time.Since(start)

	s.mu.Lock()
	st := s.stats[name]
	st.Runs++
	st.LastRunAt = start
	st.LastDur = dur
	if err != nil {
		st.Failures++
		st.LastErr = err.Error()
	} else {
		st.LastErr = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warnw("scheduler: task failed", "task", name, "error", err, "duration", dur)
		return
	}
	s.log.Debugw("scheduler: task completed", "task", name, "duration", dur)
}

// Start begins firing registered tasks. Safe to call once; subsequent calls
// are no-ops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
}

// StopAll signals every running task's context to cancel, stops accepting
// new firings, and waits for in-flight runs to return.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.mu.Unlock()

	stopCtx := s.cron.Stop()
	if cancel != nil {
		cancel()
	}
	<-stopCtx.Done()

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

// Remove unschedules a task by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entryID, ok := s.entries[name]
	if !ok {
		return
	}
	s.cron.Remove(entryID)
	delete(s.entries, name)
	delete(s.sems, name)
}

// StatsFor returns a snapshot of a task's run statistics.
func (s *Scheduler) StatsFor(name string) (Stats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[name]
	if !ok {
		return Stats{}, false
	}
	return *st, true
}

// AllStats returns every task's current statistics, keyed by name.
func (s *Scheduler) AllStats() map[string]Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Stats, len(s.stats))
	for name, st := range s.stats {
		out[name] = *st
	}
	return out
}

// jitteredSchedule implements cron.Schedule for a fixed interval randomized
// by up to ±jitterFrac, so maintenance jobs across many deployments don't
// all fire in lockstep.
type jitteredSchedule struct {
	every      time.Duration
	jitterFrac float64
}

func (j jitteredSchedule) Next(t time.Time) time.Time {
	if j.jitterFrac <= 0 {
		return t.Add(j.every)
	}
	spread := float64(j.every) * j.jitterFrac
	delta := time.Duration((rand.Float64()*2 - 1) * spread)
	next := j.every + delta
	if next <= 0 {
		next = j.every
	}
	return t.Add(next)
}
