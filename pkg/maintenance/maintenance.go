// Package maintenance wires the Decay (C9), Reflection (C10), User Summary
// (C11), and Classifier retrain (C12) workers plus weekly waypoint pruning
// (spec.md §4.6 "pruned weekly") onto the Scheduler (C13), and exposes a
// health Snapshot() of recent task activity. Grounded on
// hieuntg81-alfred-ai's internal/usecase/scheduling engine-registers-jobs-
// at-startup shape, generalized from chat-agent cron jobs to HSG's fixed
// maintenance job set.
package maintenance

import (
	"context"
	"time"

	"github.com/hsgraph/hsg/pkg/classifier"
	"github.com/hsgraph/hsg/pkg/config"
	"github.com/hsgraph/hsg/pkg/decay"
	"github.com/hsgraph/hsg/pkg/dynamics"
	"github.com/hsgraph/hsg/pkg/logging"
	"github.com/hsgraph/hsg/pkg/reflection"
	"github.com/hsgraph/hsg/pkg/scheduler"
	"github.com/hsgraph/hsg/pkg/tablestore"
	"github.com/hsgraph/hsg/pkg/usersummary"
)

const (
	taskDecay             = "decay"
	taskReflect           = "reflect"
	taskUserSummary       = "usersummary"
	taskClassifierRetrain = "classifier_retrain"
	taskWaypointPrune     = "waypoint_prune"
)

// Engine owns the Scheduler and every registered background worker.
type Engine struct {
	sched         *scheduler.Scheduler
	tables        *tablestore.Store
	decay         *decay.Worker
	reflection    *reflection.Worker
	usersum       *usersummary.Worker
	classifier    *classifier.Classifier
	cfg           *config.Config
	log           logging.Logger
	activeQueries func() int
}

// New registers every maintenance task on a fresh Scheduler per cfg's
// intervals, returning an Engine ready for Start. activeQueries feeds the
// health Snapshot's live query-concurrency reading (spec.md §6 maxActive);
// it may be nil, in which case Snapshot reports zero.
func New(
	cfg *config.Config,
	tables *tablestore.Store,
	decayWorker *decay.Worker,
	reflectionWorker *reflection.Worker,
	userSummaryWorker *usersummary.Worker,
	cls *classifier.Classifier,
	log logging.Logger,
	activeQueries func() int,
) (*Engine, error) {
	if log == nil {
		log = logging.Nop()
	}
	if activeQueries == nil {
		activeQueries = func() int { return 0 }
	}
	sched := scheduler.New(log)
	e := &Engine{
		sched:         sched,
		tables:        tables,
		decay:         decayWorker,
		reflection:    reflectionWorker,
		usersum:       userSummaryWorker,
		classifier:    cls,
		cfg:           cfg,
		log:           log,
		activeQueries: activeQueries,
	}

	decayInterval := cfg.DecayInterval()
	if decayInterval <= 0 {
		decayInterval = 10 * time.Minute
	}
	if err := sched.Register(scheduler.TaskSpec{
		Name:        taskDecay,
		Every:       decayInterval,
		JitterFrac:  0.1,
		Timeout:     2 * time.Minute,
		Concurrency: 1,
		Fn: func(ctx context.Context) error {
			_, err := e.decay.Run(ctx)
			return err
		},
	}); err != nil {
		return nil, err
	}

	if cfg.AutoReflect {
		reflectInterval := cfg.ReflectIntervalDuration()
		if reflectInterval <= 0 {
			reflectInterval = 10 * time.Minute
		}
		if err := sched.Register(scheduler.TaskSpec{
			Name:        taskReflect,
			Every:       reflectInterval,
			JitterFrac:  0.1,
			Timeout:     5 * time.Minute,
			Concurrency: 1,
			Fn: func(ctx context.Context) error {
				_, err := e.reflection.RunAll(ctx)
				return err
			},
		}); err != nil {
			return nil, err
		}
	}

	userSummaryInterval := cfg.UserSummaryIntervalDuration()
	if userSummaryInterval <= 0 {
		userSummaryInterval = 30 * time.Minute
	}
	if err := sched.Register(scheduler.TaskSpec{
		Name:        taskUserSummary,
		Every:       userSummaryInterval,
		JitterFrac:  0.1,
		Timeout:     5 * time.Minute,
		Concurrency: 1,
		Fn: func(ctx context.Context) error {
			_, err := e.usersum.Run(ctx)
			return err
		},
	}); err != nil {
		return nil, err
	}

	classifierInterval := cfg.ClassifierTrainIntervalDuration()
	if classifierInterval <= 0 {
		classifierInterval = 120 * time.Minute
	}
	if err := sched.Register(scheduler.TaskSpec{
		Name:        taskClassifierRetrain,
		Every:       classifierInterval,
		JitterFrac:  0.1,
		Timeout:     10 * time.Minute,
		Concurrency: 1,
		Fn:          e.retrainAllClassifiers,
	}); err != nil {
		return nil, err
	}

	if err := sched.Register(scheduler.TaskSpec{
		Name:        taskWaypointPrune,
		Every:       7 * 24 * time.Hour,
		Timeout:     5 * time.Minute,
		Concurrency: 1,
		Fn: func(ctx context.Context) error {
			pruned, err := e.tables.PruneWaypointsBelow(ctx, dynamics.WaypointPruneFloor)
			if err != nil {
				return err
			}
			e.log.Infow("maintenance: pruned stale waypoints", "count", pruned)
			return nil
		},
	}); err != nil {
		return nil, err
	}

	return e, nil
}

// minNewSamplesForRetrain is SPEC_FULL.md's classifier retrain threshold:
// a tenant is retrained only once it has accumulated this many memories
// since its model's last update, avoiding pointless SGD passes over an
// unchanged sample set.
const minNewSamplesForRetrain = 50

// retrainAllClassifiers retrains every tenant whose memory count since its
// classifier model's last updatedAt has reached minNewSamplesForRetrain
// (spec.md §4.10, SPEC_FULL.md's classifier retraining job). A tenant with
// no existing model is always retrained (sinceMillis 0). A single tenant's
// training failure does not abort the sweep.
func (e *Engine) retrainAllClassifiers(ctx context.Context) error {
	tenants, err := e.tables.ListTenants(ctx)
	if err != nil {
		return err
	}
	for _, tenantID := range tenants {
		var sinceMillis int64
		if m, err := e.tables.GetClassifierModel(ctx, tenantID); err == nil {
			sinceMillis = m.UpdatedAt
		}
		newCount, err := e.tables.CountSince(ctx, tenantID, sinceMillis)
		if err != nil {
			e.log.Warnw("maintenance: count-since failed, skipping tenant", "tenant", tenantID, "error", err)
			continue
		}
		if sinceMillis > 0 && newCount < minNewSamplesForRetrain {
			continue
		}
		if _, err := e.classifier.Train(ctx, tenantID, 0, 0); err != nil {
			e.log.Warnw("maintenance: classifier retrain failed", "tenant", tenantID, "error", err)
		}
	}
	return nil
}

// Start begins firing every registered maintenance task.
func (e *Engine) Start(ctx context.Context) {
	e.sched.Start(ctx)
}

// Stop signals all in-flight maintenance runs to cancel and waits for them
// to return.
func (e *Engine) Stop() {
	e.sched.StopAll()
}

// Snapshot is a point-in-time health view of the maintenance subsystem,
// combining the scheduler's per-task run stats with the most recent
// MaintenanceStat rows logged by the Decay/Reflection workers.
type Snapshot struct {
	Tasks         map[string]scheduler.Stats
	RecentDecay   []*RecentStat
	RecentReflect []*RecentStat
	ActiveQueries int
}

// RecentStat is a trimmed view of a model.MaintenanceStat row.
type RecentStat struct {
	Count     int64
	Timestamp int64
}

// Snapshot reads the scheduler's live task stats plus the last few logged
// decay/reflect maintenance rows, for an operational health endpoint.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Tasks: e.sched.AllStats(), ActiveQueries: e.activeQueries()}

	decayRows, err := e.tables.RecentStats(ctx, "decay", 5)
	if err != nil {
		return Snapshot{}, err
	}
	for _, row := range decayRows {
		snap.RecentDecay = append(snap.RecentDecay, &RecentStat{Count: row.Count, Timestamp: row.Timestamp})
	}

	reflectRows, err := e.tables.RecentStats(ctx, "reflect", 5)
	if err != nil {
		return Snapshot{}, err
	}
	for _, row := range reflectRows {
		snap.RecentReflect = append(snap.RecentReflect, &RecentStat{Count: row.Count, Timestamp: row.Timestamp})
	}

	return snap, nil
}
