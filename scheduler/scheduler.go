// Package scheduler runs periodic syncs for every connected, sync-enabled
// connection.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-integrations/adapters/gologger"
	"github.com/goliatone/go-integrations/core"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultSchedule      = "@every 6h"
	DefaultMaxConcurrent = 4
	defaultTargetLimit   = 1000
)

// TargetLister pages through sync targets. A zero Next ends the listing.
type TargetLister interface {
	ListSyncTargetsPage(ctx context.Context, offset int, limit int) (core.SyncTargetPage, error)
}

type SyncRunner interface {
	Sync(ctx context.Context, in core.SyncInput) (core.SyncResult, error)
}

// Dispatcher hands one sync to whatever executes it: the service directly
// or a job queue.
type Dispatcher interface {
	Dispatch(ctx context.Context, in core.SyncInput) error
}

type DispatchFunc func(ctx context.Context, in core.SyncInput) error

func (f DispatchFunc) Dispatch(ctx context.Context, in core.SyncInput) error {
	return f(ctx, in)
}

// ServiceDispatcher runs the sync inline.
func ServiceDispatcher(runner SyncRunner) Dispatcher {
	return DispatchFunc(func(ctx context.Context, in core.SyncInput) error {
		_, err := runner.Sync(ctx, in)
		return err
	})
}

type Config struct {
	Schedule      string
	MaxConcurrent int
	// TargetLimit is the page size used when listing targets.
	TargetLimit int
}

// ConfigFromSync maps the service sync config onto scheduler settings.
func ConfigFromSync(cfg core.SyncConfig) Config {
	return Config{Schedule: cfg.Schedule, MaxConcurrent: cfg.MaxConcurrent}
}

type Option func(*Scheduler)

func WithLogger(logger glog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithDispatcher(dispatcher Dispatcher) Option {
	return func(s *Scheduler) {
		if dispatcher != nil {
			s.dispatcher = dispatcher
		}
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(s *Scheduler) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

func WithClock(clock core.Clock) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.now = clock
		}
	}
}

type Scheduler struct {
	cfg        Config
	targets    TargetLister
	dispatcher Dispatcher
	logger     glog.Logger
	metrics    core.MetricsRecorder
	now        core.Clock

	mu      sync.Mutex
	cron    *cron.Cron
	running atomic.Bool
}

// RunSummary reports one scheduler pass.
type RunSummary struct {
	Period     int
	Unit       int
	Targets    int
	Dispatched int
	Failed     int
	Skipped    int
}

// New builds a scheduler over svc. svc is used to list targets and, unless
// WithDispatcher is given, to run the syncs.
func New(svc interface {
	TargetLister
	SyncRunner
}, cfg Config, opts ...Option) (*Scheduler, error) {
	if svc == nil {
		return nil, fmt.Errorf("scheduler: service is required")
	}
	cfg.Schedule = strings.TrimSpace(cfg.Schedule)
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.TargetLimit <= 0 {
		cfg.TargetLimit = defaultTargetLimit
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("scheduler: invalid schedule %q: %w", cfg.Schedule, err)
	}

	s := &Scheduler{
		cfg:        cfg,
		targets:    svc,
		dispatcher: ServiceDispatcher(svc),
		logger:     glog.Nop(),
		metrics:    core.NopMetricsRecorder{},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Start registers the schedule and starts the cron loop. ctx bounds every
// scheduled pass.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler: already started")
	}
	cronLogger := gologger.ToCronLogger(s.logger)
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("scheduled sync failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduler: register schedule: %w", err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("sync scheduler started", "schedule", s.cfg.Schedule, "max_concurrent", s.cfg.MaxConcurrent)
	return nil
}

// Stop halts the cron loop and waits for a running pass to finish or ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	done := c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce syncs the current month for every target. A pass already in
// flight makes RunOnce return immediately with an empty summary.
func (s *Scheduler) RunOnce(ctx context.Context) (RunSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return RunSummary{}, nil
	}
	defer s.running.Store(false)

	now := s.now().UTC()
	summary := RunSummary{Period: now.Year(), Unit: int(now.Month())}

	targets, err := s.listTargets(ctx)
	if err != nil {
		return summary, fmt.Errorf("scheduler: list sync targets: %w", err)
	}
	summary.Targets = len(targets)

	var dispatched, failed, skipped atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.MaxConcurrent)
	for _, target := range targets {
		group.Go(func() error {
			if groupCtx.Err() != nil {
				skipped.Add(1)
				return nil
			}
			err := s.dispatcher.Dispatch(groupCtx, core.SyncInput{
				Actor:    core.SystemActor(target.TenantID),
				Provider: target.Provider,
				Period:   summary.Period,
				Units:    []int{summary.Unit},
			})
			tags := map[string]string{"provider": string(target.Provider), "status": "success"}
			switch {
			case core.HasTextCode(err, core.ErrorSyncDisabled), core.HasTextCode(err, core.ErrorConnectionNotFound):
				skipped.Add(1)
				tags["status"] = "skipped"
			case err != nil:
				failed.Add(1)
				tags["status"] = "failure"
				s.logger.Warn("scheduled sync failed",
					"tenant_id", target.TenantID,
					"provider", string(target.Provider),
					"error", err,
				)
			default:
				dispatched.Add(1)
			}
			s.metrics.IncCounter(groupCtx, core.MetricSchedulerDispatch, 1, tags)
			return nil
		})
	}
	_ = group.Wait()

	summary.Dispatched = int(dispatched.Load())
	summary.Failed = int(failed.Load())
	summary.Skipped = int(skipped.Load())
	s.logger.Info("scheduled sync pass finished",
		"period", summary.Period,
		"unit", summary.Unit,
		"targets", summary.Targets,
		"dispatched", summary.Dispatched,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)
	return summary, ctx.Err()
}

// listTargets walks every page. Keys seen on an earlier page are dropped so a
// row shifting between pages is synced once.
func (s *Scheduler) listTargets(ctx context.Context) ([]core.ConnectionKey, error) {
	var targets []core.ConnectionKey
	seen := map[core.ConnectionKey]struct{}{}
	offset, pages := 0, 0
	for {
		page, err := s.targets.ListSyncTargetsPage(ctx, offset, s.cfg.TargetLimit)
		if err != nil {
			return nil, err
		}
		pages++
		for _, key := range page.Keys {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			targets = append(targets, key)
		}
		if page.Next <= offset {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		offset = page.Next
	}
	s.logger.Debug("sync targets listed", "targets", len(targets), "pages", pages)
	return targets, nil
}
