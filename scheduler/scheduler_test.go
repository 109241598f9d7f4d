package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-integrations/core"
)

type stubService struct {
	targets []core.ConnectionKey
	listErr error
	pages   int

	mu       sync.Mutex
	calls    []core.SyncInput
	errs     map[string]error
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (s *stubService) ListSyncTargetsPage(_ context.Context, offset int, limit int) (core.SyncTargetPage, error) {
	if s.listErr != nil {
		return core.SyncTargetPage{}, s.listErr
	}
	s.mu.Lock()
	s.pages++
	s.mu.Unlock()
	if offset >= len(s.targets) {
		return core.SyncTargetPage{}, nil
	}
	end := len(s.targets)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	page := core.SyncTargetPage{Keys: append([]core.ConnectionKey(nil), s.targets[offset:end]...)}
	if limit > 0 && end-offset == limit {
		page.Next = end
	}
	return page, nil
}

func (s *stubService) Sync(_ context.Context, in core.SyncInput) (core.SyncResult, error) {
	current := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if current <= peak || s.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	s.calls = append(s.calls, in)
	err := s.errs[in.Actor.TenantID]
	s.mu.Unlock()
	return core.SyncResult{Success: err == nil}, err
}

func fixedClock() time.Time {
	return time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)
}

func TestRunOnceSyncsCurrentMonthForEveryTarget(t *testing.T) {
	svc := &stubService{
		targets: []core.ConnectionKey{
			{TenantID: "tenant-1", Provider: core.ProviderERP},
			{TenantID: "tenant-2", Provider: core.ProviderCalendarA},
			{TenantID: "tenant-3", Provider: core.ProviderCalendarB},
		},
		errs: map[string]error{
			"tenant-2": errors.New("provider down"),
			"tenant-3": core.NewSyncDisabledError(core.ConnectionKey{TenantID: "tenant-3", Provider: core.ProviderCalendarB}),
		},
	}
	s, err := New(svc, Config{}, WithClock(fixedClock))
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	summary, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.Period != 2024 || summary.Unit != 3 || summary.Targets != 3 {
		t.Fatalf("unexpected summary header %+v", summary)
	}
	if summary.Dispatched != 1 || summary.Failed != 1 || summary.Skipped != 1 {
		t.Fatalf("unexpected summary counts %+v", summary)
	}
	for _, call := range svc.calls {
		if call.Actor != core.SystemActor(call.Actor.TenantID) {
			t.Fatalf("expected system actor, got %+v", call.Actor)
		}
		if call.Period != 2024 || len(call.Units) != 1 || call.Units[0] != 3 {
			t.Fatalf("expected current month sync, got %+v", call)
		}
	}
}

func TestRunOnceBoundsConcurrency(t *testing.T) {
	svc := &stubService{delay: 20 * time.Millisecond}
	for i := 0; i < 8; i++ {
		svc.targets = append(svc.targets, core.ConnectionKey{TenantID: fmt.Sprintf("tenant-%d", i), Provider: core.ProviderERP})
	}
	s, err := New(svc, Config{MaxConcurrent: 2}, WithClock(fixedClock))
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if peak := svc.peak.Load(); peak > 2 {
		t.Fatalf("expected at most 2 concurrent syncs, saw %d", peak)
	}
	if len(svc.calls) != 8 {
		t.Fatalf("expected 8 syncs, got %d", len(svc.calls))
	}
}

func TestRunOnceUsesDispatcher(t *testing.T) {
	svc := &stubService{targets: []core.ConnectionKey{{TenantID: "tenant-1", Provider: core.ProviderERP}}}
	var dispatched []core.SyncInput
	var mu sync.Mutex
	s, err := New(svc, Config{}, WithClock(fixedClock), WithDispatcher(DispatchFunc(func(_ context.Context, in core.SyncInput) error {
		mu.Lock()
		defer mu.Unlock()
		dispatched = append(dispatched, in)
		return nil
	})))
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(dispatched) != 1 || len(svc.calls) != 0 {
		t.Fatalf("expected dispatcher to replace inline sync, dispatched=%d inline=%d", len(dispatched), len(svc.calls))
	}
}

func TestRunOncePagesPastTargetLimit(t *testing.T) {
	svc := &stubService{}
	for i := 0; i < 7; i++ {
		svc.targets = append(svc.targets, core.ConnectionKey{TenantID: fmt.Sprintf("tenant-%d", i), Provider: core.ProviderERP})
	}
	s, err := New(svc, Config{TargetLimit: 3}, WithClock(fixedClock))
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	summary, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.Targets != 7 || summary.Dispatched != 7 {
		t.Fatalf("expected every target synced across pages, got %+v", summary)
	}
	if svc.pages != 3 {
		t.Fatalf("expected three pages, got %d", svc.pages)
	}
	synced := map[string]bool{}
	for _, call := range svc.calls {
		synced[call.Actor.TenantID] = true
	}
	if len(synced) != 7 {
		t.Fatalf("expected 7 distinct tenants, got %v", synced)
	}
}

func TestRunOnceStopsOnExactPageBoundary(t *testing.T) {
	svc := &stubService{}
	for i := 0; i < 4; i++ {
		svc.targets = append(svc.targets, core.ConnectionKey{TenantID: fmt.Sprintf("tenant-%d", i), Provider: core.ProviderERP})
	}
	s, err := New(svc, Config{TargetLimit: 2}, WithClock(fixedClock))
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	summary, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.Targets != 4 || svc.pages != 3 {
		t.Fatalf("expected 4 targets over 3 pages, got targets=%d pages=%d", summary.Targets, svc.pages)
	}
}

func TestRunOncePropagatesListFailure(t *testing.T) {
	svc := &stubService{listErr: errors.New("db down")}
	s, err := New(svc, Config{})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected list failure to surface")
	}
}

func TestNewValidatesSchedule(t *testing.T) {
	if _, err := New(&stubService{}, Config{Schedule: "not a schedule"}); err == nil {
		t.Fatalf("expected invalid schedule error")
	}
	s, err := New(&stubService{}, ConfigFromSync(core.SyncConfig{}))
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	if s.cfg.Schedule != DefaultSchedule || s.cfg.MaxConcurrent != DefaultMaxConcurrent {
		t.Fatalf("expected defaults, got %+v", s.cfg)
	}
}

func TestStartStop(t *testing.T) {
	s, err := New(&stubService{}, Config{Schedule: "@every 1h"})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Fatalf("expected second start to fail")
	}
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("second stop should be a no-op: %v", err)
	}
}
