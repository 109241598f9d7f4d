package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-integrations/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

func TestSyncJobMessageRoundTrip(t *testing.T) {
	in := core.SyncInput{
		Actor:    core.Actor{TenantID: "tenant-1", ActorID: "user-1", ActorName: "Ada"},
		Provider: core.ProviderERP,
		Period:   2024,
		Units:    []int{3, 1},
	}
	msg, err := SyncJobMessage(in)
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	if msg.JobID != JobIDSync || msg.DedupPolicy != DedupPolicyDrop {
		t.Fatalf("unexpected message header %+v", msg)
	}
	if msg.IdempotencyKey != "integrations.sync:tenant-1:erp:2024:1,3" {
		t.Fatalf("unexpected idempotency key %q", msg.IdempotencyKey)
	}

	decoded, err := SyncInputFromMessage(msg)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if decoded.Actor != in.Actor || decoded.Provider != core.ProviderERP || decoded.Period != 2024 {
		t.Fatalf("unexpected decoded input %+v", decoded)
	}
	if len(decoded.Units) != 2 || decoded.Units[0] != 1 || decoded.Units[1] != 3 {
		t.Fatalf("expected sorted units, got %v", decoded.Units)
	}
}

func TestSyncInputFromMessageAcceptsJSONShapes(t *testing.T) {
	decoded, err := SyncInputFromMessage(&job.ExecutionMessage{
		JobID: JobIDSync,
		Parameters: map[string]any{
			"tenant_id": "tenant-2",
			"provider":  "calendar_a",
			"period":    float64(2025),
			"units":     []any{float64(6)},
		},
	})
	if err != nil {
		t.Fatalf("decode json shaped message: %v", err)
	}
	if decoded.Actor != core.SystemActor("tenant-2") || decoded.Period != 2025 || decoded.Units[0] != 6 {
		t.Fatalf("unexpected decoded input %+v", decoded)
	}

	if _, err := SyncInputFromMessage(&job.ExecutionMessage{JobID: "other"}); err == nil {
		t.Fatalf("expected foreign job id to be rejected")
	}
	if _, err := SyncInputFromMessage(&job.ExecutionMessage{JobID: JobIDSync, Parameters: map[string]any{"tenant_id": "t", "provider": "crm"}}); !core.HasTextCode(err, core.ErrorUnknownProvider) {
		t.Fatalf("expected unknown provider, got %v", err)
	}
}

func TestSyncEnqueuerPublishesMessage(t *testing.T) {
	enqueuer := &stubQueueEnqueuer{}
	if err := NewSyncEnqueuer(enqueuer).Dispatch(context.Background(), core.SyncInput{
		Actor:    core.SystemActor("tenant-1"),
		Provider: core.ProviderCalendarB,
		Period:   2024,
		Units:    []int{2},
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.Parameters["provider"] != "calendar_b" {
		t.Fatalf("expected enqueued sync message, got %+v", enqueuer.last)
	}
	if err := NewSyncEnqueuer(nil).Dispatch(context.Background(), core.SyncInput{}); err == nil {
		t.Fatalf("expected missing enqueuer error")
	}
}

func TestSyncWorkerAcksSuccessAndSkipsDisabled(t *testing.T) {
	msg, _ := SyncJobMessage(core.SyncInput{Actor: core.SystemActor("tenant-1"), Provider: core.ProviderERP, Period: 2024, Units: []int{1}})

	runner := &stubRunner{}
	delivery := &stubQueueDelivery{msg: msg}
	w := NewSyncWorker(&stubQueueDequeuer{delivery: delivery}, runner, DefaultRetryPolicy(), nil)
	if err := w.ProcessNext(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !delivery.acked || runner.calls != 1 {
		t.Fatalf("expected ack after sync, acked=%v calls=%d", delivery.acked, runner.calls)
	}

	runner.err = core.NewSyncDisabledError(core.ConnectionKey{TenantID: "tenant-1", Provider: core.ProviderERP})
	disabled := &stubQueueDelivery{msg: msg}
	if err := w.Handle(context.Background(), disabled); err != nil {
		t.Fatalf("handle disabled: %v", err)
	}
	if !disabled.acked || disabled.nacked {
		t.Fatalf("expected disabled sync to be acked")
	}
}

func TestSyncWorkerRetriesThenDeadLetters(t *testing.T) {
	msg, _ := SyncJobMessage(core.SyncInput{Actor: core.SystemActor("tenant-1"), Provider: core.ProviderERP, Period: 2024, Units: []int{1}})
	runner := &stubRunner{err: errors.New("provider unavailable")}
	w := NewSyncWorker(nil, runner, RetryPolicy{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: time.Minute, DeadLetterOnMax: true}, nil)

	first := &stubQueueDelivery{msg: msg}
	if err := w.Handle(context.Background(), first); err != nil {
		t.Fatalf("handle first: %v", err)
	}
	if !first.nackOpts.Requeue || first.nackOpts.Delay != time.Second {
		t.Fatalf("expected requeue with base delay, got %+v", first.nackOpts)
	}

	second := &stubQueueDelivery{msg: msg}
	if err := w.Handle(context.Background(), second); err != nil {
		t.Fatalf("handle second: %v", err)
	}
	if second.nackOpts.Requeue || !second.nackOpts.DeadLetter {
		t.Fatalf("expected dead letter at max attempts, got %+v", second.nackOpts)
	}

	malformed := &stubQueueDelivery{msg: &job.ExecutionMessage{JobID: JobIDSync}}
	if err := w.Handle(context.Background(), malformed); err != nil {
		t.Fatalf("handle malformed: %v", err)
	}
	if !malformed.nackOpts.DeadLetter {
		t.Fatalf("expected malformed job to be dead-lettered")
	}
}

func TestNackRetryPolicyBoundaries(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, MaxDelay: 10 * time.Second, DeadLetterOnMax: true}

	opts := policy.NormalizeAttempt(queue.NackOptions{Delay: 30 * time.Second, Requeue: true, Reason: " transient "}, 1)
	if opts.Delay != 10*time.Second || !opts.Requeue || opts.Reason != "transient" {
		t.Fatalf("expected bounded requeue, got %+v", opts)
	}

	opts = policy.NormalizeAttempt(queue.NackOptions{Delay: time.Second, Requeue: true}, 3)
	if opts.Requeue || !opts.DeadLetter {
		t.Fatalf("expected dead letter at max attempts, got %+v", opts)
	}

	if got := (RetryPolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}).Backoff(4); got != 5*time.Second {
		t.Fatalf("expected capped backoff, got %s", got)
	}
}

func TestMetricsHookRecordsLifecycle(t *testing.T) {
	recorder := &capturingRecorder{}
	hook := NewMetricsHook(recorder)
	event := worker.Event{
		Message:  &job.ExecutionMessage{JobID: JobIDSync},
		Attempt:  2,
		Err:      errors.New("retry"),
		Duration: 250 * time.Millisecond,
	}

	hook.OnStart(context.Background(), event)
	hook.OnRetry(context.Background(), event)

	if len(recorder.counters) != 2 || recorder.counters[1]["stage"] != "retry" || recorder.counters[1]["job_id"] != JobIDSync {
		t.Fatalf("unexpected counter tags %+v", recorder.counters)
	}
	if len(recorder.histograms) != 1 || recorder.histograms[0] != 250 {
		t.Fatalf("expected one duration observation, got %v", recorder.histograms)
	}
}

type stubRunner struct {
	calls int
	err   error
}

func (r *stubRunner) Sync(context.Context, core.SyncInput) (core.SyncResult, error) {
	r.calls++
	if r.err != nil {
		return core.SyncResult{}, r.err
	}
	return core.SyncResult{Success: true, Synced: 1, Status: core.SyncStatusSuccess}, nil
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.last = msg
	return nil
}

type stubQueueDequeuer struct {
	delivery queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	return s.delivery, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nacked   bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nacked = true
	s.nackOpts = opts
	return nil
}

type capturingRecorder struct {
	counters   []map[string]string
	histograms []float64
}

func (r *capturingRecorder) IncCounter(_ context.Context, _ string, _ int64, tags map[string]string) {
	r.counters = append(r.counters, tags)
}

func (r *capturingRecorder) ObserveHistogram(_ context.Context, _ string, value float64, _ map[string]string) {
	r.histograms = append(r.histograms, value)
}
