package gojob

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-integrations/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	JobIDSync = "integrations.sync"

	DedupPolicyDrop = job.DeduplicationPolicy("drop")
)

// RetryPolicy bounds redelivery of failed sync jobs.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		BaseDelay:       30 * time.Second,
		MaxDelay:        30 * time.Minute,
		DeadLetterOnMax: true,
	}
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// Backoff doubles BaseDelay per attempt, capped by MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 || attempt <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// SyncJobMessage encodes a sync request as a go-job execution message. The
// idempotency key collapses duplicate requests for the same period and units.
func SyncJobMessage(in core.SyncInput) (*job.ExecutionMessage, error) {
	tenantID := strings.TrimSpace(in.Actor.TenantID)
	if tenantID == "" {
		return nil, core.NewMissingParameterError("tenant_id")
	}
	if !in.Provider.Valid() {
		return nil, core.NewMissingParameterError("provider")
	}
	units := append([]int(nil), in.Units...)
	sort.Ints(units)
	unitKeys := make([]string, len(units))
	for i, unit := range units {
		unitKeys[i] = strconv.Itoa(unit)
	}
	params := map[string]any{
		"tenant_id": tenantID,
		"provider":  string(in.Provider),
		"period":    in.Period,
		"units":     units,
	}
	if actorID := strings.TrimSpace(in.Actor.ActorID); actorID != "" {
		params["actor_id"] = actorID
		params["actor_name"] = strings.TrimSpace(in.Actor.ActorName)
	}
	return &job.ExecutionMessage{
		JobID:          JobIDSync,
		ScriptPath:     JobIDSync,
		Parameters:     params,
		IdempotencyKey: fmt.Sprintf("%s:%s:%s:%d:%s", JobIDSync, tenantID, in.Provider, in.Period, strings.Join(unitKeys, ",")),
		DedupPolicy:    DedupPolicyDrop,
	}, nil
}

// SyncInputFromMessage decodes a message built by SyncJobMessage. Parameters
// that went through a JSON queue arrive as float64 and []any.
func SyncInputFromMessage(msg *job.ExecutionMessage) (core.SyncInput, error) {
	if msg == nil {
		return core.SyncInput{}, fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDSync {
		return core.SyncInput{}, fmt.Errorf("gojob: unexpected job id %q", msg.JobID)
	}
	tenantID := paramString(msg.Parameters, "tenant_id")
	if tenantID == "" {
		return core.SyncInput{}, core.NewMissingParameterError("tenant_id")
	}
	provider, err := core.ParseProviderKind(paramString(msg.Parameters, "provider"))
	if err != nil {
		return core.SyncInput{}, err
	}
	period, err := paramInt(msg.Parameters["period"])
	if err != nil {
		return core.SyncInput{}, fmt.Errorf("gojob: period: %w", err)
	}
	units, err := paramInts(msg.Parameters["units"])
	if err != nil {
		return core.SyncInput{}, fmt.Errorf("gojob: units: %w", err)
	}

	actor := core.SystemActor(tenantID)
	if actorID := paramString(msg.Parameters, "actor_id"); actorID != "" {
		actor = core.Actor{TenantID: tenantID, ActorID: actorID, ActorName: paramString(msg.Parameters, "actor_name")}
	}
	return core.SyncInput{Actor: actor, Provider: provider, Period: period, Units: units}, nil
}

// SyncEnqueuer publishes sync requests to a go-job queue instead of running
// them inline. It satisfies the scheduler dispatcher contract.
type SyncEnqueuer struct {
	enqueuer queue.Enqueuer
}

func NewSyncEnqueuer(enqueuer queue.Enqueuer) *SyncEnqueuer {
	return &SyncEnqueuer{enqueuer: enqueuer}
}

func (e *SyncEnqueuer) Dispatch(ctx context.Context, in core.SyncInput) error {
	if e == nil || e.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	msg, err := SyncJobMessage(in)
	if err != nil {
		return err
	}
	return e.enqueuer.Enqueue(ctx, msg)
}

type SyncRunner interface {
	Sync(ctx context.Context, in core.SyncInput) (core.SyncResult, error)
}

// SyncWorker consumes sync jobs and runs them against the service.
type SyncWorker struct {
	dequeuer queue.Dequeuer
	runner   SyncRunner
	policy   RetryPolicy
	logger   glog.Logger

	mu       sync.Mutex
	attempts map[string]int
}

func NewSyncWorker(dequeuer queue.Dequeuer, runner SyncRunner, policy RetryPolicy, logger glog.Logger) *SyncWorker {
	if logger == nil {
		logger = glog.Nop()
	}
	return &SyncWorker{
		dequeuer: dequeuer,
		runner:   runner,
		policy:   policy,
		logger:   logger,
		attempts: map[string]int{},
	}
}

// ProcessNext dequeues one job and settles it. Malformed jobs and jobs that
// can never succeed are dead-lettered; other failures are requeued with
// backoff until the retry policy gives up.
func (w *SyncWorker) ProcessNext(ctx context.Context) error {
	if w == nil || w.dequeuer == nil || w.runner == nil {
		return fmt.Errorf("gojob: sync worker is not configured")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	return w.Handle(ctx, delivery)
}

func (w *SyncWorker) Handle(ctx context.Context, delivery queue.Delivery) error {
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	msg := delivery.Message()
	in, err := SyncInputFromMessage(msg)
	if err != nil {
		w.logger.Error("dropping malformed sync job", "error", err)
		return delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: err.Error()})
	}

	key := msg.IdempotencyKey
	result, err := w.runner.Sync(ctx, in)
	if err == nil {
		w.resetAttempts(key)
		w.logger.Info("sync job completed",
			"tenant_id", in.Actor.TenantID,
			"provider", string(in.Provider),
			"synced", result.Synced,
			"status", string(result.Status),
		)
		return delivery.Ack(ctx)
	}

	if core.HasTextCode(err, core.ErrorSyncDisabled) || core.HasTextCode(err, core.ErrorConnectionNotFound) {
		w.resetAttempts(key)
		w.logger.Info("sync job skipped", "tenant_id", in.Actor.TenantID, "provider", string(in.Provider), "error", err)
		return delivery.Ack(ctx)
	}

	attempt := w.nextAttempt(key)
	opts := queue.NackOptions{Requeue: true, Delay: w.policy.Backoff(attempt), Reason: err.Error()}
	if permanentSyncError(err) {
		opts = queue.NackOptions{DeadLetter: true, Reason: err.Error()}
	}
	opts = w.policy.NormalizeAttempt(opts, attempt)
	if !opts.Requeue {
		w.resetAttempts(key)
	}
	w.logger.Warn("sync job failed",
		"tenant_id", in.Actor.TenantID,
		"provider", string(in.Provider),
		"attempt", attempt,
		"requeue", opts.Requeue,
		"error", err,
	)
	return delivery.Nack(ctx, opts)
}

func permanentSyncError(err error) bool {
	for _, code := range []string{
		core.ErrorConnectionExpired,
		core.ErrorInvalidConnectionState,
		core.ErrorUnknownProvider,
		core.ErrorForbidden,
		core.ErrorBadInput,
		core.ErrorMissingParameter,
	} {
		if core.HasTextCode(err, code) {
			return true
		}
	}
	return false
}

func (w *SyncWorker) nextAttempt(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[key]++
	return w.attempts[key]
}

func (w *SyncWorker) resetAttempts(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, key)
}

// MetricsHook reports go-job worker lifecycle events as service metrics.
type MetricsHook struct {
	recorder core.MetricsRecorder
}

func NewMetricsHook(recorder core.MetricsRecorder) *MetricsHook {
	if recorder == nil {
		recorder = core.NopMetricsRecorder{}
	}
	return &MetricsHook{recorder: recorder}
}

func (h *MetricsHook) OnStart(ctx context.Context, event worker.Event) {
	h.record(ctx, "start", event)
}

func (h *MetricsHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.record(ctx, "success", event)
}

func (h *MetricsHook) OnFailure(ctx context.Context, event worker.Event) {
	h.record(ctx, "failure", event)
}

func (h *MetricsHook) OnRetry(ctx context.Context, event worker.Event) {
	h.record(ctx, "retry", event)
}

func (h *MetricsHook) record(ctx context.Context, stage string, event worker.Event) {
	if h == nil || h.recorder == nil {
		return
	}
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	jobID := "unknown"
	if message != nil && strings.TrimSpace(message.JobID) != "" {
		jobID = strings.TrimSpace(message.JobID)
	}
	tags := map[string]string{"job_id": jobID, "stage": stage}
	h.recorder.IncCounter(ctx, core.MetricJobEvents, 1, tags)
	if stage != "start" && event.Duration > 0 {
		h.recorder.ObserveHistogram(ctx, core.MetricJobDuration, float64(event.Duration.Milliseconds()), tags)
	}
}

func paramString(params map[string]any, key string) string {
	value, ok := params[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func paramInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("expected integer, got %v", v)
		}
		return int(v), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(v))
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported value %T", value)
	}
}

func paramInts(value any) ([]int, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []int:
		return append([]int(nil), v...), nil
	case []any:
		out := make([]int, 0, len(v))
		for _, item := range v {
			n, err := paramInt(item)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value %T", value)
	}
}

var (
	_ worker.Hook = (*MetricsHook)(nil)
)
