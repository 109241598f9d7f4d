package core

import "context"

// Metric names emitted by the engine. Operation metrics are built with
// OperationMetric.
const (
	MetricAccountInfo       = "integrations.account_info.total"
	MetricAuditEmitFailed   = "integrations.audit.emit_failed"
	MetricSyncUnitsSynced   = "integrations.sync.units_synced"
	MetricSyncUnitsFailed   = "integrations.sync.units_failed"
	MetricSyncRefreshFailed = "integrations.sync.refresh_failed"
	MetricSchedulerDispatch = "integrations.scheduler.dispatch"
	MetricJobEvents         = "integrations.jobs.events"
	MetricJobDuration       = "integrations.jobs.duration_ms"
)

// OperationMetric returns the counter or histogram name for a service
// operation, e.g. OperationMetric("sync", "total").
func OperationMetric(operation string, suffix string) string {
	return "integrations." + normalizeOperation(operation) + "." + suffix
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func cloneTags(tags map[string]string) map[string]string {
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

var _ MetricsRecorder = NopMetricsRecorder{}
