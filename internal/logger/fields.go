package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields. These are carried on the context logger and propagate
// through the import call chain.
const (
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldBulkJobID = "bulk_job_id"
	FieldComponent = "component"
	FieldSource    = "source"
	FieldPhase     = "phase"
)

// Metric fields, attached per entry for aggregation.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldBatch      = "batch"
	FieldAttempt    = "attempt"
	FieldStatus     = "status"
	FieldSize       = "size"
)
