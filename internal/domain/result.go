package domain

import "time"

// Phase names, executed in this order.
const (
	PhaseHealthCheck    = "health_check"
	PhaseFetch          = "fetch"
	PhaseBatchImport    = "batch_import"
	PhasePostValidation = "post_validation"
)

// ProgressComplete is the CurrentSource value of the final progress event.
const ProgressComplete = "complete"

// PhaseResult summarizes one orchestrator phase. It is appended to the
// ImportResult whether or not the phase succeeded.
type PhaseResult struct {
	Phase      string   `json:"phase"`
	Success    bool     `json:"success"`
	Skipped    bool     `json:"skipped,omitempty"`
	Processed  int      `json:"processed"`
	Added      int      `json:"added"`
	Updated    int      `json:"updated"`
	Failed     int      `json:"failed"`
	DurationMs int64    `json:"duration_ms"`
	Errors     []string `json:"errors,omitempty"`
}

// ImportResult is the aggregate outcome of one orchestrator run.
type ImportResult struct {
	JobIDs           map[string]string `json:"job_ids"`
	BulkJobID        string            `json:"bulk_job_id,omitempty"`
	Phases           []PhaseResult     `json:"phases"`
	TotalFetched     int               `json:"total_fetched"`
	TotalProcessed   int               `json:"total_processed"`
	TotalAdded       int               `json:"total_added"`
	TotalUpdated     int               `json:"total_updated"`
	TotalFailed      int               `json:"total_failed"`
	ValidationFailed int               `json:"validation_failed"`
	Errors           []string          `json:"errors,omitempty"`
	Fatal            bool              `json:"fatal"`
	FatalReason      string            `json:"fatal_reason,omitempty"`
	StartedAt        time.Time         `json:"started_at"`
	CompletedAt      time.Time         `json:"completed_at"`
}

// Phase returns the named phase result, or nil if it did not run.
func (r *ImportResult) Phase(name string) *PhaseResult {
	for i := range r.Phases {
		if r.Phases[i].Phase == name {
			return &r.Phases[i]
		}
	}
	return nil
}

// Progress is delivered to subscribers while a run is in flight.
type Progress struct {
	JobID         string `json:"job_id,omitempty"`
	CurrentSource string `json:"current_source"`
	CurrentBatch  int    `json:"current_batch"`
	TotalBatches  int    `json:"total_batches"`
	Processed     int    `json:"processed"`
	Inserted      int    `json:"inserted"`
	Updated       int    `json:"updated"`
	Failed        int    `json:"failed"`
}

// Done reports whether this is the end-of-run sentinel.
func (p Progress) Done() bool {
	return p.CurrentSource == ProgressComplete
}
