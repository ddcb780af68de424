package domain

import "time"

// JobStatus represents the lifecycle of an import job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// ActiveStatuses lists the non-terminal statuses.
var ActiveStatuses = []JobStatus{JobStatusQueued, JobStatusProcessing}

// ImportJob tracks one single-source pipeline invocation.
type ImportJob struct {
	ID              string     `gorm:"type:text;primaryKey" json:"id"`
	SourceID        string     `gorm:"type:text;not null;index" json:"source_id"`
	BulkJobID       *string    `gorm:"type:text;index" json:"bulk_job_id,omitempty"`
	Status          JobStatus  `gorm:"type:text;not null;index" json:"status"`
	TrailsRequested int        `gorm:"not null" json:"trails_requested"`
	TrailsProcessed int        `gorm:"not null" json:"trails_processed"`
	TrailsAdded     int        `gorm:"not null" json:"trails_added"`
	TrailsUpdated   int        `gorm:"not null" json:"trails_updated"`
	TrailsFailed    int        `gorm:"not null" json:"trails_failed"`
	ErrorMessage    string     `gorm:"type:text" json:"error_message,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName returns the database table name for ImportJob.
func (ImportJob) TableName() string {
	return "import_jobs"
}

// BulkImportJob groups the per-source jobs of a fleet-wide run. Its
// counters are always recomputed from the children.
type BulkImportJob struct {
	ID                    string     `gorm:"type:text;primaryKey" json:"id"`
	TotalSourcesRequested int        `gorm:"not null" json:"total_sources_requested"`
	TotalTrailsRequested  int        `gorm:"not null" json:"total_trails_requested"`
	TrailsProcessed       int        `gorm:"not null" json:"trails_processed"`
	TrailsAdded           int        `gorm:"not null" json:"trails_added"`
	TrailsUpdated         int        `gorm:"not null" json:"trails_updated"`
	TrailsFailed          int        `gorm:"not null" json:"trails_failed"`
	Status                JobStatus  `gorm:"type:text;not null;index" json:"status"`
	StartedAt             time.Time  `json:"started_at"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// TableName returns the database table name for BulkImportJob.
func (BulkImportJob) TableName() string {
	return "bulk_import_jobs"
}

// JobDelta is an additive counter update. All fields must be non-negative.
type JobDelta struct {
	Processed int `json:"processed"`
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Failed    int `json:"failed"`
}

// IsZero reports whether the delta carries no change.
func (d JobDelta) IsZero() bool {
	return d == JobDelta{}
}

// JobSnapshot is the polling view of a job or bulk job.
type JobSnapshot struct {
	ID              string    `json:"id"`
	Bulk            bool      `json:"bulk"`
	Status          JobStatus `json:"status"`
	Requested       int       `json:"requested"`
	Processed       int       `json:"processed"`
	Added           int       `json:"added"`
	Updated         int       `json:"updated"`
	Failed          int       `json:"failed"`
	PercentComplete float64   `json:"percent_complete"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

// Percent computes completion from processed over requested, capped at 100.
// Terminal snapshots always report 100.
func Percent(status JobStatus, processed, requested int) float64 {
	if status.Terminal() {
		return 100
	}
	if requested <= 0 {
		return 0
	}
	p := float64(processed) / float64(requested) * 100
	if p > 100 {
		return 100
	}
	return p
}
