package domain

import (
	"time"

	"gorm.io/datatypes"
)

// SourceOptions carries adapter-specific filters stored on a DataSource.
type SourceOptions struct {
	Country    string `json:"country,omitempty"`
	Region     string `json:"region,omitempty"`
	StateCode  string `json:"state_code,omitempty"`
	BBox       *BBox  `json:"bbox,omitempty"`
	MaxRecords int    `json:"max_records,omitempty"`
}

// DataSource is an externally managed source configuration record. The
// pipeline only writes LastSynced and NextSync.
type DataSource struct {
	ID         string                            `gorm:"type:text;primaryKey" json:"id"`
	Name       string                            `gorm:"type:text;not null" json:"name"`
	SourceType string                            `gorm:"type:text;not null;index" json:"source_type"`
	IsActive   bool                              `gorm:"not null" json:"is_active"`
	Config     datatypes.JSONType[SourceOptions] `gorm:"type:text" json:"config"`
	LastSynced *time.Time                        `json:"last_synced,omitempty"`
	NextSync   *time.Time                        `json:"next_sync,omitempty"`
	CreatedAt  time.Time                         `json:"created_at"`
	UpdatedAt  time.Time                         `json:"updated_at"`
}

// TableName returns the database table name for DataSource.
func (DataSource) TableName() string {
	return "data_sources"
}

// Options returns the decoded adapter options.
func (s *DataSource) Options() SourceOptions {
	return s.Config.Data()
}
