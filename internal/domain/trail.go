package domain

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Difficulty is the canonical trail difficulty scale.
type Difficulty string

const (
	DifficultyEasy     Difficulty = "easy"
	DifficultyModerate Difficulty = "moderate"
	DifficultyHard     Difficulty = "hard"
	DifficultyExpert   Difficulty = "expert"
)

// Valid reports whether d is one of the four canonical levels.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyModerate, DifficultyHard, DifficultyExpert:
		return true
	}
	return false
}

// ParseDifficulty normalizes case and whitespace; unknown values yield
// DifficultyModerate.
func ParseDifficulty(s string) Difficulty {
	d := Difficulty(strings.ToLower(strings.TrimSpace(s)))
	if d.Valid() {
		return d
	}
	return DifficultyModerate
}

// TrailRecord is the canonical unit of import and the row stored in the
// trails table. (Source, SourceID) is unique.
type TrailRecord struct {
	ID            string         `gorm:"type:text;primaryKey" json:"id"`
	Source        string         `gorm:"type:text;not null;uniqueIndex:idx_trails_source_key,priority:1" json:"source"`
	SourceID      string         `gorm:"type:text;not null;uniqueIndex:idx_trails_source_key,priority:2" json:"source_id"`
	Name          string         `gorm:"type:text;not null;index:idx_trails_name_location,priority:1" json:"name"`
	Location      string         `gorm:"type:text;not null;index:idx_trails_name_location,priority:2" json:"location"`
	Country       string         `gorm:"type:text;not null;index" json:"country"`
	StateProvince string         `gorm:"type:text" json:"state_province,omitempty"`
	Latitude      *float64       `json:"latitude,omitempty"`
	Longitude     *float64       `json:"longitude,omitempty"`
	LengthKm      *float64       `json:"length_km,omitempty"`
	ElevationGain *float64       `json:"elevation_gain,omitempty"`
	Elevation     *float64       `json:"elevation,omitempty"`
	Difficulty    Difficulty     `gorm:"type:text;not null" json:"difficulty"`
	GeoJSON       datatypes.JSON `gorm:"column:geojson" json:"geojson,omitempty"`
	LastUpdated   time.Time      `json:"last_updated"`
	CreatedAt     time.Time      `json:"created_at"`
}

// TableName returns the database table name for TrailRecord.
func (TrailRecord) TableName() string {
	return "trails"
}

// Key returns the upsert identity of the record.
func (t *TrailRecord) Key() string {
	return t.Source + "\x00" + t.SourceID
}

// HasCoordinates reports whether both latitude and longitude are set.
func (t *TrailRecord) HasCoordinates() bool {
	return t.Latitude != nil && t.Longitude != nil
}

// BBox is a WGS84 bounding box.
type BBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// Contains reports whether the point lies inside the box (edges inclusive).
func (b BBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}
