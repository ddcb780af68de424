// Package validate enforces TrailRecord invariants before storage. Cosmetic
// defects are repaired in place; missing identity fields are rejected.
package validate

import (
	"fmt"
	"math"
	"strings"

	"github.com/trailhead/trailimport/internal/domain"
)

// Result is the outcome of validating one record.
type Result struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors,omitempty"`
}

// Failure is a rejected record together with its reasons.
type Failure struct {
	Record domain.TrailRecord
	Err    *domain.ValidationError
}

// Validate checks hard-fail conditions only. It never mutates the record.
func Validate(r *domain.TrailRecord) Result {
	var errs []string

	if strings.TrimSpace(r.SourceID) == "" {
		errs = append(errs, "source_id is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, "name is required")
	}
	if strings.TrimSpace(r.Location) == "" {
		errs = append(errs, "location is required")
	}
	if strings.TrimSpace(r.Country) == "" {
		errs = append(errs, "country is required")
	}
	if r.Latitude != nil && (math.IsNaN(*r.Latitude) || *r.Latitude < -90 || *r.Latitude > 90) {
		errs = append(errs, fmt.Sprintf("latitude %v out of range [-90,90]", *r.Latitude))
	}
	if r.Longitude != nil && (math.IsNaN(*r.Longitude) || *r.Longitude < -180 || *r.Longitude > 180) {
		errs = append(errs, fmt.Sprintf("longitude %v out of range [-180,180]", *r.Longitude))
	}

	return Result{IsValid: len(errs) == 0, Errors: errs}
}

// Repair fixes fields that have a safe default so they never block storage:
// invalid numerics become nil and unknown difficulties become moderate.
func Repair(r *domain.TrailRecord) *domain.TrailRecord {
	r.SourceID = strings.TrimSpace(r.SourceID)
	r.Name = strings.TrimSpace(r.Name)
	r.Location = strings.TrimSpace(r.Location)
	r.Country = strings.TrimSpace(r.Country)
	r.StateProvince = strings.TrimSpace(r.StateProvince)

	if r.LengthKm != nil && (!finite(*r.LengthKm) || *r.LengthKm < 0) {
		r.LengthKm = nil
	}
	if r.ElevationGain != nil && !finite(*r.ElevationGain) {
		r.ElevationGain = nil
	}
	if r.Elevation != nil && !finite(*r.Elevation) {
		r.Elevation = nil
	}
	if !r.Difficulty.Valid() {
		r.Difficulty = domain.ParseDifficulty(string(r.Difficulty))
	}
	return r
}

// Partition repairs and validates every record. Valid records keep their
// input order; rejected ones are itemized in failures.
func Partition(records []domain.TrailRecord) ([]domain.TrailRecord, []Failure) {
	valid := make([]domain.TrailRecord, 0, len(records))
	var failures []Failure

	for i := range records {
		rec := records[i]
		Repair(&rec)
		res := Validate(&rec)
		if !res.IsValid {
			failures = append(failures, Failure{
				Record: rec,
				Err:    &domain.ValidationError{SourceID: rec.SourceID, Reasons: res.Errors},
			})
			continue
		}
		valid = append(valid, rec)
	}
	return valid, failures
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
