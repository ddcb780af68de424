package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trailhead/trailimport/internal/domain"
)

// ProbeSource tags the disposable row written by the health probe.
const ProbeSource = "__probe__"

var errProbeRollback = errors.New("probe rollback")

// upsertColumns are overwritten when a (source, source_id) row exists. id
// and created_at keep their original values.
var upsertColumns = []string{
	"name", "location", "country", "state_province",
	"latitude", "longitude", "length_km", "elevation_gain", "elevation",
	"difficulty", "geojson", "last_updated",
}

// UpsertResult splits a chunk write into new and existing rows.
type UpsertResult struct {
	Inserted int
	Updated  int
}

// DuplicateGroup is a (name, location) pair stored more than once.
type DuplicateGroup struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Count    int64  `json:"count"`
}

// TrailRepository persists TrailRecords.
type TrailRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewTrailRepository creates a new TrailRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *TrailRepository: repository instance bound to db.
func NewTrailRepository(db *gorm.DB) *TrailRepository {
	return &TrailRepository{db: db, now: time.Now}
}

// UpsertTrails writes one chunk in a single transaction, keyed on
// (source, source_id). Records repeated within the chunk collapse to the
// last occurrence and count as updates, so Inserted+Updated always equals
// len(records). The inserted/updated split assumes no concurrent writer
// touches the same keys; callers writing chunks in parallel must keep keys
// disjoint across chunks.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - records: validated records; LastUpdated and ID are assigned here.
//
// Returns:
//   - UpsertResult: inserted and updated counts.
//   - error: classified store error (domain.ErrPermission, ...).
func (r *TrailRepository) UpsertTrails(ctx context.Context, records []domain.TrailRecord) (UpsertResult, error) {
	if len(records) == 0 {
		return UpsertResult{}, nil
	}

	now := r.now().UTC()
	rows, bySource := dedupe(records)

	var inserted int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing := make(map[string]struct{}, len(rows))
		for src, ids := range bySource {
			var found []string
			if err := tx.Model(&domain.TrailRecord{}).
				Where("source = ? AND source_id IN ?", src, ids).
				Pluck("source_id", &found).Error; err != nil {
				return err
			}
			for _, id := range found {
				existing[src+"\x00"+id] = struct{}{}
			}
		}

		for i := range rows {
			rows[i].ID = uuid.NewString()
			rows[i].LastUpdated = now
			if _, ok := existing[rows[i].Key()]; !ok {
				inserted++
			}
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source"}, {Name: "source_id"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).Create(&rows).Error
	})
	if err != nil {
		return UpsertResult{}, classifyError(err)
	}

	return UpsertResult{Inserted: inserted, Updated: len(records) - inserted}, nil
}

// dedupe keeps the last record per key, preserving first-seen order, and
// groups source ids by source for the existence lookup.
func dedupe(records []domain.TrailRecord) ([]domain.TrailRecord, map[string][]string) {
	index := make(map[string]int, len(records))
	rows := make([]domain.TrailRecord, 0, len(records))
	for _, rec := range records {
		if i, ok := index[rec.Key()]; ok {
			rows[i] = rec
			continue
		}
		index[rec.Key()] = len(rows)
		rows = append(rows, rec)
	}

	bySource := make(map[string][]string)
	for _, rec := range rows {
		bySource[rec.Source] = append(bySource[rec.Source], rec.SourceID)
	}
	return rows, bySource
}

// CountTrails returns the total number of stored trails.
func (r *TrailRepository) CountTrails(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.TrailRecord{}).Count(&count).Error; err != nil {
		return 0, classifyError(err)
	}
	return count, nil
}

// CountBySource returns trail counts keyed by source.
func (r *TrailRepository) CountBySource(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Source string
		Count  int64
	}
	if err := r.db.WithContext(ctx).Model(&domain.TrailRecord{}).
		Select("source, COUNT(*) AS count").
		Group("source").
		Scan(&rows).Error; err != nil {
		return nil, classifyError(err)
	}

	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Source] = row.Count
	}
	return out, nil
}

// Probe checks the store is reachable and writable by inserting a
// throwaway row inside a transaction that is always rolled back.
func (r *TrailRepository) Probe(ctx context.Context) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		probe := domain.TrailRecord{
			ID:          uuid.NewString(),
			Source:      ProbeSource,
			SourceID:    uuid.NewString(),
			Name:        "probe",
			Location:    "probe",
			Country:     "probe",
			Difficulty:  domain.DifficultyModerate,
			LastUpdated: r.now().UTC(),
		}
		if err := tx.Create(&probe).Error; err != nil {
			return err
		}
		return errProbeRollback
	})
	if errors.Is(err, errProbeRollback) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("probe transaction unexpectedly committed")
	}
	return classifyError(err)
}

// FindDuplicates returns (name, location) pairs stored more than once.
func (r *TrailRepository) FindDuplicates(ctx context.Context, limit int) ([]DuplicateGroup, error) {
	var groups []DuplicateGroup
	q := r.db.WithContext(ctx).Model(&domain.TrailRecord{}).
		Select("name, location, COUNT(*) AS count").
		Group("name, location").
		Having("COUNT(*) > 1").
		Order("count DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&groups).Error; err != nil {
		return nil, classifyError(err)
	}
	return groups, nil
}

// CountMissingRequired counts rows that lack a name, location or country.
func (r *TrailRepository) CountMissingRequired(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.TrailRecord{}).
		Where("name IS NULL OR name = '' OR location IS NULL OR location = '' OR country IS NULL OR country = ''").
		Count(&count).Error; err != nil {
		return 0, classifyError(err)
	}
	return count, nil
}

// GetBySourceID retrieves a trail by its upsert key.
func (r *TrailRepository) GetBySourceID(ctx context.Context, source, sourceID string) (*domain.TrailRecord, error) {
	var rec domain.TrailRecord
	if err := r.db.WithContext(ctx).First(&rec, "source = ? AND source_id = ?", source, sourceID).Error; err != nil {
		return nil, classifyError(err)
	}
	return &rec, nil
}

// SearchBBox lists trails whose coordinates fall inside box.
func (r *TrailRepository) SearchBBox(ctx context.Context, box domain.BBox, limit int) ([]domain.TrailRecord, error) {
	var out []domain.TrailRecord
	q := r.db.WithContext(ctx).
		Where("latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?", box.MinLat, box.MaxLat, box.MinLon, box.MaxLon).
		Order("name")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, classifyError(err)
	}
	return out, nil
}
