package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trailhead/trailimport/internal/domain"
)

// SourceRepository reads DataSource configuration. The pipeline only writes
// the sync bookkeeping columns.
type SourceRepository struct {
	db *gorm.DB
}

// NewSourceRepository creates a new SourceRepository.
func NewSourceRepository(db *gorm.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// ListActive returns active data sources ordered by name.
func (r *SourceRepository) ListActive(ctx context.Context) ([]domain.DataSource, error) {
	var sources []domain.DataSource
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("name ASC").
		Find(&sources).Error; err != nil {
		return nil, classifyError(err)
	}
	return sources, nil
}

// ListAll returns every data source ordered by name.
func (r *SourceRepository) ListAll(ctx context.Context) ([]domain.DataSource, error) {
	var sources []domain.DataSource
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&sources).Error; err != nil {
		return nil, classifyError(err)
	}
	return sources, nil
}

// FindActive resolves active sources by ID or by source type.
func (r *SourceRepository) FindActive(ctx context.Context, keys []string) ([]domain.DataSource, error) {
	var sources []domain.DataSource
	if err := r.db.WithContext(ctx).
		Where("is_active = ? AND (id IN ? OR source_type IN ?)", true, keys, keys).
		Order("name ASC").
		Find(&sources).Error; err != nil {
		return nil, classifyError(err)
	}
	return sources, nil
}

// MarkSynced records a successful run for a source.
func (r *SourceRepository) MarkSynced(ctx context.Context, id string, at time.Time, next *time.Time) error {
	return classifyError(r.db.WithContext(ctx).Model(&domain.DataSource{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_synced": at.UTC(),
			"next_sync":   next,
		}).Error)
}

// EnsureDefaults inserts sources that do not exist yet. Existing rows are
// left untouched since operators own them.
func (r *SourceRepository) EnsureDefaults(ctx context.Context, sources []domain.DataSource) (int, error) {
	if len(sources) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&sources)
	if result.Error != nil {
		return 0, classifyError(result.Error)
	}
	return int(result.RowsAffected), nil
}

// Save creates or replaces a data source.
func (r *SourceRepository) Save(ctx context.Context, ds *domain.DataSource) error {
	return classifyError(r.db.WithContext(ctx).Save(ds).Error)
}

