package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/trailhead/trailimport/internal/domain"
	"github.com/trailhead/trailimport/internal/repository"
	"github.com/trailhead/trailimport/internal/repository/repotest"
)

func TestSourceRepository(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewSourceRepository(repotest.NewDB(t))

	n, err := repo.EnsureDefaults(ctx, []domain.DataSource{
		{ID: "usgs-main", Name: "USGS", SourceType: "usgs", IsActive: true,
			Config: datatypes.NewJSONType(domain.SourceOptions{Country: "US", MaxRecords: 500})},
		{ID: "osm-alps", Name: "OSM Alps", SourceType: "osm", IsActive: false},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// operator edits survive a second seeding
	n, err = repo.EnsureDefaults(ctx, []domain.DataSource{{ID: "usgs-main", Name: "renamed", SourceType: "usgs", IsActive: true}})
	require.NoError(t, err)
	assert.Zero(t, n)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "USGS", active[0].Name)
	assert.Equal(t, 500, active[0].Options().MaxRecords)

	byType, err := repo.FindActive(ctx, []string{"usgs", "osm-alps"})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "usgs-main", byType[0].ID)

	now := time.Now()
	next := now.Add(24 * time.Hour)
	require.NoError(t, repo.MarkSynced(ctx, "usgs-main", now, &next))

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, ds := range all {
		if ds.ID == "usgs-main" {
			require.NotNil(t, ds.LastSynced)
			require.NotNil(t, ds.NextSync)
			assert.WithinDuration(t, next, *ds.NextSync, time.Second)
		}
	}
}
