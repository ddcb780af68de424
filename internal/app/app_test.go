package app

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailhead/trailimport/internal/config"
	"github.com/trailhead/trailimport/internal/domain"
	"github.com/trailhead/trailimport/internal/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	name := strings.NewReplacer("/", "_").Replace(t.Name())
	return &config.Config{
		Database: config.DatabaseConfig{
			Driver:       "sqlite",
			Path:         fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
			MaxOpenConns: 1,
			AutoMigrate:  true,
			LogLevel:     "silent",
		},
		Import: config.ImportConfig{
			BatchSize:        100,
			Concurrency:      2,
			RetryAttempts:    1,
			FetchConcurrency: 2,
			PageSize:         100,
			RequestTimeout:   time.Second,
			SafetyCap:        1000,
		},
		Bootstrap: config.BootstrapConfig{
			MinThreshold:   10,
			TargetCount:    60,
			Mode:           "local",
			MonitorTimeout: time.Minute,
		},
		Sources: config.SourcesConfig{
			ParksCanada: config.SyntheticSourceConfig{Enabled: true, Total: 40},
		},
	}
}

func TestNewRegistry_StandsInForDisabledFeeds(t *testing.T) {
	reg := NewRegistry(testConfig(t))
	assert.Equal(t, []string{"nps", "osm", "parks_canada", "usgs"}, reg.Types())

	a, err := reg.Lookup("usgs")
	require.NoError(t, err)
	assert.Contains(t, a.DisplayName(), "synthetic")

	_, err = reg.Lookup("state_parks")
	assert.ErrorIs(t, err, domain.ErrUnknownSource)
}

func TestDefaultSources(t *testing.T) {
	cfg := testConfig(t)
	sources := DefaultSources(cfg)

	ids := make([]string, len(sources))
	for i, ds := range sources {
		ids[i] = ds.ID
	}
	assert.Equal(t, []string{"usgs-national", "nps-hikes", "osm-front-range", "parks-canada"}, ids)
	require.NotNil(t, sources[2].Options().BBox)
	assert.Equal(t, "CA", sources[3].Options().Country)
}

func TestApp_SeedsSourcesAndRuns(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), logger.NewDiscard())
	require.NoError(t, err)
	defer a.Close()

	all, err := a.Sources.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	result, err := a.Bootstrapper.RunNow(ctx, []string{"parks-canada"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 40, result.TotalAdded)

	status, err := a.Bootstrapper.GetImportStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(40), status.TotalTrails)
}
