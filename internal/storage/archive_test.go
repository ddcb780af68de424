package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailhead/trailimport/internal/domain"
)

func TestArchive_SaveAndLoad(t *testing.T) {
	store := NewMemoryStorage()
	archive := NewArchive(store, "")
	archive.now = func() time.Time { return time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC) }

	records := []domain.TrailRecord{
		{Source: "usgs", SourceID: "1", Name: "Bear Lake", Location: "Rocky Mountain NP", Country: "US"},
		{Source: "usgs", SourceID: "2", Name: "Emerald Lake", Location: "Rocky Mountain NP", Country: "US"},
	}

	url, err := archive.Save(context.Background(), "usgs", "job-1", records)
	require.NoError(t, err)
	assert.Equal(t, "memory://snapshots/usgs/2024/03/09/job-1.json.gz", url)
	require.Equal(t, []string{"snapshots/usgs/2024/03/09/job-1.json.gz"}, store.Keys())

	snap, err := archive.Load(context.Background(), store.Keys()[0])
	require.NoError(t, err)
	assert.Equal(t, "job-1", snap.JobID)
	assert.Equal(t, 2, snap.Count)
	require.Len(t, snap.Records, 2)
	assert.Equal(t, "Emerald Lake", snap.Records[1].Name)
}

func TestDetectStorageType(t *testing.T) {
	tests := []struct {
		endpoint string
		want     StorageType
	}{
		{"https://abc.r2.cloudflarestorage.com", StorageTypeR2},
		{"s3.us-west-2.amazonaws.com", StorageTypeS3},
		{"", StorageTypeS3},
		{"http://localhost:9000", StorageTypeS3Compatible},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, detectStorageType(tt.endpoint), tt.endpoint)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "localhost:9000", normalizeEndpoint("http://localhost:9000/bucket"))
	assert.Equal(t, "s3.amazonaws.com", normalizeEndpoint("https://s3.amazonaws.com"))
}
