package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/trailhead/trailimport/internal/domain"
)

const snapshotContentType = "application/gzip"

// Snapshot is the raw result of one source fetch, kept for replay and audit.
type Snapshot struct {
	Source    string               `json:"source"`
	JobID     string               `json:"job_id"`
	FetchedAt time.Time            `json:"fetched_at"`
	Count     int                  `json:"count"`
	Records   []domain.TrailRecord `json:"records"`
}

// Archive writes gzipped JSON fetch snapshots to object storage.
type Archive struct {
	store  ObjectStorage
	prefix string
	now    func() time.Time
}

func NewArchive(store ObjectStorage, prefix string) *Archive {
	if prefix == "" {
		prefix = "snapshots"
	}
	return &Archive{store: store, prefix: prefix, now: time.Now}
}

// Key returns the object key for a snapshot:
// <prefix>/<source>/<yyyy>/<mm>/<dd>/<jobID>.json.gz
func (a *Archive) Key(source, jobID string, at time.Time) string {
	at = at.UTC()
	return path.Join(a.prefix, source, at.Format("2006/01/02"), jobID+".json.gz")
}

// Save archives records fetched for a job and returns the object URL.
func (a *Archive) Save(ctx context.Context, source, jobID string, records []domain.TrailRecord) (string, error) {
	snap := Snapshot{
		Source:    source,
		JobID:     jobID,
		FetchedAt: a.now().UTC(),
		Count:     len(records),
		Records:   records,
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(&snap); err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to compress snapshot: %w", err)
	}

	key := a.Key(source, jobID, snap.FetchedAt)
	if err := a.store.Upload(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), snapshotContentType); err != nil {
		return "", err
	}
	return a.store.GetURL(key), nil
}

// Load reads a snapshot back by key.
func (a *Archive) Load(ctx context.Context, key string) (*Snapshot, error) {
	rc, err := a.store.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	zr, err := gzip.NewReader(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot %s: %w", key, err)
	}
	defer zr.Close()

	var snap Snapshot
	if err := json.NewDecoder(zr).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", key, err)
	}
	return &snap, nil
}
