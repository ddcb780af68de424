package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/trailhead/trailimport/internal/domain"
	"github.com/trailhead/trailimport/internal/repository"
)

const (
	defaultSearchLimit = 100
	maxSearchLimit     = 1000
)

// TrailReader reads imported trails from the relational store.
type TrailReader interface {
	SearchBBox(ctx context.Context, box domain.BBox, limit int) ([]domain.TrailRecord, error)
	GetBySourceID(ctx context.Context, source, sourceID string) (*domain.TrailRecord, error)
}

// TrailGeoIndex answers bbox and similarity queries from the vector index.
type TrailGeoIndex interface {
	SearchBBox(ctx context.Context, box domain.BBox, limit int) ([]repository.IndexedTrail, error)
	Similar(ctx context.Context, rec *domain.TrailRecord, box *domain.BBox, topK int) ([]repository.IndexedTrail, error)
}

// TrailHandler serves read access to imported trails.
type TrailHandler struct {
	trails TrailReader
	index  TrailGeoIndex
}

// NewTrailHandler creates a trail handler. index may be nil, in which case
// bbox searches go to the relational store.
func NewTrailHandler(trails TrailReader, index TrailGeoIndex) *TrailHandler {
	return &TrailHandler{trails: trails, index: index}
}

// Search handles GET /api/v1/trails?bbox=minLon,minLat,maxLon,maxLat&limit=N.
func (h *TrailHandler) Search(c *gin.Context) {
	box, err := parseBBox(c.Query("bbox"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit := defaultSearchLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxSearchLimit)
	}

	ctx := c.Request.Context()
	if h.index != nil && c.Query("from") != "db" {
		hits, err := h.index.SearchBBox(ctx, box, limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"from": "index", "count": len(hits), "trails": hits})
		return
	}

	trails, err := h.trails.SearchBBox(ctx, box, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"from": "db", "count": len(trails), "trails": trails})
}

// Get handles GET /api/v1/trails/:source/:source_id.
func (h *TrailHandler) Get(c *gin.Context) {
	trail, err := h.trails.GetBySourceID(c.Request.Context(), c.Param("source"), c.Param("source_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trail)
}

// Similar handles GET /api/v1/trails/:source/:source_id/similar?k=N. The
// optional bbox restricts candidates.
func (h *TrailHandler) Similar(c *gin.Context) {
	if h.index == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trail index is disabled"})
		return
	}

	k := 10
	if raw := c.Query("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "k must be a positive integer"})
			return
		}
		k = min(n, maxSearchLimit)
	}
	var box *domain.BBox
	if raw := c.Query("bbox"); raw != "" {
		b, err := parseBBox(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		box = &b
	}

	ctx := c.Request.Context()
	trail, err := h.trails.GetBySourceID(ctx, c.Param("source"), c.Param("source_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	// One extra so the trail itself can be dropped.
	hits, err := h.index.Similar(ctx, trail, box, k+1)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]repository.IndexedTrail, 0, k)
	for _, hit := range hits {
		if hit.Source == trail.Source && hit.SourceID == trail.SourceID {
			continue
		}
		if len(out) == k {
			break
		}
		out = append(out, hit)
	}
	c.JSON(http.StatusOK, gin.H{"count": len(out), "trails": out})
}

func parseBBox(raw string) (domain.BBox, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return domain.BBox{}, fmt.Errorf("bbox must be minLon,minLat,maxLon,maxLat")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return domain.BBox{}, fmt.Errorf("invalid bbox value %q", p)
		}
		v[i] = f
	}
	box := domain.BBox{MinLon: v[0], MinLat: v[1], MaxLon: v[2], MaxLat: v[3]}
	if box.MinLon > box.MaxLon || box.MinLat > box.MaxLat {
		return domain.BBox{}, fmt.Errorf("bbox minimums must not exceed maximums")
	}
	return box, nil
}
