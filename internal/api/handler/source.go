package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trailhead/trailimport/internal/domain"
)

// SourceLister lists configured data sources.
type SourceLister interface {
	ListAll(ctx context.Context) ([]domain.DataSource, error)
}

type SourceHandler struct {
	sources SourceLister
	types   func() []string
}

// NewSourceHandler creates a source handler. types reports the adapter types
// that are registered.
func NewSourceHandler(sources SourceLister, types func() []string) *SourceHandler {
	return &SourceHandler{sources: sources, types: types}
}

// List handles GET /api/v1/sources.
func (h *SourceHandler) List(c *gin.Context) {
	sources, err := h.sources.ListAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sources":  sources,
		"adapters": h.types(),
	})
}
