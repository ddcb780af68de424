package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailhead/trailimport/internal/config"
	"github.com/trailhead/trailimport/internal/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestLoggerMiddleware_RequestID(t *testing.T) {
	base, hook := test.NewNullLogger()
	log := &logger.Logger{Entry: logrus.NewEntry(base)}

	r := gin.New()
	r.Use(LoggerMiddleware(log))
	var seen string
	r.GET("/x", func(c *gin.Context) {
		seen = logger.GetFieldString(c.Request.Context(), logger.FieldRequestID)
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-123", seen)

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, http.StatusNoContent, last.Data[logger.FieldStatus])
	assert.Equal(t, "req-123", last.Data[logger.FieldRequestID])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.CORSConfig
		origin     string
		wantOrigin string
	}{
		{"allow all", config.CORSConfig{AllowAllOrigins: true}, "https://a.example", "*"},
		{"listed", config.CORSConfig{AllowedOrigins: []string{"https://a.example"}}, "https://a.example", "https://a.example"},
		{"unlisted", config.CORSConfig{AllowedOrigins: []string{"https://a.example"}}, "https://b.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CORS(tt.cfg))
			r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS(config.CORSConfig{AllowAllOrigins: true}))
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/x", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
