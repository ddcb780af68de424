// Package usgstest serves a fake ArcGIS query endpoint for tests.
package usgstest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
)

// Server answers GET /query with GeoJSON pages over a fixed feature set.
type Server struct {
	*httptest.Server

	total       int
	missingName func(i int) bool
	failFrom    int
	requests    atomic.Int32
}

// Option configures a Server.
type Option func(*Server)

// WithMissingName blanks the name of every feature i for which fn is true.
func WithMissingName(fn func(i int) bool) Option {
	return func(s *Server) { s.missingName = fn }
}

// WithFailureFrom makes every request with resultOffset >= offset fail
// with a 500.
func WithFailureFrom(offset int) Option {
	return func(s *Server) { s.failFrom = offset }
}

// NewServer starts a server holding total features.
func NewServer(total int, opts ...Option) *Server {
	s := &Server{total: total, failFrom: -1}
	for _, opt := range opts {
		opt(s)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Requests returns how many query requests were served.
func (s *Server) Requests() int {
	return int(s.requests.Load())
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/query" {
		http.NotFound(w, r)
		return
	}
	s.requests.Add(1)

	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("resultOffset"))
	count, _ := strconv.Atoi(q.Get("resultRecordCount"))
	if count <= 0 {
		count = 1000
	}
	if s.failFrom >= 0 && offset >= s.failFrom {
		http.Error(w, "upstream unavailable", http.StatusInternalServerError)
		return
	}

	features := make([]map[string]interface{}, 0, count)
	for i := offset; i < offset+count && i < s.total; i++ {
		name := fmt.Sprintf("Trail %d", i)
		if s.missingName != nil && s.missingName(i) {
			name = ""
		}
		lon := -105.0 + float64(i)*0.001
		features = append(features, map[string]interface{}{
			"type": "Feature",
			"id":   i + 1,
			"properties": map[string]interface{}{
				"permanentidentifier":    fmt.Sprintf("usgs-%05d", i),
				"name":                   name,
				"trailtype":              "Terra Trail",
				"lengthmiles":            1.5,
				"primarytrailmaintainer": "Roosevelt National Forest",
				"statecode":              "co",
			},
			"geometry": map[string]interface{}{
				"type":        "LineString",
				"coordinates": [][]float64{{lon, 40.0}, {lon + 0.01, 40.01}},
			},
		})
	}

	w.Header().Set("Content-Type", "application/geo+json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"type":     "FeatureCollection",
		"features": features,
	})
}
