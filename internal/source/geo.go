package source

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/trailhead/trailimport/internal/domain"
)

const earthRadiusKm = 6371.0088

// Haversine returns the great-circle distance in kilometres.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) + math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// LineLengthKm sums haversine distances between consecutive [lon, lat]
// vertices, the GeoJSON coordinate order.
func LineLengthKm(coords [][]float64) float64 {
	var total float64
	for i := 1; i < len(coords); i++ {
		prev, cur := coords[i-1], coords[i]
		if len(prev) < 2 || len(cur) < 2 {
			continue
		}
		total += Haversine(prev[1], prev[0], cur[1], cur[0])
	}
	return total
}

// Geometry is the subset of GeoJSON geometry the adapters read.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Lines returns the vertex lists of a LineString or MultiLineString, and
// the single vertex of a Point.
func (g *Geometry) Lines() [][][]float64 {
	switch g.Type {
	case "LineString":
		var line [][]float64
		if json.Unmarshal(g.Coordinates, &line) == nil {
			return [][][]float64{line}
		}
	case "MultiLineString":
		var lines [][][]float64
		if json.Unmarshal(g.Coordinates, &lines) == nil {
			return lines
		}
	case "Point":
		var pt []float64
		if json.Unmarshal(g.Coordinates, &pt) == nil && len(pt) >= 2 {
			return [][][]float64{{pt}}
		}
	}
	return nil
}

// LengthKm returns the total line length, or false for non-line geometry.
func (g *Geometry) LengthKm() (float64, bool) {
	if g.Type != "LineString" && g.Type != "MultiLineString" {
		return 0, false
	}
	var total float64
	for _, line := range g.Lines() {
		total += LineLengthKm(line)
	}
	return total, true
}

// StartPoint returns the first vertex as (lat, lon).
func (g *Geometry) StartPoint() (lat, lon float64, ok bool) {
	for _, line := range g.Lines() {
		for _, v := range line {
			if len(v) >= 2 {
				return v[1], v[0], true
			}
		}
	}
	return 0, 0, false
}

var difficultyKeywords = []struct {
	level    domain.Difficulty
	keywords []string
}{
	{domain.DifficultyExpert, []string{"alpine", "extreme", "expert", "technical"}},
	{domain.DifficultyHard, []string{"hard", "difficult", "strenuous", "demanding", "challenging", "advanced"}},
	{domain.DifficultyModerate, []string{"moderate", "intermediate", "medium"}},
	{domain.DifficultyEasy, []string{"easy", "beginner", "gentle", "flat", "accessible", "leisurely"}},
}

// MapDifficulty maps an upstream difficulty vocabulary onto the canonical
// scale by keyword match, defaulting to moderate.
func MapDifficulty(raw string) domain.Difficulty {
	s := strings.ToLower(raw)
	if s == "" {
		return domain.DifficultyModerate
	}
	for _, group := range difficultyKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(s, kw) {
				return group.level
			}
		}
	}
	return domain.DifficultyModerate
}

// Round2 rounds to two decimals.
func Round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// Float returns a pointer to f.
func Float(f float64) *float64 {
	return &f
}

// Round6 rounds to six decimals, about 0.1 m of latitude.
func Round6(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}
