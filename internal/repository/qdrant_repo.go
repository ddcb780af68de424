package repository

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/trailhead/trailimport/internal/domain"
)

// TrailVectorDimension is the size of the trail feature vector:
// normalized length, elevation gain, elevation and difficulty.
const TrailVectorDimension = 4

const geoField = "location"

// QdrantConnectionConfig holds configuration for the Qdrant connection.
type QdrantConnectionConfig struct {
	Host       string
	Port       int
	Collection string
	APIKey     string // Qdrant Cloud API key (enables TLS automatically)
	UseTLS     bool
}

func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// TrailIndex mirrors stored trails into a Qdrant collection with a geo
// payload for bounding-box lookups and a small feature vector for
// "similar trail" queries.
type TrailIndex struct {
	conn           *grpc.ClientConn
	pointsClient   pb.PointsClient
	collectClient  pb.CollectionsClient
	collectionName string
}

// NewTrailIndex dials Qdrant. Local instances use plaintext; an API key or
// UseTLS switches to TLS 1.3.
func NewTrailIndex(cfg *QdrantConnectionConfig) (*TrailIndex, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var opts []grpc.DialOption
	if cfg.UseTLS || cfg.APIKey != "" {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS13,
		})))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &TrailIndex{
		conn:           conn,
		pointsClient:   pb.NewPointsClient(conn),
		collectClient:  pb.NewCollectionsClient(conn),
		collectionName: cfg.Collection,
	}, nil
}

// Close closes the gRPC connection.
func (r *TrailIndex) Close() error {
	return r.conn.Close()
}

// EnsureCollection creates the collection and its geo payload index if
// missing.
func (r *TrailIndex) EnsureCollection(ctx context.Context) error {
	if _, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collectionName,
	}); err == nil {
		return nil
	}

	if _, err := r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     TrailVectorDimension,
					Distance: pb.Distance_Euclid,
				},
			},
		},
	}); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	if _, err := r.pointsClient.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: r.collectionName,
		FieldName:      geoField,
		FieldType:      pb.FieldType_FieldTypeGeo.Enum(),
	}); err != nil {
		return fmt.Errorf("failed to create geo index: %w", err)
	}
	return nil
}

// PointID derives a stable point id from the upsert key, so re-indexing a
// trail overwrites its point.
func PointID(source, sourceID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(source+":"+sourceID)).String()
}

// TrailVector encodes a record as a normalized feature vector.
func TrailVector(rec *domain.TrailRecord) []float32 {
	norm := func(v *float64, scale float64) float32 {
		if v == nil {
			return 0
		}
		return float32(math.Min(math.Max(*v/scale, 0), 1))
	}
	var diff float32
	switch rec.Difficulty {
	case domain.DifficultyModerate:
		diff = 1.0 / 3
	case domain.DifficultyHard:
		diff = 2.0 / 3
	case domain.DifficultyExpert:
		diff = 1
	}
	return []float32{
		norm(rec.LengthKm, 50),
		norm(rec.ElevationGain, 3000),
		norm(rec.Elevation, 5000),
		diff,
	}
}

// IndexTrails upserts every record that has coordinates. It returns how
// many points were written.
func (r *TrailIndex) IndexTrails(ctx context.Context, records []domain.TrailRecord) (int, error) {
	points := make([]*pb.PointStruct, 0, len(records))
	for i := range records {
		rec := &records[i]
		if !rec.HasCoordinates() {
			continue
		}
		points = append(points, &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(rec.Source, rec.SourceID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: TrailVector(rec)},
				},
			},
			Payload: trailPayload(rec),
		})
	}
	if len(points) == 0 {
		return 0, nil
	}

	wait := true
	if _, err := r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collectionName,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return 0, fmt.Errorf("failed to upsert points: %w", err)
	}
	return len(points), nil
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func doubleValue(f float64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: f}}
}

func trailPayload(rec *domain.TrailRecord) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		"source":     stringValue(rec.Source),
		"source_id":  stringValue(rec.SourceID),
		"name":       stringValue(rec.Name),
		"difficulty": stringValue(string(rec.Difficulty)),
		"country":    stringValue(rec.Country),
		geoField: {Kind: &pb.Value_StructValue{StructValue: &pb.Struct{
			Fields: map[string]*pb.Value{
				"lat": doubleValue(*rec.Latitude),
				"lon": doubleValue(*rec.Longitude),
			},
		}}},
	}
	if rec.LengthKm != nil {
		payload["length_km"] = doubleValue(*rec.LengthKm)
	}
	return payload
}

// IndexedTrail is one hit from the index.
type IndexedTrail struct {
	Source     string  `json:"source"`
	SourceID   string  `json:"source_id"`
	Name       string  `json:"name"`
	Difficulty string  `json:"difficulty"`
	Country    string  `json:"country"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	LengthKm   float64 `json:"length_km,omitempty"`
	Score      float32 `json:"score,omitempty"`
}

func parsePayload(payload map[string]*pb.Value) IndexedTrail {
	var t IndexedTrail
	t.Source = payload["source"].GetStringValue()
	t.SourceID = payload["source_id"].GetStringValue()
	t.Name = payload["name"].GetStringValue()
	t.Difficulty = payload["difficulty"].GetStringValue()
	t.Country = payload["country"].GetStringValue()
	t.LengthKm = payload["length_km"].GetDoubleValue()
	if loc := payload[geoField].GetStructValue(); loc != nil {
		t.Latitude = loc.GetFields()["lat"].GetDoubleValue()
		t.Longitude = loc.GetFields()["lon"].GetDoubleValue()
	}
	return t
}

func bboxFilter(box domain.BBox) *pb.Filter {
	return &pb.Filter{
		Must: []*pb.Condition{{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key: geoField,
					GeoBoundingBox: &pb.GeoBoundingBox{
						TopLeft:     &pb.GeoPoint{Lat: box.MaxLat, Lon: box.MinLon},
						BottomRight: &pb.GeoPoint{Lat: box.MinLat, Lon: box.MaxLon},
					},
				},
			},
		}},
	}
}

// SearchBBox returns indexed trails inside box.
func (r *TrailIndex) SearchBBox(ctx context.Context, box domain.BBox, limit int) ([]IndexedTrail, error) {
	l := uint32(limit)
	resp, err := r.pointsClient.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: r.collectionName,
		Filter:         bboxFilter(box),
		Limit:          &l,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scroll: %w", err)
	}

	out := make([]IndexedTrail, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		out = append(out, parsePayload(p.GetPayload()))
	}
	return out, nil
}

// Similar returns trails whose feature vector is closest to rec, optionally
// restricted to box.
func (r *TrailIndex) Similar(ctx context.Context, rec *domain.TrailRecord, box *domain.BBox, topK int) ([]IndexedTrail, error) {
	req := &pb.SearchPoints{
		CollectionName: r.collectionName,
		Vector:         TrailVector(rec),
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if box != nil {
		req.Filter = bboxFilter(*box)
	}

	resp, err := r.pointsClient.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	out := make([]IndexedTrail, 0, len(resp.GetResult()))
	for _, scored := range resp.GetResult() {
		t := parsePayload(scored.GetPayload())
		if t.Source == rec.Source && t.SourceID == rec.SourceID {
			continue
		}
		t.Score = scored.GetScore()
		out = append(out, t)
	}
	return out, nil
}
