package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantStore implements Store over a remote Qdrant instance via gRPC.
// Write atomicity for concurrent upserts is delegated to the engine,
// which applies point operations atomically per point.
type QdrantStore struct {
	client    *qdrant.Client
	dimension int
}

func NewQdrantStore(host string, port int, apiKey string, useTLS bool, dimension int) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant at %s:%d: %w", host, port, err)
	}
	return &QdrantStore{client: client, dimension: dimension}, nil
}

func (s *QdrantStore) Name() string { return "qdrant" }

func (s *QdrantStore) ensureCollection(ctx context.Context, collection string, dimension int) error {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection %q: %w", collection, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create collection %q: %w", collection, err)
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, collection, id string, vec []float32, content string, metadata map[string]string) error {
	if err := s.ensureCollection(ctx, collection, len(vec)); err != nil {
		return err
	}

	payload := make(map[string]*qdrant.Value, len(metadata)+2)
	payload["content"] = qdrant.NewValueString(content)
	payload[payloadIDKey] = qdrant.NewValueString(id)
	for key, value := range metadata {
		payload[key] = qdrant.NewValueString(value)
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrantPointID(id),
			Vectors: qdrant.NewVectors(vec...),
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %q: %w", id, err)
	}
	return nil
}

func (s *QdrantStore) Query(ctx context.Context, collection string, vec []float32, k int, filter map[string]string) ([]Result, error) {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection %q: %w", collection, err)
	}
	if !exists {
		return []Result{}, nil
	}

	limit := uint64(k)
	query := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(filter) > 0 {
		query.Filter = buildFilter(filter)
	}

	points, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	results := make([]Result, 0, len(points))
	for _, point := range points {
		id := payloadString(point.Payload, payloadIDKey)
		if id == "" {
			id = rawPointID(point.Id)
		}
		results = append(results, Result{
			ID:       id,
			Score:    normalizeCosine(float64(point.Score)),
			Content:  payloadString(point.Payload, "content"),
			Metadata: payloadMetadata(point.Payload),
		})
	}
	return results, nil
}

func (s *QdrantStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(qdrantPointID(id)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", id, err)
	}
	return nil
}

func (s *QdrantStore) DeleteCollection(ctx context.Context, collection string) error {
	if err := s.client.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("failed to delete collection %q: %w", collection, err)
	}
	return nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func buildFilter(filter map[string]string) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for key, value := range filter {
		conditions = append(conditions, qdrant.NewMatch(key, value))
	}
	return &qdrant.Filter{Must: conditions}
}

// payloadIDKey carries the caller's id alongside the point so queries
// can return it unchanged.
const payloadIDKey = "_id"

// qdrantPointID derives a deterministic UUID from the caller's id.
// Qdrant only accepts UUID or unsigned integer point ids, and chunk ids
// are "docID:ordinal" strings, so the raw id cannot be used directly.
// The same input always maps to the same point, keeping upserts
// idempotent.
func qdrantPointID(id string) *qdrant.PointId {
	return qdrant.NewID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String())
}

func rawPointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	default:
		return ""
	}
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func payloadMetadata(payload map[string]*qdrant.Value) map[string]string {
	metadata := make(map[string]string, len(payload))
	for key, value := range payload {
		if key == "content" || key == payloadIDKey {
			continue
		}
		metadata[key] = value.GetStringValue()
	}
	return metadata
}

var _ Store = (*QdrantStore)(nil)
