// Package vectorindex implements VectorIndex over a Qdrant collection
// keyed by SKU. The core only calls Search; Upsert exists for interface
// completeness since the out-of-scope indexing job is the only real
// caller.
package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"macroferro-bot/internal/apperr"
)

// DefaultTopK and DefaultScoreThreshold are the search policy defaults.
const (
	DefaultTopK           = 5
	DefaultScoreThreshold = 0.6
)

// Match is one scored hit; Search returns matches sorted descending by
// Score.
type Match struct {
	SKU   string
	Score float32
}

// Payload is the denormalized product summary stored alongside each
// point.
type Payload struct {
	Name         string
	Brand        string
	Category     string
	MarketingText string
}

// Index wraps the official Qdrant gRPC client.
type Index struct {
	client     *qdrant.Client
	collection string
	logger     *slog.Logger
}

// Config carries the connection parameters read from the environment.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	Collection string
	UseTLS     bool
}

// New dials the configured Qdrant instance. It does not verify the
// collection exists; that is the out-of-scope indexing job's job.
func New(cfg Config, logger *slog.Logger) (*Index, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("dial qdrant: %w", err)
	}
	return &Index{
		client:     client,
		collection: cfg.Collection,
		logger:     logger.With("component", "vectorindex"),
	}, nil
}

// Close releases the underlying gRPC connection.
func (i *Index) Close() error {
	return i.client.Close()
}

// Search returns up to topK points scoring at or above scoreThreshold,
// sorted descending by cosine similarity. Callers that need the
// "related fallback" behavior call Search again with a lower threshold.
func (i *Index) Search(ctx context.Context, vector []float32, topK int, scoreThreshold float32) ([]Match, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	limit := uint64(topK)
	withPayload := qdrant.NewWithPayloadInclude("sku")
	points, err := i.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: i.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		ScoreThreshold: &scoreThreshold,
		WithPayload:    withPayload,
	})
	if err != nil {
		return nil, apperr.Transient("vector search", err)
	}

	// The point id is an opaque UUID/number chosen at index time; the
	// SKU that matters to the core travels in the payload instead.
	matches := make([]Match, 0, len(points))
	for _, p := range points {
		sku := p.Payload["sku"].GetStringValue()
		if sku == "" {
			continue
		}
		matches = append(matches, Match{SKU: sku, Score: p.Score})
	}
	sort.Slice(matches, func(a, b int) bool { return matches[a].Score > matches[b].Score })
	return matches, nil
}

// Upsert writes or overwrites one point. Used only by the out-of-scope
// indexing job; kept here so VectorIndex's contract is fully satisfied
// by a single implementation.
func (i *Index) Upsert(ctx context.Context, sku string, vector []float32, payload Payload) error {
	_, err := i.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: i.collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDUUID(skuToPointUUID(sku)),
				Vectors: qdrant.NewVectors(vector...),
				Payload: qdrant.NewValueMap(map[string]any{
					"sku":            sku,
					"name":           payload.Name,
					"brand":          payload.Brand,
					"category":       payload.Category,
					"marketing_text": payload.MarketingText,
				}),
			},
		},
	})
	if err != nil {
		return apperr.Transient("vector upsert", err)
	}
	return nil
}

// skuToPointUUID derives a deterministic UUIDv5 from the SKU so
// repeated upserts of the same product overwrite the same point.
func skuToPointUUID(sku string) string {
	return uuid.NewSHA1(skuNamespace, []byte(sku)).String()
}

var skuNamespace = uuid.MustParse("6f7e6e3a-8f2b-4f3b-9c4e-4f6f6a9b6c8d")
