// Package recall is an optional vector-index gate for memory context: when
// configured, closed conversation turns are embedded and indexed in Qdrant
// so the direct pipeline's memory-context assembly can pull in semantically
// related history beyond the fixed recent-turns window, instead of relying
// solely on the substring RecallTurns search in internal/memory.
package recall

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Embedder produces a fixed-dimension vector for a piece of text. Pipelines
// supply this from whichever provider.Client backs embeddings; recall
// itself is embedder-agnostic.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Hit is a single similarity match, carrying back the sender and the
// stored text so callers don't need a second round-trip to the store.
type Hit struct {
	SenderID string
	Text     string
	Score    float64
}

// Index is a Qdrant-backed nearest-neighbor index over turn text, keyed by
// sender so cross-tenant recall never leaks between owners.
type Index struct {
	client     *qdrant.Client
	collection string
	dimension  int
	embedder   Embedder
}

// Config mirrors the [memory.recall] TOML table.
type Config struct {
	Enabled    bool
	DSN        string
	Collection string
	Dimension  int
}

// Open connects to Qdrant and ensures the collection exists, or returns
// (nil, nil) when cfg.Enabled is false so callers fall back to substring
// recall only.
func Open(cfg Config, embedder Embedder) (*Index, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("recall: collection name is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("recall: dimension must be > 0")
	}

	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("recall: parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("recall: invalid qdrant port: %w", err)
	}

	qcfg := &qdrant.Config{Host: host, Port: portNum, UseTLS: parsed.Scheme == "https"}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		qcfg.APIKey = apiKey
	}

	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("recall: create qdrant client: %w", err)
	}

	idx := &Index{client: client, collection: cfg.Collection, dimension: cfg.Dimension, embedder: embedder}
	if err := idx.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) ensureCollection(ctx context.Context) error {
	exists, err := idx.client.CollectionExists(ctx, idx.collection)
	if err != nil {
		return fmt.Errorf("recall: check collection: %w", err)
	}
	if exists {
		return nil
	}
	return idx.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: idx.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(idx.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

// IndexTurn embeds text and upserts it, scoped to senderID via payload filter.
func (idx *Index) IndexTurn(ctx context.Context, turnID, senderID, text string) error {
	vec, err := idx.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("recall: embed turn: %w", err)
	}
	pointUUID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(turnID)).String()
	payload := qdrant.NewValueMap(map[string]any{
		"sender_id": senderID,
		"text":      text,
	})
	_, err = idx.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: idx.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(pointUUID),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: payload,
		}},
	})
	return err
}

// Search returns the k most similar indexed turns for senderID.
func (idx *Index) Search(ctx context.Context, senderID, query string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 5
	}
	vec, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("recall: embed query: %w", err)
	}
	limit := uint64(k)
	res, err := idx.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: idx.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("sender_id", senderID)}},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(res))
	for _, pt := range res {
		var text string
		if pt.Payload != nil {
			if v, ok := pt.Payload["text"]; ok {
				text = v.GetStringValue()
			}
		}
		hits = append(hits, Hit{SenderID: senderID, Text: text, Score: float64(pt.Score)})
	}
	return hits, nil
}

func (idx *Index) Close() error {
	return idx.client.Close()
}
