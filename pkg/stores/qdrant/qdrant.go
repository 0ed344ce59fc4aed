package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/theapemachine/nire/pkg/errors"
	"github.com/theapemachine/nire/pkg/memory"
)

const (
	storeName  = "qdrant"
	scrollPage = 256
)

// Client wraps an endpoint + collection and implements memory.VectorStore.
type Client struct {
	Endpoint   string // e.g. http://localhost:6333
	Collection string // e.g. "memories"
	httpClient *http.Client

	mu    sync.Mutex
	ready bool
}

// New returns a Client with a pooled transport.
func New(endpoint, collection string) *Client {
	return &Client{
		Endpoint:   endpoint,
		Collection: collection,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	Score   float64        `json:"score,omitempty"`
}

type payload struct {
	MemoryID         string            `json:"memory_id"`
	Text             string            `json:"text"`
	Timestamp        time.Time         `json:"timestamp"`
	TimestampMillis  int64             `json:"timestamp_ms"`
	Importance       float64           `json:"importance"`
	Entities         []string          `json:"entities,omitempty"`
	Category         string            `json:"category,omitempty"`
	SessionID        string            `json:"session_id,omitempty"`
	Role             string            `json:"role,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	GraphSyncPending bool              `json:"graph_sync_pending"`
}

/*
pointID maps a memory ID onto the UUID space qdrant accepts. The mapping is
deterministic, so upserting the same memory twice hits the same point.
*/
func pointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

// Upsert writes one memory as a point, creating the collection on first use.
func (client *Client) Upsert(ctx context.Context, item memory.MemoryItem) error {
	if len(item.Embedding) == 0 {
		return fmt.Errorf("%w: %s", errors.ErrMissingEmbedding, item.ID)
	}

	if err := client.ensureCollection(ctx, len(item.Embedding)); err != nil {
		return err
	}

	body := map[string]any{"points": []point{{
		ID:      pointID(item.ID),
		Vector:  item.Embedding,
		Payload: toPayload(item),
	}}}

	return client.do(ctx, "upsert", http.MethodPut, "/points?wait=true", body, nil)
}

// Query performs a cosine search and returns at most k hits with vectors.
func (client *Client) Query(ctx context.Context, vector []float32, k int) ([]memory.VectorHit, error) {
	if k <= 0 {
		return nil, nil
	}

	var out struct {
		Result []point `json:"result"`
	}

	err := client.do(ctx, "query", http.MethodPost, "/points/search", map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"with_vector":  true,
	}, &out)

	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	hits := make([]memory.VectorHit, 0, len(out.Result))

	for _, p := range out.Result {
		if len(p.Vector) == 0 {
			continue
		}

		item, err := fromPoint(p)

		if err != nil {
			continue
		}

		hits = append(hits, memory.VectorHit{Item: item, Similarity: p.Score})

		if len(hits) == k {
			break
		}
	}

	return hits, nil
}

// Get retrieves a memory by ID including its vector.
func (client *Client) Get(ctx context.Context, id string) (memory.MemoryItem, error) {
	var out struct {
		Result point `json:"result"`
	}

	if err := client.do(ctx, "get", http.MethodGet, "/points/"+pointID(id), nil, &out); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return memory.MemoryItem{}, fmt.Errorf("%w: %s", errors.ErrNotFound, id)
		}

		return memory.MemoryItem{}, err
	}

	return fromPoint(out.Result)
}

// Delete removes memories by ID.
func (client *Client) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	points := make([]string, 0, len(ids))
	for _, id := range ids {
		points = append(points, pointID(id))
	}

	err := client.do(ctx, "delete", http.MethodPost, "/points/delete?wait=true", map[string]any{"points": points}, nil)

	if errors.Is(err, errors.ErrNotFound) {
		return nil
	}

	return err
}

// Pending scrolls points whose graph_sync_pending payload is true.
func (client *Client) Pending(ctx context.Context, limit int) ([]memory.MemoryItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	return client.scroll(ctx, "pending", map[string]any{
		"must": []map[string]any{{"key": "graph_sync_pending", "match": map[string]any{"value": true}}},
	}, limit)
}

// Before scrolls points stamped earlier than cutoff.
func (client *Client) Before(ctx context.Context, cutoff time.Time) ([]memory.MemoryItem, error) {
	return client.scroll(ctx, "before", map[string]any{
		"must": []map[string]any{{"key": "timestamp_ms", "range": map[string]any{"lt": cutoff.UnixMilli()}}},
	}, 0)
}

/*
scroll pages through the points matching filter until limit items are
collected, or until the server runs out when limit is zero.
*/
func (client *Client) scroll(ctx context.Context, op string, filter map[string]any, limit int) ([]memory.MemoryItem, error) {
	var (
		items  []memory.MemoryItem
		offset any
	)

	for {
		page := scrollPage
		if limit > 0 {
			page = min(page, limit-len(items))
		}

		body := map[string]any{
			"filter":       filter,
			"limit":        page,
			"with_payload": true,
			"with_vector":  true,
		}

		if offset != nil {
			body["offset"] = offset
		}

		var out struct {
			Result struct {
				Points []point `json:"points"`
				Next   any     `json:"next_page_offset"`
			} `json:"result"`
		}

		err := client.do(ctx, op, http.MethodPost, "/points/scroll", body, &out)

		if errors.Is(err, errors.ErrNotFound) {
			return items, nil
		}

		if err != nil {
			return nil, err
		}

		for _, p := range out.Result.Points {
			if item, err := fromPoint(p); err == nil {
				items = append(items, item)
			}
		}

		if out.Result.Next == nil || (limit > 0 && len(items) >= limit) {
			return items, nil
		}

		offset = out.Result.Next
	}
}

func (client *Client) Count(ctx context.Context) (int, error) {
	var out struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}

	err := client.do(ctx, "count", http.MethodPost, "/points/count", map[string]any{"exact": true}, &out)

	if errors.Is(err, errors.ErrNotFound) {
		return 0, nil
	}

	return out.Result.Count, err
}

// Ping checks that the server answers its readiness probe.
func (client *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, client.Endpoint+"/readyz", nil)

	if err != nil {
		return err
	}

	resp, err := client.httpClient.Do(req)

	if err != nil {
		return errors.Unavailable(storeName, "ping", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.Unavailable(storeName, "ping", fmt.Errorf("status %s", resp.Status))
	}

	return nil
}

// Close releases pooled connections.
func (client *Client) Close() error {
	client.httpClient.CloseIdleConnections()
	return nil
}

func (client *Client) ensureCollection(ctx context.Context, size int) error {
	client.mu.Lock()
	defer client.mu.Unlock()

	if client.ready {
		return nil
	}

	err := client.do(ctx, "describe", http.MethodGet, "", nil, nil)

	if errors.Is(err, errors.ErrNotFound) {
		err = client.do(ctx, "create", http.MethodPut, "", map[string]any{
			"vectors": map[string]any{"size": size, "distance": "Cosine"},
		}, nil)
	}

	if err != nil {
		return err
	}

	client.ready = true

	return nil
}

/*
do sends one request against the collection. Transport failures and 5xx
answers are StorageUnavailable; 404 is ErrNotFound.
*/
func (client *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader

	if in != nil {
		b, err := json.Marshal(in)

		if err != nil {
			return fmt.Errorf("qdrant: marshal %s: %w", op, err)
		}

		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		method,
		fmt.Sprintf("%s/collections/%s%s", client.Endpoint, client.Collection, path),
		body,
	)

	if err != nil {
		return err
	}

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.httpClient.Do(req)

	if err != nil {
		return errors.Unavailable(storeName, op, err)
	}

	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.ErrNotFound
	case resp.StatusCode >= 500:
		return errors.Unavailable(storeName, op, fmt.Errorf("status %s", resp.Status))
	case resp.StatusCode >= 300:
		return fmt.Errorf("qdrant: %s status %s", op, resp.Status)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("qdrant: decode %s: %w", op, err)
	}

	return nil
}

func toPayload(item memory.MemoryItem) map[string]any {
	b, _ := json.Marshal(payload{
		MemoryID:         item.ID,
		Text:             item.Text,
		Timestamp:        item.Timestamp,
		TimestampMillis:  item.Timestamp.UnixMilli(),
		Importance:       item.Importance,
		Entities:         item.Entities,
		Category:         item.Category,
		SessionID:        item.SessionID,
		Role:             item.Role,
		Metadata:         item.Metadata,
		GraphSyncPending: item.GraphSyncPending,
	})

	out := map[string]any{}
	_ = json.Unmarshal(b, &out)

	return out
}

func fromPoint(p point) (memory.MemoryItem, error) {
	b, err := json.Marshal(p.Payload)

	if err != nil {
		return memory.MemoryItem{}, err
	}

	var pl payload

	if err := json.Unmarshal(b, &pl); err != nil {
		return memory.MemoryItem{}, fmt.Errorf("qdrant: payload of %s: %w", p.ID, err)
	}

	return memory.MemoryItem{
		ID:               pl.MemoryID,
		Text:             pl.Text,
		Embedding:        p.Vector,
		Timestamp:        pl.Timestamp,
		Importance:       pl.Importance,
		Entities:         pl.Entities,
		Category:         pl.Category,
		SessionID:        pl.SessionID,
		Role:             pl.Role,
		Metadata:         pl.Metadata,
		GraphSyncPending: pl.GraphSyncPending,
	}, nil
}
