package langgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/brightline-ai/concierge/internal/conversation"
)

const (
	// maxCachedGraphs bounds the per-clinic graph handle cache.
	maxCachedGraphs = 5
	graphTTL        = 15 * time.Minute

	defaultTimeout = 10 * time.Second
)

// Config describes how to reach the graph orchestrator.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client hands whole turns to the external graph orchestrator. Each clinic
// runs on its own compiled graph; the client resolves the graph handle once
// and keeps a small TTL cache so hot clinics skip the extra round trip.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client

	mu     sync.Mutex
	graphs map[string]graphEntry

	now func() time.Time
}

type graphEntry struct {
	id      string
	fetched time.Time
}

// NewClient validates the configuration and returns a ready client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("langgraph: base URL required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout: timeout,
		},
		graphs: make(map[string]graphEntry),
		now:    time.Now,
	}, nil
}

// Run executes one conversation turn on the clinic's graph.
func (c *Client) Run(ctx context.Context, req conversation.LaneRequest) (conversation.LaneResponse, error) {
	if strings.TrimSpace(req.ClinicID) == "" {
		return conversation.LaneResponse{}, errors.New("langgraph: clinic id required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return conversation.LaneResponse{}, errors.New("langgraph: message required")
	}

	graphID, err := c.graphFor(ctx, req.ClinicID)
	if err != nil {
		return conversation.LaneResponse{}, err
	}

	payload := map[string]any{
		"graph_id":   graphID,
		"instance":   req.Instance,
		"session_id": req.SessionID,
		"user_id":    req.UserID,
		"lane":       req.Lane,
		"message":    req.Message,
		"language":   req.Language,
		"history":    toWireMessages(req.History),
		"state":      req.State,
	}
	data, err := c.doRequest(ctx, "/v1/runs", payload)
	if err != nil {
		return conversation.LaneResponse{}, err
	}

	var out conversation.LaneResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return conversation.LaneResponse{}, fmt.Errorf("langgraph: decode run response: %w", err)
	}
	return out, nil
}

// graphFor resolves the clinic's compiled graph handle, consulting the
// bounded cache first.
func (c *Client) graphFor(ctx context.Context, clinicID string) (string, error) {
	c.mu.Lock()
	if entry, ok := c.graphs[clinicID]; ok && c.now().Sub(entry.fetched) < graphTTL {
		c.mu.Unlock()
		return entry.id, nil
	}
	c.mu.Unlock()

	data, err := c.doRequest(ctx, "/v1/graphs/resolve", map[string]any{"clinic_id": clinicID})
	if err != nil {
		return "", err
	}
	var out struct {
		GraphID string `json:"graph_id"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("langgraph: decode graph handle: %w", err)
	}
	if strings.TrimSpace(out.GraphID) == "" {
		return "", errors.New("langgraph: orchestrator returned no graph id")
	}

	c.mu.Lock()
	c.store(clinicID, out.GraphID)
	c.mu.Unlock()
	return out.GraphID, nil
}

// store inserts a cache entry, evicting the stalest one once the cache is
// full. Callers hold c.mu.
func (c *Client) store(clinicID, graphID string) {
	if _, exists := c.graphs[clinicID]; !exists && len(c.graphs) >= maxCachedGraphs {
		var oldestKey string
		var oldest time.Time
		for key, entry := range c.graphs {
			if oldestKey == "" || entry.fetched.Before(oldest) {
				oldestKey = key
				oldest = entry.fetched
			}
		}
		delete(c.graphs, oldestKey)
	}
	c.graphs[clinicID] = graphEntry{id: graphID, fetched: c.now()}
}

func (c *Client) doRequest(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("langgraph: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("langgraph: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("langgraph: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("langgraph: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("langgraph: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	return data, nil
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func toWireMessages(history []conversation.ChatMessage) []wireMessage {
	out := make([]wireMessage, 0, len(history))
	for _, msg := range history {
		out = append(out, wireMessage{Role: msg.Role, Content: msg.Content})
	}
	return out
}
