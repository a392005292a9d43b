package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TurnRecord is one user/assistant exchange pushed to the remote index.
type TurnRecord struct {
	SessionID     string `json:"session_id"`
	UserID        string `json:"user_id"`
	ClinicID      string `json:"clinic_id"`
	UserText      string `json:"user_text"`
	AssistantText string `json:"assistant_text"`
}

// MessageRecord is a single message pushed to the remote index.
type MessageRecord struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	ClinicID  string `json:"clinic_id"`
	Role      string `json:"role"`
	Text      string `json:"text"`
}

// IndexHit is one recall result from the remote index.
type IndexHit struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Indexer is the remote long-term memory service. All methods are
// best-effort from the pipeline's point of view; the Writer absorbs
// failures and the Recall layer falls back to Postgres.
type Indexer interface {
	AddTurn(ctx context.Context, rec TurnRecord) error
	AddMessage(ctx context.Context, rec MessageRecord) error
	Warm(ctx context.Context, userID, clinicID string) error
	Search(ctx context.Context, userID, clinicID, query string, limit int) ([]IndexHit, error)
}

// IndexConfig describes how to reach the memory index service.
type IndexConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// IndexClient talks to the mem0-style index over HTTP.
type IndexClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewIndexClient validates the configuration and returns a ready client.
func NewIndexClient(cfg IndexConfig) (*IndexClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("memory: index base URL required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	// Remote recall below this deadline times out more often than it answers.
	if timeout < 800*time.Millisecond {
		timeout = 800 * time.Millisecond
	}
	return &IndexClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// AddTurn indexes one exchange under the user's memory collection.
func (c *IndexClient) AddTurn(ctx context.Context, rec TurnRecord) error {
	if rec.UserID == "" || rec.ClinicID == "" {
		return errors.New("memory: user and clinic ids required")
	}
	payload := map[string]any{
		"user_id":  rec.UserID,
		"agent_id": rec.ClinicID,
		"messages": []wireMessage{
			{Role: "user", Content: rec.UserText},
			{Role: "assistant", Content: rec.AssistantText},
		},
		"metadata": map[string]string{"session_id": rec.SessionID},
	}
	_, err := c.doRequest(ctx, http.MethodPost, "/v1/memories", payload)
	return err
}

// AddMessage indexes a single message.
func (c *IndexClient) AddMessage(ctx context.Context, rec MessageRecord) error {
	if rec.UserID == "" || rec.ClinicID == "" {
		return errors.New("memory: user and clinic ids required")
	}
	payload := map[string]any{
		"user_id":  rec.UserID,
		"agent_id": rec.ClinicID,
		"messages": []wireMessage{
			{Role: rec.Role, Content: rec.Text},
		},
		"metadata": map[string]string{"session_id": rec.SessionID},
	}
	_, err := c.doRequest(ctx, http.MethodPost, "/v1/memories", payload)
	return err
}

// Warm asks the index to pull the clinic's collection into its hot tier so
// the first recall of a conversation does not pay the cold-start cost.
func (c *IndexClient) Warm(ctx context.Context, userID, clinicID string) error {
	if clinicID == "" {
		return errors.New("memory: clinic id required")
	}
	payload := map[string]any{
		"user_id":  userID,
		"agent_id": clinicID,
	}
	_, err := c.doRequest(ctx, http.MethodPost, "/v1/warmup", payload)
	return err
}

// Search runs semantic recall for the user within the clinic's collection.
func (c *IndexClient) Search(ctx context.Context, userID, clinicID, query string, limit int) ([]IndexHit, error) {
	if userID == "" || clinicID == "" {
		return nil, errors.New("memory: user and clinic ids required")
	}
	if limit <= 0 {
		limit = 5
	}
	payload := map[string]any{
		"user_id":  userID,
		"agent_id": clinicID,
		"query":    query,
		"limit":    limit,
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/v1/memories/search", payload)
	if err != nil {
		return nil, err
	}
	var out struct {
		Results []struct {
			Memory string  `json:"memory"`
			Score  float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("memory: decode search response: %w", err)
	}
	hits := make([]IndexHit, 0, len(out.Results))
	for _, r := range out.Results {
		hits = append(hits, IndexHit{Text: r.Memory, Score: r.Score})
	}
	return hits, nil
}

func (c *IndexClient) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body *bytes.Buffer
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("memory: encode payload: %w", err)
		}
		body = bytes.NewBuffer(data)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("memory: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("memory: index request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("memory: read index response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("memory: index %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	return data, nil
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
