package evolution

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"log/slog"
)

func TestSendText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/message/sendText/clinic-main" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method %s", r.Method)
		}
		if got := r.Header.Get("apikey"); got != "test" {
			t.Fatalf("missing apikey header, got %q", got)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if !strings.Contains(string(body), "15551234567@s.whatsapp.net") {
			t.Fatalf("expected normalized jid in body, got %s", string(body))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"key":{"id":"BAE5ABC123","remoteJid":"15551234567@s.whatsapp.net","fromMe":true},"status":"PENDING"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	resp, err := client.SendText(context.Background(), "clinic-main", SendTextRequest{
		Number: "+1 555-123-4567",
		Text:   "Your appointment is confirmed.",
		Delay:  1200,
	})
	if err != nil {
		t.Fatalf("send text: %v", err)
	}
	if resp.Key.ID != "BAE5ABC123" || resp.Status != "PENDING" {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestNewClientDefaultsAndValidation(t *testing.T) {
	if _, err := New(Config{BaseURL: "http://evo.local"}); err == nil {
		t.Fatalf("expected api key validation error")
	}
	if _, err := New(Config{APIKey: "key"}); err == nil {
		t.Fatalf("expected base url validation error")
	}
	client, err := New(Config{APIKey: "key", BaseURL: "http://evo.local/"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.baseURL != "http://evo.local" {
		t.Fatalf("expected trailing slash trimmed, got %s", client.baseURL)
	}
	if client.httpClient == nil || client.httpClient.Timeout != 15*time.Second {
		t.Fatalf("expected default timeout")
	}
	if client.maxRetries != 0 {
		t.Fatalf("expected retries to default to 0")
	}
	if client.backoff != 250*time.Millisecond {
		t.Fatalf("expected default backoff, got %s", client.backoff)
	}
	if client.logger == nil {
		t.Fatalf("expected default logger")
	}
}

func TestSendTextUnparseableBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<html>proxy page</html>"))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	resp, err := client.SendText(context.Background(), "clinic-main", SendTextRequest{Number: "+1555", Text: "hi"})
	if err != nil {
		t.Fatalf("2xx with garbage body should count as delivered: %v", err)
	}
	if resp.Key.ID != "" {
		t.Fatalf("expected empty message id, got %q", resp.Key.ID)
	}
}

func TestSendTextHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":400,"error":"number not on whatsapp"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	_, err := client.SendText(context.Background(), "clinic-main", SendTextRequest{Number: "+1555", Text: "hi"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || !strings.Contains(apiErr.Message, "not on whatsapp") {
		t.Fatalf("unexpected api error: %#v", apiErr)
	}
}

func TestConnectionStateShapes(t *testing.T) {
	var body atomic.Value
	body.Store(`{"instance":{"instanceName":"clinic-main","state":"open"}}`)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/instance/connectionState/") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body.Load().(string)))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	state, err := client.ConnectionState(context.Background(), "clinic-main")
	if err != nil {
		t.Fatalf("connection state: %v", err)
	}
	if state != StateOpen {
		t.Fatalf("expected open from nested shape, got %q", state)
	}

	body.Store(`{"state":"connecting"}`)
	state, err = client.ConnectionState(context.Background(), "clinic-main")
	if err != nil {
		t.Fatalf("connection state flat: %v", err)
	}
	if state != "connecting" {
		t.Fatalf("expected connecting from flat shape, got %q", state)
	}
}

func TestSendPresence(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	err := client.SendPresence(context.Background(), "clinic-main", PresenceRequest{
		Number:   "+1555",
		Presence: PresenceComposing,
		Delay:    800,
	})
	if err != nil {
		t.Fatalf("send presence: %v", err)
	}
	if path != "/chat/sendPresence/clinic-main" {
		t.Fatalf("unexpected path %s", path)
	}
	if err := client.SendPresence(context.Background(), "clinic-main", PresenceRequest{Number: "+1555", Presence: "typing"}); err == nil {
		t.Fatalf("expected presence validation error")
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&calls, 1)
		if current == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"status":500,"error":"server error"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"key":{"id":"BAE5RETRY"},"status":"PENDING"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{MaxRetries: 2, Backoff: 5 * time.Millisecond})
	resp, err := client.SendText(context.Background(), "clinic-main", SendTextRequest{Number: "+100", Text: "retry"})
	if err != nil {
		t.Fatalf("send after retry: %v", err)
	}
	if resp.Key.ID != "BAE5RETRY" {
		t.Fatalf("unexpected response: %#v", resp)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestNoRetryByDefault(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	if _, err := client.SendText(context.Background(), "clinic-main", SendTextRequest{Number: "+1", Text: "x"}); err == nil {
		t.Fatalf("expected http error")
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestSendEnvelopeEndpoints(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Write([]byte(`{"key":{"id":"BAE5ENV"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	if _, err := client.SendLocation(context.Background(), "clinic-main", SendLocationRequest{
		Number: "+1555", Latitude: 40.4168, Longitude: -3.7038,
	}); err != nil {
		t.Fatalf("send location: %v", err)
	}
	if _, err := client.SendButtons(context.Background(), "clinic-main", SendButtonsRequest{
		Number: "+1555", Text: "Pick a slot", Buttons: []Button{{ID: "slot-1", Title: "10:00"}},
	}); err != nil {
		t.Fatalf("send buttons: %v", err)
	}
	if _, err := client.SendTemplate(context.Background(), "clinic-main", SendTemplateRequest{
		Number: "+1555", Name: "appointment_reminder", Language: "en",
	}); err != nil {
		t.Fatalf("send template: %v", err)
	}
	want := []string{
		"/message/sendLocation/clinic-main",
		"/message/sendButtons/clinic-main",
		"/message/sendTemplate/clinic-main",
	}
	for i, p := range want {
		if paths[i] != p {
			t.Fatalf("expected path %s, got %s", p, paths[i])
		}
	}
}

func TestClientValidationShortCircuits(t *testing.T) {
	client := newTestClient(t, nil, Config{})
	if _, err := client.SendText(context.Background(), "", SendTextRequest{Number: "+1", Text: "x"}); err == nil {
		t.Fatalf("expected instance validation error")
	}
	if _, err := client.SendText(context.Background(), "inst", SendTextRequest{}); err == nil {
		t.Fatalf("expected payload validation error")
	}
	if _, err := client.ConnectionState(context.Background(), " "); err == nil {
		t.Fatalf("expected instance validation error")
	}
	if err := client.SendPresence(context.Background(), "", PresenceRequest{}); err == nil {
		t.Fatalf("expected instance validation error")
	}
	if _, err := client.SendLocation(context.Background(), "inst", SendLocationRequest{Number: "+1"}); err == nil {
		t.Fatalf("expected coordinates validation error")
	}
	if _, err := client.SendButtons(context.Background(), "inst", SendButtonsRequest{Number: "+1", Text: "t"}); err == nil {
		t.Fatalf("expected buttons validation error")
	}
	if _, err := client.SendTemplate(context.Background(), "inst", SendTemplateRequest{Number: "+1"}); err == nil {
		t.Fatalf("expected template name validation error")
	}
}

func TestPayloadValidationErrors(t *testing.T) {
	if err := (SendTextRequest{}).validate(); err == nil {
		t.Fatalf("expected number validation error")
	}
	if err := (SendTextRequest{Number: "+1"}).validate(); err == nil {
		t.Fatalf("expected text validation error")
	}
	if err := (SendTextRequest{Number: "+1", Text: "hi"}).validate(); err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if err := (PresenceRequest{Number: "+1", Presence: PresenceUnavailable}).validate(); err != nil {
		t.Fatalf("unavailable is a valid presence: %v", err)
	}
}

func TestNormalizeJID(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+15551234567", "15551234567@s.whatsapp.net"},
		{"+1 555-123-4567", "15551234567@s.whatsapp.net"},
		{" 34911222333 ", "34911222333@s.whatsapp.net"},
		{"15551234567@s.whatsapp.net", "15551234567@s.whatsapp.net"},
		{"98765@lid", "98765@lid"},
		{"", ""},
		{" + ", ""},
	}
	for _, tc := range cases {
		if got := NormalizeJID(tc.in); got != tc.want {
			t.Fatalf("NormalizeJID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestShouldRetryLogic(t *testing.T) {
	if !shouldRetry(0, timeoutErr{}) {
		t.Fatalf("expected timeout errors to retry")
	}
	if shouldRetry(0, context.Canceled) {
		t.Fatalf("context cancel should not retry")
	}
	if !shouldRetry(http.StatusTooManyRequests, nil) {
		t.Fatalf("429 should retry")
	}
	if !shouldRetry(http.StatusBadGateway, nil) {
		t.Fatalf("5xx should retry")
	}
	if shouldRetry(http.StatusBadRequest, nil) {
		t.Fatalf("4xx (except 429) should not retry")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestAPIErrorFormatting(t *testing.T) {
	withMessage := &APIError{StatusCode: 400, Message: "bad number"}
	if !strings.Contains(withMessage.Error(), "bad number") {
		t.Fatalf("expected message in error string")
	}
	fallback := &APIError{StatusCode: 503}
	if !strings.Contains(fallback.Error(), "503") {
		t.Fatalf("expected status fallback message")
	}
}

func TestDecodeAPIErrorFallback(t *testing.T) {
	err := decodeAPIError(500, []byte("upstream blew up"))
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Message != "upstream blew up" {
		t.Fatalf("expected raw body as message, got %#v", err)
	}
	if apiErr.StatusCode != 500 {
		t.Fatalf("expected status carried through, got %d", apiErr.StatusCode)
	}
}

func TestInvokeContextCancellation(t *testing.T) {
	client := newTestClient(t, nil, Config{})
	client.httpClient = &http.Client{Transport: cancelOnContextTransport{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.invoke(ctx, http.MethodGet, "/test", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}
}

func TestInvokeSleepCancellation(t *testing.T) {
	client := newTestClient(t, nil, Config{MaxRetries: 1, Backoff: 50 * time.Millisecond})
	client.httpClient = &http.Client{Transport: retryTransport{}}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	if _, err := client.invoke(ctx, http.MethodGet, "/retry", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation during sleep, got %v", err)
	}
}

type cancelOnContextTransport struct{}

func (cancelOnContextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	<-req.Context().Done()
	return nil, req.Context().Err()
}

type retryTransport struct{}

func (retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusBadGateway,
		Body:       io.NopCloser(strings.NewReader("{}")),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

func newTestClient(t *testing.T, server *httptest.Server, cfg Config) *Client {
	t.Helper()
	if server != nil {
		cfg.BaseURL = server.URL
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://evolution.invalid"
	}
	cfg.APIKey = "test"
	cfg.Timeout = 2 * time.Second
	cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}
