package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brightline-ai/concierge/pkg/logging"
)

type stubSummaries struct {
	mu      sync.Mutex
	summary string
	err     error
	calls   int
}

func (s *stubSummaries) LatestSummary(_ context.Context, _, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.summary, s.err
}

func (s *stubSummaries) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestRecallWithoutIndexServesStore(t *testing.T) {
	store := &stubSummaries{summary: "Asked about Botox last month."}
	r := newRecall(store, nil, RecallConfig{ReadsEnabled: true}, logging.Default())

	got, err := r.LatestSummary(context.Background(), "+15550001111", "clinic-1")
	if err != nil {
		t.Fatalf("LatestSummary: %v", err)
	}
	if got != "Asked about Botox last month." {
		t.Fatalf("unexpected summary %q", got)
	}
}

func TestRecallReadsEnabledPrefersIndex(t *testing.T) {
	store := &stubSummaries{summary: "stale store summary"}
	idx := &stubIndex{hits: []IndexHit{{Text: "Prefers Dr. Ruiz, books mornings.", Score: 0.92}}}
	r := newRecall(store, idx, RecallConfig{ReadsEnabled: true}, logging.Default())

	got, err := r.LatestSummary(context.Background(), "+15550001111", "clinic-1")
	if err != nil {
		t.Fatalf("LatestSummary: %v", err)
	}
	if got != "Prefers Dr. Ruiz, books mornings." {
		t.Fatalf("expected the index answer, got %q", got)
	}
	if store.callCount() != 0 {
		t.Fatal("store should not be consulted when the index answers")
	}
}

func TestRecallReadsEnabledFallsBackOnError(t *testing.T) {
	store := &stubSummaries{summary: "store summary"}
	idx := &stubIndex{err: errors.New("index unavailable")}
	r := newRecall(store, idx, RecallConfig{ReadsEnabled: true}, logging.Default())

	got, err := r.LatestSummary(context.Background(), "+15550001111", "clinic-1")
	if err != nil {
		t.Fatalf("LatestSummary: %v", err)
	}
	if got != "store summary" {
		t.Fatalf("expected store fallback, got %q", got)
	}
}

func TestRecallReadsEnabledFallsBackOnEmptyHit(t *testing.T) {
	store := &stubSummaries{summary: "store summary"}
	idx := &stubIndex{hits: []IndexHit{{Text: "   "}}}
	r := newRecall(store, idx, RecallConfig{ReadsEnabled: true}, logging.Default())

	got, err := r.LatestSummary(context.Background(), "+15550001111", "clinic-1")
	if err != nil {
		t.Fatalf("LatestSummary: %v", err)
	}
	if got != "store summary" {
		t.Fatalf("expected store fallback, got %q", got)
	}
}

func TestRecallReadsDisabledSkipsIndex(t *testing.T) {
	store := &stubSummaries{summary: "store summary"}
	idx := &stubIndex{hits: []IndexHit{{Text: "index memory"}}}
	r := newRecall(store, idx, RecallConfig{}, logging.Default())

	got, err := r.LatestSummary(context.Background(), "+15550001111", "clinic-1")
	if err != nil {
		t.Fatalf("LatestSummary: %v", err)
	}
	if got != "store summary" {
		t.Fatalf("unexpected summary %q", got)
	}
	if idx.searchCount() != 0 {
		t.Fatal("index should not be consulted when reads are disabled")
	}
}

func TestRecallShadowModeServesStoreAndComparesAsync(t *testing.T) {
	store := &stubSummaries{summary: "store summary"}
	idx := &stubIndex{hits: []IndexHit{{Text: "index memory"}}}
	r := newRecall(store, idx, RecallConfig{
		ReadsEnabled:     true,
		ShadowMode:       true,
		CanarySampleRate: 1.0,
	}, logging.Default())
	r.sample = func() float64 { return 0.5 }

	got, err := r.LatestSummary(context.Background(), "+15550001111", "clinic-1")
	if err != nil {
		t.Fatalf("LatestSummary: %v", err)
	}
	if got != "store summary" {
		t.Fatalf("shadow mode must serve the store answer, got %q", got)
	}
	waitFor(func() bool { return idx.searchCount() == 1 }, 5*time.Second, t)
}

func TestRecallShadowModeRespectsSampleRate(t *testing.T) {
	store := &stubSummaries{summary: "store summary"}
	idx := &stubIndex{}
	r := newRecall(store, idx, RecallConfig{
		ShadowMode:       true,
		CanarySampleRate: 0.1,
	}, logging.Default())
	r.sample = func() float64 { return 0.9 }

	if _, err := r.LatestSummary(context.Background(), "+15550001111", "clinic-1"); err != nil {
		t.Fatalf("LatestSummary: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if idx.searchCount() != 0 {
		t.Fatal("read above the sample rate should skip the index")
	}
}

func TestRecallConfigTimeoutFloor(t *testing.T) {
	cfg := RecallConfig{Timeout: 100 * time.Millisecond, CanarySampleRate: 3.0}.withDefaults()
	if cfg.Timeout != 800*time.Millisecond {
		t.Fatalf("expected timeout floored to 800ms, got %s", cfg.Timeout)
	}
	if cfg.CanarySampleRate != 1.0 {
		t.Fatalf("expected sample rate clamped to 1.0, got %f", cfg.CanarySampleRate)
	}
}
