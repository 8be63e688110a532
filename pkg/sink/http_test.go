package sink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/relaykit/relay/pkg/events"
	log "github.com/sirupsen/logrus"
)

func testLogger() *log.Logger {
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)
	return logger
}

// captureServer records every request body and answers with the next status
// from the script, repeating the last one once the script runs out.
type captureServer struct {
	mu     sync.Mutex
	bodies []string
	script []int
}

func (c *captureServer) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	c.mu.Lock()
	c.bodies = append(c.bodies, string(body))
	status := http.StatusOK
	if len(c.script) > 0 {
		status = c.script[0]
		if len(c.script) > 1 {
			c.script = c.script[1:]
		}
	}
	c.mu.Unlock()

	w.WriteHeader(status)
}

func (c *captureServer) requests() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.bodies...)
}

func fastRetry() RetryConfig {
	return RetryConfig{Retries: 2, Base: time.Millisecond, Max: 5 * time.Millisecond}
}

func newTestHTTPSink(t *testing.T, endpoint string, cfg HTTPConfig) *HTTPSink {
	t.Helper()
	cfg.Endpoint = endpoint
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = fastRetry()
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Hour // keep the periodic trigger out of the way
	}
	sink, err := NewHTTPSink(cfg, testLogger())
	if err != nil {
		t.Fatalf("Failed to create http sink: %v", err)
	}
	return sink
}

func TestHTTPSink_RetryThenSuccess(t *testing.T) {
	capture := &captureServer{script: []int{http.StatusInternalServerError, http.StatusOK}}
	server := httptest.NewServer(http.HandlerFunc(capture.handler))
	defer server.Close()

	var drops int
	sink := newTestHTTPSink(t, server.URL, HTTPConfig{
		OnDrop: func(records [][]byte, cause error) { drops++ },
	})
	defer sink.Close(context.Background())

	ctx := context.Background()
	if _, err := sink.Write(ctx, events.NewMessageEvent("s1", "user", "hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	requests := capture.requests()
	if len(requests) != 2 {
		t.Fatalf("expected 2 delivery attempts, got %d", len(requests))
	}
	if requests[0] != requests[1] {
		t.Error("expected the same payload on retry")
	}
	if !strings.Contains(requests[1], "hello") {
		t.Errorf("expected the record in the body, got %s", requests[1])
	}
	if drops != 0 {
		t.Errorf("expected no drops, got %d", drops)
	}
}

func TestHTTPSink_ExhaustionDropsOnlyFailingBatch(t *testing.T) {
	// Requests carrying the poison marker always fail with a server error;
	// everything else succeeds.
	var mu sync.Mutex
	var delivered []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "poison") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		mu.Lock()
		delivered = append(delivered, string(body))
		mu.Unlock()
	}))
	defer server.Close()

	var dropped [][]byte
	sink := newTestHTTPSink(t, server.URL, HTTPConfig{
		BatchSize: 1,
		OnDrop: func(records [][]byte, cause error) {
			dropped = append(dropped, records...)
		},
	})
	defer sink.Close(context.Background())

	ctx := context.Background()
	sink.Write(ctx, events.NewMessageEvent("s1", "user", "poison"))
	sink.Write(ctx, events.NewMessageEvent("s2", "user", "healthy"))
	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("flush must not fail on a dropped batch: %v", err)
	}

	if len(dropped) != 1 || !strings.Contains(string(dropped[0]), "poison") {
		t.Errorf("expected exactly the poison record dropped, got %q", dropped)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 || !strings.Contains(delivered[0], "healthy") {
		t.Errorf("expected the healthy record delivered, got %q", delivered)
	}
}

func TestHTTPSink_OversizeSplit(t *testing.T) {
	capture := &captureServer{script: []int{http.StatusRequestEntityTooLarge, http.StatusOK, http.StatusOK}}
	server := httptest.NewServer(http.HandlerFunc(capture.handler))
	defer server.Close()

	var drops int
	sink := newTestHTTPSink(t, server.URL, HTTPConfig{
		BatchSize: 10,
		OnDrop:    func(records [][]byte, cause error) { drops++ },
	})
	defer sink.Close(context.Background())

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		sink.Write(ctx, events.NewMessageEvent("s1", "user", fmt.Sprintf("msg%d", i)))
	}
	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	requests := capture.requests()
	if len(requests) != 3 {
		t.Fatalf("expected full batch plus two halves, got %d requests", len(requests))
	}
	// The two halves together carry all four records, in order, exactly once.
	recombined := requests[1] + "\n" + requests[2]
	for i := 0; i < 4; i++ {
		marker := fmt.Sprintf("msg%d", i)
		if strings.Count(recombined, marker) != 1 {
			t.Errorf("expected %s delivered exactly once across the halves", marker)
		}
	}
	if drops != 0 {
		t.Errorf("expected no drops, got %d", drops)
	}
}

func TestHTTPSink_OversizeSingleRecordDropped(t *testing.T) {
	capture := &captureServer{script: []int{http.StatusRequestEntityTooLarge}}
	server := httptest.NewServer(http.HandlerFunc(capture.handler))
	defer server.Close()

	var dropped [][]byte
	sink := newTestHTTPSink(t, server.URL, HTTPConfig{
		OnDrop: func(records [][]byte, cause error) {
			dropped = append(dropped, records...)
		},
	})
	defer sink.Close(context.Background())

	ctx := context.Background()
	sink.Write(ctx, events.NewMessageEvent("s1", "user", "too big to split"))
	sink.Flush(ctx)

	// A lone oversize record cannot be split; one attempt, then dropped.
	if got := len(capture.requests()); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
	if len(dropped) != 1 {
		t.Errorf("expected the record dropped, got %d", len(dropped))
	}
}

func TestHTTPSink_PermanentStatusNoRetry(t *testing.T) {
	capture := &captureServer{script: []int{http.StatusBadRequest}}
	server := httptest.NewServer(http.HandlerFunc(capture.handler))
	defer server.Close()

	var drops int
	sink := newTestHTTPSink(t, server.URL, HTTPConfig{
		OnDrop: func(records [][]byte, cause error) { drops++ },
	})
	defer sink.Close(context.Background())

	ctx := context.Background()
	sink.Write(ctx, events.NewMessageEvent("s1", "user", "rejected"))
	sink.Flush(ctx)

	if got := len(capture.requests()); got != 1 {
		t.Errorf("expected no retry on a client error, got %d attempts", got)
	}
	if drops != 1 {
		t.Errorf("expected 1 drop, got %d", drops)
	}
}

func TestHTTPSink_IdempotencyKeyPerAttempt(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	fail := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		shouldFail := fail
		fail = false
		mu.Unlock()
		if shouldFail {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	sink := newTestHTTPSink(t, server.URL, HTTPConfig{
		IdempotencyKey: func(payload []byte, attempt int) string {
			return fmt.Sprintf("%d-%d", len(payload), attempt)
		},
	})
	defer sink.Close(context.Background())

	ctx := context.Background()
	sink.Write(ctx, events.NewMessageEvent("s1", "user", "keyed"))
	sink.Flush(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(keys) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(keys))
	}
	if keys[0] == "" || keys[1] == "" {
		t.Error("expected an idempotency key on every attempt")
	}
	if keys[0] == keys[1] {
		t.Errorf("expected a fresh key per attempt, got %q twice", keys[0])
	}
}

func TestHTTPSink_BatchedDrainOrdering(t *testing.T) {
	capture := &captureServer{}
	server := httptest.NewServer(http.HandlerFunc(capture.handler))
	defer server.Close()

	sink := newTestHTTPSink(t, server.URL, HTTPConfig{BatchSize: 2, MaxBuffer: 100})
	defer sink.Close(context.Background())

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		sink.Write(ctx, events.NewMessageEvent("s1", "user", fmt.Sprintf("m%d", i)))
	}
	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	requests := capture.requests()
	if len(requests) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(requests))
	}
	if !strings.Contains(requests[0], "m1") || !strings.Contains(requests[0], "m2") || strings.Contains(requests[0], "m3") {
		t.Errorf("expected first batch [m1 m2], got %s", requests[0])
	}
	if !strings.Contains(requests[1], "m3") {
		t.Errorf("expected second batch [m3], got %s", requests[1])
	}
}

func TestHTTPSink_CloseFreezesWrites(t *testing.T) {
	capture := &captureServer{}
	server := httptest.NewServer(http.HandlerFunc(capture.handler))
	defer server.Close()

	sink := newTestHTTPSink(t, server.URL, HTTPConfig{})

	ctx := context.Background()
	sink.Write(ctx, events.NewMessageEvent("s1", "user", "before close"))
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Writes after close are silently ignored and a second close is a no-op.
	sink.Write(ctx, events.NewMessageEvent("s1", "user", "after close"))
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sink.Flush(ctx)

	requests := capture.requests()
	if len(requests) != 1 || !strings.Contains(requests[0], "before close") {
		t.Errorf("expected only the pre-close record delivered, got %q", requests)
	}
	for _, body := range requests {
		if strings.Contains(body, "after close") {
			t.Error("record written after close must not be delivered")
		}
	}
}
