package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/relaykit/relay/internal/utils"
	log "github.com/sirupsen/logrus"
)

// StatusError is the non-success response status that terminated delivery
// of a batch, after any retries the status allowed.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.Code)
}

// isOversize reports whether the endpoint rejected the payload as too large.
func isOversize(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusRequestEntityTooLarge
}

// isPermanent reports whether retrying can never fix the failure: a
// non-retryable status, including unsplittable oversize. Transport errors
// and retryable statuses that exhausted the retry budget are not permanent.
func isPermanent(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && !RetryableStatus(se.Code)
}

// IdempotencyKeyFunc derives a per-attempt idempotency token from the batch
// payload and the 1-based attempt number.
type IdempotencyKeyFunc func(payload []byte, attempt int) string

// transport POSTs newline-joined record batches to an HTTP endpoint through
// a retrying client. The retry policy, backoff and per-attempt idempotency
// header all hang off the retryablehttp hooks.
type transport struct {
	client   *retryablehttp.Client
	endpoint string
	headers  map[string]string
	idemKey  IdempotencyKeyFunc
	onDrop   DropFunc
	logger   *log.Logger

	// inflight holds the payload of the batch currently being delivered so
	// the request hook can derive the idempotency key per attempt. Batches
	// are delivered one at a time per sink, guarded here for safety.
	mu       sync.Mutex
	inflight []byte
}

func newTransport(endpoint string, headers map[string]string, retry RetryConfig, idemKey IdempotencyKeyFunc, onDrop DropFunc, logger *log.Logger) *transport {
	t := &transport{
		endpoint: endpoint,
		headers:  headers,
		idemKey:  idemKey,
		onDrop:   onDrop,
		logger:   logger,
	}

	retry = retry.withDefaults()
	client := retryablehttp.NewClient()
	client.RetryMax = retry.Retries
	client.CheckRetry = checkRetry
	client.Backoff = retry.httpBackoff
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = &utils.LeveledLogrus{Logger: logger}
	client.RequestLogHook = t.requestHook
	t.client = client

	return t
}

func (t *transport) requestHook(_ retryablehttp.Logger, req *http.Request, attempt int) {
	if t.idemKey == nil {
		return
	}
	t.mu.Lock()
	payload := t.inflight
	t.mu.Unlock()
	req.Header.Set("Idempotency-Key", t.idemKey(payload, attempt+1))
}

// deliver sends one batch as a single newline-joined POST body. No
// splitting, no drop reporting; callers decide what a failure means.
func (t *transport) deliver(ctx context.Context, records [][]byte) error {
	payload := joinRecords(records)

	t.mu.Lock()
	t.inflight = payload
	t.mu.Unlock()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed after retries: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &StatusError{Code: resp.StatusCode}
}

// sendBatch delivers a batch with the one-shot oversize downshift: on
// payload-too-large the batch is split exactly in half and each half is
// delivered independently, never split again. Every failed (sub)batch is
// reported through the drop callback; sendBatch itself never fails the
// flush cycle.
func (t *transport) sendBatch(ctx context.Context, records [][]byte) {
	err := t.deliver(ctx, records)
	if err == nil {
		return
	}

	if isOversize(err) && len(records) > 1 {
		mid := len(records) / 2
		for _, half := range [][][]byte{records[:mid], records[mid:]} {
			if herr := t.deliver(ctx, half); herr != nil {
				t.drop(half, herr)
			}
		}
		return
	}

	t.drop(records, err)
}

func (t *transport) drop(records [][]byte, cause error) {
	t.logger.Warnf("Dropping batch of %d records: %v", len(records), cause)
	if t.onDrop != nil {
		t.onDrop(records, cause)
	}
}

func joinRecords(records [][]byte) []byte {
	return bytes.Join(records, []byte("\n"))
}
