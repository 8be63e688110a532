package sink

import (
	"context"
	"fmt"

	"github.com/relaykit/relay/pkg/events"
	log "github.com/sirupsen/logrus"
)

// HTTPSink POSTs newline-joined batches to a remote collector endpoint.
// Delivery is best-effort and non-throwing: retryable failures are retried
// with backoff, everything else is reported through the drop callback and
// the flush cycle moves on to the next batch.
type HTTPSink struct {
	core      *bufferedCore
	transport *transport
	logger    *log.Logger
}

// NewHTTPSink creates a network sink targeting cfg.Endpoint.
func NewHTTPSink(cfg HTTPConfig, logger *log.Logger) (*HTTPSink, error) {
	cfg = cfg.withDefaults()
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("http sink requires an endpoint")
	}

	s := &HTTPSink{
		transport: newTransport(cfg.Endpoint, cfg.Headers, cfg.Retry, cfg.IdempotencyKey, cfg.OnDrop, logger),
		logger:    logger,
	}
	s.core = newBufferedCore("http", cfg.MaxBuffer, cfg.BatchSize, cfg.Overflow, cfg.FlushInterval, s.pass, logger)
	return s, nil
}

// Name returns the sink name
func (s *HTTPSink) Name() string {
	return "http"
}

// Write enqueues an event for the next flush
func (s *HTTPSink) Write(ctx context.Context, event events.Event) (WriteResult, error) {
	return s.core.write(event)
}

// Flush delivers all pending batches, or drops them per policy
func (s *HTTPSink) Flush(ctx context.Context) error {
	return s.core.flush(ctx)
}

// Close stops the periodic trigger and runs one final drain
func (s *HTTPSink) Close(ctx context.Context) error {
	return s.core.close(ctx)
}

func (s *HTTPSink) pass(ctx context.Context) error {
	for _, b := range s.core.buf.DrainBatches(s.core.batchSize) {
		// One batch's exhaustion never aborts the cycle; sendBatch reports
		// drops itself.
		s.transport.sendBatch(ctx, b.Records)
	}
	return nil
}
