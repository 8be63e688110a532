package sink

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/relaykit/relay/pkg/events"
	log "github.com/sirupsen/logrus"
)

// BeaconFunc attempts fire-and-forget delivery with no response visibility.
// It reports only whether the payload was accepted for sending; the caller
// falls back to the retrying network path when it returns false.
type BeaconFunc func(ctx context.Context, payload []byte) bool

// BeaconSink delivers through a cheap fire-and-forget call when the
// serialized payload is small enough, falling back to the retrying network
// path otherwise. It registers a best-effort flush on termination signals,
// and can stage records in a durable on-disk queue so nothing is lost if
// the process dies between flushes.
type BeaconSink struct {
	core      *bufferedCore
	transport *transport
	beacon    BeaconFunc
	maxBytes  int
	queue     *durableQueue
	chunkSize int
	logger    *log.Logger

	// Immediate mode: no buffering, each write delivers right away and
	// failures go straight to the drop callback.
	immediate bool
	closed    atomic.Bool
	closeOnce sync.Once

	sigCh    chan os.Signal
	hookDone chan struct{}
}

// NewBeaconSink creates a beacon sink targeting cfg.Endpoint.
func NewBeaconSink(cfg BeaconConfig, logger *log.Logger) (*BeaconSink, error) {
	cfg = cfg.withDefaults()
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("beacon sink requires an endpoint")
	}
	if cfg.Durable && cfg.QueueDir == "" {
		return nil, fmt.Errorf("beacon sink durable mode requires a queue directory")
	}
	if cfg.Durable && cfg.Immediate {
		// Immediate mode bypasses the flush cycle, so a durable queue would
		// never be drained.
		return nil, fmt.Errorf("beacon sink durable mode cannot be combined with immediate mode")
	}

	s := &BeaconSink{
		transport: newTransport(cfg.Endpoint, cfg.Headers, cfg.Retry, cfg.IdempotencyKey, cfg.OnDrop, logger),
		beacon:    cfg.Beacon,
		maxBytes:  cfg.BeaconMaxBytes,
		chunkSize: cfg.BatchSize,
		immediate: cfg.Immediate,
		logger:    logger,
		sigCh:     make(chan os.Signal, 1),
		hookDone:  make(chan struct{}),
	}
	if s.beacon == nil {
		s.beacon = defaultBeacon(cfg.Endpoint, cfg.Headers)
	}

	if cfg.Durable {
		queue, err := openDurableQueue(cfg.QueueDir)
		if err != nil {
			return nil, err
		}
		s.queue = queue
	}

	if !cfg.Immediate {
		s.core = newBufferedCore("beacon", cfg.MaxBuffer, cfg.BatchSize, cfg.Overflow, cfg.FlushInterval, s.pass, logger)
	}

	// Exit hook: opportunistic flush when the host is being terminated.
	// Acquired here, released exactly once in Close.
	signal.Notify(s.sigCh, os.Interrupt, syscall.SIGTERM)
	go s.exitHook()

	return s, nil
}

// Name returns the sink name
func (s *BeaconSink) Name() string {
	return "beacon"
}

// Write enqueues an event, or in immediate mode delivers it right away.
func (s *BeaconSink) Write(ctx context.Context, event events.Event) (WriteResult, error) {
	if s.immediate {
		if s.closed.Load() {
			return WriteResult{}, nil
		}
		data, err := events.Encode(event)
		if err != nil {
			return WriteResult{}, err
		}
		s.deliverNow(ctx, data)
		return WriteResult{}, nil
	}
	return s.core.write(event)
}

// Flush drains everything pending, including the durable queue.
func (s *BeaconSink) Flush(ctx context.Context) error {
	if s.immediate {
		return nil
	}
	return s.core.flush(ctx)
}

// Close releases the exit hook, stops the periodic trigger, and runs one
// final drain.
func (s *BeaconSink) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		signal.Stop(s.sigCh)
		close(s.sigCh)
		<-s.hookDone
		s.closed.Store(true)
	})
	if !s.immediate {
		err = s.core.close(ctx)
	}
	return err
}

func (s *BeaconSink) exitHook() {
	defer close(s.hookDone)
	for range s.sigCh {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.Flush(ctx); err != nil {
			s.logger.Debugf("[beacon] exit flush error: %v", err)
		}
		cancel()
	}
}

func (s *BeaconSink) pass(ctx context.Context) error {
	if s.queue != nil {
		return s.durablePass(ctx)
	}
	for _, b := range s.core.buf.DrainBatches(s.core.batchSize) {
		payload := joinRecords(b.Records)
		if s.tryBeacon(ctx, payload) {
			continue
		}
		s.transport.sendBatch(ctx, b.Records)
	}
	return nil
}

// durablePass moves all in-memory pending records into the durable queue,
// then delivers fixed-size chunks oldest first, deleting a chunk only after
// confirmed delivery. A retryable failure halts dequeuing for this pass but
// leaves the chunk and everything behind it intact for the next attempt; a
// permanent failure drops the chunk so it cannot wedge the queue.
func (s *BeaconSink) durablePass(ctx context.Context) error {
	for _, b := range s.core.buf.DrainBatches(s.core.batchSize) {
		if err := s.queue.Push(b.Records); err != nil {
			return err
		}
	}

	for {
		names, records, err := s.queue.Oldest(s.chunkSize)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			return nil
		}

		payload := joinRecords(records)
		if !s.tryBeacon(ctx, payload) {
			if err := s.transport.deliver(ctx, records); err != nil {
				if !isPermanent(err) {
					s.logger.Debugf("[beacon] chunk delivery failed, halting pass: %v", err)
					return nil
				}
				s.transport.drop(records, err)
			}
		}
		if err := s.queue.Remove(names); err != nil {
			return err
		}
	}
}

func (s *BeaconSink) deliverNow(ctx context.Context, record []byte) {
	if s.tryBeacon(ctx, record) {
		return
	}
	if err := s.transport.deliver(ctx, [][]byte{record}); err != nil {
		s.transport.drop([][]byte{record}, err)
	}
}

func (s *BeaconSink) tryBeacon(ctx context.Context, payload []byte) bool {
	if len(payload) > s.maxBytes {
		return false
	}
	if s.beacon(ctx, payload) {
		return true
	}
	s.logger.Debugf("[beacon] transport refused payload of %d bytes, falling back", len(payload))
	return false
}

// defaultBeacon POSTs the payload with a short timeout and ignores the
// response entirely. Success means only that the payload was handed off.
func defaultBeacon(endpoint string, headers map[string]string) BeaconFunc {
	client := &http.Client{Timeout: 3 * time.Second}
	return func(ctx context.Context, payload []byte) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return false
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}
}
