package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/relaykit/relay/pkg/buffer"
	"github.com/relaykit/relay/pkg/events"
	log "github.com/sirupsen/logrus"
)

// FileSink appends events to one JSONL file per session under a base
// directory. Each batch is a single append, so file content order matches
// write order. Storage errors propagate out of Flush rather than going to
// the drop callback: a failing disk is a configuration problem the caller
// should see immediately.
type FileSink struct {
	core   *bufferedCore
	dir    string
	logger *log.Logger
}

// NewFileSink creates a file sink rooted at cfg.Dir. The directory is
// created on first append.
func NewFileSink(cfg FileConfig, logger *log.Logger) (*FileSink, error) {
	cfg = cfg.withDefaults()
	if cfg.Dir == "" {
		return nil, fmt.Errorf("file sink requires a directory")
	}

	s := &FileSink{
		dir:    cfg.Dir,
		logger: logger,
	}
	s.core = newBufferedCore("file", cfg.MaxBuffer, cfg.BatchSize, cfg.Overflow, cfg.FlushInterval, s.pass, logger)
	return s, nil
}

// Name returns the sink name
func (s *FileSink) Name() string {
	return "file"
}

// Write enqueues an event for the next flush
func (s *FileSink) Write(ctx context.Context, event events.Event) (WriteResult, error) {
	return s.core.write(event)
}

// Flush drains all pending records to disk
func (s *FileSink) Flush(ctx context.Context) error {
	return s.core.flush(ctx)
}

// Close stops the periodic trigger and drains everything left
func (s *FileSink) Close(ctx context.Context) error {
	return s.core.close(ctx)
}

func (s *FileSink) pass(ctx context.Context) error {
	for _, b := range s.core.buf.DrainBatches(s.core.batchSize) {
		if err := s.appendBatch(b); err != nil {
			return err
		}
	}
	return nil
}

// appendBatch writes one batch as a single atomic append to the session's
// file, creating directory and file lazily.
func (s *FileSink) appendBatch(b buffer.Batch) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", s.dir, err)
	}

	path := filepath.Join(s.dir, sessionFileName(b.Session))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	data := append(joinRecords(b.Records), '\n')
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write to file %s: %w", path, err)
	}
	return nil
}

var fileNameSanitizer = strings.NewReplacer("/", "_", "\\", "_", "..", "_")

func sessionFileName(session string) string {
	return fileNameSanitizer.Replace(session) + ".jsonl"
}
