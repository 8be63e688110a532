package emitter

import (
	"context"
	"fmt"

	"github.com/relaykit/relay/pkg/events"
	"github.com/relaykit/relay/pkg/middleware"
	"github.com/relaykit/relay/pkg/sink"
	log "github.com/sirupsen/logrus"
)

// Config holds emitter configuration
type Config struct {
	Tags        map[string]string
	Middlewares []middleware.Middleware
}

// Emitter is the top-level façade: it runs events through the middleware
// chain and fans them out to every configured sink.
type Emitter struct {
	sinks  []sink.Sink
	chain  []middleware.Middleware
	logger *log.Logger
}

// New creates an emitter over the given sinks. Static tags, when present,
// are injected ahead of the user middleware chain.
func New(config Config, sinks []sink.Sink, logger *log.Logger) *Emitter {
	var chain []middleware.Middleware
	if len(config.Tags) > 0 {
		chain = append(chain, middleware.WithTags(config.Tags))
	}
	chain = append(chain, config.Middlewares...)

	return &Emitter{
		sinks:  sinks,
		chain:  chain,
		logger: logger,
	}
}

// Emit runs an event through the middleware chain and hands it to every
// sink. Per-sink write errors are returned combined; a dropped event is not
// an error.
func (e *Emitter) Emit(ctx context.Context, event events.Event) error {
	event, ok := middleware.Apply(e.chain, event)
	if !ok {
		return nil
	}

	var firstErr error
	for _, s := range e.sinks {
		if _, err := s.Write(ctx, event); err != nil {
			e.logger.Debugf("Sink %s error writing %s event: %v", s.Name(), event.Type(), err)
			if firstErr == nil {
				firstErr = fmt.Errorf("sink %s: %w", s.Name(), err)
			}
		}
	}
	return firstErr
}

// Message emits a chat message event
func (e *Emitter) Message(ctx context.Context, session, role, content string) error {
	return e.Emit(ctx, events.NewMessageEvent(session, role, content))
}

// ToolCall emits a tool invocation event
func (e *Emitter) ToolCall(ctx context.Context, session, tool string, input, output any, callErr string) error {
	return e.Emit(ctx, events.NewToolCallEvent(session, tool, input, output, callErr))
}

// Usage emits a usage metrics event
func (e *Emitter) Usage(ctx context.Context, session string, metrics map[string]float64) error {
	return e.Emit(ctx, events.NewUsageEvent(session, metrics))
}

// Flush flushes every sink
func (e *Emitter) Flush(ctx context.Context) error {
	var firstErr error
	for _, s := range e.sinks {
		if err := s.Flush(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sink %s: %w", s.Name(), err)
		}
	}
	return firstErr
}

// Close closes every sink, draining whatever is still pending
func (e *Emitter) Close(ctx context.Context) error {
	var firstErr error
	for _, s := range e.sinks {
		if err := s.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sink %s: %w", s.Name(), err)
		}
	}
	return firstErr
}
