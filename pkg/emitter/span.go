package emitter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/relaykit/relay/pkg/events"
)

// Span tracks one timed operation between StartSpan and End.
type Span struct {
	emitter *Emitter
	session string
	id      string
	name    string
	started time.Time
	ended   bool
}

// StartSpan emits a span-start event and returns a handle whose End emits
// the matching span-end with the measured duration.
func (e *Emitter) StartSpan(ctx context.Context, session, name string) (*Span, error) {
	span := &Span{
		emitter: e,
		session: session,
		id:      uuid.NewString(),
		name:    name,
		started: time.Now(),
	}
	if err := e.Emit(ctx, events.NewSpanStartEvent(session, span.id, name)); err != nil {
		return nil, err
	}
	return span, nil
}

// ID returns the span identifier shared by the start and end events.
func (s *Span) ID() string {
	return s.id
}

// End emits the span-end event. Calling End again is a no-op.
func (s *Span) End(ctx context.Context) error {
	if s.ended {
		return nil
	}
	s.ended = true
	return s.emitter.Emit(ctx, events.NewSpanEndEvent(s.session, s.id, s.name, time.Since(s.started)))
}
