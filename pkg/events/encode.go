package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// envelope is the wire representation of an event: one JSON object per
// record, with type, timestamp and sessionId always present.
type envelope struct {
	Type      EventType          `json:"type"`
	Timestamp string             `json:"timestamp"`
	SessionID string             `json:"sessionId"`
	Tags      map[string]string  `json:"tags,omitempty"`
	Role      string             `json:"role,omitempty"`
	Content   string             `json:"content,omitempty"`
	Tool      string             `json:"tool,omitempty"`
	Input     any                `json:"input,omitempty"`
	Output    any                `json:"output,omitempty"`
	Error     string             `json:"error,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	SpanID    string             `json:"spanId,omitempty"`
	Name      string             `json:"name,omitempty"`
	Duration  *int64             `json:"durationMs,omitempty"`
}

// Encode serializes an event to its single-line JSON wire form.
func Encode(event Event) ([]byte, error) {
	env := envelope{
		Type:      event.Type(),
		Timestamp: event.Timestamp().UTC().Format(time.RFC3339Nano),
		SessionID: event.SessionID(),
	}

	switch e := event.(type) {
	case MessageEvent:
		env.Tags = e.Tags
		env.Role = e.Role
		env.Content = e.Content
	case ToolCallEvent:
		env.Tags = e.Tags
		env.Tool = e.Tool
		env.Input = e.Input
		env.Output = e.Output
		env.Error = e.Error
	case UsageEvent:
		env.Tags = e.Tags
		env.Metrics = e.Metrics
	case SpanStartEvent:
		env.Tags = e.Tags
		env.SpanID = e.SpanID
		env.Name = e.Name
	case SpanEndEvent:
		env.Tags = e.Tags
		env.SpanID = e.SpanID
		env.Name = e.Name
		env.Duration = &e.DurationMs
	default:
		return nil, fmt.Errorf("unknown event type: %v", event.Type())
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

// Decode parses a single-line JSON record back into a typed event.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, env.Timestamp)
	if err != nil {
		ts = time.Now()
	}
	base := BaseEvent{EventTimestamp: ts, EventType: env.Type, Session: env.SessionID, Tags: env.Tags}

	switch env.Type {
	case EventTypeMessage:
		return MessageEvent{BaseEvent: base, Role: env.Role, Content: env.Content}, nil
	case EventTypeToolCall:
		return ToolCallEvent{BaseEvent: base, Tool: env.Tool, Input: env.Input, Output: env.Output, Error: env.Error}, nil
	case EventTypeUsage:
		return UsageEvent{BaseEvent: base, Metrics: env.Metrics}, nil
	case EventTypeSpanStart:
		return SpanStartEvent{BaseEvent: base, SpanID: env.SpanID, Name: env.Name}, nil
	case EventTypeSpanEnd:
		var d int64
		if env.Duration != nil {
			d = *env.Duration
		}
		return SpanEndEvent{BaseEvent: base, SpanID: env.SpanID, Name: env.Name, DurationMs: d}, nil
	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}
