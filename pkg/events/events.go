package events

import (
	"time"
)

// Event is the base interface for all telemetry events
type Event interface {
	Type() EventType
	Timestamp() time.Time
	SessionID() string
}

// EventType represents the type of event
type EventType string

const (
	EventTypeMessage   EventType = "message"
	EventTypeToolCall  EventType = "tool_call"
	EventTypeUsage     EventType = "usage"
	EventTypeSpanStart EventType = "span_start"
	EventTypeSpanEnd   EventType = "span_end"
)

// BaseEvent provides common event fields
type BaseEvent struct {
	EventTimestamp time.Time
	EventType      EventType
	Session        string
	Tags           map[string]string
}

func (e BaseEvent) Timestamp() time.Time {
	return e.EventTimestamp
}

func (e BaseEvent) Type() EventType {
	return e.EventType
}

func (e BaseEvent) SessionID() string {
	return e.Session
}

// MessageEvent carries a single chat message
type MessageEvent struct {
	BaseEvent
	Role    string
	Content string
}

func NewMessageEvent(session, role, content string) MessageEvent {
	return MessageEvent{
		BaseEvent: BaseEvent{EventTimestamp: time.Now(), EventType: EventTypeMessage, Session: session},
		Role:      role,
		Content:   content,
	}
}

// ToolCallEvent records a tool invocation and its result
type ToolCallEvent struct {
	BaseEvent
	Tool   string
	Input  any
	Output any
	Error  string
}

func NewToolCallEvent(session, tool string, input, output any, callErr string) ToolCallEvent {
	return ToolCallEvent{
		BaseEvent: BaseEvent{EventTimestamp: time.Now(), EventType: EventTypeToolCall, Session: session},
		Tool:      tool,
		Input:     input,
		Output:    output,
		Error:     callErr,
	}
}

// UsageEvent carries named numeric usage metrics (token counts, resource usage)
type UsageEvent struct {
	BaseEvent
	Metrics map[string]float64
}

func NewUsageEvent(session string, m map[string]float64) UsageEvent {
	return UsageEvent{
		BaseEvent: BaseEvent{EventTimestamp: time.Now(), EventType: EventTypeUsage, Session: session},
		Metrics:   m,
	}
}

// SpanStartEvent marks the beginning of a timed operation
type SpanStartEvent struct {
	BaseEvent
	SpanID string
	Name   string
}

func NewSpanStartEvent(session, spanID, name string) SpanStartEvent {
	return SpanStartEvent{
		BaseEvent: BaseEvent{EventTimestamp: time.Now(), EventType: EventTypeSpanStart, Session: session},
		SpanID:    spanID,
		Name:      name,
	}
}

// SpanEndEvent marks the end of a timed operation
type SpanEndEvent struct {
	BaseEvent
	SpanID     string
	Name       string
	DurationMs int64
}

func NewSpanEndEvent(session, spanID, name string, duration time.Duration) SpanEndEvent {
	return SpanEndEvent{
		BaseEvent:  BaseEvent{EventTimestamp: time.Now(), EventType: EventTypeSpanEnd, Session: session},
		SpanID:     spanID,
		Name:       name,
		DurationMs: duration.Milliseconds(),
	}
}
