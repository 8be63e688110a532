package middleware

import (
	"regexp"
	"strings"

	"github.com/relaykit/relay/pkg/events"
)

// Middleware transforms an event before it reaches a sink. Returning false
// drops the event; later middlewares never see it.
type Middleware func(event events.Event) (events.Event, bool)

// Apply runs the chain sequentially with early drop.
func Apply(chain []Middleware, event events.Event) (events.Event, bool) {
	for _, mw := range chain {
		var ok bool
		event, ok = mw(event)
		if !ok {
			return nil, false
		}
	}
	return event, true
}

// WithTags returns a middleware that merges static tags into every event,
// without overriding tags already present.
func WithTags(tags map[string]string) Middleware {
	return func(event events.Event) (events.Event, bool) {
		if len(tags) == 0 {
			return event, true
		}
		merged := make(map[string]string, len(tags))
		for k, v := range tags {
			merged[k] = v
		}

		switch e := event.(type) {
		case events.MessageEvent:
			e.Tags = mergeTags(merged, e.Tags)
			return e, true
		case events.ToolCallEvent:
			e.Tags = mergeTags(merged, e.Tags)
			return e, true
		case events.UsageEvent:
			e.Tags = mergeTags(merged, e.Tags)
			return e, true
		case events.SpanStartEvent:
			e.Tags = mergeTags(merged, e.Tags)
			return e, true
		case events.SpanEndEvent:
			e.Tags = mergeTags(merged, e.Tags)
			return e, true
		default:
			return event, true
		}
	}
}

func mergeTags(base, own map[string]string) map[string]string {
	for k, v := range own {
		base[k] = v
	}
	return base
}

// FilterTypes returns a middleware that drops every event whose type is not
// in the allow list.
func FilterTypes(allowed ...events.EventType) Middleware {
	allow := make(map[events.EventType]bool, len(allowed))
	for _, t := range allowed {
		allow[t] = true
	}
	return func(event events.Event) (events.Event, bool) {
		return event, allow[event.Type()]
	}
}

var secretPattern = regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|bearer)\s*[:=]\s*\S+`)

const maskReplacement = "[REDACTED]"

// MaskSecrets returns a middleware that redacts credential-looking values
// from the text-bearing event types. Other event types pass through
// untouched.
func MaskSecrets() Middleware {
	return func(event events.Event) (events.Event, bool) {
		switch e := event.(type) {
		case events.MessageEvent:
			e.Content = maskText(e.Content)
			return e, true
		case events.ToolCallEvent:
			if in, ok := e.Input.(string); ok {
				e.Input = maskText(in)
			}
			if out, ok := e.Output.(string); ok {
				e.Output = maskText(out)
			}
			e.Error = maskText(e.Error)
			return e, true
		default:
			return event, true
		}
	}
}

func maskText(s string) string {
	if s == "" {
		return s
	}
	return secretPattern.ReplaceAllStringFunc(s, func(m string) string {
		// Keep the key name, redact only the value.
		if idx := strings.IndexAny(m, ":="); idx >= 0 {
			return m[:idx+1] + " " + maskReplacement
		}
		return maskReplacement
	})
}
