package dataspace

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/buger/jsonparser"
)

// Wire keys of the event resource format.
const (
	fieldActor      = "actor"
	fieldAction     = "action"
	fieldObject     = "object"
	fieldTarget     = "target"
	fieldOccurredAt = "occurredAt"
)

// EventContentType is the media type of encoded events.
const EventContentType = "application/json"

// EncodeEvent serializes an event as a flat JSON object. Extension fields are
// written alongside the core fields; a core field always wins over an
// extension with the same key.
func EncodeEvent(e AuditEvent) ([]byte, error) {
	doc := make(map[string]json.RawMessage, len(e.Extensions)+5)
	for k, v := range e.Extensions {
		if isCoreField(k) {
			continue
		}
		if !json.Valid(v) {
			return nil, fmt.Errorf("extension %q is not valid JSON", k)
		}
		doc[k] = v
	}
	put := func(key, value string) {
		raw, _ := json.Marshal(value)
		doc[key] = raw
	}
	put(fieldActor, e.Actor)
	put(fieldAction, string(e.Action))
	if e.Object != "" {
		put(fieldObject, e.Object)
	}
	if e.Target != "" {
		put(fieldTarget, e.Target)
	}
	put(fieldOccurredAt, e.OccurredAt.UTC().Format(time.RFC3339Nano))
	return json.Marshal(doc)
}

// DecodeEvent parses an encoded event. Unknown fields are kept in Extensions.
// A missing actor, action or occurredAt, or an unknown action, yields
// ErrMalformedEvent.
func DecodeEvent(data []byte) (AuditEvent, error) {
	var e AuditEvent
	var hasActor, hasAction, hasWhen bool
	err := jsonparser.ObjectEach(data, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		name := string(key)
		if !isCoreField(name) {
			if e.Extensions == nil {
				e.Extensions = make(map[string]json.RawMessage)
			}
			e.Extensions[name] = rawValue(value, dataType)
			return nil
		}
		if dataType != jsonparser.String {
			return fmt.Errorf("field %s must be a string", name)
		}
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
		switch name {
		case fieldActor:
			e.Actor, hasActor = s, s != ""
		case fieldAction:
			e.Action, hasAction = Action(s), true
		case fieldObject:
			e.Object = s
		case fieldTarget:
			e.Target = s
		case fieldOccurredAt:
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return fmt.Errorf("field %s: %w", name, err)
			}
			e.OccurredAt, hasWhen = t.UTC(), true
		}
		return nil
	})
	if err != nil {
		return AuditEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	switch {
	case !hasActor:
		return AuditEvent{}, fmt.Errorf("%w: missing %s", ErrMalformedEvent, fieldActor)
	case !hasAction:
		return AuditEvent{}, fmt.Errorf("%w: missing %s", ErrMalformedEvent, fieldAction)
	case !e.Action.IsValid():
		return AuditEvent{}, fmt.Errorf("%w: unknown action %q", ErrMalformedEvent, e.Action)
	case !hasWhen:
		return AuditEvent{}, fmt.Errorf("%w: missing %s", ErrMalformedEvent, fieldOccurredAt)
	}
	return e, nil
}

func isCoreField(name string) bool {
	switch name {
	case fieldActor, fieldAction, fieldObject, fieldTarget, fieldOccurredAt:
		return true
	}
	return false
}

// rawValue restores the JSON text of a value handed out by jsonparser, which
// strips the quotes from strings.
func rawValue(value []byte, dataType jsonparser.ValueType) json.RawMessage {
	if dataType == jsonparser.String {
		out := make([]byte, 0, len(value)+2)
		out = append(out, '"')
		out = append(out, value...)
		return append(out, '"')
	}
	return append(json.RawMessage(nil), value...)
}
