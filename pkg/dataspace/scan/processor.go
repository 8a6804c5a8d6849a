package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/tendant/simple-dataspace/pkg/dataspace"
)

// EventProcessor processes individual audit events.
//
// Example implementations:
//   - Exporter (writes events to an archive)
//   - Index builder (feeds an external activity index)
//   - Validator (checks events against an expected actor list)
type EventProcessor interface {
	// Process is called for each matching event.
	// Return error to mark this event as failed (scan continues with next event).
	Process(ctx context.Context, handle dataspace.EventHandle, event dataspace.AuditEvent) error
}

// ProcessorFunc adapts a function to the EventProcessor interface.
type ProcessorFunc func(context.Context, dataspace.EventHandle, dataspace.AuditEvent) error

func (f ProcessorFunc) Process(ctx context.Context, handle dataspace.EventHandle, event dataspace.AuditEvent) error {
	return f(ctx, handle, event)
}

// JSONLinesExporter writes each event as one line of JSON in the stored
// event format, prefixed with its handle.
type JSONLinesExporter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONLinesExporter creates an exporter writing to w.
func NewJSONLinesExporter(w io.Writer) *JSONLinesExporter {
	return &JSONLinesExporter{w: w}
}

func (e *JSONLinesExporter) Process(ctx context.Context, handle dataspace.EventHandle, event dataspace.AuditEvent) error {
	body, err := dataspace.EncodeEvent(event)
	if err != nil {
		return err
	}
	line, err := json.Marshal(struct {
		Handle dataspace.EventHandle `json:"handle"`
		Event  json.RawMessage       `json:"event"`
	}{handle, body})
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := fmt.Fprintf(e.w, "%s\n", line); err != nil {
		return fmt.Errorf("failed to write event %s: %w", handle, err)
	}
	return nil
}
