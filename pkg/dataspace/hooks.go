package dataspace

import (
	"context"
)

// Hooks let callers observe the audit log without modifying it. Hooks run
// synchronously after the triggering operation; a hook error is logged and
// never undoes the operation.

// Hooks defines all available audit log hooks
type Hooks struct {
	// AfterAppend runs once an event has been persisted
	AfterAppend []AfterAppendHook

	// OnEventSkipped runs for each record List could not read
	OnEventSkipped []EventSkippedHook
}

// HookContext carries information through the hook chain
type HookContext struct {
	Context   context.Context
	Metadata  map[string]interface{} // Custom metadata passed between hooks
	StopChain bool                   // Set to true to stop processing remaining hooks
}

// NewHookContext creates a new hook context
func NewHookContext(ctx context.Context) *HookContext {
	return &HookContext{
		Context:  ctx,
		Metadata: make(map[string]interface{}),
	}
}

// AfterAppendHook is called after an event is persisted
type AfterAppendHook func(hctx *HookContext, handle EventHandle, event AuditEvent) error

// EventSkippedHook is called when a stored record cannot be read
type EventSkippedHook func(hctx *HookContext, handle EventHandle, err error)

// executeAfterAppend runs all AfterAppend hooks and returns the first error
func (h *Hooks) executeAfterAppend(ctx context.Context, handle EventHandle, event AuditEvent) error {
	if h == nil || len(h.AfterAppend) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.AfterAppend {
		if err := hook(hctx, handle, event); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

// executeEventSkipped runs all OnEventSkipped hooks
func (h *Hooks) executeEventSkipped(ctx context.Context, handle EventHandle, err error) {
	if h == nil || len(h.OnEventSkipped) == 0 {
		return
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.OnEventSkipped {
		hook(hctx, handle, err)
		if hctx.StopChain {
			break
		}
	}
}
