package dataspace

import (
	"context"
	"errors"
	"iter"
	"sort"
)

// EventSource lists audit events in chronological order.
type EventSource interface {
	List(ctx context.Context, since EventHandle) (iter.Seq2[EventHandle, AuditEvent], error)
}

// ActivityIndex summarizes per-principal activity by replaying the audit log.
// It keeps no state between calls.
type ActivityIndex struct {
	source EventSource
}

// NewActivityIndex creates an activity index over source.
func NewActivityIndex(source EventSource) (*ActivityIndex, error) {
	if source == nil {
		return nil, errors.New("event source is required")
	}
	return &ActivityIndex{source: source}, nil
}

// Rebuild folds the whole log into one entry per actor.
func (a *ActivityIndex) Rebuild(ctx context.Context) (map[string]ActivityIndexEntry, error) {
	seq, err := a.source.List(ctx, "")
	if err != nil {
		return nil, err
	}
	entries := make(map[string]ActivityIndexEntry)
	for _, event := range seq {
		ApplyActivity(entries, event)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Entries returns the rebuilt index ordered by most recent activity.
func (a *ActivityIndex) Entries(ctx context.Context) ([]ActivityIndexEntry, error) {
	index, err := a.Rebuild(ctx)
	if err != nil {
		return nil, err
	}
	return SortActivity(index), nil
}

// ApplyActivity folds a single event into entries.
func ApplyActivity(entries map[string]ActivityIndexEntry, event AuditEvent) {
	if event.Actor == "" {
		return
	}
	entry := entries[event.Actor]
	entry.Principal = event.Actor
	if event.Action == ActionLogin {
		entry.LoginCount++
	}
	if event.OccurredAt.After(entry.LastSeen) {
		entry.LastSeen = event.OccurredAt
	}
	entries[event.Actor] = entry
}

// SortActivity flattens an index, most recently seen first.
func SortActivity(index map[string]ActivityIndexEntry) []ActivityIndexEntry {
	out := make([]ActivityIndexEntry, 0, len(index))
	for _, entry := range index {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].Principal < out[j].Principal
	})
	return out
}
