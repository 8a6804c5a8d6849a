package scan

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tendant/simple-dataspace/pkg/dataspace"
)

// Scanner replays the audit log through an EventProcessor.
type Scanner struct {
	source dataspace.EventSource
	logger *slog.Logger
}

// New creates a new Scanner instance.
func New(source dataspace.EventSource, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{source: source, logger: logger}
}

// Filters selects which events are processed. Zero values match everything.
type Filters struct {
	Since   dataspace.EventHandle
	Actor   string
	Actions []dataspace.Action
}

func (f Filters) match(event dataspace.AuditEvent) bool {
	if f.Actor != "" && event.Actor != f.Actor {
		return false
	}
	if len(f.Actions) == 0 {
		return true
	}
	for _, a := range f.Actions {
		if a == event.Action {
			return true
		}
	}
	return false
}

// ScanOptions configures the scan operation.
type ScanOptions struct {
	Filters Filters

	// Processor is required unless DryRun is true
	Processor EventProcessor

	// ProgressEvery sets how many events pass between OnProgress calls (default: 100)
	ProgressEvery int

	// DryRun reports matching events without processing them
	DryRun bool

	OnProgress func(processed, found int64)
}

// ScanResult contains statistics about the scan operation.
type ScanResult struct {
	// TotalFound is the number of events matching the filters
	TotalFound int64

	// TotalProcessed is the number of events successfully processed
	TotalProcessed int64

	// TotalFailed is the number of events the processor rejected
	TotalFailed int64

	// TotalSkipped is the number of events excluded by the filters
	TotalSkipped int64

	// FailedHandles lists the events that failed processing
	FailedHandles []dataspace.EventHandle

	// LastHandle is the last event read; pass it as Since to resume
	LastHandle dataspace.EventHandle
}

// Scan lists the log from opts.Filters.Since and hands each matching event to
// the processor. A processor error is recorded and the scan continues.
func (s *Scanner) Scan(ctx context.Context, opts ScanOptions) (*ScanResult, error) {
	result := &ScanResult{}

	if !opts.DryRun && opts.Processor == nil {
		return result, fmt.Errorf("processor is required when DryRun is false")
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 100
	}

	seq, err := s.source.List(ctx, opts.Filters.Since)
	if err != nil {
		return result, fmt.Errorf("failed to list events: %w", err)
	}

	for handle, event := range seq {
		result.LastHandle = handle
		if !opts.Filters.match(event) {
			result.TotalSkipped++
			continue
		}
		result.TotalFound++

		switch {
		case opts.DryRun:
			s.logger.Info("dry run: would process event",
				"handle", handle, "actor", event.Actor, "action", event.Action)
			result.TotalProcessed++
		default:
			if err := opts.Processor.Process(ctx, handle, event); err != nil {
				result.TotalFailed++
				result.FailedHandles = append(result.FailedHandles, handle)
				s.logger.Error("failed to process event", "handle", handle, "error", err)
			} else {
				result.TotalProcessed++
			}
		}

		if opts.OnProgress != nil && result.TotalFound%int64(opts.ProgressEvery) == 0 {
			opts.OnProgress(result.TotalProcessed+result.TotalFailed, result.TotalFound)
		}
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	if opts.OnProgress != nil {
		opts.OnProgress(result.TotalProcessed+result.TotalFailed, result.TotalFound)
	}
	return result, nil
}

// ForEach processes each matching event with a callback function.
//
// Example:
//
//	scanner.ForEach(ctx, scan.Filters{Actor: "alice"}, func(ctx context.Context, h dataspace.EventHandle, e dataspace.AuditEvent) error {
//	    fmt.Println(h, e.Action)
//	    return nil
//	})
func (s *Scanner) ForEach(ctx context.Context, filters Filters, fn func(context.Context, dataspace.EventHandle, dataspace.AuditEvent) error) (*ScanResult, error) {
	return s.Scan(ctx, ScanOptions{
		Filters:   filters,
		Processor: ProcessorFunc(fn),
	})
}
