package fleetx

import (
	"context"

	"github.com/projectdiscovery/sessionhunt/pkg/types"
)

// Event is a sweep notification. Exactly one of Progress and Result is set.
type Event struct {
	Progress *types.Progress
	Result   *types.ScanResult
	Err      error
}

// IsFinal reports whether the event carries the sweep result
func (ev Event) IsFinal() bool {
	return ev.Result != nil || ev.Progress == nil
}

const progressBuffer = 64

// Start runs the sweep in the background. The returned channel yields
// progress events followed by exactly one final event, then is closed.
//
// Progress events are dropped when the caller falls behind; a later event
// always supersedes an earlier one. The caller must drain the channel.
func (e *Engine) Start(ctx context.Context, filter string, scope types.ScanScope) <-chan Event {
	events := make(chan Event, progressBuffer)

	onProgress := func(progress types.Progress) {
		if e.options.OnProgress != nil {
			e.options.OnProgress(progress)
		}
		select {
		case events <- Event{Progress: &progress}:
		default:
		}
	}

	go func() {
		defer close(events)
		result, err := e.run(ctx, filter, scope, onProgress)
		events <- Event{Result: result, Err: err}
	}()

	return events
}
