package fsm

import (
	"context"

	"github.com/looplab/fsm"
)

// WrapEvent adapts an error returning action to a looplab callback.
// The error is stored on the event and returned by FSM.Event.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// Arg returns the i-th event argument as T.
func Arg[T any](event *fsm.Event, i int) (T, bool) {
	var zero T
	if i >= len(event.Args) {
		return zero, false
	}
	v, ok := event.Args[i].(T)
	return v, ok
}
