package shutdown

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TimeoutError reports a hook that did not finish within its bound.
type TimeoutError struct {
	Hook    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("shutdown hook %q timed out after %v", e.Hook, e.Timeout)
}

// PanicError reports a hook that panicked.
type PanicError struct {
	Hook  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("shutdown hook %q panicked: %v", e.Hook, e.Value)
}

// IsTimeout reports whether err is a hook timeout.
func IsTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}

// runHook executes fn under the timeout, converting a panic into a
// PanicError instead of taking the process down mid-shutdown.
func runHook(timeout time.Duration, name string, fn HookFunc) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &PanicError{Hook: name, Value: r}
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &TimeoutError{Hook: name, Timeout: timeout}
		}
		return ctx.Err()
	}
}
