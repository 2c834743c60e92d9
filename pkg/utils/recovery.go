package utils

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// PanicError wraps a panic value as an error.
type PanicError struct {
	Value      interface{}
	StackTrace string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// RecoverAsError recovers from a panic and converts it to an error.
// It should be called with defer at the beginning of a function; errPtr
// points to the function's error return value.
func RecoverAsError(errPtr *error) {
	if r := recover(); r != nil {
		stack := string(debug.Stack())
		*errPtr = &PanicError{Value: r, StackTrace: stack}
		slog.Error("Recovered from panic", "panic", r, "stack", stack)
	}
}

// RecoverWithCallback recovers from a panic and calls the callback with the
// error. Useful when the error return pattern is not available, e.g. inside
// goroutines or user-supplied hooks.
func RecoverWithCallback(callback func(error)) {
	if r := recover(); r != nil {
		stack := string(debug.Stack())
		err := &PanicError{Value: r, StackTrace: stack}
		slog.Error("Recovered from panic", "panic", r, "stack", stack)
		if callback != nil {
			callback(err)
		}
	}
}

// Swallow recovers from a panic and discards it. Used to isolate callback
// hooks whose failures must never abort the surrounding operation.
func Swallow() {
	if r := recover(); r != nil {
		slog.Warn("Swallowed panic from hook", "panic", r)
	}
}
