// Package safe keeps a panicking goroutine from taking the process down.
//
// Every goroutine the server core starts goes through Go, and every call into
// user code goes through Call, so a fault in one request is logged and turned
// into an error instead of crashing the server.
package safe

import (
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
)

// PanicError carries a recovered panic value.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	switch v := e.Value.(type) {
	case error:
		return v.Error()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Unwrap exposes a panicked error to errors.Is/As.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Recover logs a panic with its stack and lets execution continue.
//
//	defer safe.Recover(logger, "scheduler_tick")
func Recover(logger *zap.Logger, name string) {
	if r := recover(); r != nil {
		logPanic(logger, name, &PanicError{Value: r, Stack: debug.Stack()})
	}
}

// Go runs fn on a new goroutine under Recover.
func Go(logger *zap.Logger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Call runs fn and converts a panic into a *PanicError.
func Call(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	fn()
	return nil
}

func logPanic(logger *zap.Logger, name string, pe *PanicError) {
	if logger == nil {
		return
	}
	logger.Error("recovered from panic",
		zap.String("goroutine", name),
		zap.String("panic", pe.Error()),
		zap.ByteString("stack", pe.Stack),
	)
}
