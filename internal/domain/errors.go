package domain

import (
	"errors"
	"fmt"
)

var ErrHandlerNotFound = errors.New("handler not found")

type HandlerNotFoundError struct {
	CommandType string
	GoType      string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("no handler registered for command %s (%s)", e.GoType, e.CommandType)
}

func (e *HandlerNotFoundError) Is(target error) bool { return target == ErrHandlerNotFound }

// ProcessingError wraps a failure raised by a command handler.
type ProcessingError struct {
	Command Command
	Err     error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing %s: %v", Describe(e.Command), e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// EnqueueError is returned to dispatch callers when the transport rejects a command.
type EnqueueError struct {
	Command Command
	Err     error
}

func (e *EnqueueError) Error() string {
	return fmt.Sprintf("enqueue %s: %v", Describe(e.Command), e.Err)
}

func (e *EnqueueError) Unwrap() error { return e.Err }

// IsCoreError reports whether err already is one of the pipeline's own error types.
func IsCoreError(err error) bool {
	var (
		nf *HandlerNotFoundError
		pe *ProcessingError
		ee *EnqueueError
	)
	return errors.As(err, &nf) || errors.As(err, &pe) || errors.As(err, &ee)
}

// Cause strips the pipeline's wrappers down to the error raised by the
// handler or the transport.
func Cause(err error) error {
	var pe *ProcessingError
	if errors.As(err, &pe) && pe.Err != nil {
		return pe.Err
	}
	var ee *EnqueueError
	if errors.As(err, &ee) && ee.Err != nil {
		return ee.Err
	}
	return err
}
