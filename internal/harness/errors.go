package harness

import (
	"errors"
	"fmt"
	"strings"

	"github.com/osvaldoandrade/flagq/pkg/domain"
)

// CancelledError reports a job stopped by worker shutdown. It never becomes a
// Result and is never reported.
type CancelledError struct {
	Operation domain.Command
	Cause     error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("%s cancelled: %v", strings.ToLower(string(e.Operation)), e.Cause)
}

func (e *CancelledError) Unwrap() error { return e.Cause }

func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}

// Fault is a checker failure recovered by the invocation boundary.
type Fault struct {
	Operation domain.Command
	Err       error
	Panic     any
	Stack     []byte
	Result    domain.Result // set when the checker returned an unknown code
}

const (
	FaultError         = "error"
	FaultPanic         = "panic"
	FaultInvalidResult = "invalid_result"
)

func (f *Fault) Kind() string {
	switch {
	case f.Panic != nil:
		return FaultPanic
	case f.Err != nil:
		return FaultError
	default:
		return FaultInvalidResult
	}
}

func (f *Fault) Error() string {
	switch f.Kind() {
	case FaultPanic:
		return fmt.Sprintf("checker panic: %v", f.Panic)
	case FaultError:
		return fmt.Sprintf("checker error: %v", f.Err)
	default:
		return fmt.Sprintf("checker returned unknown result %d", int(f.Result))
	}
}

func (f *Fault) Unwrap() error { return f.Err }

// DeliveryError reports an outcome that did not reach the controller.
type DeliveryError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deliver report to %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("deliver report to %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
