// Package checker defines the capability a checker implementation provides to the
// job harness, plus a compile-time registry of named implementations.
package checker

import (
	"context"
	"errors"

	"github.com/osvaldoandrade/flagq/pkg/domain"
)

// ErrInterrupted signals a deliberate stop. The harness treats it as cancellation,
// not as a checker fault.
var ErrInterrupted = errors.New("checker: interrupted")

// Checker stores and retrieves flags on a team's service.
//
// Push returns the result and the adjunct to keep for the later pull. Any error
// other than cancellation is a fault and yields INTERNAL_ERROR.
type Checker interface {
	Push(ctx context.Context, endpoint, flag string, adjunct []byte, md domain.Metadata) (domain.Result, []byte, error)
	Pull(ctx context.Context, endpoint, flag string, adjunct []byte, md domain.Metadata) (domain.Result, error)
}
