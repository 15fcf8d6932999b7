package harness

import (
	"context"
	"errors"
	"runtime/debug"

	"github.com/osvaldoandrade/flagq/pkg/checker"
	"github.com/osvaldoandrade/flagq/pkg/domain"
)

var errCheckerExited = errors.New("checker goroutine exited without returning")

type invocation[T any] struct {
	value T
	err   error
	fault *Fault
}

// invoke runs call on its own goroutine and waits for it or for ctx. A checker
// that ignores cancellation is abandoned; its goroutine finishes on its own.
// Exactly one of the value, the fault, or the cancellation error is meaningful.
func invoke[T any](ctx context.Context, op domain.Command, call func(context.Context) (T, error)) (T, *Fault, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, nil, &CancelledError{Operation: op, Cause: err}
	}

	done := make(chan invocation[T], 1)
	go func() {
		returned := false
		defer func() {
			if p := recover(); p != nil {
				done <- invocation[T]{fault: &Fault{Operation: op, Panic: p, Stack: debug.Stack()}}
				return
			}
			// runtime.Goexit unwinds without a panic value.
			if !returned {
				done <- invocation[T]{fault: &Fault{Operation: op, Err: errCheckerExited, Stack: debug.Stack()}}
			}
		}()
		v, err := call(ctx)
		returned = true
		done <- invocation[T]{value: v, err: err}
	}()

	settle := func(inv invocation[T]) (T, *Fault, error) {
		if inv.fault != nil {
			return zero, inv.fault, nil
		}
		if inv.err != nil {
			if errors.Is(inv.err, checker.ErrInterrupted) {
				return zero, nil, &CancelledError{Operation: op, Cause: inv.err}
			}
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(inv.err, ctxErr) {
				return zero, nil, &CancelledError{Operation: op, Cause: inv.err}
			}
			return zero, &Fault{Operation: op, Err: inv.err}, nil
		}
		return inv.value, nil, nil
	}

	select {
	case inv := <-done:
		return settle(inv)
	case <-ctx.Done():
		// A checker that already finished wins over a late cancellation.
		select {
		case inv := <-done:
			return settle(inv)
		default:
		}
		return zero, nil, &CancelledError{Operation: op, Cause: ctx.Err()}
	}
}

type pushReply struct {
	result  domain.Result
	adjunct []byte
}

// boundary isolates the harness from checker failures.
type boundary struct {
	checker checker.Checker
	emitter *Emitter
}

// push returns INTERNAL_ERROR with the original adjunct on any fault. The only
// error it returns is *CancelledError.
func (b *boundary) push(ctx context.Context, job domain.PushJob) (domain.Result, []byte, error) {
	reply, fault, err := invoke(ctx, domain.CmdPush, func(ctx context.Context) (pushReply, error) {
		res, adj, err := b.checker.Push(ctx, job.Endpoint, job.Flag, job.Adjunct, job.Metadata)
		return pushReply{result: res, adjunct: adj}, err
	})
	if err != nil {
		return 0, nil, err
	}
	if fault == nil && !reply.result.Valid() {
		fault = &Fault{Operation: domain.CmdPush, Result: reply.result}
	}
	if fault != nil {
		b.emitter.Fault(ctx, fault, job.Endpoint, job.Metadata)
		return domain.ResultInternalError, job.Adjunct, nil
	}
	return reply.result, reply.adjunct, nil
}

func (b *boundary) pull(ctx context.Context, job domain.PullJob) (domain.Result, error) {
	res, fault, err := invoke(ctx, domain.CmdPull, func(ctx context.Context) (domain.Result, error) {
		return b.checker.Pull(ctx, job.Endpoint, job.Flag, job.Adjunct, job.Metadata)
	})
	if err != nil {
		return 0, err
	}
	if fault == nil && !res.Valid() {
		fault = &Fault{Operation: domain.CmdPull, Result: res}
	}
	if fault != nil {
		b.emitter.Fault(ctx, fault, job.Endpoint, job.Metadata)
		return domain.ResultInternalError, nil
	}
	return res, nil
}
