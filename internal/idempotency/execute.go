package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"
)

type execution[T any] struct {
	remaining *time.Duration
	hook      func(T, *Record) T
}

// ExecuteOption tunes a single Execute call.
type ExecuteOption[T any] func(*execution[T])

// WithRemainingTime sets the execution budget explicitly instead of deriving it from
// the context deadline.
func WithRemainingTime[T any](d time.Duration) ExecuteOption[T] {
	return func(e *execution[T]) {
		e.remaining = &d
	}
}

// WithResponseHook post-processes results replayed from a COMPLETED record. It never
// runs on freshly computed results.
func WithResponseHook[T any](hook func(T, *Record) T) ExecuteOption[T] {
	return func(e *execution[T]) {
		e.hook = hook
	}
}

// Execute runs fn at most once per idempotency key derived from payload.
//
// Duplicates of a completed call get the stored result, decoded into T. Strings are
// stored verbatim; other results as JSON. If fn fails, its record is deleted so a retry
// can proceed, and fn's error is returned unchanged. A failure to persist the result
// after fn succeeded is returned together with the result.
func Execute[T any](ctx context.Context, c *Coordinator, payload any, fn func(context.Context) (T, error), opts ...ExecuteOption[T]) (T, error) {
	var zero T
	if c == nil || c.Disabled() {
		return fn(ctx)
	}
	ex := &execution[T]{}
	for _, opt := range opts {
		opt(ex)
	}

	fp, err := c.Fingerprint(payload)
	if err != nil {
		return zero, err
	}
	if fp.Skip {
		return fn(ctx)
	}

	now := c.now()
	remaining := ex.remaining
	if remaining == nil {
		remaining = remainingFromContext(ctx, now)
	}
	if remaining == nil {
		c.logger.Warn("could not determine the remaining execution time, in progress record will not expire early", "idempotency_key", fp.Key)
	}

	rec, err := c.Begin(ctx, fp, now, remaining)
	if err != nil {
		return zero, err
	}
	if rec != nil {
		return replay(c, rec, ex.hook)
	}

	result, err := run(ctx, c, fp, fn)
	if err != nil {
		return zero, err
	}
	c.observer.Observe(EventExecuted)

	response, err := encodeResponse(result)
	if err != nil {
		return result, newError(KindPersistence, fp.Key, "serialize response", err)
	}
	if err := c.SaveSuccess(context.WithoutCancel(ctx), fp, response, c.now()); err != nil {
		return result, err
	}
	return result, nil
}

// run invokes fn, releasing the record if fn fails or panics. Panics are re-raised
// after the record is gone.
func run[T any](ctx context.Context, c *Coordinator, fp Fingerprint, fn func(context.Context) (T, error)) (result T, err error) {
	completed := false
	defer func() {
		if completed {
			return
		}
		r := recover()
		cause := err
		if r != nil {
			cause = fmt.Errorf("panic: %v", r)
		}
		c.release(ctx, fp, cause)
		if r != nil {
			panic(r)
		}
	}()
	result, err = fn(ctx)
	completed = err == nil
	return result, err
}

// release deletes fp.Key after a failed execution. A delete failure is logged and
// observed only; the function's own failure is what the caller sees.
func (c *Coordinator) release(ctx context.Context, fp Fingerprint, cause error) {
	if delErr := c.DeleteRecord(context.WithoutCancel(ctx), fp); delErr != nil {
		c.observer.Observe(EventDeleteFailed)
		c.logger.Error("failed to delete idempotency record after function error",
			"idempotency_key", fp.Key, "function_error", cause, "error", delErr)
		return
	}
	c.observer.Observe(EventDeleted)
}

func remainingFromContext(ctx context.Context, now time.Time) *time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return nil
	}
	d := deadline.Sub(now)
	if d < 0 {
		d = 0
	}
	return &d
}

// encodeResponse stores string results verbatim and everything else as JSON. The
// choice follows T, not the dynamic value, so replay decodes it the same way.
func encodeResponse[T any](result T) (string, error) {
	var zero T
	if _, ok := any(&zero).(*string); ok {
		return any(result).(string), nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func replay[T any](c *Coordinator, rec *Record, hook func(T, *Record) T) (T, error) {
	var out T
	if p, ok := any(&out).(*string); ok {
		*p = rec.Response()
	} else if err := json.Unmarshal([]byte(rec.Response()), &out); err != nil {
		var zero T
		return zero, newError(KindPersistence, rec.Key, "decode stored response", err)
	}
	if hook != nil {
		c.logger.Debug("applying response hook to replayed result", "idempotency_key", rec.Key)
		out = hook(out, rec)
	}
	return out, nil
}

// Handler wraps a Lambda-style handler so each invocation is idempotent on its input
// event. The result can be passed straight to lambda.Start.
func Handler[In, Out any](c *Coordinator, fn func(context.Context, In) (Out, error), opts ...ExecuteOption[Out]) func(context.Context, In) (Out, error) {
	return func(ctx context.Context, in In) (Out, error) {
		if lc, ok := lambdacontext.FromContext(ctx); ok && c != nil {
			c.logger.Debug("idempotent invocation", "aws_request_id", lc.AwsRequestID)
		}
		return Execute(ctx, c, in, func(ctx context.Context) (Out, error) {
			return fn(ctx, in)
		}, opts...)
	}
}
