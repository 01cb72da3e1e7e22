package imagegen

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy bounds automatic retries of retryable failures.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy returns 3 retries starting at 2s, growing by 1.5x.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialDelay: 2 * time.Second, Multiplier: 1.5}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	return p
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retrier applies a RetryPolicy using a Classifier to decide what is worth
// another attempt.
type Retrier struct {
	policy     RetryPolicy
	classifier *Classifier
	sink       Sink
	sleep      Sleeper
}

// NewRetrier wires a retrier. A nil sleeper uses real timers.
func NewRetrier(policy RetryPolicy, classifier *Classifier, sink Sink, sleep Sleeper) *Retrier {
	if classifier == nil {
		classifier = NewClassifier(sink)
	}
	if sleep == nil {
		sleep = sleepContext
	}
	return &Retrier{policy: policy.normalized(), classifier: classifier, sink: sink, sleep: sleep}
}

// Policy returns the effective policy.
func (r *Retrier) Policy() RetryPolicy {
	return r.policy
}

// Classify maps any failure shape onto a ParsedError.
func (r *Retrier) Classify(err error) ParsedError {
	var parsed *ParsedError
	if errors.As(err, &parsed) && parsed != nil {
		return *parsed
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return r.classifier.ClassifyAPIError(apiErr.Body, apiErr.StatusCode)
	}
	var recovered panicError
	if errors.As(err, &recovered) {
		return r.classifier.ClassifyTransportError(recovered.value)
	}
	return r.classifier.ClassifyTransportError(err)
}

// Operation is a unit of work the retrier may invoke several times.
type Operation[T any] func(ctx context.Context) (T, error)

// RetryHook observes a retryable failure just before the backoff wait.
// attempt counts retries from 1.
type RetryHook func(parsed ParsedError, attempt int)

type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

func invoke[T any](ctx context.Context, op Operation[T]) (result T, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = panicError{value: v}
		}
	}()
	return op(ctx)
}

// RetryWithBackoff runs op until it succeeds, fails with a non-retryable
// classification, or exhausts the policy. Failures come back as *ParsedError;
// a done ctx comes back as ctx.Err().
func RetryWithBackoff[T any](ctx context.Context, r *Retrier, op Operation[T], hook RetryHook) (T, error) {
	var zero T
	delay := r.policy.InitialDelay
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		result, err := invoke(ctx, op)
		if err == nil {
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		parsed := r.Classify(err)
		if !parsed.Retryable {
			return zero, &parsed
		}
		if attempt >= r.policy.MaxRetries {
			parsed.Retryable = true
			return zero, &parsed
		}

		retry := attempt + 1
		Emit(r.sink, Event{
			Category: CategoryRetryAttempt,
			Attempt:  retry,
			Delay:    delay,
			Error:    parsed.clone(),
			Action:   fmt.Sprintf("retry %d/%d", retry, r.policy.MaxRetries),
		})
		if hook != nil {
			hook(parsed, retry)
		}
		if err := r.sleep(ctx, delay); err != nil {
			return zero, err
		}
		delay = time.Duration(float64(delay) * r.policy.Multiplier)
	}
}
