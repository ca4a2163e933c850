package response

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rezonia/nfse-processor/internal/metrics"
	"github.com/rezonia/nfse-processor/internal/model"
)

// Work is a unit of work whose outcome is wrapped into a Response
type Work func(ctx context.Context) (any, error)

// Sleeper waits d between retry attempts. It must return early with the
// context error when ctx is cancelled.
type Sleeper func(ctx context.Context, d time.Duration) error

// ExceptionPanic is the exception_type recorded for work that panicked
const ExceptionPanic = "panic"

// Handler runs work and converts every outcome into a Response. Failures
// never escape as errors or panics.
type Handler struct {
	log     *zap.Logger
	sleep   Sleeper
	memo    *MemoCache
	now     func() time.Time
	metrics *metrics.Metrics

	clockSet bool
	group    singleflight.Group
}

// Option configures a Handler
type Option func(*Handler)

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithSleeper replaces the delay used between retry attempts
func WithSleeper(s Sleeper) Option {
	return func(h *Handler) {
		if s != nil {
			h.sleep = s
		}
	}
}

// WithMemoCache sets the cache used by ExecuteWithCache
func WithMemoCache(c *MemoCache) Option {
	return func(h *Handler) { h.memo = c }
}

// WithClock replaces time.Now for durations and memo cache ages
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
			h.clockSet = true
		}
	}
}

// WithMetrics records one observation per public call
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler creates a handler
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		log:   zap.NewNop(),
		sleep: SleepContext,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.memo == nil {
		h.memo = NewMemoCache()
	}
	if h.clockSet {
		h.memo.now = h.now
	}
	return h
}

// SleepContext waits d or until ctx is done
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute runs work once
func (h *Handler) Execute(ctx context.Context, operation string, work Work) *Response {
	start := h.now()
	data, err := h.invoke(ctx, work)
	resp := h.wrap(operation, data, err)
	h.observe(operation, resp, start)
	return resp
}

// ExecuteWithTimeout runs work in its own goroutine and reports a timeout
// failure once timeout or the caller's deadline elapses, whichever comes
// first. Only a cancelled caller context yields the plain cancellation
// error. The work's context is cancelled at the deadline; work that ignores
// its context keeps running in the background and its eventual result is
// discarded.
func (h *Handler) ExecuteWithTimeout(ctx context.Context, operation string, timeout time.Duration, work Work) *Response {
	start := h.now()

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		data any
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		data, err := h.invoke(tctx, work)
		done <- outcome{data: data, err: err}
	}()

	var resp *Response
	select {
	case o := <-done:
		resp = h.wrap(operation, o.data, o.err)
	case <-tctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			resp = h.wrap(operation, nil, ctx.Err())
			break
		}
		msg := fmt.Sprintf("operation timeout after %s", timeout)
		if ctx.Err() != nil {
			msg = "operation timeout: caller deadline exceeded"
		}
		err := model.NewTransportError(model.ErrCodeTimeout, operation, msg, 0, nil)
		h.log.Warn("operation timed out",
			zap.String("operation", operation),
			zap.Duration("timeout", timeout),
		)
		resp = h.wrap(operation, nil, err)
	}

	h.observe(operation, resp, start)
	return resp
}

// ExecuteWithRetry runs work up to maxAttempts times, waiting delay between
// attempts. Faults that cannot succeed on repetition stop the loop early.
// retry_attempts records the attempts actually made, so it is lower than
// maxAttempts when the loop stops early on such a fault or a cancelled
// context.
func (h *Handler) ExecuteWithRetry(ctx context.Context, operation string, maxAttempts int, delay time.Duration, work Work) *Response {
	start := h.now()
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	attempts := 0
	for attempts < maxAttempts {
		attempts++

		data, err := h.invoke(ctx, work)
		if err == nil {
			resp := h.wrap(operation, data, nil)
			resp.metadata.Set(MetaRetryAttempts, attempts)
			h.observe(operation, resp, start)
			return resp
		}
		lastErr = err

		h.log.Warn("attempt failed",
			zap.String("operation", operation),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err),
		)

		if !model.IsRetryable(err) || attempts == maxAttempts {
			break
		}
		if err := h.sleep(ctx, delay); err != nil {
			break
		}
	}

	resp := h.wrap(operation, nil, lastErr)
	resp.metadata.Set(MetaRetryAttempts, attempts)
	h.observe(operation, resp, start)
	return resp
}

// ExecuteWithCache returns the payload memoized under key while it is younger
// than ttl; otherwise it runs work and memoizes a successful payload.
// Concurrent misses on the same key share one invocation.
func (h *Handler) ExecuteWithCache(ctx context.Context, operation, key string, ttl time.Duration, work Work) *Response {
	start := h.now()

	if data, ok := h.memo.Get(key, ttl); ok {
		resp := h.wrap(operation, data, nil)
		resp.metadata.Set(MetaFromCache, true)
		h.observe(operation, resp, start)
		return resp
	}

	data, err, _ := h.group.Do(key, func() (any, error) {
		data, err := h.invoke(ctx, work)
		if err != nil {
			return nil, err
		}
		h.memo.Set(key, data)
		return data, nil
	})

	resp := h.wrap(operation, data, err)
	resp.metadata.Set(MetaFromCache, false)
	h.observe(operation, resp, start)
	return resp
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

func (h *Handler) invoke(ctx context.Context, work Work) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("work panicked", zap.Any("panic", r), zap.Stack("stack"))
			data, err = nil, &panicError{value: r}
		}
	}()
	if work == nil {
		return nil, errors.New("no work to execute")
	}
	return work(ctx)
}

func (h *Handler) wrap(operation string, data any, err error) *Response {
	if err == nil {
		return Success(data, operation)
	}

	resp := FromError(err, operation)

	var pe *panicError
	if errors.As(err, &pe) {
		resp.metadata.Set(MetaExceptionType, ExceptionPanic)
	}

	resp.metadata.Set(MetaSeverity, severityOf(err))
	if s := model.SuggestionsOf(err); len(s) > 0 {
		resp.metadata.Set(MetaSuggestions, append([]string(nil), s...))
	}
	return resp
}

func severityOf(err error) string {
	switch model.KindOf(err) {
	case model.KindValidation, model.KindConfiguration:
		return SeverityWarning
	}
	return SeverityError
}

func (h *Handler) observe(operation string, resp *Response, start time.Time) {
	elapsed := h.now().Sub(start)

	outcome := "success"
	if resp.IsError() {
		outcome = "error"
		h.log.Debug("operation failed",
			zap.String("operation", operation),
			zap.String("error", resp.ErrorMessage()),
			zap.Duration("elapsed", elapsed),
		)
	} else {
		h.log.Debug("operation completed",
			zap.String("operation", operation),
			zap.Duration("elapsed", elapsed),
		)
	}
	h.metrics.ObserveOperation(operation, outcome, elapsed)
}
