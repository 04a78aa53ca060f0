// SPDX-License-Identifier: AGPL-3.0-only
package provider

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"iter"
	"net"
	"syscall"
	"time"

	apperrors "github.com/jolks/mcp-relay/internal/errors"
	"github.com/jolks/mcp-relay/internal/logging"
	"github.com/jolks/mcp-relay/internal/model"
)

var errStopped = stderrors.New("consumer stopped")

// RetryPolicy controls how a streaming call is retried.
type RetryPolicy struct {
	// MaxAttempts includes the first attempt.
	MaxAttempts int
	// BaseDelay doubles after every failed attempt.
	BaseDelay time.Duration
	// Sleep waits for d or until ctx is done. Defaults to a timer; tests
	// replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns 3 attempts starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

// Delay returns the wait before the given retry (1-based).
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	return p.BaseDelay * time.Duration(1<<(retry-1))
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// stream wraps a single-attempt stream with the retry policy.
//
// An attempt is only retried if it failed transiently before yielding any
// event; once output reached the consumer a retry would duplicate it, so the
// failure is surfaced instead.
func (p RetryPolicy) stream(ctx context.Context, name string, logger *logging.Logger, attempt streamFunc) iter.Seq[model.ChatEvent] {
	return func(yield func(model.ChatEvent) bool) {
		maxAttempts := p.MaxAttempts
		if maxAttempts < 1 {
			maxAttempts = 1
		}
		for i := 1; ; i++ {
			yielded := false
			err := attempt(ctx, func(ev model.ChatEvent) bool {
				yielded = true
				return yield(ev)
			})
			if err == nil || stderrors.Is(err, errStopped) {
				return
			}
			if yielded || i >= maxAttempts || !apperrors.IsTransient(err) {
				if i > 1 {
					err = fmt.Errorf("after %d attempts: %w", i, err)
				}
				yield(errorEvent(err))
				return
			}

			delay := p.Delay(i)
			logger.Warnf("%s: attempt %d/%d failed, retrying in %s: %v", name, i, maxAttempts, delay, err)
			if serr := p.sleep(ctx, delay); serr != nil {
				yield(errorEvent(serr))
				return
			}
		}
	}
}

// classify tags a provider error. status is the HTTP status code when the
// SDK reported one, 0 otherwise.
func classify(op string, status int, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch {
	case status >= 500:
		return apperrors.Transient(op, err)
	case status >= 400:
		return apperrors.Protocol(op, err)
	case isNetworkError(err):
		return apperrors.Transient(op, err)
	default:
		return apperrors.Protocol(op, err)
	}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}
	return stderrors.Is(err, io.ErrUnexpectedEOF) ||
		stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, syscall.ECONNREFUSED) ||
		stderrors.Is(err, syscall.EPIPE)
}
