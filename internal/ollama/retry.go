package ollama

import (
	"context"
	"errors"
	"net/http"
	"time"
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return &permanentError{err: err} }

// retryable reports whether err is a transient server or transport failure.
// Status errors are retried only for 500, 502 and 503.
func retryable(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
			return true
		}
		return false
	}
	return true
}

// withRetry runs fn up to maxRetries+1 times, sleeping retryDelay*(attempt+1)
// between transient failures.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt == maxRetries || !retryable(err) || ctx.Err() != nil {
			break
		}
		c.logger.Warn("ollama request failed, retrying",
			"op", op,
			"attempt", attempt+1,
			"max_retries", maxRetries,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay * time.Duration(attempt+1)):
		}
	}

	var pe *permanentError
	if errors.As(err, &pe) {
		return pe.err
	}
	return err
}
