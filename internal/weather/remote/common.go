package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/live-weather-tracker/internal/common"
)

// BackoffConfig controls exponential backoff behaviour.
// MaxRetries of zero means a single attempt.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// delay returns the wait before retry number attempt (0-based).
func (b BackoffConfig) delay(attempt int) time.Duration {
	d := b.InitialInterval << attempt
	if d <= 0 || (b.MaxInterval > 0 && d > b.MaxInterval) {
		return b.MaxInterval
	}
	return d
}

var (
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

// StatusError is a non-2xx answer from the tracker server.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.Code)
}

// transient reports whether the server may answer differently next time.
// Only transient statuses count against the breaker or get retried.
func (e *StatusError) transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// endpoint is one class of calls (reads or writes) with its own retry policy
// and breaker, so failing writes never trip reads and vice versa.
type endpoint struct {
	client  *http.Client
	backoff BackoffConfig
	breaker *gobreaker.CircuitBreaker
}

func newEndpoint(name string, client *http.Client, backoff BackoffConfig) endpoint {
	return endpoint{
		client:  client,
		backoff: backoff,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 5,
			Interval:    1 * time.Minute,
			Timeout:     30 * time.Second,
		}),
	}
}

// do sends the request built by build, retrying transient failures with
// exponential backoff. The returned response always has a 2xx status.
// Every returned error wraps common.ErrNetwork except context errors, which
// are returned as is.
func (e endpoint) do(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	if e.client == nil {
		return nil, errNoHTTPClient
	}
	if e.backoff.MaxRetries < 0 || e.backoff.InitialInterval <= 0 {
		return nil, errInvalidConfig
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := build()
		if err != nil {
			return nil, err
		}

		resp, err := e.send(req.WithContext(ctx))
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !e.retryable(err) || attempt >= e.backoff.MaxRetries {
			return nil, fmt.Errorf("%w: %w", common.ErrNetwork, err)
		}

		timer := time.NewTimer(e.backoff.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// send performs one attempt. Transport errors, 429 and 5xx go through the
// breaker as failures; any other non-2xx is resolved outside it so a
// healthy server answering 404 never opens the circuit.
func (e endpoint) send(req *http.Request) (*http.Response, error) {
	result, err := e.breaker.Execute(func() (interface{}, error) {
		resp, err := e.client.Do(req)
		if err != nil {
			return nil, err
		}
		if status := (&StatusError{Code: resp.StatusCode}); status.transient() {
			drain(resp)
			return nil, status
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
	}
	if err != nil {
		return nil, err
	}

	resp := result.(*http.Response)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		drain(resp)
		return nil, &StatusError{Code: resp.StatusCode}
	}
	return resp, nil
}

func (e endpoint) retryable(err error) bool {
	if errors.Is(err, errCircuitOpen) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.transient()
	}
	return true
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
