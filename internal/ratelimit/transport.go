package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/changefeed/changefeed/internal/telemetry"
)

const (
	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3
	// DefaultBaseBackoff is the first retry delay when no Retry-After header is sent.
	DefaultBaseBackoff = 2 * time.Second
)

// Transport is an http.RoundTripper that waits on the Guard before each attempt, records
// the budget headers of each response, and retries 429/503 responses and network errors.
//
// Guard waits and retry sleeps are bounded only by the request context. Use AttemptTimeout,
// not http.Client.Timeout, to bound a single attempt: the client timeout also covers the
// time spent waiting here.
type Transport struct {
	Base  http.RoundTripper
	Guard *Guard
	// Pacer optionally spaces requests out further; nil disables pacing.
	Pacer       Pacer
	MaxRetries  int
	BaseBackoff time.Duration
	// AttemptTimeout bounds one attempt from send until its body is closed; 0 disables it.
	AttemptTimeout time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewTransport wraps base (http.DefaultTransport when nil) with guard and pacer.
func NewTransport(base http.RoundTripper, guard *Guard, pacer Pacer) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		Base:        base,
		Guard:       guard,
		Pacer:       pacer,
		MaxRetries:  DefaultMaxRetries,
		BaseBackoff: DefaultBaseBackoff,
		sleep:       sleepContext,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	sleep := t.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 0; ; attempt++ {
		if t.Guard != nil {
			if err := t.Guard.Wait(ctx); err != nil {
				return nil, err
			}
		}
		if t.Pacer != nil {
			if err := t.Pacer.Wait(ctx); err != nil {
				return nil, fmt.Errorf("failed to acquire request slot: %w", err)
			}
		}

		attemptReq, err := rewind(req, attempt)
		if err != nil {
			return nil, err
		}

		resp, err := t.send(attemptReq)
		if resp != nil && t.Guard != nil {
			t.Guard.Observe(resp.Header)
		}

		retryable, status := shouldRetry(resp, err)
		if !retryable || attempt >= t.MaxRetries || ctx.Err() != nil {
			return resp, err
		}

		delay := t.backoff(attempt)
		if resp != nil {
			if ra, ok := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
				delay = ra
			}
			drain(resp)
		}

		telemetry.GitHubRetriesTotal.WithLabelValues(strconv.Itoa(status)).Inc()
		slog.Warn("retrying GitHub request",
			"url", req.URL.Redacted(), "status", status, "attempt", attempt+1, "delay", delay, "error", err)

		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// send performs one attempt under AttemptTimeout. The deadline stays armed until the
// response body is closed.
func (t *Transport) send(req *http.Request) (*http.Response, error) {
	if t.AttemptTimeout <= 0 {
		return t.Base.RoundTrip(req)
	}
	ctx, cancel := context.WithTimeout(req.Context(), t.AttemptTimeout)
	resp, err := t.Base.RoundTrip(req.WithContext(ctx))
	if err != nil || resp == nil {
		cancel()
		return resp, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// backoff returns BaseBackoff * 2^attempt.
func (t *Transport) backoff(attempt int) time.Duration {
	base := t.BaseBackoff
	if base <= 0 {
		base = DefaultBaseBackoff
	}
	return base << attempt
}

// shouldRetry reports whether a response or transport error is transient. The returned
// status is the HTTP status, or 0 for network errors and attempt timeouts. Cancellation of
// the caller's context is checked separately.
func shouldRetry(resp *http.Response, err error) (bool, int) {
	if err != nil {
		return !errors.Is(err, context.Canceled), 0
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true, resp.StatusCode
	}
	return false, resp.StatusCode
}

// parseRetryAfter reads a Retry-After header given either as delay-seconds or as an
// HTTP date.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// rewind returns the request to send on the given attempt, re-creating its body when
// the request has one.
func rewind(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 0 || req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("cannot retry %s %s: request body is not replayable", req.Method, req.URL.Redacted())
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to rewind request body: %w", err)
	}
	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
