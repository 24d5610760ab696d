// Package fetch pulls a window from the remote source page by page.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hpungsan/gather/internal/errors"
	"github.com/hpungsan/gather/internal/record"
)

// DefaultMaxRecords is the per-cycle ceiling across all pages.
const DefaultMaxRecords = 50000

// maxBodyBytes bounds a single response body.
const maxBodyBytes = 256 << 20

// RetryPolicy bounds retries of transient remote failures.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Options configures a Client.
type Options struct {
	URL               string
	LimitYn           string
	MaxRecords        int
	KeySpec           record.KeySpec
	Retry             RetryPolicy
	RequestTimeout    time.Duration
	RequestsPerSecond float64
}

// Client fetches pages from the source over HTTP.
type Client struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a Client. A nil httpClient gets one with opts.RequestTimeout.
func New(opts Options, httpClient *http.Client, logger *zap.Logger) *Client {
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = DefaultMaxRecords
	}
	if opts.LimitYn == "" {
		opts.LimitYn = record.LimitYes
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.RequestTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &Client{
		opts:    opts,
		http:    httpClient,
		limiter: limiter,
		logger:  logger,
	}
}

// MaxRecords returns the effective per-cycle ceiling.
func (c *Client) MaxRecords() int {
	return c.opts.MaxRecords
}

// fetchPage requests one page, retrying transient failures with exponential backoff.
// ctx only interrupts the waits between attempts; an in-flight request runs to
// completion (bounded by the request timeout) so cancellation lands on a page boundary.
func (c *Client) fetchPage(ctx context.Context, start time.Time, offset int) (*record.Envelope, error) {
	body, err := json.Marshal(record.Request{
		StartTime: record.FormatAPITime(start),
		LimitYn:   c.opts.LimitYn,
		Offset:    offset,
	})
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	b := backoff.NewExponentialBackOff()
	if c.opts.Retry.InitialBackoff > 0 {
		b.InitialInterval = c.opts.Retry.InitialBackoff
	}
	if c.opts.Retry.MaxBackoff > 0 {
		b.MaxInterval = c.opts.Retry.MaxBackoff
	}

	attempt := 0
	op := func() (*record.Envelope, error) {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(errors.NewCancelled("fetch"))
		}
		env, err := c.do(context.WithoutCancel(ctx), body)
		if err != nil && !errors.Retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return env, err
	}

	env, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.opts.Retry.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("page request failed, retrying",
				zap.Int("offset", offset),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", next),
				zap.String("error_code", string(errors.CodeOf(err))),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		if gErr, ok := errors.As(err); ok {
			return nil, gErr
		}
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return nil, errors.NewCancelled("fetch")
		}
		return nil, errors.NewInternal(err)
	}
	return env, nil
}

// do performs a single POST and classifies the outcome.
func (c *Client) do(ctx context.Context, body []byte) (*record.Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.URL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.NewRemoteUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, errors.NewRemoteError(resp.StatusCode, "", "")
	}

	env, err := record.DecodeEnvelope(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.NewMalformedResponse(err.Error())
	}
	if env.ResCode != record.ResCodeSuccess {
		return nil, errors.NewRemoteError(resp.StatusCode, env.ResCode, env.ResMsg)
	}
	return env, nil
}

// checkPage validates the page's counts and every record's shape and identity.
func (c *Client) checkPage(env *record.Envelope, offset int) error {
	if env.DataCnt != len(env.Data) {
		return errors.NewMalformedResponse(fmt.Sprintf("dataCnt %d does not match %d data items at offset %d", env.DataCnt, len(env.Data), offset))
	}
	if env.TotalCnt != nil && *env.TotalCnt < 0 {
		return errors.NewMalformedResponse(fmt.Sprintf("negative totalCnt %d", *env.TotalCnt))
	}
	for i, rec := range env.Data {
		if err := record.Validate(rec); err != nil {
			return errors.NewMalformedResponse(fmt.Sprintf("data[%d] at offset %d: %v", i, offset, err))
		}
		if _, err := c.opts.KeySpec.Key(rec); err != nil {
			return errors.NewMalformedResponse(fmt.Sprintf("data[%d] at offset %d: %v", i, offset, err))
		}
	}
	return nil
}
