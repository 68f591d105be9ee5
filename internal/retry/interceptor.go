package retry

import (
	"context"
	"playsync/internal/config"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// Doer is the part of *fasthttp.Client the interceptor wraps.
type Doer interface {
	Do(req *fasthttp.Request, resp *fasthttp.Response) error
	DoDeadline(req *fasthttp.Request, resp *fasthttp.Response, deadline time.Time) error
}

// Interceptor executes a request and re-issues it while the response status is
// retryable and the matching policy still has budget.
//
// Waiting blocks the calling goroutine: a caller doing a synchronous
// request/response either gets a usable response back or stays parked inside
// Do. Cancelling ctx ends the wait early, and Do then returns the last response
// it received with a nil error so the caller classifies the outcome.
type Interceptor struct {
	next   Doer
	cfg    config.RetryConfig
	logger zerolog.Logger
}

func NewInterceptor(next Doer, cfg config.RetryConfig, logger zerolog.Logger) *Interceptor {
	return &Interceptor{
		next:   next,
		cfg:    cfg,
		logger: logger,
	}
}

func (i *Interceptor) Do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	// fresh budgets for every outer request; the set is local so concurrent
	// callers never share retry state
	policies := NewPolicySet(i.cfg)
	policies.Reset()

	if err := i.send(ctx, req, resp); err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		class := Classify(resp.StatusCode())
		if class == Other {
			return nil
		}

		wait, stop := policies.For(class).Next()
		if stop {
			i.logger.Warn().
				Str("uri", string(req.URI().Path())).
				Int("status", resp.StatusCode()).
				Str("classification", class.String()).
				Int("attempts", attempt).
				Msg("retry budget exhausted")
			return nil
		}

		i.logger.Debug().
			Str("uri", string(req.URI().Path())).
			Int("status", resp.StatusCode()).
			Str("classification", class.String()).
			Dur("wait", wait).
			Int("attempt", attempt).
			Msg("sleeping before retry")

		if !Sleep(ctx, wait) {
			i.logger.Warn().
				Err(ctx.Err()).
				Str("uri", string(req.URI().Path())).
				Msg("interrupted while sleeping during retry")
			return nil
		}

		if err := i.send(ctx, req, resp); err != nil {
			return err
		}
	}
}

func (i *Interceptor) send(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	if deadline, ok := ctx.Deadline(); ok {
		return i.next.DoDeadline(req, resp, deadline)
	}
	return i.next.Do(req, resp)
}

// Sleep blocks for d and reports false if ctx ended first.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
