// Package api talks to the remote play service: the paginated XML plays list
// and the geekplay.php endpoint that saves and deletes plays.
package api

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/url"
	"playsync/internal/config"
	"playsync/internal/constants"
	"playsync/internal/domain"
	"playsync/internal/retry"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

type BGGClient struct {
	baseURL     string
	geekPlayURL string
	username    string
	authCookie  string
	http        *retry.Interceptor
	logger      zerolog.Logger
}

// PlaysQuery selects one page of plays. Zero dates leave that side open.
type PlaysQuery struct {
	Username string
	MinDate  time.Time
	MaxDate  time.Time
	Page     int
}

func NewBGGClient(cfg *config.Config, logger zerolog.Logger) *BGGClient {
	return NewBGGClientWithDoer(cfg, &fasthttp.Client{
		Name:                "playsync",
		MaxConnsPerHost:     16,
		ReadTimeout:         constants.ExternalAPITimeout,
		WriteTimeout:        constants.ExternalAPITimeout,
		MaxIdleConnDuration: time.Minute,
	}, logger)
}

// NewBGGClientWithDoer lets callers supply the transport, e.g. an in-memory
// listener in tests.
func NewBGGClientWithDoer(cfg *config.Config, doer retry.Doer, logger zerolog.Logger) *BGGClient {
	logger = logger.With().Str("component", "bgg_client").Logger()
	return &BGGClient{
		baseURL:     cfg.APIBaseURL,
		geekPlayURL: cfg.GeekPlayURL,
		username:    cfg.Username,
		authCookie:  cfg.AuthCookie,
		http:        retry.NewInterceptor(doer, cfg.Retry, logger),
		logger:      logger,
	}
}

func (c *BGGClient) Username() string {
	return c.username
}

func (c *BGGClient) Plays(ctx context.Context, q PlaysQuery) (*PlaysResponse, error) {
	if q.Username == "" {
		q.Username = c.username
	}
	if q.Username == "" {
		return nil, domain.ErrMissingUsername
	}
	if q.Page < 1 {
		q.Page = 1
	}

	params := url.Values{}
	params.Set("username", q.Username)
	if !q.MinDate.IsZero() {
		params.Set("mindate", domain.FormatDate(q.MinDate))
	}
	if !q.MaxDate.IsZero() {
		params.Set("maxdate", domain.FormatDate(q.MaxDate))
	}
	params.Set("page", strconv.Itoa(q.Page))

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + "/xmlapi2/plays?" + params.Encode())
	req.Header.SetMethod(fasthttp.MethodGet)
	c.authorize(req)

	if err := c.do(ctx, req, resp); err != nil {
		return nil, err
	}

	var result PlaysResponse
	if err := xml.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("failed to decode plays page %d: %w", q.Page, err)
	}
	if result.Page == 0 {
		result.Page = q.Page
	}
	return &result, nil
}

func (c *BGGClient) SavePlay(ctx context.Context, p *domain.Play) (*PlaySaveResponse, error) {
	var result PlaySaveResponse
	if err := c.postForm(ctx, EncodeUpsertForm(p), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *BGGClient) DeletePlay(ctx context.Context, playID int) (*PlayDeleteResponse, error) {
	var result PlayDeleteResponse
	if err := c.postForm(ctx, EncodeDeleteForm(playID), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *BGGClient) postForm(ctx context.Context, form url.Values, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.geekPlayURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/x-www-form-urlencoded")
	req.SetBodyString(form.Encode())
	c.authorize(req)

	if err := c.do(ctx, req, resp); err != nil {
		return err
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to decode geekplay response: %w", err)
	}
	return nil
}

func (c *BGGClient) authorize(req *fasthttp.Request) {
	if c.authCookie != "" {
		req.Header.Set("Cookie", c.authCookie)
	}
}

func (c *BGGClient) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	start := time.Now()
	if err := c.http.Do(ctx, req, resp); err != nil {
		return fmt.Errorf("failed to call %s: %w", req.URI().Path(), err)
	}

	c.logger.Debug().
		Str("method", string(req.Header.Method())).
		Str("path", string(req.URI().Path())).
		Int("status", resp.StatusCode()).
		Dur("duration", time.Since(start)).
		Msg("remote call")

	switch status := resp.StatusCode(); status {
	case fasthttp.StatusOK:
		return nil
	case fasthttp.StatusUnauthorized, fasthttp.StatusForbidden:
		return fmt.Errorf("remote returned %d: %w", status, domain.ErrAuthFailed)
	default:
		return fmt.Errorf("API error: %d", status)
	}
}
