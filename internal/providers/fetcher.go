package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	perrors "github.com/Mystery2099/dnd-pwa-sub000/internal/errors"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/retry"
)

// DefaultPageTimeout bounds a single page request.
const DefaultPageTimeout = 30 * time.Second

// FetcherConfig configures a PageFetcher.
type FetcherConfig struct {
	Provider    string
	BaseURL     string
	PageTimeout time.Duration
	PageDelay   time.Duration
	Retry       retry.Options
	HTTPClient  *http.Client
}

// PageFetcher performs the page requests of one provider. Every request is
// bounded by PageTimeout and retried only when the failure is retryable.
type PageFetcher struct {
	cfg    FetcherConfig
	client *resty.Client
	log    zerolog.Logger
}

// NewPageFetcher builds a fetcher rooted at cfg.BaseURL.
func NewPageFetcher(cfg FetcherConfig, log zerolog.Logger) *PageFetcher {
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = DefaultPageTimeout
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = perrors.IsRetryable
	}

	var c *resty.Client
	if cfg.HTTPClient != nil {
		c = resty.NewWithClient(cfg.HTTPClient)
	} else {
		c = resty.New()
	}
	c.SetBaseURL(cfg.BaseURL).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "compendium-sync/1.0")

	return &PageFetcher{cfg: cfg, client: c, log: log.With().Str("provider", cfg.Provider).Logger()}
}

// Get requests path (relative to the base URL, or absolute) with query and
// decodes the JSON body into out. It returns the response size in bytes.
func (f *PageFetcher) Get(ctx context.Context, path string, query url.Values, out any) (int64, error) {
	return f.do(ctx, path, out, func(r *resty.Request) (*resty.Response, error) {
		if len(query) > 0 {
			r.SetQueryParamsFromValues(query)
		}
		return r.Get(path)
	})
}

// Post sends body as JSON to path and decodes the JSON response into out.
func (f *PageFetcher) Post(ctx context.Context, path string, body any, out any) (int64, error) {
	return f.do(ctx, path, out, func(r *resty.Request) (*resty.Response, error) {
		return r.SetHeader("Content-Type", "application/json").SetBody(body).Post(path)
	})
}

// Ping issues a single unretried GET and reports any non-2xx status as an error.
func (f *PageFetcher) Ping(ctx context.Context, path string) error {
	resp, err := f.client.R().SetContext(ctx).Get(path)
	if err != nil {
		return &perrors.FetchError{Provider: f.cfg.Provider, URL: path, Err: err}
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return &perrors.FetchError{
			Provider:   f.cfg.Provider,
			URL:        path,
			StatusCode: resp.StatusCode(),
			Body:       perrors.Truncate(resp.String()),
		}
	}
	return nil
}

// Pause waits the configured inter-page delay or until ctx is done.
func (f *PageFetcher) Pause(ctx context.Context) error {
	if f.cfg.PageDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(f.cfg.PageDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (f *PageFetcher) do(ctx context.Context, path string, out any, send func(*resty.Request) (*resty.Response, error)) (int64, error) {
	opts := f.cfg.Retry
	onRetry := opts.OnRetry
	opts.OnRetry = func(err error, attempt int, wait time.Duration) {
		f.log.Warn().Err(err).Str("url", path).Int("attempt", attempt).Dur("wait", wait).Msg("Page request failed, retrying")
		if onRetry != nil {
			onRetry(err, attempt, wait)
		}
	}

	return retry.Do(ctx, func(ctx context.Context) (int64, error) {
		pctx, cancel := context.WithTimeout(ctx, f.cfg.PageTimeout)
		defer cancel()

		resp, err := send(f.client.R().SetContext(pctx))
		if err != nil {
			return 0, &perrors.FetchError{Provider: f.cfg.Provider, URL: path, Err: err}
		}
		if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
			return 0, &perrors.FetchError{
				Provider:   f.cfg.Provider,
				URL:        path,
				StatusCode: resp.StatusCode(),
				Body:       perrors.Truncate(resp.String()),
			}
		}
		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return 0, &perrors.FetchError{
					Provider: f.cfg.Provider,
					URL:      path,
					Body:     perrors.Truncate(resp.String()),
					Err:      fmt.Errorf("decode response: %w", err),
					Terminal: true,
				}
			}
		}
		return int64(len(resp.Body())), nil
	}, opts)
}
