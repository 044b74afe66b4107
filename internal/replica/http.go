package replica

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	perrors "github.com/Mystery2099/dnd-pwa-sub000/internal/errors"
)

// DefaultRequestTimeout bounds every request the replica makes.
const DefaultRequestTimeout = 10 * time.Second

func newHTTPClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "compendium-replica/1.0")
}

// get issues a GET. Failures come back classified: transport errors and 5xx
// are retryable, other 4xx are terminal.
func get(ctx context.Context, c *resty.Client, path string) ([]byte, error) {
	resp, err := c.R().SetContext(ctx).Get(path)
	if err := classify("GET "+path, resp, err); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// classify turns a transport error or a non-2xx response into a ClassifiedError.
func classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		return perrors.NewNetworkError(op, err)
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return perrors.NewHTTPError(code, resp.String(), op)
	}
	return nil
}
