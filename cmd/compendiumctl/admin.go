package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

func newClient(apiURL string) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(apiURL, "/")).
		SetTimeout(15*time.Minute).
		SetHeader("Accept", "application/json")
}

func check(resp *resty.Response, err error, out io.Writer) error {
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("http %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	_, err = fmt.Fprintln(out, strings.TrimSpace(resp.String()))
	return err
}

func runGet(ctx context.Context, apiURL, path string, out io.Writer) error {
	resp, err := newClient(apiURL).R().SetContext(ctx).Get(path)
	return check(resp, err, out)
}

func runPost(ctx context.Context, apiURL, path string, body any, out io.Writer) error {
	req := newClient(apiURL).R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Post(path)
	return check(resp, err, out)
}

func runSync(ctx context.Context, apiURL, provider string, types []string, wait bool, out io.Writer) error {
	path := "/api/sync"
	if provider != "" {
		path += "/" + url.PathEscape(provider)
	}
	q := url.Values{}
	for _, t := range types {
		q.Add("type", t)
	}
	if wait {
		q.Set("wait", "true")
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return runPost(ctx, apiURL, path, nil, out)
}

func runSearch(ctx context.Context, apiURL, itemType, query string, out io.Writer) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	path := fmt.Sprintf("/api/compendium/%s/search?q=%s", url.PathEscape(itemType), url.QueryEscape(query))
	return runGet(ctx, apiURL, path, out)
}
