// Package sample is a reference checker for services that expose a small flag store
// over HTTP: PUT {path} stores a flag and returns its id, GET {path}/{id} reads it back.
package sample

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/osvaldoandrade/flagq/pkg/checker"
	"github.com/osvaldoandrade/flagq/pkg/domain"
)

type sampleChecker struct {
	client *http.Client
	scheme string
	port   string
	path   string
}

// New builds the checker. Options: scheme (http), port (service default),
// path (/api/flags), timeoutSeconds (10).
func New(opts checker.Options) (checker.Checker, error) {
	c := &sampleChecker{
		scheme: strings.TrimSpace(opts["scheme"]),
		port:   strings.TrimSpace(opts["port"]),
		path:   strings.TrimSpace(opts["path"]),
	}
	if c.scheme == "" {
		c.scheme = "http"
	}
	if c.scheme != "http" && c.scheme != "https" {
		return nil, fmt.Errorf("sample checker: unsupported scheme %q", c.scheme)
	}
	if c.path == "" {
		c.path = "/api/flags"
	}
	timeout := 10 * time.Second
	if v := strings.TrimSpace(opts["timeoutSeconds"]); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("sample checker: invalid timeoutSeconds %q", v)
		}
		timeout = time.Duration(n) * time.Second
	}
	c.client = &http.Client{Timeout: timeout}
	return c, nil
}

func init() {
	checker.Register("sample", New)
}

func (c *sampleChecker) baseURL(endpoint string) string {
	host := endpoint
	if c.port != "" && !strings.Contains(endpoint, ":") {
		host = endpoint + ":" + c.port
	}
	return c.scheme + "://" + host + c.path
}

type storeResponse struct {
	ID string `json:"id"`
}

type fetchResponse struct {
	Flag string `json:"flag"`
}

func (c *sampleChecker) Push(ctx context.Context, endpoint, flag string, adjunct []byte, md domain.Metadata) (domain.Result, []byte, error) {
	body, _ := json.Marshal(map[string]any{"flag": flag, "round": md.Round})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL(endpoint), bytes.NewReader(body))
	if err != nil {
		return domain.ResultInternalError, adjunct, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return domain.ResultDown, adjunct, ctx.Err()
		}
		return domain.ResultDown, adjunct, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.ResultMumble, adjunct, nil
	}
	var out storeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil || out.ID == "" {
		return domain.ResultMumble, adjunct, nil
	}
	return domain.ResultOK, []byte(out.ID), nil
}

func (c *sampleChecker) Pull(ctx context.Context, endpoint, flag string, adjunct []byte, md domain.Metadata) (domain.Result, error) {
	if len(adjunct) == 0 {
		return domain.ResultCorrupt, nil
	}
	u := c.baseURL(endpoint) + "/" + url.PathEscape(string(adjunct))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.ResultInternalError, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return domain.ResultDown, ctx.Err()
		}
		return domain.ResultDown, nil
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ResultCorrupt, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return domain.ResultMumble, nil
	}
	var out fetchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return domain.ResultMumble, nil
	}
	if out.Flag != flag {
		return domain.ResultCorrupt, nil
	}
	return domain.ResultOK, nil
}
