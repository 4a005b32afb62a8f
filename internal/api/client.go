package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// RefreshPath is the refresh endpoint relative to the API base URL.
const RefreshPath = "auth/refresh"

const maxResponseBody = 4 << 20

// Client talks to the ekili-sync REST API. Calls to public endpoints go through
// anon; calls that need a session go through authed, whose transport is
// expected to attach and refresh the bearer token.
type Client struct {
	baseURL *url.URL
	anon    *http.Client
	authed  *http.Client
	logger  *logrus.Logger
}

func NewClient(baseURL string, anon, authed *http.Client, logger *logrus.Logger) (*Client, error) {
	base, err := parseBase(baseURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL: base,
		anon:    anon,
		authed:  authed,
		logger:  logger,
	}, nil
}

// ResolveURL joins path onto baseURL. A base without a trailing slash is
// treated as a directory.
func ResolveURL(baseURL, path string) (string, error) {
	base, err := parseBase(baseURL)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(&url.URL{Path: strings.TrimPrefix(path, "/")}).String(), nil
}

func parseBase(raw string) (*url.URL, error) {
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL.ResolveReference(&url.URL{Path: strings.TrimPrefix(path, "/")})
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends one request and decodes the (possibly {success, data} wrapped)
// response into out when out is non-nil.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, query url.Values, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"method": method,
			"path":   path,
		}).Debug("Request failed")
		return normalizeTransportError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return normalizeTransportError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := serverError(resp.StatusCode, data)
		c.logger.WithFields(logrus.Fields{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
		}).Debug(se.Message)
		return se
	}

	if out == nil {
		return nil
	}

	if err := decode(data, out); err != nil {
		c.logger.WithError(err).WithField("path", path).Warn("Unexpected response body")
		return ErrInvalidResponse
	}
	return nil
}

// decode unwraps a {success, data} envelope when present.
func decode(data []byte, out interface{}) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return io.ErrUnexpectedEOF
	}

	if data[0] == '{' {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(data, &envelope); err != nil {
			return err
		}
		_, hasSuccess := envelope["success"]
		inner, hasData := envelope["data"]
		if hasSuccess && hasData {
			data = inner
		}
	}

	return json.Unmarshal(data, out)
}
