// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dghubble/sling"
	"github.com/hashicorp/go-hclog"
)

// DateFormat is the format of the layers date parameter.
const DateFormat = "2006-01-02"

// Meta is the backend's metadata document.
type Meta map[string]interface{}

// Layer is a map layer.  Every field of the backend's layer object is kept in
// Fields, ZLevel orders layers bottom to top.
type Layer struct {
	ZLevel float64
	Fields map[string]interface{}
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *Layer) UnmarshalJSON(data []byte) error {
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	l.Fields = fields
	l.ZLevel = 0
	if z, ok := fields["zlevel"].(float64); ok {
		l.ZLevel = z
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (l Layer) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Fields)
}

// Name returns the layer's "name" field, if any.
func (l Layer) Name() string {
	n, _ := l.Fields["name"].(string)
	return n
}

// bodyDecoder is the sling.ResponseDecoder of a Client.  Bodies may be empty
// (304, or an error from a proxy) and error bodies may not be JSON at all.  In
// both cases v is left as it is and the status code is what the caller acts on.
type bodyDecoder struct{}

// Decode implements sling.ResponseDecoder.
func (bodyDecoder) Decode(resp *http.Response, v interface{}) error {
	err := json.NewDecoder(resp.Body).Decode(v)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil
	default:
		return err
	}
}

// Client calls the backend API.  It's safe for concurrent use.
type Client struct {
	base   *sling.Sling
	logger hclog.Logger

	mu   sync.Mutex
	etag string
	meta Meta
}

// NewClient creates a Client for the backend at backendURL.  Requests are sent
// with httpClient, normally one built by transport.NewClient.
//
// Supported options: WithBasePath, WithLogger
func NewClient(backendURL string, httpClient *http.Client, opt ...Option) (*Client, error) {
	const op = "api.NewClient"
	if httpClient == nil {
		return nil, fmt.Errorf("%s: http client is nil: %w", op, ErrNilParameter)
	}
	u, err := url.Parse(backendURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%s: backend url %q is not an absolute url: %w", op, backendURL, ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	base := strings.TrimSuffix(u.String(), "/") + "/" + strings.Trim(opts.withBasePath, "/") + "/"
	return &Client{
		base:   sling.New().Client(httpClient).Base(base).ResponseDecoder(bodyDecoder{}),
		logger: opts.withLogger,
	}, nil
}

// Ping checks the backend is reachable.  It doesn't need a token.
func (c *Client) Ping(ctx context.Context) error {
	const op = "Client.Ping"
	req, err := c.base.New().Head("meta").Request()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	resp, err := c.base.New().Do(req.WithContext(ctx), nil, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: %w", op, &Error{StatusCode: resp.StatusCode})
	}
	return nil
}

// Meta returns the backend's metadata.  The last response is cached with its
// ETag and returned when the backend answers 304 Not Modified.
func (c *Client) Meta(ctx context.Context) (Meta, error) {
	const op = "Client.Meta"
	c.mu.Lock()
	etag, cached := c.etag, c.meta
	c.mu.Unlock()

	s := c.base.New().Get("meta")
	if etag != "" && cached != nil {
		s = s.Set("If-None-Match", etag)
	}
	req, err := s.Request()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var meta Meta
	apiErr := &Error{}
	resp, err := s.Do(req.WithContext(ctx), &meta, apiErr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotModified && cached != nil:
		c.logger.Trace("meta not modified", "op", op, "etag", etag)
		return cached, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		apiErr.StatusCode = resp.StatusCode
		return nil, fmt.Errorf("%s: %w", op, apiErr)
	}

	if newTag := resp.Header.Get("ETag"); newTag != "" {
		c.mu.Lock()
		c.etag, c.meta = newTag, meta
		c.mu.Unlock()
	}
	return meta, nil
}

// Layers returns the layers for date, sorted by ascending zlevel.  A zero
// date asks for the backend's default.
func (c *Client) Layers(ctx context.Context, date time.Time) ([]Layer, error) {
	const op = "Client.Layers"
	s := c.base.New().Get("layers")
	if !date.IsZero() {
		s = s.QueryStruct(struct {
			Date string `url:"date"`
		}{Date: date.Format(DateFormat)})
	}
	req, err := s.Request()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var layers []Layer
	apiErr := &Error{}
	resp, err := s.Do(req.WithContext(ctx), &layers, apiErr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr.StatusCode = resp.StatusCode
		return nil, fmt.Errorf("%s: %w", op, apiErr)
	}
	sort.SliceStable(layers, func(i, j int) bool {
		return layers[i].ZLevel < layers[j].ZLevel
	})
	return layers, nil
}
