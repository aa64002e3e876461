// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

const successHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Signed in</title></head>
<body>
<p>Authentication complete. You can close this window and return to the terminal.</p>
</body>
</html>
`

// CallbackServer listens on the loopback redirect URL registered with the
// provider and hands the first request to its path to Wait.
type CallbackServer struct {
	listener net.Listener
	srv      *http.Server
	url      *url.URL
	logger   hclog.Logger
	page     string

	once sync.Once
	ch   chan *url.URL
}

// NewCallbackServer starts listening on the host and port of redirectURL,
// which must be a plain http URL.  A port of 0 picks a free port, see URL.
//
// Supported options: WithLogger, WithSuccessHTML
func NewCallbackServer(redirectURL string, opt ...Option) (*CallbackServer, error) {
	const op = "browser.NewCallbackServer"
	u, err := parseAbs(redirectURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("%s: %q must use http: %w", op, redirectURL, ErrInvalidParameter)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	if ip := net.ParseIP(u.Hostname()); u.Hostname() != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return nil, fmt.Errorf("%s: %q is not a loopback address: %w", op, redirectURL, ErrInvalidParameter)
	}
	l, err := net.Listen("tcp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to listen on %s: %w", op, u.Host, err)
	}
	_, port, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	u.Host = net.JoinHostPort(u.Hostname(), port)

	opts := getOpts(opt...)
	s := &CallbackServer{
		listener: l,
		url:      u,
		logger:   opts.withLogger,
		page:     opts.withSuccessHTML,
		ch:       make(chan *url.URL, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(u.Path, s.handle)
	s.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("callback server stopped", "error", err)
		}
	}()
	return s, nil
}

// URL is the redirect URL the server is listening on.
func (s *CallbackServer) URL() string {
	return s.url.String()
}

func (s *CallbackServer) handle(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != s.url.Path {
		http.NotFound(w, req)
		return
	}
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	got := *s.url
	got.RawQuery = req.URL.RawQuery
	s.once.Do(func() {
		s.ch <- &got
	})
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(s.page)); err != nil {
		s.logger.Debug("unable to write callback page", "error", err)
	}
}

// Wait returns the callback URL the provider redirected to, including the
// authorization response in its query.
func (s *CallbackServer) Wait(ctx context.Context) (*url.URL, error) {
	const op = "CallbackServer.Wait"
	select {
	case u := <-s.ch:
		return u, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// Close stops the server.
func (s *CallbackServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
