// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package capsession_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/cap-session/api"
	"github.com/hashicorp/cap-session/browser"
	"github.com/hashicorp/cap-session/lifecycle"
	"github.com/hashicorp/cap-session/oidc"
	"github.com/hashicorp/cap-session/session"
	"github.com/hashicorp/cap-session/storage"
	"github.com/hashicorp/cap-session/transport"
	"github.com/hashicorp/cap-session/usermanager"
)

func Example_lifecycle() {
	ctx := context.Background()

	// Create a new Config for a public client
	pc, err := oidc.NewConfig(
		"https://your-issuer.com/",
		"your_client_id",
		"",
		[]oidc.Alg{oidc.RS256},
		"http://localhost:8250/callback",
		oidc.WithScopes("profile", "offline_access"),
	)
	if err != nil {
		// handle error
	}

	// Create a provider, discovery is bounded by the context
	discoveryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	p, err := oidc.NewProvider(discoveryCtx, pc)
	cancel()
	if err != nil {
		// handle error
	}
	defer p.Done()

	// Persist the session and pending login requests
	kv, err := storage.NewFileKV("/home/you/.gladview")
	if err != nil {
		// handle error
	}
	store, err := session.NewStore(kv)
	if err != nil {
		// handle error
	}

	// The user agent, navigations open the system browser
	loc, err := browser.NewLocation("http://localhost:8250/", browser.WithOpener(browser.Open))
	if err != nil {
		// handle error
	}

	mgr, err := usermanager.NewManager(p, store, loc, usermanager.WithTimeout(10*time.Second))
	if err != nil {
		// handle error
	}
	c, err := lifecycle.NewController(mgr, loc)
	if err != nil {
		// handle error
	}

	// Run once per application load
	out := c.Initialize(ctx)
	switch {
	case out.Authenticated():
		fmt.Println("signed in as", out.Session.Username)
	case out.RedirectIssued:
		fmt.Println("the browser was sent to the login page")
	case errors.Is(out.Err, lifecycle.ErrProviderTimeout):
		fmt.Println("the provider didn't answer in time")
	default:
		fmt.Println("login failed:", out.Err)
	}

	// Backend requests carry the current token of the controller's session
	hc, err := transport.NewClient("https://api.your-app.com", c.Holder())
	if err != nil {
		// handle error
	}
	client, err := api.NewClient("https://api.your-app.com", hc)
	if err != nil {
		// handle error
	}
	layers, err := client.Layers(ctx, time.Now())
	if err != nil {
		// handle error
	}
	for _, l := range layers {
		fmt.Println(l.ZLevel, l.Name())
	}
}
