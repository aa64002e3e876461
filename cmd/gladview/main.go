// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Command gladview signs in to the GLAD viewer's identity provider and calls
// its backend API with the resulting session.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"

	"github.com/hashicorp/cap-session/browser"
	"github.com/hashicorp/cap-session/config"
)

var CLI struct {
	Env string `optional name:"env" help:"Path to a .env file (default: ./.env when present)"`

	Login struct {
		Force bool `optional name:"force" help:"Sign in again even when a session is stored"`
	} `cmd help:"Sign in with the browser"`

	Logout struct {
		Local bool `optional name:"local" help:"Only forget the stored session, don't sign out at the provider"`
	} `cmd help:"Sign out"`

	Whoami struct {
		Claims bool `optional name:"claims" help:"Print the provider's UserInfo claims"`
	} `cmd help:"Print the signed in user"`

	Token struct {
	} `cmd help:"Print the current access token"`

	Keepalive struct {
	} `cmd help:"Keep the stored session fresh until interrupted"`

	Meta struct {
	} `cmd help:"Print the backend's metadata"`

	Layers struct {
		Date string `optional name:"date" help:"Layers date (YYYY-MM-DD), default: the backend's latest"`
	} `cmd help:"Print the map layers, bottom to top"`

	Version struct {
	} `cmd short:"v" help:"gladview version"`
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("gladview"),
		kong.Description("Sign in to the GLAD viewer and query its API."),
	)
	if kctx.Command() == "version" {
		fmt.Printf("gladview %v\n", version)
		fmt.Printf("Revision %v, date: %v\n", commit, date)
		os.Exit(0)
	}
	if err := run(kctx.Command()); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
		os.Exit(1)
	}
}

func run(command string) error {
	var opts []config.Option
	if CLI.Env != "" {
		opts = append(opts, config.WithDotEnv(CLI.Env))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return err
	}
	logger := cfg.Logger("gladview")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, cfg, logger, os.Stdout)
	if err != nil {
		return err
	}
	defer a.close()

	switch command {
	case "login":
		cb, err := browser.NewCallbackServer(cfg.RedirectURL, browser.WithLogger(logger))
		if err != nil {
			return err
		}
		defer cb.Close()
		return a.login(ctx, cb, a.openBrowser, CLI.Login.Force)
	case "logout":
		return a.logout(ctx, a.openBrowser, CLI.Logout.Local)
	case "whoami":
		return a.whoami(ctx, CLI.Whoami.Claims)
	case "token":
		return a.token(ctx)
	case "keepalive":
		return a.keepalive(ctx)
	case "meta":
		return a.meta(ctx)
	case "layers":
		return a.layers(ctx, CLI.Layers.Date)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
