// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package browser

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Open opens target in the user's default browser.  It returns once the
// browser was launched.
func Open(ctx context.Context, target string) error {
	var cmd string
	var args []string

	switch {
	case runtime.GOOS == "windows" || isWSL():
		cmd = "cmd.exe"
		args = []string{"/c", "start"}
		target = strings.ReplaceAll(target, "&", "^&")
	case runtime.GOOS == "darwin":
		cmd = "open"
	default: // "linux", "freebsd", "openbsd", "netbsd"
		cmd = "xdg-open"
	}
	args = append(args, target)
	if err := ctx.Err(); err != nil {
		return err
	}
	// the browser outlives ctx, so it's not started with exec.CommandContext
	return exec.Command(cmd, args...).Start()
}

// isWSL tests if the binary is being run in Windows Subsystem for Linux
func isWSL() bool {
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		return false
	}
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), "microsoft")
}
