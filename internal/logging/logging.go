// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package logging constructs the application loggers.
package logging

import (
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"

	"github.com/kortschak/sensortag/internal/config"
)

// New returns a logger writing to w. Development builds get colourised
// text output and production builds get JSON.
func New(w io.Writer, cfg *config.Config, version, app string) *slog.Logger {
	if cfg.AppEnv == "dev" {
		h := tint.NewHandler(w, &tint.Options{
			Level:      cfg.Level,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
		return slog.New(h).With("app", app)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.Level,
	})
	return slog.New(h).With(
		"app", app,
		"version", version,
		"env", cfg.AppEnv,
	)
}
