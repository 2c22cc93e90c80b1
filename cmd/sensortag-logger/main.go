// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The sensortag-logger command pairs with two CC2650 SensorTags and
// uploads their measurements in batches.
//
// Sending SIGUSR1 uploads pending records immediately and SIGHUP
// reloads the paired identities from the preference file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kortschak/sensortag/internal/app"
	"github.com/kortschak/sensortag/internal/config"
	"github.com/kortschak/sensortag/internal/logging"
)

var version = "dev"

const appName = "sensortag-logger"

func main() {
	path := flag.String("config", "", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(os.Stdout, cfg, version, appName)
	slog.SetDefault(log)
	log.Info("starting", "version", version, "env", cfg.AppEnv, "log_level", cfg.Level.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg, log, app.Options{})
	go handleSignals(ctx, a, log)

	err = a.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("run failed", "error", err)
		os.Exit(1)
	}
	log.Info("shut down")
}

func handleSignals(ctx context.Context, a *app.App, log *slog.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1, syscall.SIGHUP)
	defer signal.Stop(sig)
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-sig:
			switch s {
			case syscall.SIGUSR1:
				log.Info("flush requested")
				a.FlushNow()
			case syscall.SIGHUP:
				log.Info("reloading preferences")
				err := a.Reload()
				if err != nil {
					log.Warn("failed to reload preferences", "error", err)
				}
			}
		}
	}
}
