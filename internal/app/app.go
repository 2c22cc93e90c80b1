// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package app wires the sensortag logger components together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"tinygo.org/x/bluetooth"

	"github.com/kortschak/sensortag/internal/config"
	"github.com/kortschak/sensortag/internal/forkbeard"
	"github.com/kortschak/sensortag/internal/metrics"
	"github.com/kortschak/sensortag/internal/prefs"
	"github.com/kortschak/sensortag/manager"
	"github.com/kortschak/sensortag/pairing"
	"github.com/kortschak/sensortag/sensortag"
	"github.com/kortschak/sensortag/upload"
)

// Central is a manager.Central that delivers its events once started.
type Central interface {
	manager.Central
	Start(forkbeard.Events) error
}

// Options holds optional components for an App.
type Options struct {
	// Observer receives notifications in addition to
	// the preference store.
	Observer manager.Observer
	// Central is the Bluetooth central. If nil, the
	// configured host adapter is used.
	Central Central
	// Registerer and Gatherer are the metrics registry.
	// If nil, a new registry is used.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// App owns the logger components.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	central Central
	manager *manager.Manager
	mqtt    *upload.MQTTSink
	gather  prometheus.Gatherer
}

// New constructs the components described by cfg.
func New(cfg *config.Config, log *slog.Logger, opts Options) *App {
	if log == nil {
		log = slog.Default()
	}
	reg, gather := opts.Registerer, opts.Gatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gather = r, r
	}
	m := metrics.New(reg)

	registry := pairing.NewRegistry([pairing.Slots]pairing.Identity{})
	sinks := []upload.Sink{upload.HTTPSink{URL: cfg.Upload.URL}}
	var mqtt *upload.MQTTSink
	if cfg.MQTT.Broker != "" {
		mqtt = upload.NewMQTTSink(cfg.MQTT, log.With("component", "mqtt"))
		sinks = append(sinks, mqtt)
	}
	batch := &upload.Batcher{
		Threshold: cfg.Upload.Threshold,
		Timezone:  cfg.Upload.Timezone,
		ID:        registry.BatchID,
		Sinks:     sinks,
		Timeout:   cfg.Upload.Timeout,
		Log:       log.With("component", "upload"),
		Metrics:   m,
	}

	observer := manager.Observers{prefs.Store{Path: cfg.Preferences, Log: log}}
	if opts.Observer != nil {
		observer = append(observer, opts.Observer)
	}

	central := opts.Central
	if central == nil {
		central = forkbeard.NewCentral(cfg.Adapter, []bluetooth.UUID{sensortag.ScanService}, log.With("component", "bluetooth"))
	}

	return &App{
		cfg:     cfg,
		log:     log,
		central: central,
		mqtt:    mqtt,
		gather:  gather,
		manager: manager.New(central, registry, batch, observer, manager.Options{
			DeviceName:      cfg.DeviceName,
			Sensors:         cfg.Kinds,
			Range:           sensortag.Range(cfg.MotionRange),
			BatteryInterval: cfg.BatteryInterval,
			Log:             log.With("component", "manager"),
			Metrics:         m,
		}),
	}
}

// Run starts the components and runs until ctx is done. Before
// returning it flushes pending records and disconnects all sensors.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting sensortag logger",
		"adapter", a.cfg.Adapter,
		"sensors", a.cfg.Sensors,
		"upload_url", a.cfg.Upload.URL,
		"mqtt_broker", a.cfg.MQTT.Broker,
	)
	ids, err := prefs.Load(a.cfg.Preferences)
	if err != nil {
		return err
	}

	if a.mqtt != nil {
		go func() {
			err := a.mqtt.Connect(ctx)
			if err != nil {
				a.log.Warn("mqtt connect failed; batches will only be posted", "error", err)
			}
		}()
		defer a.mqtt.Close()
	}

	if a.cfg.Metrics.Addr != "" {
		srv, err := a.serveMetrics()
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
	}

	err = a.central.Start(a.manager)
	if err != nil {
		return err
	}
	a.manager.UpdateIdentities(ids)
	err = a.manager.Run(ctx)
	a.log.Info("sensortag logger stopped")
	return err
}

func (a *App) serveMetrics() (*http.Server, error) {
	ln, err := net.Listen("tcp", a.cfg.Metrics.Addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.gather))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	srv := &http.Server{Handler: mux}
	a.log.Info("serving metrics", "addr", ln.Addr())
	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server exited", "error", err)
		}
	}()
	return srv, nil
}

// Reload rereads the preference file and replaces the slot identities.
func (a *App) Reload() error {
	ids, err := prefs.Load(a.cfg.Preferences)
	if err != nil {
		return err
	}
	a.manager.UpdateIdentities(ids)
	return nil
}

// FlushNow requests an immediate upload of pending records.
func (a *App) FlushNow() {
	a.manager.FlushNow()
}
