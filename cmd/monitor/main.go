// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The monitor command runs the sensortag logger with a window showing
// the latest values from each paired sensor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gioui.org/app"
	"gioui.org/font/gofont"
	"gioui.org/io/event"
	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/op/paint"
	"gioui.org/text"
	"gioui.org/unit"
	"gioui.org/widget"
	"gioui.org/widget/material"
	"gioui.org/x/explorer"

	sensorapp "github.com/kortschak/sensortag/internal/app"
	"github.com/kortschak/sensortag/internal/config"
	"github.com/kortschak/sensortag/internal/logging"
	"github.com/kortschak/sensortag/internal/prefs"
)

var version = "dev"

func main() {
	path := flag.String("config", "", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(os.Stderr, cfg, version, "sensortag-monitor")
	slog.SetDefault(log)

	update := make(chan image.Image, 1)
	mon := newMonitor(update)
	ids, err := prefs.Load(cfg.Preferences)
	if err != nil {
		log.Warn("failed to read preferences", "error", err)
	}
	mon.setSystemIDs(ids)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := sensorapp.New(cfg, log, sensorapp.Options{Observer: mon})
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	go func() {
		err := <-done
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("run failed", "error", err)
			os.Exit(1)
		}
		os.Exit(0)
	}()

	go func() {
		w := new(app.Window)
		w.Option(app.Title("SensorTag"), app.Size(cardWidth, tableHeight+historyHeight+56))
		err := loop(w, update, log)
		if err != nil {
			log.Error("window failed", "error", err)
		}
		stop()
	}()
	app.Main()
}

func loop(w *app.Window, update chan image.Image, log *slog.Logger) error {
	expl := explorer.NewExplorer(w)
	th := material.NewTheme()
	th.Shaper = text.NewShaper(text.WithCollection(gofont.Collection()))

	events := make(chan event.Event)
	ack := make(chan struct{})

	go func() {
		for {
			ev := w.Event()
			events <- ev
			<-ack
			if _, ok := ev.(app.DestroyEvent); ok {
				return
			}
		}
	}()
	var (
		img  image.Image
		save widget.Clickable
		ops  op.Ops
	)
	for {
		select {
		case img = <-update:
			w.Invalidate()
		case e := <-events:
			expl.ListenEvents(e)
			switch e := e.(type) {
			case app.DestroyEvent:
				ack <- struct{}{}
				return e.Err
			case app.FrameEvent:
				gtx := app.NewContext(&ops, e)
				if save.Clicked(gtx) && img != nil {
					go saveSnapshot(expl, img, log)
				}
				layout.Flex{Axis: layout.Vertical}.Layout(gtx,
					layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
						if img == nil {
							return layout.Dimensions{}
						}
						return widget.Image{
							Src: paint.NewImageOp(img),
							Fit: widget.Contain,
						}.Layout(gtx)
					}),
					layout.Rigid(func(gtx layout.Context) layout.Dimensions {
						return layout.UniformInset(unit.Dp(8)).Layout(gtx,
							material.Button(th, &save, "Save snapshot").Layout,
						)
					}),
				)
				e.Frame(gtx.Ops)
			}
			ack <- struct{}{}
		}
	}
}

// saveSnapshot writes img as a PNG to a file chosen by the user.
func saveSnapshot(expl *explorer.Explorer, img image.Image, log *slog.Logger) {
	f, err := expl.CreateFile("sensortag.png")
	if err != nil {
		if !errors.Is(err, explorer.ErrUserDecline) {
			log.Warn("failed to create snapshot file", "error", err)
		}
		return
	}
	err = png.Encode(f, img)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		log.Warn("failed to save snapshot", "error", err)
		return
	}
	log.Info("saved snapshot")
}
