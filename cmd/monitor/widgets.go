// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"image/color"
	"image/draw"

	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/freesans"

	"github.com/kortschak/sensortag/cmd/internal/ring"
	"github.com/kortschak/sensortag/pairing"
	"github.com/kortschak/sensortag/sensortag"
)

// Table rows.
const (
	rowGyroscope = iota
	rowAccelerometer
	rowMagnetometer
	rowHumidity
	rowBarometer
	rowLuxometer
	rowBattery
	rowSystemID
	rows
)

var rowLabels = [rows]string{
	rowGyroscope:     "Gyroscope",
	rowAccelerometer: "Accelerometer",
	rowMagnetometer:  "Magnetometer",
	rowHumidity:      "Humidity",
	rowBarometer:     "Barometer",
	rowLuxometer:     "Luxometer",
	rowBattery:       "Battery",
	rowSystemID:      "System ID",
}

// cells holds the formatted table values, one column per slot.
type cells [rows][pairing.Slots]string

// set formats values of the given kind into the column for slot.
func (c *cells) set(slot pairing.Slot, kind sensortag.Kind, values []float64) {
	switch kind {
	case sensortag.KindMotion:
		if len(values) < 9 {
			return
		}
		c[rowGyroscope][slot] = fmt.Sprintf("%.2f, %.2f, %.2f", values[0], values[1], values[2])
		c[rowAccelerometer][slot] = fmt.Sprintf("%.3f, %.3f, %.3f", values[3], values[4], values[5])
		c[rowMagnetometer][slot] = fmt.Sprintf("%.0f, %.0f, %.0f", values[6], values[7], values[8])
	case sensortag.KindHumidity:
		if len(values) < 2 {
			return
		}
		c[rowHumidity][slot] = fmt.Sprintf("%.2f, %.2f", values[0], values[1])
	case sensortag.KindBarometer:
		if len(values) < 2 {
			return
		}
		c[rowBarometer][slot] = fmt.Sprintf("%.2f, %.0f", values[0], values[1])
	case sensortag.KindLuxometer:
		if len(values) < 1 {
			return
		}
		c[rowLuxometer][slot] = fmt.Sprintf("%.3f", values[0])
	case sensortag.KindBattery:
		if len(values) < 1 {
			return
		}
		c[rowBattery][slot] = fmt.Sprintf("%.0f%%", values[0])
	}
}

var (
	labelFont = &freesans.Bold9pt7b
	valueFont = &freesans.Regular9pt7b
	black     = color.RGBA{A: 0xff}
)

// drawTable renders c with a label column followed by one column per
// slot.
func drawTable(img draw.Image, c *cells) {
	blank(img)
	width := img.Bounds().Dx()
	const labelWidth = 120
	colWidth := (width - labelWidth) / pairing.Slots
	rowHeight := int(valueFont.YAdvance)

	for s := range pairing.Slots {
		tinyfont.WriteLine(displayShim{img}, labelFont,
			int16(labelWidth+s*colWidth), int16(rowHeight), pairing.Slot(s).String(), black)
	}
	for r, label := range rowLabels {
		y := int16((r + 2) * rowHeight)
		tinyfont.WriteLine(displayShim{img}, labelFont, 0, y, label, black)
		for s := range pairing.Slots {
			tinyfont.WriteLine(displayShim{img}, valueFont, int16(labelWidth+s*colWidth), y, c[r][s], black)
		}
	}
}

// history plots a temperature series.
type history struct {
	img    draw.Image
	window *ring.Window[float64]
	buf    []float64
}

func newHistory(img draw.Image) *history {
	blank(img)
	return &history{
		img:    img,
		window: ring.NewWindow[float64](img.Bounds().Dx()),
	}
}

func (h *history) add(v float64) {
	h.window.Push(v)
}

func (h *history) plot() {
	blank(h.img)
	h.buf = h.window.Values(h.buf[:0])
	if len(h.buf) < 2 {
		return
	}
	min, max := h.buf[0], h.buf[0]
	for _, v := range h.buf[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	const minRange = 0.5 // °C
	height := h.img.Bounds().Dy()
	for i, v := range h.buf[1:] {
		line(h.img, i, scale(h.buf[i], min, max, minRange, height), i+1, scale(v, min, max, minRange, height), color.Black)
	}
	label := fmt.Sprintf("%.1f C", h.buf[len(h.buf)-1])
	tinyfont.WriteLine(displayShim{h.img}, valueFont, 2, int16(valueFont.YAdvance), label, black)
}
