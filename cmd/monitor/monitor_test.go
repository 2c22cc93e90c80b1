// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/sensortag/pairing"
	"github.com/kortschak/sensortag/sensortag"
)

var cellTests = []struct {
	name   string
	slot   pairing.Slot
	kind   sensortag.Kind
	values []float64
	row    int
	want   []string
}{
	{
		name:   "motion",
		slot:   pairing.Left,
		kind:   sensortag.KindMotion,
		values: []float64{1.234, -2, 0.006, 0.5, -0.25, 1.25, 12.4, -3.6, 0},
		row:    rowGyroscope,
		want:   []string{"1.23, -2.00, 0.01", "0.500, -0.250, 1.250", "12, -4, 0"},
	},
	{
		name:   "humidity",
		slot:   pairing.Right,
		kind:   sensortag.KindHumidity,
		values: []float64{21.875, 50},
		row:    rowHumidity,
		want:   []string{"21.88, 50.00"},
	},
	{
		name:   "barometer",
		slot:   pairing.Left,
		kind:   sensortag.KindBarometer,
		values: []float64{24.5, 1013.4},
		row:    rowBarometer,
		want:   []string{"24.50, 1013"},
	},
	{
		name:   "luxometer",
		slot:   pairing.Right,
		kind:   sensortag.KindLuxometer,
		values: []float64{81.92},
		row:    rowLuxometer,
		want:   []string{"81.920"},
	},
	{
		name:   "battery",
		slot:   pairing.Left,
		kind:   sensortag.KindBattery,
		values: []float64{87},
		row:    rowBattery,
		want:   []string{"87%"},
	},
}

func TestCells(t *testing.T) {
	for _, test := range cellTests {
		t.Run(test.name, func(t *testing.T) {
			var c cells
			c.set(test.slot, test.kind, test.values)
			for i, want := range test.want {
				assert.Equal(t, want, c[test.row+i][test.slot])
				assert.Empty(t, c[test.row+i][test.slot.Other()])
			}
		})
	}
}

func TestCellsShortValues(t *testing.T) {
	var c cells
	c.set(pairing.Left, sensortag.KindMotion, []float64{1, 2, 3})
	c.set(pairing.Left, sensortag.KindHumidity, nil)
	assert.Equal(t, cells{}, c)
}

func TestMonitor(t *testing.T) {
	update := make(chan image.Image, 1)
	m := newMonitor(update)
	m.setSystemIDs([pairing.Slots]pairing.Identity{{SystemID: "AABBCC"}, {}})
	m.Paired([pairing.Slots]string{"AABBCC", "DDEEFF"}, [pairing.Slots]string{"P1", "P2"})
	for _, v := range []float64{21, 21.5, 22, 21.75} {
		m.ValuesReceived(pairing.Right, sensortag.KindHumidity, []float64{v, 50})
	}

	assert.Equal(t, "DDEEFF", m.cells[rowSystemID][pairing.Right])
	assert.Equal(t, "21.75, 50.00", m.cells[rowHumidity][pairing.Right])
	assert.Equal(t, 4, m.history[pairing.Right].window.Len())
	assert.Equal(t, 0, m.history[pairing.Left].window.Len())

	require.Len(t, update, 1, "only the latest card is held")
	img := <-update
	assert.Equal(t, image.Rect(0, 0, cardWidth, tableHeight+historyHeight), img.Bounds())
	var dark int
	b := img.Bounds()
	for y := tableHeight; y < b.Max.Y; y++ {
		for x := cardWidth / 2; x < b.Max.X; x++ {
			if img.At(x, y).(color.Gray).Y < 0x80 {
				dark++
			}
		}
	}
	assert.NotZero(t, dark, "right history strip must be plotted")
}

var scaleTests = []struct {
	v, min, max, minRange float64
	height                int
	want                  int
}{
	{v: 0, min: 0, max: 10, minRange: 1, height: 11, want: 10},
	{v: 10, min: 0, max: 10, minRange: 1, height: 11, want: 0},
	{v: 5, min: 0, max: 10, minRange: 1, height: 11, want: 5},
	{v: 1, min: 1, max: 1, minRange: 2, height: 11, want: 5},
	{v: 20, min: 0, max: 10, minRange: 1, height: 11, want: 0},
}

func TestScale(t *testing.T) {
	for _, test := range scaleTests {
		got := scale(test.v, test.min, test.max, test.minRange, test.height)
		assert.Equal(t, test.want, got, "scale(%v, %v, %v, %v, %d)", test.v, test.min, test.max, test.minRange, test.height)
	}
}

func TestSubDrawImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 10, 10))
	sub := subDrawImage(img, image.Rect(5, 5, 10, 10))
	sub.Set(1, 2, color.White)
	assert.Equal(t, color.Gray{Y: 0xff}, img.At(6, 7))
	assert.Equal(t, color.Gray{Y: 0xff}, sub.At(1, 2))
}
