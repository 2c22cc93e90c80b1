// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"image"
	"sync"

	"github.com/kortschak/sensortag/pairing"
	"github.com/kortschak/sensortag/sensortag"
)

const (
	cardWidth     = 640
	tableHeight   = 220
	historyHeight = 64
)

// monitor renders sensor values into a card image. It implements
// manager.Observer.
type monitor struct {
	mu      sync.Mutex
	cells   cells
	history [pairing.Slots]*history
	card    *image.Gray
	table   *image.Gray

	update chan image.Image
}

func newMonitor(update chan image.Image) *monitor {
	m := &monitor{
		card:   image.NewGray(image.Rect(0, 0, cardWidth, tableHeight+historyHeight)),
		table:  image.NewGray(image.Rect(0, 0, cardWidth, tableHeight)),
		update: update,
	}
	for s := range pairing.Slots {
		m.history[s] = newHistory(image.NewGray(image.Rect(0, 0, cardWidth/pairing.Slots, historyHeight)))
	}
	return m
}

func (m *monitor) Paired(systemIDs, _ [pairing.Slots]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for s, id := range systemIDs {
		m.cells[rowSystemID][s] = id
	}
	m.render()
}

func (m *monitor) ValuesReceived(slot pairing.Slot, kind sensortag.Kind, values []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cells.set(slot, kind, values)
	if kind == sensortag.KindHumidity && len(values) != 0 {
		m.history[slot].add(values[0])
		m.history[slot].plot()
	}
	m.render()
}

// setSystemIDs shows the configured identities before any pairing.
func (m *monitor) setSystemIDs(ids [pairing.Slots]pairing.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for s, id := range ids {
		m.cells[rowSystemID][s] = id.SystemID
	}
	m.render()
}

// render composes the card and hands a copy to the window, replacing
// any copy the window has not yet taken. update must have a buffer of
// one.
func (m *monitor) render() {
	drawTable(m.table, &m.cells)
	copy(m.card.Pix, m.table.Pix)
	for s, h := range m.history {
		dst := subDrawImage(m.card, image.Rectangle{
			Min: image.Point{X: s * cardWidth / pairing.Slots, Y: tableHeight},
			Max: image.Point{X: (s + 1) * cardWidth / pairing.Slots, Y: tableHeight + historyHeight},
		})
		src := h.img
		b := src.Bounds()
		for y := range b.Dy() {
			for x := range b.Dx() {
				dst.Set(x, y, src.At(x, y))
			}
		}
	}
	snapshot := image.NewGray(m.card.Rect)
	copy(snapshot.Pix, m.card.Pix)
	select {
	case <-m.update:
	default:
	}
	m.update <- snapshot
}
