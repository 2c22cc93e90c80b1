// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package manager

import (
	"github.com/kortschak/sensortag/pairing"
	"github.com/kortschak/sensortag/sensortag"
)

// Observer receives pairing and measurement notifications. Methods are
// called on the Manager's event goroutine and must not block.
type Observer interface {
	// Paired is called when the identity of a slot changes
	// as the result of pairing a peripheral.
	Paired(systemIDs, connectionIDs [pairing.Slots]string)
	// ValuesReceived is called with each decoded measurement.
	ValuesReceived(slot pairing.Slot, kind sensortag.Kind, values []float64)
}

// ObserverFuncs is an Observer calling the non-nil functions it holds.
type ObserverFuncs struct {
	OnPaired func(systemIDs, connectionIDs [pairing.Slots]string)
	OnValues func(slot pairing.Slot, kind sensortag.Kind, values []float64)
}

func (o ObserverFuncs) Paired(systemIDs, connectionIDs [pairing.Slots]string) {
	if o.OnPaired != nil {
		o.OnPaired(systemIDs, connectionIDs)
	}
}

func (o ObserverFuncs) ValuesReceived(slot pairing.Slot, kind sensortag.Kind, values []float64) {
	if o.OnValues != nil {
		o.OnValues(slot, kind, values)
	}
}

// Observers is an Observer notifying each of its elements in order.
type Observers []Observer

func (o Observers) Paired(systemIDs, connectionIDs [pairing.Slots]string) {
	for _, e := range o {
		e.Paired(systemIDs, connectionIDs)
	}
}

func (o Observers) ValuesReceived(slot pairing.Slot, kind sensortag.Kind, values []float64) {
	for _, e := range o {
		e.ValuesReceived(slot, kind, values)
	}
}
