// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package manager

import (
	"tinygo.org/x/bluetooth"

	"github.com/kortschak/sensortag/pairing"
)

// Event is an input to the Manager state machine. Events are either
// reports from the host Bluetooth stack, posted by a Central, or
// control requests.
type Event interface {
	isEvent()
}

// Advertised reports an advertisement received while scanning.
type Advertised struct {
	Peripheral string
	Name       string
	RSSI       int16
}

// Connected reports a successful connection.
type Connected struct {
	Peripheral string
}

// ConnectFailed reports a failed connection attempt.
type ConnectFailed struct {
	Peripheral string
	Err        error
}

// ServicesFound reports the result of service discovery.
type ServicesFound struct {
	Peripheral string
	Services   []bluetooth.UUID
	Err        error
}

// CharacteristicsFound reports the result of characteristic discovery
// within a service.
type CharacteristicsFound struct {
	Peripheral      string
	Service         bluetooth.UUID
	Characteristics []bluetooth.UUID
	Err             error
}

// CharacteristicUpdated reports a characteristic value, either from a
// read or from a notification.
type CharacteristicUpdated struct {
	Peripheral     string
	Service        bluetooth.UUID
	Characteristic bluetooth.UUID
	Value          []byte
	Err            error
}

// WriteCompleted reports the completion of a characteristic write.
type WriteCompleted struct {
	Peripheral     string
	Service        bluetooth.UUID
	Characteristic bluetooth.UUID
	Err            error
}

// Disconnected reports the loss of a connection.
type Disconnected struct {
	Peripheral string
	Err        error
}

// ScanStopped reports that scanning ended without being stopped.
type ScanStopped struct {
	Err error
}

// IdentitiesUpdated replaces the identities of both slots.
type IdentitiesUpdated struct {
	Identities [pairing.Slots]pairing.Identity
}

// FlushRequested requests an immediate flush of the upload batch.
type FlushRequested struct{}

func (Advertised) isEvent()            {}
func (Connected) isEvent()             {}
func (ConnectFailed) isEvent()         {}
func (ServicesFound) isEvent()         {}
func (CharacteristicsFound) isEvent()  {}
func (CharacteristicUpdated) isEvent() {}
func (WriteCompleted) isEvent()        {}
func (Disconnected) isEvent()          {}
func (ScanStopped) isEvent()           {}
func (IdentitiesUpdated) isEvent()     {}
func (FlushRequested) isEvent()        {}

// Central is the host Bluetooth stack as seen by the Manager. Methods
// start an operation and return without waiting for it; results are
// posted back to the Manager as events. A returned error means the
// operation could not be started.
type Central interface {
	StartScan() error
	StopScan() error
	Connect(id string) error
	DiscoverServices(id string, services []bluetooth.UUID) error
	DiscoverCharacteristics(id string, service bluetooth.UUID, chars []bluetooth.UUID) error
	Read(id string, service, char bluetooth.UUID) error
	Subscribe(id string, service, char bluetooth.UUID) error
	Write(id string, service, char bluetooth.UUID, value []byte) error
	// Disconnect closes the connection to the peripheral.
	// No further events are posted for it.
	Disconnect(id string) error
}
