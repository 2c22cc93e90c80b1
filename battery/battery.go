// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package battery implements decoding of the standard 180f Bluetooth
// battery service level characteristic.
//
// The SensorTag does not notify battery level changes, so the
// characteristic must be read on demand.
package battery

import (
	"fmt"
	"io"

	"tinygo.org/x/bluetooth"
)

const (
	ServiceID             = "180f"
	LevelCharacteristicID = "2a19"
)

var (
	Service             = must(bluetooth.ParseUUID(ServiceID))
	LevelCharacteristic = must(bluetooth.ParseUUID(LevelCharacteristicID))
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// Level is a battery level measurement.
type Level struct {
	Percent uint8
}

func (l *Level) UnmarshalBinary(data []byte) error {
	// https://www.bluetooth.com/specifications/specs/battery-service/
	if len(data) < 1 {
		return fmt.Errorf("battery: %w", io.ErrUnexpectedEOF)
	}
	l.Percent = data[0]
	return nil
}
