// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package forkbeard provides a Bluetooth central for the sensor manager
// backed by the host Bluetooth stack.
package forkbeard

import (
	"fmt"
	"io"
	"slices"

	"tinygo.org/x/bluetooth"
)

// services returns the services in srv that are listed in ids, keyed
// by their UUID. If ids is empty all services are returned.
func services(srv []bluetooth.DeviceService, ids []bluetooth.UUID) map[bluetooth.UUID]bluetooth.DeviceService {
	found := make(map[bluetooth.UUID]bluetooth.DeviceService)
	for _, s := range srv {
		id := s.UUID()
		if len(ids) != 0 && !slices.Contains(ids, id) {
			continue
		}
		found[id] = s
	}
	return found
}

// characteristics returns the characteristics in chars that are listed
// in ids, keyed by their UUID. If ids is empty all characteristics are
// returned.
func characteristics(chars []bluetooth.DeviceCharacteristic, ids []bluetooth.UUID) map[bluetooth.UUID]bluetooth.DeviceCharacteristic {
	found := make(map[bluetooth.UUID]bluetooth.DeviceCharacteristic)
	for _, c := range chars {
		id := c.UUID()
		if len(ids) != 0 && !slices.Contains(ids, id) {
			continue
		}
		found[id] = c
	}
	return found
}

// keys returns the UUIDs of m in the order they appear in order.
func keys[V any](m map[bluetooth.UUID]V, order []bluetooth.UUID) []bluetooth.UUID {
	var ids []bluetooth.UUID
	for _, id := range order {
		if _, ok := m[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// readCharacteristic reads data from a Bluetooth characteristic.
func readCharacteristic(char bluetooth.DeviceCharacteristic) ([]byte, error) {
	mtu, err := char.GetMTU()
	if err != nil {
		return nil, fmt.Errorf("failed to obtain mtu of characteristic: %w", err)
	}
	buf := make([]byte, mtu)
	n, err := char.Read(buf)
	if err != nil && err != io.EOF {
		return buf[:n], fmt.Errorf("failed to read characteristic %s: %w", char.UUID(), err)
	}
	return buf[:n], nil
}
