// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package forkbeard

import "tinygo.org/x/bluetooth"

// adapter returns the BlueZ adapter with the given name, hci0 if empty.
func adapter(name string) *bluetooth.Adapter {
	if name == "" {
		name = "hci0"
	}
	return bluetooth.NewAdapter(name)
}
