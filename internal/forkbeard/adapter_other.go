// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package forkbeard

import "tinygo.org/x/bluetooth"

func adapter(string) *bluetooth.Adapter {
	return bluetooth.DefaultAdapter
}
