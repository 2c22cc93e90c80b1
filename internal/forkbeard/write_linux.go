// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package forkbeard

import "io"

// commandWriter is a characteristic accepting write commands. The
// BlueZ backend does not provide write requests.
type commandWriter interface {
	WriteWithoutResponse(p []byte) (n int, err error)
}

func write(ch commandWriter, p []byte) error {
	n, err := ch.WriteWithoutResponse(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return io.ErrShortWrite
	}
	return nil
}
