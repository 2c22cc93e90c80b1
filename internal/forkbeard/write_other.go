// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package forkbeard

import "io"

// requestWriter is a characteristic accepting acknowledged writes.
type requestWriter interface {
	Write(p []byte) (n int, err error)
}

func write(ch requestWriter, p []byte) error {
	n, err := ch.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return io.ErrShortWrite
	}
	return nil
}
