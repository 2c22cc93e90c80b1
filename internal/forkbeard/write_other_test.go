// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package forkbeard

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

type requestChar struct {
	got []byte
	n   int
	err error
}

func (c *requestChar) Write(p []byte) (int, error) {
	c.got = append(c.got, p...)
	if c.n >= 0 {
		return c.n, c.err
	}
	return len(p), c.err
}

func TestWrite(t *testing.T) {
	errWrite := errors.New("write failed")
	for _, test := range []struct {
		name string
		char requestChar
		want error
	}{
		{name: "ok", char: requestChar{n: -1}},
		{name: "short", char: requestChar{n: 1}, want: io.ErrShortWrite},
		{name: "error", char: requestChar{n: 0, err: errWrite}, want: errWrite},
	} {
		t.Run(test.name, func(t *testing.T) {
			err := write(&test.char, []byte{0x01, 0x02})
			assert.ErrorIs(t, err, test.want)
			if test.want == nil {
				assert.NoError(t, err)
			}
			assert.Equal(t, []byte{0x01, 0x02}, test.char.got, "value must be sent as a write request")
		})
	}
}
