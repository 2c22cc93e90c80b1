// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler(t *testing.T) {
	var out bytes.Buffer
	h := newHandler(&out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	mux.Handle("POST /", h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	for _, body := range []string{`{"uuid":"A-B","data":[]}`, "{\"uuid\":\"A-\"}\n"} {
		resp, err := http.Post(srv.URL+"/data", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		got, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok", string(got))
	}
	assert.Equal(t, "{\"uuid\":\"A-B\",\"data\":[]}\n{\"uuid\":\"A-\"}\n", out.String())

	resp, err := http.Get(srv.URL + "/data")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
