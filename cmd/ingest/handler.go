// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// maxBody bounds the size of an accepted batch.
const maxBody = 10 << 20

type handler struct {
	mu  sync.Mutex
	w   io.Writer
	log *slog.Logger
}

func newHandler(w io.Writer, log *slog.Logger) *handler {
	return &handler{w: w, log: log}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		h.log.Warn("failed to read body", "remote", r.RemoteAddr, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	body = bytes.TrimRight(body, "\r\n")

	h.mu.Lock()
	_, err = h.w.Write(append(body, '\n'))
	h.mu.Unlock()
	if err != nil {
		h.log.Error("failed to store batch", "error", err)
		http.Error(w, "failed to store batch", http.StatusInternalServerError)
		return
	}
	h.log.Info("stored batch", "remote", r.RemoteAddr, "bytes", len(body))
	io.WriteString(w, "ok")
}
