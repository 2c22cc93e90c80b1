// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ring implements a fixed-size window over the most recent
// values of a series.
package ring

// Window holds the most recent values pushed to it, up to its capacity.
type Window[T any] struct {
	data  []T
	start int
	n     int
}

// NewWindow returns a Window holding up to n values.
func NewWindow[T any](n int) *Window[T] {
	return &Window[T]{data: make([]T, n)}
}

// Len returns the number of values held.
func (w *Window[T]) Len() int { return w.n }

// Cap returns the maximum number of values held.
func (w *Window[T]) Cap() int { return len(w.data) }

// Push adds values to the window, evicting the oldest values when the
// window is full.
func (w *Window[T]) Push(values ...T) {
	if len(w.data) == 0 {
		return
	}
	if len(values) > len(w.data) {
		values = values[len(values)-len(w.data):]
	}
	for _, v := range values {
		end := (w.start + w.n) % len(w.data)
		w.data[end] = v
		if w.n < len(w.data) {
			w.n++
		} else {
			w.start = (w.start + 1) % len(w.data)
		}
	}
}

// Values appends the held values to dst, oldest first.
func (w *Window[T]) Values(dst []T) []T {
	if w.start+w.n <= len(w.data) {
		return append(dst, w.data[w.start:w.start+w.n]...)
	}
	dst = append(dst, w.data[w.start:]...)
	return append(dst, w.data[:w.start+w.n-len(w.data)]...)
}

// Last returns the most recently pushed value.
func (w *Window[T]) Last() (v T, ok bool) {
	if w.n == 0 {
		return v, false
	}
	return w.data[(w.start+w.n-1)%len(w.data)], true
}

// Reset empties the window.
func (w *Window[T]) Reset() {
	w.start, w.n = 0, 0
}
