// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metrics provides Prometheus instrumentation for the sensor
// manager and upload batcher.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sensortag"

// Metrics holds the collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Advertisements prometheus.Counter
	Connections    prometheus.Counter
	Rejections     prometheus.Counter
	DecodeErrors   prometheus.Counter
	Records        prometheus.Counter
	Flushes        prometheus.Counter
	UploadFailures prometheus.Counter

	LiveSlots   prometheus.Gauge
	BatchLength prometheus.Gauge

	UploadLatency prometheus.Histogram
}

// New returns a new Metrics registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Advertisements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advertisements_total",
			Help:      "Advertisements received while scanning.",
		}),
		Connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Successful peripheral connections.",
		}),
		Rejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Peripherals rejected by the pairing registry.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Characteristic updates dropped because they could not be decoded.",
		}),
		Records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Telemetry records added to the upload batch.",
		}),
		Flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Upload batches flushed.",
		}),
		UploadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_failures_total",
			Help:      "Upload attempts that failed; their records are lost.",
		}),
		LiveSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_slots",
			Help:      "Slots currently holding a peripheral.",
		}),
		BatchLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_length",
			Help:      "Records waiting in the upload batch.",
		}),
		UploadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_latency_seconds",
			Help:      "Time taken by a single upload attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
	reg.MustRegister(
		m.Advertisements,
		m.Connections,
		m.Rejections,
		m.DecodeErrors,
		m.Records,
		m.Flushes,
		m.UploadFailures,
		m.LiveSlots,
		m.BatchLength,
		m.UploadLatency,
	)
	return m
}

// Inc increments c if m is not nil.
func (m *Metrics) Inc(c func(*Metrics) prometheus.Counter) {
	if m == nil {
		return
	}
	c(m).Inc()
}

// Set sets g to v if m is not nil.
func (m *Metrics) Set(g func(*Metrics) prometheus.Gauge, v float64) {
	if m == nil {
		return
	}
	g(m).Set(v)
}

// Observe records an upload latency if m is not nil.
func (m *Metrics) Observe(seconds float64) {
	if m == nil {
		return
	}
	m.UploadLatency.Observe(seconds)
}

// Handler returns an HTTP handler serving the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Selectors for use with Inc and Set.
func Advertisements(m *Metrics) prometheus.Counter { return m.Advertisements }
func Connections(m *Metrics) prometheus.Counter    { return m.Connections }
func Rejections(m *Metrics) prometheus.Counter     { return m.Rejections }
func DecodeErrors(m *Metrics) prometheus.Counter   { return m.DecodeErrors }
func Records(m *Metrics) prometheus.Counter        { return m.Records }
func Flushes(m *Metrics) prometheus.Counter        { return m.Flushes }
func UploadFailures(m *Metrics) prometheus.Counter { return m.UploadFailures }
func LiveSlots(m *Metrics) prometheus.Gauge        { return m.LiveSlots }
func BatchLength(m *Metrics) prometheus.Gauge      { return m.BatchLength }
