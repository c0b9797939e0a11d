/**
# Copyright (c) NVIDIA CORPORATION.  All rights reserved.
#
# Licensed under the Apache License, Version 2.0 (the "License");
# you may not use this file except in compliance with the License.
# You may obtain a copy of the License at
#
#     http://www.apache.org/licenses/LICENSE-2.0
#
# Unless required by applicable law or agreed to in writing, software
# distributed under the License is distributed on an "AS IS" BASIS,
# WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
# See the License for the specific language governing permissions and
# limitations under the License.
**/

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "artifact_publish"

// Metrics contains the Prometheus metrics objects of a publish run. Metrics
// are registered on a private registry so several runs in one process (tests)
// do not collide.
type Metrics struct {
	registry *prometheus.Registry

	filesUploaded prometheus.Counter
	bytesUploaded prometheus.Counter
	filesSkipped  prometheus.Counter

	retentionChecked  *prometheus.CounterVec
	retentionExtended *prometheus.CounterVec

	lastRunTimestamp prometheus.Gauge
}

// New creates a Metrics with its Prometheus metrics objects initialized and registered
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		filesUploaded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_uploaded_total",
				Help:      "number of files uploaded to the artifact repository",
			},
		),
		bytesUploaded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_uploaded_total",
				Help:      "number of bytes uploaded to the artifact repository",
			},
		),
		filesSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_skipped_total",
				Help:      "number of files not uploaded because they were already present",
			},
		),
		retentionChecked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_checked_total",
				Help:      "number of dependency keep-until stamps inspected, by dependency type",
			},
			[]string{"type"},
		),
		retentionExtended: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_extended_total",
				Help:      "number of dependency keep-until stamps extended, by dependency type",
			},
			[]string{"type"},
		),
		lastRunTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_ts_seconds",
				Help:      "timestamp (in seconds) of the last successful publish run",
			},
		),
	}

	m.registry.MustRegister(
		m.filesUploaded,
		m.bytesUploaded,
		m.filesSkipped,
		m.retentionChecked,
		m.retentionExtended,
		m.lastRunTimestamp,
	)
	return m
}

// FileUploaded records one uploaded file of the given size
func (m *Metrics) FileUploaded(size int64) {
	if m == nil {
		return
	}
	m.filesUploaded.Inc()
	m.bytesUploaded.Add(float64(size))
}

// FileSkipped records one file that was already present remotely
func (m *Metrics) FileSkipped() {
	if m == nil {
		return
	}
	m.filesSkipped.Inc()
}

// RetentionChecked records one keep-until stamp read for a dependency type
func (m *Metrics) RetentionChecked(kind string) {
	if m == nil {
		return
	}
	m.retentionChecked.WithLabelValues(kind).Inc()
}

// RetentionExtended records one keep-until stamp write for a dependency type
func (m *Metrics) RetentionExtended(kind string) {
	if m == nil {
		return
	}
	m.retentionExtended.WithLabelValues(kind).Inc()
}

// RunSucceeded sets the last successful run gauge to the current time
func (m *Metrics) RunSucceeded() {
	if m == nil {
		return
	}
	m.lastRunTimestamp.SetToCurrentTime()
}

// Registry returns the registry all metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics in the Prometheus text format to filename,
// suitable for the node-exporter textfile collector.
func (m *Metrics) WriteTextfile(filename string) error {
	return prometheus.WriteToTextfile(filename, m.registry)
}
