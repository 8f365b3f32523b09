/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

// Package metrics exposes stream statistics to Prometheus. Values are read
// at scrape time from the stream's atomic counters, never from the audio
// thread.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loqalabs/loqa-portaudio/internal/audio"
)

const namespace = "paudio"

// StreamSource is what the collector reads. *audio.Stream satisfies it.
type StreamSource interface {
	ID() string
	Stats() audio.Stats
	CpuLoad() float64
	IsActive() (bool, error)
}

// StreamCollector reports one series per registered stream, labelled by
// stream ID.
type StreamCollector struct {
	mu      sync.RWMutex
	streams map[string]StreamSource

	callbacks      *prometheus.Desc
	skipped        *prometheus.Desc
	panics         *prometheus.Desc
	shortOutputs   *prometheus.Desc
	deadlineMisses *prometheus.Desc
	inOverflows    *prometheus.Desc
	outUnderflows  *prometheus.Desc
	maxDuration    *prometheus.Desc
	cpuLoad        *prometheus.Desc
	active         *prometheus.Desc
}

// NewStreamCollector returns a collector with no streams. Register it once
// and Add streams as they open.
func NewStreamCollector() *StreamCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, []string{"stream"}, nil)
	}
	return &StreamCollector{
		streams:        make(map[string]StreamSource),
		callbacks:      desc("callbacks_total", "Processing function invocations."),
		skipped:        desc("skipped_ticks_total", "Hardware buffers skipped because they could not be sized."),
		panics:         desc("callback_panics_total", "Panics recovered from the processing function."),
		shortOutputs:   desc("short_outputs_total", "Batches whose output was padded with silence."),
		deadlineMisses: desc("deadline_misses_total", "Batches that took longer than their buffer duration."),
		inOverflows:    desc("input_overflows_total", "Batches flagged with input overflow by the backend."),
		outUnderflows:  desc("output_underflows_total", "Batches flagged with output underflow by the backend."),
		maxDuration:    desc("callback_duration_seconds_max", "Longest processing function run."),
		cpuLoad:        desc("cpu_load", "Fraction of buffer time spent in the callback."),
		active:         desc("stream_active", "1 while the stream is producing or consuming audio."),
	}
}

// Add starts reporting s. Adding a stream with the same ID replaces it.
func (c *StreamCollector) Add(s StreamSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams[s.ID()] = s
}

// Remove stops reporting the stream with id.
func (c *StreamCollector) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.streams, id)
}

// Describe implements prometheus.Collector.
func (c *StreamCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.callbacks, c.skipped, c.panics, c.shortOutputs, c.deadlineMisses,
		c.inOverflows, c.outUnderflows, c.maxDuration, c.cpuLoad, c.active,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector. It reads each stream at scrape
// time.
func (c *StreamCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for id, s := range c.streams {
		st := s.Stats()
		counter := func(d *prometheus.Desc, v uint64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), id)
		}
		counter(c.callbacks, st.Callbacks)
		counter(c.skipped, st.SkippedTicks)
		counter(c.panics, st.Panics)
		counter(c.shortOutputs, st.ShortOutputs)
		counter(c.deadlineMisses, st.DeadlineMisses)
		counter(c.inOverflows, st.InputOverflows)
		counter(c.outUnderflows, st.OutputUnderflows)

		ch <- prometheus.MustNewConstMetric(c.maxDuration, prometheus.GaugeValue, st.MaxDuration.Seconds(), id)
		ch <- prometheus.MustNewConstMetric(c.cpuLoad, prometheus.GaugeValue, s.CpuLoad(), id)

		active := 0.0
		if ok, err := s.IsActive(); err == nil && ok {
			active = 1
		}
		ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, active, id)
	}
}
