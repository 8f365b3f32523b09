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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CounterSource is any monotonically increasing value read on scrape.
type CounterSource func() uint64

// GaugeSource is any instantaneous value read on scrape.
type GaugeSource func() float64

// PipelineCollectors wraps pipeline counters as Prometheus metrics. Nil
// sources are skipped.
type PipelineCollectors struct {
	PlaybackUnderruns CounterSource
	PlaybackBuffered  GaugeSource
	CaptureOverflows  CounterSource
	NetworkDropped    CounterSource
	NetworkRejected   CounterSource
	CaptureSent       CounterSource
}

// Collectors returns the metrics for the sources that are set.
func (p PipelineCollectors) Collectors() []prometheus.Collector {
	var out []prometheus.Collector
	counter := func(name, help string, src CounterSource) {
		if src == nil {
			return
		}
		out = append(out, prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(src()) }))
	}
	counter("playback_underruns_total", "Batches where the player ran out of audio.", p.PlaybackUnderruns)
	counter("capture_overflows_total", "Batches that did not fit in the capture buffer.", p.CaptureOverflows)
	counter("network_frames_dropped_total", "Incoming frames lost to a full playback buffer.", p.NetworkDropped)
	counter("network_frames_rejected_total", "Incoming messages that were not valid audio frames.", p.NetworkRejected)
	counter("capture_frames_sent_total", "Capture frames published.", p.CaptureSent)

	if p.PlaybackBuffered != nil {
		out = append(out, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_buffered_samples",
			Help:      "Samples queued for playback.",
		}, p.PlaybackBuffered))
	}
	return out
}

// Register adds every collector to reg.
func Register(reg prometheus.Registerer, cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
