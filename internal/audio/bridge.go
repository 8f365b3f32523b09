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

package audio

import (
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// CallbackResult tells the backend what to do after a batch.
type CallbackResult int

const (
	// Continue keeps the stream running.
	Continue CallbackResult = iota
	// Complete finishes the stream once queued output has played.
	Complete
	// Abort finishes the stream immediately.
	Abort
)

func (r CallbackResult) String() string {
	switch r {
	case Continue:
		return "continue"
	case Complete:
		return "complete"
	case Abort:
		return "abort"
	}
	return "unknown"
}

// StatusFlags reports buffer conditions detected by the backend for a
// batch (PaStreamCallbackFlags).
type StatusFlags uint32

const (
	InputUnderflow  StatusFlags = 0x01
	InputOverflow   StatusFlags = 0x02
	OutputUnderflow StatusFlags = 0x04
	OutputOverflow  StatusFlags = 0x08
	PrimingOutput   StatusFlags = 0x10
)

func (f StatusFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, fl := range []struct {
		bit  StatusFlags
		name string
	}{
		{InputUnderflow, "input_underflow"},
		{InputOverflow, "input_overflow"},
		{OutputUnderflow, "output_underflow"},
		{OutputOverflow, "output_overflow"},
		{PrimingOutput, "priming_output"},
	} {
		if f&fl.bit != 0 {
			parts = append(parts, fl.name)
		}
	}
	return strings.Join(parts, "|")
}

// TimeInfo carries the timestamps of a batch, in seconds on the stream
// clock.
type TimeInfo struct {
	InputBufferAdcTime  float64 `json:"input_buffer_adc_time"`
	CurrentTime         float64 `json:"current_time"`
	OutputBufferDacTime float64 `json:"output_buffer_dac_time"`
}

// Map returns the timestamps keyed by name.
func (t TimeInfo) Map() map[string]float64 {
	return map[string]float64{
		"input_buffer_adc_time":  t.InputBufferAdcTime,
		"current_time":           t.CurrentTime,
		"output_buffer_dac_time": t.OutputBufferDacTime,
	}
}

// Batch is what a ProcessFunc sees for one hardware buffer. Samples are
// interleaved float32, so In holds Frames*InChannels values.
//
// Out arrives with length 0 and capacity Frames*OutChannels. Append to it;
// values past the capacity are ignored and any shortfall is played as
// silence. Neither slice may be retained after the call returns.
type Batch struct {
	In          []float32
	Out         []float32
	Frames      int
	InChannels  int
	OutChannels int
	Time        TimeInfo
	Flags       StatusFlags
}

// ProcessFunc is the user processing function. It runs on the backend's
// real-time thread and must not block.
type ProcessFunc func(b *Batch, userData any) CallbackResult

// Stats is a snapshot of callback counters for one stream.
type Stats struct {
	Callbacks        uint64        `json:"callbacks"`
	SkippedTicks     uint64        `json:"skipped_ticks"`
	Panics           uint64        `json:"panics"`
	ShortOutputs     uint64        `json:"short_outputs"`
	DeadlineMisses   uint64        `json:"deadline_misses"`
	InputUnderflows  uint64        `json:"input_underflows"`
	InputOverflows   uint64        `json:"input_overflows"`
	OutputUnderflows uint64        `json:"output_underflows"`
	OutputOverflows  uint64        `json:"output_overflows"`
	LastDuration     time.Duration `json:"last_duration_ns"`
	MaxDuration      time.Duration `json:"max_duration_ns"`
}

// Skipped-tick and panic warnings are emitted for the first occurrence
// and then every logEvery occurrences.
const logEvery = 1000

type bridgeStats struct {
	callbacks        atomic.Uint64
	skipped          atomic.Uint64
	panics           atomic.Uint64
	shortOutputs     atomic.Uint64
	deadlineMisses   atomic.Uint64
	inputUnderflows  atomic.Uint64
	inputOverflows   atomic.Uint64
	outputUnderflows atomic.Uint64
	outputOverflows  atomic.Uint64
	lastDuration     atomic.Int64
	maxDuration      atomic.Int64
}

func (s *bridgeStats) observeFlags(flags StatusFlags) {
	if flags == 0 {
		return
	}
	if flags&InputUnderflow != 0 {
		s.inputUnderflows.Add(1)
	}
	if flags&InputOverflow != 0 {
		s.inputOverflows.Add(1)
	}
	if flags&OutputUnderflow != 0 {
		s.outputUnderflows.Add(1)
	}
	if flags&OutputOverflow != 0 {
		s.outputOverflows.Add(1)
	}
}

func (s *bridgeStats) observeDuration(d time.Duration, deadline time.Duration) {
	s.lastDuration.Store(int64(d))
	for {
		cur := s.maxDuration.Load()
		if int64(d) <= cur || s.maxDuration.CompareAndSwap(cur, int64(d)) {
			break
		}
	}
	if deadline > 0 && d > deadline {
		s.deadlineMisses.Add(1)
	}
}

func (s *bridgeStats) snapshot() Stats {
	return Stats{
		Callbacks:        s.callbacks.Load(),
		SkippedTicks:     s.skipped.Load(),
		Panics:           s.panics.Load(),
		ShortOutputs:     s.shortOutputs.Load(),
		DeadlineMisses:   s.deadlineMisses.Load(),
		InputUnderflows:  s.inputUnderflows.Load(),
		InputOverflows:   s.inputOverflows.Load(),
		OutputUnderflows: s.outputUnderflows.Load(),
		OutputOverflows:  s.outputOverflows.Load(),
		LastDuration:     time.Duration(s.lastDuration.Load()),
		MaxDuration:      time.Duration(s.maxDuration.Load()),
	}
}

// streamContext is the per-stream state the backend callback resolves.
// Everything here is sized at open and read-only afterwards, apart from
// the scratch buffers which only the callback thread touches.
type streamContext struct {
	fn          ProcessFunc
	userData    any
	inChannels  int
	outChannels int
	frames      int
	sampleRate  float64

	in    []float32
	out   []float32
	batch Batch

	stats  bridgeStats
	logger *slog.Logger
}

func newStreamContext(cfg StreamConfig, fn ProcessFunc, userData any, logger *slog.Logger) *streamContext {
	c := &streamContext{
		fn:          fn,
		userData:    userData,
		inChannels:  cfg.InputChannels,
		outChannels: cfg.OutputChannels,
		frames:      cfg.FramesPerBuffer,
		sampleRate:  cfg.SampleRate,
		logger:      logger,
	}
	if c.inChannels > 0 {
		c.in = make([]float32, c.frames*c.inChannels)
	}
	if c.outChannels > 0 {
		c.out = make([]float32, c.frames*c.outChannels)
	}
	return c
}

// deadline is how long a batch of frames lasts at the stream rate.
func (c *streamContext) deadline(frames int) time.Duration {
	if c.sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(frames) / c.sampleRate * float64(time.Second))
}

// invoke is the NativeCallback handed to the backend. A nil context, a
// buffer the preallocated batch cannot hold, or a panicking ProcessFunc
// all result in silence and Continue.
func (c *streamContext) invoke(input, output []float32, frames int, timeInfo TimeInfo, flags StatusFlags) (result CallbackResult) {
	if c == nil {
		return Continue
	}
	c.stats.callbacks.Add(1)
	c.stats.observeFlags(flags)

	inN := frames * c.inChannels
	outN := frames * c.outChannels
	if frames < 0 || frames > c.frames || len(input) < inN || len(output) < outN {
		clear(output)
		if n := c.stats.skipped.Add(1); n == 1 || n%logEvery == 0 {
			c.logger.Warn("cannot build batch for callback, emitting silence",
				"frames", frames,
				"max_frames", c.frames,
				"input_len", len(input),
				"output_len", len(output),
				"skipped", n)
		}
		return Continue
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			clear(output)
			if n := c.stats.panics.Add(1); n == 1 || n%logEvery == 0 {
				c.logger.Error("process function panicked, emitting silence", "panic", r, "panics", n)
			}
			result = Continue
		}
		c.stats.observeDuration(time.Since(start), c.deadline(frames))
	}()

	b := &c.batch
	b.In = nil
	if c.inChannels > 0 {
		b.In = c.in[:inN]
		copy(b.In, input[:inN])
	}
	b.Out = c.out[:0:outN]
	b.Frames = frames
	b.InChannels = c.inChannels
	b.OutChannels = c.outChannels
	b.Time = timeInfo
	b.Flags = flags

	result = c.fn(b, c.userData)

	if output != nil {
		n := copy(output[:outN], b.Out)
		if n < outN {
			c.stats.shortOutputs.Add(1)
		}
		clear(output[n:])
	}
	b.In, b.Out = nil, nil
	return result
}
