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

package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-portaudio/internal/audio"
)

const defaultDrainInterval = 10 * time.Millisecond

// Sink receives captured samples off the audio thread.
type Sink interface {
	Write(samples []float32) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(samples []float32) error

func (f SinkFunc) Write(samples []float32) error { return f(samples) }

// Recorder copies stream input into a ring buffer from the audio thread and
// forwards it to a Sink from Drain.
type Recorder struct {
	channels int
	ring     *sampleRing

	wscratch []byte
	rscratch []byte
	chunk    []float32

	overflows atomic.Uint64
	captured  atomic.Uint64
}

// NewRecorder buffers up to capacityFrames frames between the audio thread
// and the drain loop.
func NewRecorder(channels, capacityFrames int) *Recorder {
	if channels < 1 {
		channels = 1
	}
	ring := newSampleRing(channels * capacityFrames)
	return &Recorder{
		channels: channels,
		ring:     ring,
		wscratch: make([]byte, ring.Cap()*4),
		rscratch: make([]byte, ring.Cap()*4),
		chunk:    make([]float32, ring.Cap()),
	}
}

// Channels is the interleaving of captured samples.
func (r *Recorder) Channels() int { return r.channels }

// Overflows counts batches that did not fully fit in the ring.
func (r *Recorder) Overflows() uint64 { return r.overflows.Load() }

// Captured counts samples accepted from the audio thread.
func (r *Recorder) Captured() uint64 { return r.captured.Load() }

// Process implements audio.ProcessFunc. It never touches the output and
// never waits on the ring lock; a contended batch counts as an overflow.
func (r *Recorder) Process(b *audio.Batch, _ any) audio.CallbackResult {
	if len(b.In) == 0 || b.InChannels != r.channels {
		return audio.Continue
	}
	fit := min(len(b.In), r.ring.FreeHint())
	fit -= fit % r.channels
	n, err := r.ring.write(b.In[:fit], r.wscratch, true)
	r.captured.Add(uint64(n)) //nolint:gosec // G115: n is non-negative
	if err != nil || n < len(b.In) {
		r.overflows.Add(1)
	}
	return audio.Continue
}

// Drain forwards buffered samples to sink until ctx is done, then flushes
// what is left. A zero interval uses the default.
func (r *Recorder) Drain(ctx context.Context, sink Sink, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultDrainInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return r.Flush(sink)
		case <-ticker.C:
			if err := r.Flush(sink); err != nil {
				return err
			}
		}
	}
}

// Flush forwards everything currently buffered in whole frames.
func (r *Recorder) Flush(sink Sink) error {
	for {
		avail := r.ring.Len()
		avail -= avail % r.channels
		if avail == 0 {
			return nil
		}
		n, err := r.ring.read(r.chunk[:min(avail, len(r.chunk))], r.rscratch, false)
		if err != nil {
			return fmt.Errorf("failed to read capture buffer: %w", err)
		}
		if n == 0 {
			return nil
		}
		if err := sink.Write(r.chunk[:n]); err != nil {
			return fmt.Errorf("failed to write captured audio: %w", err)
		}
	}
}
