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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-portaudio/internal/audio"
	"github.com/loqalabs/loqa-portaudio/internal/transport"
)

type collectSink struct {
	mu      sync.Mutex
	samples []float32
}

func (c *collectSink) Write(s []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s...)
	return nil
}

func (c *collectSink) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

func inBatch(in []float32, channels int) *audio.Batch {
	return &audio.Batch{In: in, Frames: len(in) / channels, InChannels: channels}
}

func TestRecorderCapturesInput(t *testing.T) {
	r := NewRecorder(2, 32)
	in := ramp(16)

	b := inBatch(in, 2)
	assert.Equal(t, audio.Continue, r.Process(b, nil))
	assert.Empty(t, b.Out, "recorder leaves output alone")
	r.Process(inBatch(in, 2), nil)

	sink := &collectSink{}
	require.NoError(t, r.Flush(sink))
	assert.Equal(t, append(append([]float32{}, in...), in...), sink.samples)
	assert.Equal(t, uint64(32), r.Captured())
	assert.Zero(t, r.Overflows())
}

func TestRecorderOverflowKeepsFrames(t *testing.T) {
	r := NewRecorder(2, 5)
	r.Process(inBatch(ramp(8), 2), nil)
	r.Process(inBatch(ramp(8), 2), nil)
	assert.Equal(t, uint64(1), r.Overflows())
	assert.Equal(t, uint64(10), r.Captured())

	sink := &collectSink{}
	require.NoError(t, r.Flush(sink))
	assert.Len(t, sink.samples, 10)
	assert.Equal(t, ramp(8)[:2], sink.samples[8:], "only whole frames are kept")
}

func TestRecorderIgnoresOutputOnlyBatches(t *testing.T) {
	r := NewRecorder(1, 8)
	assert.Equal(t, audio.Continue, r.Process(outBatch(4, 1), nil))
	assert.Zero(t, r.Captured())
}

func TestRecorderDrainFlushesOnCancel(t *testing.T) {
	r := NewRecorder(1, 1024)
	sink := &collectSink{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Drain(ctx, sink, time.Millisecond) }()

	for range 4 {
		r.Process(inBatch(ramp(64), 1), nil)
	}
	require.Eventually(t, func() bool { return sink.len() == 256 }, time.Second, time.Millisecond)

	r.Process(inBatch(ramp(64), 1), nil)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 320, sink.len())
}

func TestRecorderSinkError(t *testing.T) {
	r := NewRecorder(1, 8)
	r.Process(inBatch(ramp(4), 1), nil)
	boom := errors.New("disk full")
	err := r.Flush(SinkFunc(func([]float32) error { return boom }))
	assert.ErrorIs(t, err, boom)
}

func TestTapPublishesFrames(t *testing.T) {
	pk, err := transport.NewPacketizer(7, 2, 100)
	require.NoError(t, err)

	var packets [][]byte
	tap := NewTap(pk, 10, func(p []byte) error {
		packets = append(packets, p)
		return nil
	})
	require.NoError(t, tap.Write(ramp(50)))
	require.NoError(t, tap.Close())
	require.NoError(t, tap.Close())

	require.Len(t, packets, 4)
	assert.Equal(t, uint64(4), tap.Packets())

	var stamps []uint64
	for i, raw := range packets[:3] {
		f, err := transport.ParseFrame(raw)
		require.NoError(t, err)
		assert.Equal(t, transport.FrameTypeAudioData, f.Type)
		assert.Equal(t, uint32(i), f.Sequence)
		assert.Equal(t, uint32(7), f.SessionID)
		stamps = append(stamps, f.Timestamp)
	}
	assert.Equal(t, []uint64{0, 100_000, 200_000}, stamps)

	end, err := transport.ParseFrame(packets[3])
	require.NoError(t, err)
	assert.Equal(t, transport.FrameTypeAudioEnd, end.Type)
	assert.Equal(t, uint64(250_000), end.Timestamp)

	assert.NoError(t, tap.Write(ramp(4)), "writes after close are dropped")
	assert.Len(t, packets, 4)
}

func TestTapPublishError(t *testing.T) {
	pk, err := transport.NewPacketizer(1, 1, 8000)
	require.NoError(t, err)
	boom := errors.New("no route")
	tap := NewTap(pk, 0, func([]byte) error { return boom })
	assert.ErrorIs(t, tap.Write(ramp(4)), boom)
}
