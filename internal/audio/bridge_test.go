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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rampGenerator(buf []float32, channels int, framePos uint64, sampleRate float64) {
	for i := range buf {
		buf[i] = float32(framePos)*float32(channels) + float32(i)
	}
}

func passthrough(b *Batch, _ any) CallbackResult {
	b.Out = append(b.Out, b.In...)
	return Continue
}

func TestBridgePassthroughIsIdentity(t *testing.T) {
	s, backend := liveSession(t)
	backend.SetTopology(DefaultMockTopology(), 1) // JACK duplex device
	backend.SetInputGenerator(rampGenerator)

	cfg := StreamConfig{InputChannels: 2, OutputChannels: 2, SampleRate: 48000, FramesPerBuffer: 64}
	st, err := s.OpenDefaultStream(cfg, passthrough, nil)
	require.NoError(t, err)
	require.NoError(t, st.Start())
	defer func() { _ = st.Close() }() // Ignore errors during test cleanup

	ms := onlyMockStream(t, backend)
	for tick := 0; tick < 4; tick++ {
		out, code := ms.Tick()
		require.Equal(t, 0, code)
		want := make([]float32, 128)
		rampGenerator(want, 2, uint64(tick*64), 48000)
		assert.Equal(t, want, out, "tick %d", tick)
	}
	assert.Zero(t, st.Stats().ShortOutputs)
}

func TestBridgeOutputLengthHandling(t *testing.T) {
	const frames, channels = 32, 2
	const n = frames * channels

	// Every length from empty to full, plus overlong output.
	lengths := make([]int, 0, n+3)
	for m := 0; m <= n; m++ {
		lengths = append(lengths, m)
	}
	lengths = append(lengths, n+1, 2*n)

	for _, m := range lengths {
		t.Run(fmt.Sprintf("values_%d", m), func(t *testing.T) {
			s, backend := liveSession(t)
			st, err := s.OpenDefaultStream(StreamConfig{OutputChannels: channels, SampleRate: 44100, FramesPerBuffer: frames},
				func(b *Batch, _ any) CallbackResult {
					for i := 0; i < m; i++ {
						b.Out = append(b.Out, float32(i+1))
					}
					return Continue
				}, nil)
			require.NoError(t, err)
			require.NoError(t, st.Start())
			defer func() { _ = st.Close() }() // Ignore errors during test cleanup

			out, code := onlyMockStream(t, backend).Tick()
			require.Equal(t, 0, code)
			require.Len(t, out, n)
			for i, v := range out {
				if i < m {
					assert.Equal(t, float32(i+1), v, "sample %d", i)
				} else {
					assert.Zero(t, v, "sample %d should be silence", i)
				}
			}
			if m < n {
				assert.Equal(t, uint64(1), st.Stats().ShortOutputs)
			} else {
				assert.Zero(t, st.Stats().ShortOutputs)
			}
		})
	}
}

func TestBridgeNilContext(t *testing.T) {
	var c *streamContext
	in := []float32{1, 2, 3, 4}
	out := []float32{9, 9, 9, 9}

	result := c.invoke(in, out, 2, TimeInfo{}, 0)
	assert.Equal(t, Continue, result)
	assert.Equal(t, []float32{1, 2, 3, 4}, in)
	assert.Equal(t, []float32{9, 9, 9, 9}, out, "output must not be touched")
}

func TestBridgeRecoversFromPanic(t *testing.T) {
	s, backend := liveSession(t)
	st, err := s.OpenDefaultStream(StreamConfig{OutputChannels: 1, SampleRate: 8000, FramesPerBuffer: 8}, func(b *Batch, _ any) CallbackResult {
		b.Out = append(b.Out, 1, 1, 1)
		panic("boom")
	}, nil)
	require.NoError(t, err)
	require.NoError(t, st.Start())
	defer func() { _ = st.Close() }() // Ignore errors during test cleanup

	ms := onlyMockStream(t, backend)
	out, code := ms.Tick()
	require.Equal(t, 0, code)
	assert.Equal(t, make([]float32, 8), out)

	active, err := st.IsActive()
	require.NoError(t, err)
	assert.True(t, active, "a panic counts as continue")
	assert.Equal(t, uint64(1), st.Stats().Panics)
}

func TestBridgeSkipsUnsizableBuffers(t *testing.T) {
	s, backend := liveSession(t)
	called := false
	st, err := s.OpenDefaultStream(StreamConfig{InputChannels: 1, OutputChannels: 2, SampleRate: 44100, FramesPerBuffer: 16}, func(b *Batch, _ any) CallbackResult {
		called = true
		return Continue
	}, nil)
	require.NoError(t, err)
	defer func() { _ = st.Close() }() // Ignore errors during test cleanup

	ms := onlyMockStream(t, backend)

	t.Run("short_input", func(t *testing.T) {
		out := []float32{5, 5, 5, 5}
		r := ms.TickRaw([]float32{1}, out, 2, TimeInfo{}, 0)
		assert.Equal(t, Continue, r)
		assert.Equal(t, []float32{0, 0, 0, 0}, out)
	})

	t.Run("more_frames_than_negotiated", func(t *testing.T) {
		in := make([]float32, 32)
		out := make([]float32, 64)
		for i := range out {
			out[i] = 7
		}
		r := ms.TickRaw(in, out, 32, TimeInfo{}, 0)
		assert.Equal(t, Continue, r)
		assert.Equal(t, make([]float32, 64), out)
	})

	assert.False(t, called)
	assert.Equal(t, uint64(2), st.Stats().SkippedTicks)
}

func TestBridgeBatchContents(t *testing.T) {
	s, backend := liveSession(t)
	type seen struct {
		frames, inCh, outCh int
		inLen, outCap       int
		user                any
		flags               StatusFlags
		time                TimeInfo
	}
	var got []seen
	user := &struct{ name string }{"ctx"}

	st, err := s.OpenDefaultStream(StreamConfig{InputChannels: 1, OutputChannels: 2, SampleRate: 44100, FramesPerBuffer: 32}, func(b *Batch, u any) CallbackResult {
		got = append(got, seen{b.Frames, b.InChannels, b.OutChannels, len(b.In), cap(b.Out), u, b.Flags, b.Time})
		return Continue
	}, user)
	require.NoError(t, err)
	require.NoError(t, st.Start())
	defer func() { _ = st.Close() }() // Ignore errors during test cleanup

	ms := onlyMockStream(t, backend)
	ms.SetNextStatusFlags(InputOverflow | OutputUnderflow)
	_, _ = ms.Tick()
	time.Sleep(time.Millisecond)
	_, _ = ms.Tick()

	require.Len(t, got, 2)
	for _, g := range got {
		assert.Equal(t, 32, g.frames)
		assert.Equal(t, 1, g.inCh)
		assert.Equal(t, 2, g.outCh)
		assert.Equal(t, 32, g.inLen)
		assert.Equal(t, 64, g.outCap)
		assert.Same(t, user, g.user)
		assert.LessOrEqual(t, g.time.InputBufferAdcTime, g.time.CurrentTime)
		assert.GreaterOrEqual(t, g.time.OutputBufferDacTime, g.time.CurrentTime)
	}
	assert.Equal(t, InputOverflow|OutputUnderflow, got[0].flags)
	assert.Zero(t, got[1].flags, "flags apply to one batch")
	assert.Greater(t, got[1].time.CurrentTime, got[0].time.CurrentTime)

	stats := st.Stats()
	assert.Equal(t, uint64(1), stats.InputOverflows)
	assert.Equal(t, uint64(1), stats.OutputUnderflows)
	assert.Zero(t, stats.InputUnderflows)
}

func TestBridgeCountsDeadlineMisses(t *testing.T) {
	s, backend := liveSession(t)
	st, err := s.OpenDefaultStream(StreamConfig{OutputChannels: 1, SampleRate: 48000, FramesPerBuffer: 1}, func(b *Batch, _ any) CallbackResult {
		time.Sleep(2 * time.Millisecond)
		return Continue
	}, nil)
	require.NoError(t, err)
	require.NoError(t, st.Start())
	defer func() { _ = st.Close() }() // Ignore errors during test cleanup

	_, _ = onlyMockStream(t, backend).Tick()
	stats := st.Stats()
	assert.Equal(t, uint64(1), stats.DeadlineMisses)
	assert.GreaterOrEqual(t, stats.MaxDuration, 2*time.Millisecond)
	assert.Equal(t, stats.LastDuration, stats.MaxDuration)
}

func TestTimeInfoMap(t *testing.T) {
	ti := TimeInfo{InputBufferAdcTime: 1.0, CurrentTime: 1.5, OutputBufferDacTime: 2.0}
	assert.Equal(t, map[string]float64{
		"input_buffer_adc_time":  1.0,
		"current_time":           1.5,
		"output_buffer_dac_time": 2.0,
	}, ti.Map())
}

func TestStatusFlagsString(t *testing.T) {
	assert.Equal(t, "none", StatusFlags(0).String())
	assert.Equal(t, "input_overflow|output_underflow", (InputOverflow | OutputUnderflow).String())
	assert.Equal(t, "priming_output", PrimingOutput.String())
}
