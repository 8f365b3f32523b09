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

package transport

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloatsToPCM16(t *testing.T) {
	tests := []struct {
		name   string
		sample float32
		want   int16
	}{
		{"silence", 0, 0},
		{"half_scale", 0.5, 16384},
		{"negative_half", -0.5, -16384},
		{"clip_positive", 1.5, 32767},
		{"clip_negative", -1.5, -32767},
		{"full_negative", -1, -32767},
		{"nan", float32(math.NaN()), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := FloatsToPCM16(nil, []float32{tt.sample})
			require.Len(t, b, 2)
			assert.Equal(t, tt.want, int16(uint16(b[0])|uint16(b[1])<<8))
		})
	}
}

func TestPCM16ToFloats(t *testing.T) {
	in := []float32{0, 0.25, -0.25, 0.999}
	out := PCM16ToFloats(nil, FloatsToPCM16(nil, in))
	require.Len(t, out, len(in))
	for i := range in {
		assert.InDelta(t, in[i], out[i], 1.0/32768)
	}

	assert.Len(t, PCM16ToFloats(nil, []byte{1, 2, 3}), 1, "odd trailing byte ignored")
}

func TestPacketizer(t *testing.T) {
	_, err := NewPacketizer(1, 0, 44100)
	assert.Error(t, err)
	_, err = NewPacketizer(1, 2, 0)
	assert.Error(t, err)

	p, err := NewPacketizer(7, 2, 48000)
	require.NoError(t, err)
	assert.Equal(t, 378, p.FramesPerPacket())

	samples := make([]float32, 2*1000+1) // partial trailing frame
	frames := p.Packetize(samples, 1.0)
	require.Len(t, frames, 3)

	total := 0
	for i, f := range frames {
		assert.NoError(t, f.Validate())
		assert.Equal(t, uint32(i), f.Sequence)
		assert.Equal(t, uint32(7), f.SessionID)
		assert.LessOrEqual(t, f.EncodedLen(), MaxPacketSize)
		total += len(f.Data) / 4
	}
	assert.Equal(t, 1000, total)
	assert.Equal(t, uint64(1_000_000), frames[0].Timestamp)
	assert.InDelta(t, 1_007_875, float64(frames[1].Timestamp), 1)

	end := p.End(2.0)
	assert.Equal(t, FrameTypeAudioEnd, end.Type)
	assert.Equal(t, uint32(3), end.Sequence)
}

func TestPacketizerFrameSamples(t *testing.T) {
	p, err := NewPacketizer(1, 1, 16000)
	require.NoError(t, err)
	frames := p.Packetize([]float32{0.5, -0.5}, 0)
	require.Len(t, frames, 1)

	got, err := frames[0].Samples(nil)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.5, -0.5}, got, 1e-4)

	_, err = p.End(0).Samples(nil)
	assert.Error(t, err)
}
