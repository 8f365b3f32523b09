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
	"io"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/aiff"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWAV(t *testing.T, samples []float32, rate, channels int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := NewWAVWriter(f, rate, channels)
	require.NoError(t, err)
	require.NoError(t, w.Write(samples[:len(samples)/2]))
	require.NoError(t, w.Write(samples[len(samples)/2:]))
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	assert.Equal(t, len(samples)/channels, w.Frames())
	return path
}

func TestWAVRoundTrip(t *testing.T) {
	in := make([]float32, 400)
	for i := range in {
		in[i] = float32(i%50)/50 - 0.5
	}
	path := writeWAV(t, in, 22050, 2)

	src, err := OpenFile(path)
	require.NoError(t, err)
	defer func() { assert.NoError(t, src.Close()) }()

	assert.Equal(t, 22050, src.SampleRate())
	assert.Equal(t, 2, src.Channels())

	var got []float32
	buf := make([]float32, 64)
	for {
		n, err := src.ReadSamples(buf)
		got = append(got, buf[:n]...)
		if err != nil {
			break
		}
	}
	require.Len(t, got, len(in))
	for i := range in {
		assert.InDelta(t, in[i], got[i], 1.0/16384, "sample %d", i)
	}
}

// encodeRaw writes 8-bit mono integer samples with a go-audio encoder.
func encodeRaw(t *testing.T, name string, raw []int, encode func(*os.File, *goaudio.IntBuffer) error) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	buf := &goaudio.IntBuffer{Data: raw, Format: &goaudio.Format{SampleRate: 8000, NumChannels: 1}, SourceBitDepth: 8}
	require.NoError(t, encode(f, buf))
	require.NoError(t, f.Close())
	return path
}

func readAll(t *testing.T, src Source) []float32 {
	t.Helper()
	var got []float32
	buf := make([]float32, 16)
	for {
		n, err := src.ReadSamples(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			return got
		}
		require.NoError(t, err)
	}
}

func TestDecodeEightBit(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		raw    []int
		want   []float32
		encode func(*os.File, *goaudio.IntBuffer) error
	}{
		{
			name: "wav is unsigned around 128",
			file: "u8.wav",
			raw:  []int{128, 128, 192, 64, 255, 0},
			want: []float32{0, 0, 0.5, -0.5, 127.0 / 128, -1},
			encode: func(f *os.File, buf *goaudio.IntBuffer) error {
				enc := wav.NewEncoder(f, 8000, 8, 1, 1)
				if err := enc.Write(buf); err != nil {
					return err
				}
				return enc.Close()
			},
		},
		{
			name: "aiff is signed",
			file: "s8.aiff",
			raw:  []int{0, 0, 64, -64, 127, -128},
			want: []float32{0, 0, 0.5, -0.5, 127.0 / 128, -1},
			encode: func(f *os.File, buf *goaudio.IntBuffer) error {
				enc := aiff.NewEncoder(f, 8000, 8, 1)
				if err := enc.Write(buf); err != nil {
					return err
				}
				return enc.Close()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := OpenFile(encodeRaw(t, tt.file, tt.raw, tt.encode))
			require.NoError(t, err)
			defer func() { assert.NoError(t, src.Close()) }()

			assert.Equal(t, 8000, src.SampleRate())
			assert.Equal(t, 1, src.Channels())
			got := readAll(t, src)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.InDelta(t, tt.want[i], got[i], 1e-6, "sample %d", i)
			}
		})
	}
}

func TestNewWAVWriterRejectsBadFormat(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "x.wav"))
	require.NoError(t, err)
	defer f.Close()
	_, err = NewWAVWriter(f, 0, 2)
	assert.Error(t, err)
}

func TestOpenFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := OpenFile(filepath.Join(dir, "song.opus"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = OpenFile(filepath.Join(dir, "missing.wav"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bogus := filepath.Join(dir, "bogus.wav")
	require.NoError(t, os.WriteFile(bogus, []byte("definitely not a riff file at all, just text padding it out"), 0o600))
	_, err = OpenFile(bogus)
	assert.ErrorIs(t, err, ErrNotWAV)

	aif := filepath.Join(dir, "bogus.aiff")
	require.NoError(t, os.WriteFile(aif, []byte("RIFF but not really an aiff container"), 0o600))
	_, err = OpenFile(aif)
	assert.ErrorIs(t, err, ErrNotAIFF)

	ogg := filepath.Join(dir, "bogus.ogg")
	require.NoError(t, os.WriteFile(ogg, []byte("not an ogg stream"), 0o600))
	_, err = OpenFile(ogg)
	assert.Error(t, err)
}

func TestRegistryFormats(t *testing.T) {
	assert.Equal(t, []string{"aif", "aiff", "flac", "mp3", "ogg", "wav"}, DefaultRegistry.Formats())

	r := NewRegistry()
	r.Register("WAV", WAVDecoder{})
	_, ok := r.Get("wav")
	assert.True(t, ok)
	_, ok = r.Get("mp3")
	assert.False(t, ok)
}

func TestFeedFillsPlayer(t *testing.T) {
	path := writeWAV(t, ramp(100), 8000, 1)
	src, err := OpenFile(path)
	require.NoError(t, err)
	defer src.Close()

	p := NewPlayer(1, 256)
	require.NoError(t, Feed(context.Background(), src, p, 16))
	assert.Equal(t, 100, p.Buffered())

	_, err = p.Write([]float32{0})
	assert.ErrorIs(t, err, ErrPlayerClosed, "feed marks end of stream")
}

func TestFeedChannelMismatch(t *testing.T) {
	path := writeWAV(t, ramp(100), 8000, 2)
	src, err := OpenFile(path)
	require.NoError(t, err)
	defer src.Close()

	assert.Error(t, Feed(context.Background(), src, NewPlayer(1, 16), 0))
}

func TestFLACSample(t *testing.T) {
	assert.Equal(t, int32(-1), flacSample([]byte{0xff}, 1))
	assert.Equal(t, int32(-2), flacSample([]byte{0xfe, 0xff}, 2))
	assert.Equal(t, int32(-8388608), flacSample([]byte{0x00, 0x00, 0x80}, 3))
	assert.Equal(t, int32(8388607), flacSample([]byte{0xff, 0xff, 0x7f}, 3))
	assert.Equal(t, int32(1), flacSample([]byte{1, 0, 0, 0}, 4))
}
