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
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavBitDepth = 16

// WAVWriter encodes interleaved float32 samples as 16-bit PCM WAV.
type WAVWriter struct {
	enc    *wav.Encoder
	buf    *goaudio.IntBuffer
	frames int
}

// NewWAVWriter starts a WAV file on w. Close must be called to finalize
// the header.
func NewWAVWriter(w io.WriteSeeker, sampleRate, channels int) (*WAVWriter, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid wav format: %d Hz, %d channels", sampleRate, channels)
	}
	return &WAVWriter{
		enc: wav.NewEncoder(w, sampleRate, wavBitDepth, channels, 1),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: channels},
			SourceBitDepth: wavBitDepth,
		},
	}, nil
}

// Write implements Sink.
func (w *WAVWriter) Write(samples []float32) error {
	if len(samples) == 0 {
		return nil
	}
	data := w.buf.Data[:0]
	for _, s := range samples {
		data = append(data, int(pcm16(s)))
	}
	w.buf.Data = data
	if err := w.enc.Write(w.buf); err != nil {
		return fmt.Errorf("failed to encode wav: %w", err)
	}
	w.frames += len(samples) / w.buf.Format.NumChannels
	return nil
}

// Frames is the number of frames written so far.
func (w *WAVWriter) Frames() int { return w.frames }

// Close finalizes the WAV header. It does not close the underlying writer.
func (w *WAVWriter) Close() error {
	if err := w.enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize wav: %w", err)
	}
	return nil
}

func pcm16(s float32) int16 {
	switch {
	case math.IsNaN(float64(s)):
		return 0
	case s >= 1:
		return math.MaxInt16
	case s <= -1:
		return -math.MaxInt16
	}
	return int16(s * math.MaxInt16)
}
