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
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/tphakala/flac"
)

// ErrNotWAV is returned when a file lacks a valid RIFF/WAVE header.
var ErrNotWAV = errors.New("input is not a valid WAV audio file")

// WAVDecoder reads integer PCM WAV up to 32 bits. 8-bit WAV is unsigned
// with silence at 128; wider depths are signed.
type WAVDecoder struct{}

func (WAVDecoder) Decode(r io.ReadSeeker) (Source, error) {
	d := wav.NewDecoder(r)
	d.ReadInfo()
	if !d.IsValidFile() {
		return nil, ErrNotWAV
	}
	if d.BitDepth == 0 || d.BitDepth > 32 {
		return nil, fmt.Errorf("unsupported bit depth %d", d.BitDepth)
	}
	return &wavSource{
		dec:        d,
		sampleRate: int(d.SampleRate),
		channels:   int(d.NumChans),
		offset:     wavOffset(int(d.BitDepth)),
		divisor:    float32(int64(1) << (d.BitDepth - 1)),
	}, nil
}

func wavOffset(bitDepth int) int {
	if bitDepth == 8 {
		return 128
	}
	return 0
}

type wavSource struct {
	dec        *wav.Decoder
	sampleRate int
	channels   int
	offset     int
	divisor    float32
	buf        *goaudio.IntBuffer
}

func (s *wavSource) SampleRate() int { return s.sampleRate }
func (s *wavSource) Channels() int   { return s.channels }
func (s *wavSource) Close() error    { return nil }

func (s *wavSource) ReadSamples(dst []float32) (int, error) {
	if s.buf == nil || len(s.buf.Data) < len(dst) {
		s.buf = &goaudio.IntBuffer{
			Data:   make([]int, len(dst)),
			Format: &goaudio.Format{SampleRate: s.sampleRate, NumChannels: s.channels},
		}
	}
	s.buf.Data = s.buf.Data[:len(dst)]
	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("failed to read pcm: %w", err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	for i, v := range s.buf.Data[:n] {
		dst[i] = float32(v-s.offset) / s.divisor
	}
	return n, nil
}

// MP3Decoder decodes MPEG audio to 16-bit stereo.
type MP3Decoder struct{}

func (MP3Decoder) Decode(r io.ReadSeeker) (Source, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	return &mp3Source{dec: dec, sampleRate: dec.SampleRate()}, nil
}

type mp3Source struct {
	dec        io.Reader
	sampleRate int
	buf        []byte
}

func (s *mp3Source) SampleRate() int { return s.sampleRate }

// Channels is always 2: go-mp3 emits interleaved stereo.
func (s *mp3Source) Channels() int { return 2 }
func (s *mp3Source) Close() error  { return nil }

func (s *mp3Source) ReadSamples(dst []float32) (int, error) {
	need := len(dst) * 2
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	n, err := io.ReadFull(s.dec, s.buf[:need])
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}
	samples := n / 2
	for i := range samples {
		v := int16(uint16(s.buf[2*i]) | uint16(s.buf[2*i+1])<<8) //nolint:gosec // G115: reinterpreting PCM bits
		dst[i] = float32(v) / 32768.0
	}
	if samples == 0 && err == nil {
		err = io.EOF
	}
	return samples, err
}

// VorbisDecoder decodes Ogg Vorbis.
type VorbisDecoder struct{}

func (VorbisDecoder) Decode(r io.ReadSeeker) (Source, error) {
	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	return &vorbisSource{dec: dec}, nil
}

type vorbisSource struct {
	dec *oggvorbis.Reader
}

func (s *vorbisSource) SampleRate() int { return s.dec.SampleRate() }
func (s *vorbisSource) Channels() int   { return s.dec.Channels() }
func (s *vorbisSource) Close() error    { return nil }

func (s *vorbisSource) ReadSamples(dst []float32) (int, error) {
	ch := s.dec.Channels()
	n, err := s.dec.Read(dst[:len(dst)-len(dst)%ch])
	if n == 0 && err == nil {
		err = io.EOF
	}
	return n, err
}

// FLACDecoder decodes FLAC at 8, 16, 24 or 32 bits per sample.
type FLACDecoder struct{}

func (FLACDecoder) Decode(r io.ReadSeeker) (Source, error) {
	dec, err := flac.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	switch dec.BitsPerSample {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported bit depth %d", dec.BitsPerSample)
	}
	return &flacSource{dec: dec, divisor: float32(int64(1) << (dec.BitsPerSample - 1))}, nil
}

type flacSource struct {
	dec     *flac.Decoder
	divisor float32
	pending []byte
}

func (s *flacSource) SampleRate() int { return s.dec.SampleRate }
func (s *flacSource) Channels() int   { return s.dec.NChannels }
func (s *flacSource) Close() error    { return nil }

func (s *flacSource) ReadSamples(dst []float32) (int, error) {
	width := s.dec.BitsPerSample / 8
	for len(s.pending) < width {
		frame, err := s.dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, io.EOF
			}
			return 0, fmt.Errorf("failed to decode flac frame: %w", err)
		}
		s.pending = append(s.pending, frame...)
	}

	n := min(len(dst), len(s.pending)/width)
	for i := range n {
		dst[i] = float32(flacSample(s.pending[i*width:], width)) / s.divisor
	}
	s.pending = s.pending[n*width:]
	return n, nil
}

// flacSample reads one little-endian signed sample of width bytes.
func flacSample(b []byte, width int) int32 {
	switch width {
	case 1:
		return int32(int8(b[0])) //nolint:gosec // G115: reinterpreting PCM bits
	case 2:
		return int32(int16(binary.LittleEndian.Uint16(b))) //nolint:gosec // G115: reinterpreting PCM bits
	case 3:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		return v << 8 >> 8
	}
	return int32(binary.LittleEndian.Uint32(b)) //nolint:gosec // G115: reinterpreting PCM bits
}

// ErrNotAIFF is returned when a file lacks a valid FORM/AIFF header.
var ErrNotAIFF = errors.New("input is not a valid AIFF audio file")

// AIFFDecoder reads uncompressed AIFF.
type AIFFDecoder struct{}

func (AIFFDecoder) Decode(r io.ReadSeeker) (Source, error) {
	d := aiff.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, ErrNotAIFF
	}
	d.ReadInfo()
	format := d.Format()
	if format == nil || d.BitDepth == 0 || d.BitDepth > 32 {
		return nil, errors.New("unsupported aiff layout")
	}
	return &aiffSource{
		dec:     d,
		format:  format,
		signed8: d.BitDepth == 8,
		divisor: float32(int64(1) << (d.BitDepth - 1)),
	}, nil
}

type aiffSource struct {
	dec    *aiff.Decoder
	format *goaudio.Format
	// AIFF 8-bit samples are signed but the decoder hands back the raw byte.
	signed8 bool
	divisor float32
	buf     *goaudio.IntBuffer
}

func (s *aiffSource) SampleRate() int { return s.format.SampleRate }
func (s *aiffSource) Channels() int   { return s.format.NumChannels }
func (s *aiffSource) Close() error    { return nil }

func (s *aiffSource) ReadSamples(dst []float32) (int, error) {
	if s.buf == nil || cap(s.buf.Data) < len(dst) {
		s.buf = &goaudio.IntBuffer{Data: make([]int, len(dst)), Format: s.format}
	}
	s.buf.Data = s.buf.Data[:len(dst)]
	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("failed to read pcm: %w", err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	for i, v := range s.buf.Data[:n] {
		if s.signed8 {
			v = int(int8(v)) //nolint:gosec // G115: raw byte reinterpreted as two's complement
		}
		dst[i] = float32(v) / s.divisor
	}
	return n, nil
}
