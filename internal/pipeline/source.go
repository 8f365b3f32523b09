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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrUnsupportedFormat is returned for file extensions with no decoder.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Source yields interleaved float32 samples from a decoded file.
type Source interface {
	SampleRate() int
	Channels() int
	// ReadSamples fills dst and returns io.EOF once the audio is exhausted.
	ReadSamples(dst []float32) (int, error)
	Close() error
}

// Decoder turns an encoded stream into a Source.
type Decoder interface {
	Decode(r io.ReadSeeker) (Source, error)
}

// Registry maps file extensions (without the dot) to decoders.
type Registry struct {
	mu     sync.Mutex
	codecs map[string]Decoder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Decoder)}
}

// Register maps a file extension, without the dot, to d.
func (r *Registry) Register(format string, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[strings.ToLower(format)] = d
}

// Get looks up the decoder for an extension, ignoring case.
func (r *Registry) Get(format string) (Decoder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.codecs[strings.ToLower(format)]
	return d, ok
}

// Formats lists registered extensions in order.
func (r *Registry) Formats() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.codecs))
	for f := range r.codecs {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// DefaultRegistry knows wav, aiff, mp3, ogg and flac.
var DefaultRegistry = newDefaultRegistry()

func newDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("wav", WAVDecoder{})
	r.Register("mp3", MP3Decoder{})
	r.Register("ogg", VorbisDecoder{})
	r.Register("flac", FLACDecoder{})
	r.Register("aiff", AIFFDecoder{})
	r.Register("aif", AIFFDecoder{})
	return r
}

// OpenFile decodes path with the decoder registered for its extension.
// Closing the Source closes the file.
func OpenFile(path string) (Source, error) {
	return DefaultRegistry.Open(path)
}

// Open decodes path with the decoder registered for its extension. The
// returned Source closes the file.
func (r *Registry) Open(path string) (Source, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	dec, ok := r.Get(ext)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	f, err := os.Open(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	src, err := dec.Decode(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return &fileSource{Source: src, f: f}, nil
}

type fileSource struct {
	Source
	f *os.File
}

func (s *fileSource) Close() error {
	return errors.Join(s.Source.Close(), s.f.Close())
}

// Feed copies src into p until the source ends or ctx is done, then marks
// end of stream on p.
func Feed(ctx context.Context, src Source, p *Player, chunkFrames int) error {
	if src.Channels() != p.Channels() {
		return fmt.Errorf("source has %d channels, player expects %d", src.Channels(), p.Channels())
	}
	if chunkFrames <= 0 {
		chunkFrames = 1024
	}
	defer p.CloseInput()

	buf := make([]float32, chunkFrames*src.Channels())
	for {
		n, err := src.ReadSamples(buf)
		if n > 0 {
			if werr := p.WriteAll(ctx, buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read audio: %w", err)
		}
	}
}
