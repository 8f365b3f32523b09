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

// Package backend provides the native audio.Backend implementations and
// a factory that selects one by name.
package backend

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/loqalabs/loqa-portaudio/internal/audio"
)

// Backend names accepted by New.
const (
	NamePortAudio = "portaudio"
	NameMiniaudio = "miniaudio"
	NameMock      = "mock"
)

type constructor func(logger *slog.Logger) (audio.Backend, error)

var constructors = map[string]constructor{
	NamePortAudio: newPortAudio,
	NameMiniaudio: newMiniaudio,
	NameMock: func(*slog.Logger) (audio.Backend, error) {
		mock := audio.NewMockAudioBackend()
		mock.SetSimulateRealTiming(true)
		return mock, nil
	},
}

// Names lists the backends New accepts, sorted.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New returns the backend registered under name.
func New(name string, logger *slog.Logger) (audio.Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctor, ok := constructors[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown audio backend %q (want one of %s)", name, strings.Join(Names(), ", "))
	}
	b, err := ctor(logger.With("backend", strings.ToLower(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend: %w", name, err)
	}
	return b, nil
}

func nativeCode(k audio.ErrorKind) int {
	code, _ := k.Code()
	return code
}

func seconds(d time.Duration) float64 {
	return d.Seconds()
}

// cpuMeter tracks callback time as a fraction of the buffer period with
// the same 0.9 low-pass used by PortAudio's cpu load measurement.
type cpuMeter struct {
	bits atomic.Uint64
}

func (m *cpuMeter) observe(elapsed, period time.Duration) {
	if period <= 0 {
		return
	}
	now := elapsed.Seconds() / period.Seconds()
	prev := math.Float64frombits(m.bits.Load())
	m.bits.Store(math.Float64bits(0.9*prev + 0.1*now))
}

func (m *cpuMeter) load() float64 {
	return math.Float64frombits(m.bits.Load())
}

// float32View reinterprets a native little-endian f32 buffer in place.
// The backend guarantees 4-byte alignment of device buffers.
func float32View(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}
