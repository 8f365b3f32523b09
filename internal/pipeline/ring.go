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

// Package pipeline holds processing functions that plug into an audio
// stream: a test-signal generator, a ring-buffer player, a capture recorder
// and tap, and file decoders.
package pipeline

import (
	"encoding/binary"
	"errors"
	"math"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"
)

// byteRing is the part of *ringbuffer.RingBuffer the sample ring uses.
// Length, Free, Read, Write and Reset take the ring lock; the Try methods
// give up with ringbuffer.ErrAcquireLock instead.
type byteRing interface {
	Length() int
	Free() int
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	TryRead(p []byte) (int, error)
	TryWrite(p []byte) (int, error)
	Reset()
}

// sampleRing stores float32 samples as little-endian bytes in a ring
// buffer. There is one producer and one consumer. Every write and read is a
// whole number of samples, so the byte length always stays sample aligned.
//
// The audio thread may only use the try paths and FreeHint.
type sampleRing struct {
	rb       byteRing
	capacity int

	// used is raised after each write and lowered after each read, so
	// between Resets it never reports less than the ring holds.
	used atomic.Int64
}

func newSampleRing(samples int) *sampleRing {
	if samples < 1 {
		samples = 1
	}
	return &sampleRing{rb: ringbuffer.New(samples * 4), capacity: samples}
}

// Len is the number of buffered samples. It takes the ring lock.
func (r *sampleRing) Len() int { return r.rb.Length() / 4 }

// Free is the number of samples that fit. It takes the ring lock.
func (r *sampleRing) Free() int { return r.rb.Free() / 4 }

// FreeHint is a lock-free lower bound on Free.
func (r *sampleRing) FreeHint() int {
	return r.capacity - int(max(r.used.Load(), 0))
}

func (r *sampleRing) Cap() int { return r.capacity }

func (r *sampleRing) Reset() {
	r.rb.Reset()
	r.used.Store(0)
}

// write stores as many samples as fit and returns how many were taken.
// Set try on the audio thread: a contended lock then returns
// ringbuffer.ErrAcquireLock with nothing written.
func (r *sampleRing) write(samples []float32, scratch []byte, try bool) (int, error) {
	n := min(len(samples), len(scratch)/4)
	if n == 0 {
		return 0, nil
	}
	buf := scratch[:n*4]
	for i, s := range samples[:n] {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	var (
		w   int
		err error
	)
	if try {
		w, err = r.rb.TryWrite(buf)
	} else {
		w, err = r.rb.Write(buf)
	}
	w /= 4
	r.used.Add(int64(w))
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) && !errors.Is(err, ringbuffer.ErrTooMuchDataToWrite) {
		return w, err
	}
	return w, nil
}

// read fills dst with up to min(len(dst), len(scratch)/4) samples. A nil
// error with fewer samples than that means the ring is now empty.
func (r *sampleRing) read(dst []float32, scratch []byte, try bool) (int, error) {
	n := min(len(dst), len(scratch)/4)
	if n == 0 {
		return 0, nil
	}
	buf := scratch[:n*4]
	var (
		got int
		err error
	)
	if try {
		got, err = r.rb.TryRead(buf)
	} else {
		got, err = r.rb.Read(buf)
	}
	got /= 4
	for i := range got {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	r.used.Add(-int64(got))
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return got, err
	}
	return got, nil
}
