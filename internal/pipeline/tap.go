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
	"sync"

	"github.com/loqalabs/loqa-portaudio/internal/transport"
)

// PublishFunc delivers one encoded transport frame.
type PublishFunc func(packet []byte) error

// Tap is a Sink that packs captured audio into transport frames.
type Tap struct {
	mu        sync.Mutex
	pk        *transport.Packetizer
	publish   PublishFunc
	perPacket int
	frames    uint64
	packets   uint64
	closed    bool
}

// NewTap publishes frames of at most framesPerPacket frames each. Zero or
// an oversize value uses the largest packet the frame format allows.
func NewTap(pk *transport.Packetizer, framesPerPacket int, publish PublishFunc) *Tap {
	limit := pk.FramesPerPacket()
	if framesPerPacket <= 0 || framesPerPacket > limit {
		framesPerPacket = limit
	}
	return &Tap{pk: pk, publish: publish, perPacket: framesPerPacket * pk.Channels}
}

// Write implements Sink. Timestamps follow the count of frames already sent.
func (t *Tap) Write(samples []float32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	for off := 0; off < len(samples); off += t.perPacket {
		part := samples[off:min(off+t.perPacket, len(samples))]
		for _, f := range t.pk.Packetize(part, t.streamTime()) {
			if err := t.send(f); err != nil {
				return err
			}
		}
		t.frames += uint64(len(part) / t.pk.Channels) //nolint:gosec // G115: lengths are non-negative
	}
	return nil
}

// Close sends the end-of-audio frame once.
func (t *Tap) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.send(t.pk.End(t.streamTime()))
}

// Packets counts frames published.
func (t *Tap) Packets() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.packets
}

func (t *Tap) streamTime() float64 {
	return float64(t.frames) / t.pk.SampleRate
}

func (t *Tap) send(f *transport.Frame) error {
	data, err := f.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to serialize frame: %w", err)
	}
	if err := t.publish(data); err != nil {
		return fmt.Errorf("failed to publish frame: %w", err)
	}
	t.packets++
	return nil
}
