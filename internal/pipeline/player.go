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
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-portaudio/internal/audio"
)

// ErrPlayerClosed is returned when writing after CloseInput.
var ErrPlayerClosed = errors.New("player input closed")

const playerPoll = 5 * time.Millisecond

// Player buffers interleaved samples written from ordinary goroutines and
// plays them from the audio thread.
type Player struct {
	channels int
	ring     *sampleRing

	wmu      sync.Mutex
	wscratch []byte
	rscratch []byte

	started   atomic.Bool
	eos       atomic.Bool
	underruns atomic.Uint64
	played    atomic.Uint64
}

// NewPlayer buffers up to capacityFrames frames of the given channel count.
func NewPlayer(channels, capacityFrames int) *Player {
	if channels < 1 {
		channels = 1
	}
	ring := newSampleRing(channels * capacityFrames)
	return &Player{
		channels: channels,
		ring:     ring,
		wscratch: make([]byte, ring.Cap()*4),
		rscratch: make([]byte, ring.Cap()*4),
	}
}

// Channels is the interleaving the player expects.
func (p *Player) Channels() int { return p.channels }

// Write queues as many samples as fit and returns the count taken. A
// trailing partial frame is never split across writes.
func (p *Player) Write(samples []float32) (int, error) {
	if p.eos.Load() {
		return 0, ErrPlayerClosed
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()

	n := min(len(samples), p.ring.Free())
	n -= n % p.channels
	return p.ring.write(samples[:n], p.wscratch, false)
}

// WriteAll queues every sample, waiting for the audio thread to make room.
func (p *Player) WriteAll(ctx context.Context, samples []float32) error {
	for len(samples) > 0 {
		n, err := p.Write(samples)
		if err != nil {
			return err
		}
		samples = samples[n:]
		if len(samples) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(playerPoll):
		}
	}
	return nil
}

// CloseInput marks end of stream. Once the buffer runs dry the player
// returns Complete.
func (p *Player) CloseInput() { p.eos.Store(true) }

// Reset drops buffered audio and reopens the input.
func (p *Player) Reset() {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	p.ring.Reset()
	p.eos.Store(false)
	p.started.Store(false)
}

// Buffered is the number of queued samples.
func (p *Player) Buffered() int { return p.ring.Len() }

// Underruns counts batches that ran out of audio before end of stream.
func (p *Player) Underruns() uint64 { return p.underruns.Load() }

// Played counts samples handed to the device.
func (p *Player) Played() uint64 { return p.played.Load() }

// Process implements audio.ProcessFunc. It never waits on the ring lock:
// if a producer holds it, the batch plays silence.
func (p *Player) Process(b *audio.Batch, _ any) audio.CallbackResult {
	if b.OutChannels != p.channels {
		return audio.Continue
	}
	// Loaded before the read so a final Write is never cut off.
	eos := p.eos.Load()
	out := b.Out[:cap(b.Out)]
	want := min(len(out), p.ring.Cap())
	n, err := p.ring.read(out, p.rscratch, true)
	if err != nil {
		n = 0
	}
	b.Out = out[:n]
	p.played.Add(uint64(n)) //nolint:gosec // G115: n is non-negative
	if n > 0 {
		p.started.Store(true)
	}
	if n < want {
		if eos && err == nil {
			return audio.Complete
		}
		if p.started.Load() {
			p.underruns.Add(1)
		}
	}
	return audio.Continue
}
