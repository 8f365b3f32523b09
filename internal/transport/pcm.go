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
	"fmt"
	"math"
)

// FloatsToPCM16 appends samples to dst as 16-bit little-endian PCM,
// clamping to the int16 range.
func FloatsToPCM16(dst []byte, samples []float32) []byte {
	for _, sample := range samples {
		// Scale by 32768 but clamp to valid int16 range
		scaled := sample * 32768
		var val int16
		switch {
		case math.IsNaN(float64(scaled)):
			val = 0
		case scaled > 32767:
			val = 32767
		case scaled <= -32768:
			val = -32767 // Use -32767 instead of -32768 for symmetry
		default:
			val = int16(scaled)
		}
		dst = append(dst, byte(val), byte(val>>8))
	}
	return dst
}

// PCM16ToFloats appends the 16-bit little-endian samples in data to dst.
// A trailing odd byte is ignored.
func PCM16ToFloats(dst []float32, data []byte) []float32 {
	for i := 0; i+1 < len(data); i += 2 {
		v := int16(uint16(data[i]) | uint16(data[i+1])<<8)
		dst = append(dst, float32(v)/32768)
	}
	return dst
}

// Packetizer splits interleaved float32 audio into sequenced audio frames
// that each fit MaxPayload.
type Packetizer struct {
	SessionID  uint32
	Channels   int
	SampleRate float64

	sequence uint32
}

// NewPacketizer validates the stream shape.
func NewPacketizer(sessionID uint32, channels int, sampleRate float64) (*Packetizer, error) {
	if channels <= 0 || channels > math.MaxUint8 {
		return nil, fmt.Errorf("invalid channel count: %d", channels)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %v", sampleRate)
	}
	return &Packetizer{SessionID: sessionID, Channels: channels, SampleRate: sampleRate}, nil
}

// FramesPerPacket is the number of audio frames one packet can hold.
func (p *Packetizer) FramesPerPacket() int {
	return MaxPayload / (2 * p.Channels)
}

// Packetize converts samples starting at streamTime (seconds) into frames.
// A partial trailing audio frame is dropped.
func (p *Packetizer) Packetize(samples []float32, streamTime float64) []*Frame {
	per := p.FramesPerPacket() * p.Channels
	total := len(samples) - len(samples)%p.Channels

	var frames []*Frame
	for off := 0; off < total; off += per {
		end := min(off+per, total)
		ts := streamTime + float64(off/p.Channels)/p.SampleRate
		frames = append(frames, &Frame{
			Type:      FrameTypeAudioData,
			Channels:  uint8(p.Channels), //nolint:gosec // G115: validated in NewPacketizer
			SessionID: p.SessionID,
			Sequence:  p.sequence,
			Timestamp: uint64(math.Max(ts, 0) * 1e6),
			Data:      FloatsToPCM16(make([]byte, 0, 2*(end-off)), samples[off:end]),
		})
		p.sequence++
	}
	return frames
}

// End returns the frame that marks the end of the audio session.
func (p *Packetizer) End(streamTime float64) *Frame {
	f := NewFrame(FrameTypeAudioEnd, p.SessionID, p.sequence, uint64(math.Max(streamTime, 0)*1e6), nil)
	f.Channels = uint8(p.Channels) //nolint:gosec // G115: validated in NewPacketizer
	p.sequence++
	return f
}
