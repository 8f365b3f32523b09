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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Packets carry interleaved PCM between audio nodes over a message bus.
// Each packet is a fixed 24-byte big-endian header followed by the payload,
// and the whole packet stays under a typical MTU.
//
//	off  size  field
//	  0     4  magic "PAUD"
//	  4     1  type
//	  5     1  channels
//	  6     2  payload length
//	  8     4  session id
//	 12     4  sequence
//	 16     8  timestamp (microseconds of stream time)

// FrameType identifies what a packet carries.
type FrameType uint8

const (
	FrameTypeAudioData FrameType = 0x01
	FrameTypeAudioEnd  FrameType = 0x02
	FrameTypeHeartbeat FrameType = 0x10
	FrameTypeError     FrameType = 0x12
	FrameTypeStatus    FrameType = 0x21
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeAudioData:
		return "audio_data"
	case FrameTypeAudioEnd:
		return "audio_end"
	case FrameTypeHeartbeat:
		return "heartbeat"
	case FrameTypeError:
		return "error"
	case FrameTypeStatus:
		return "status"
	}
	return fmt.Sprintf("frame_type(0x%02x)", uint8(t))
}

const (
	Magic         uint32 = 0x50415544 // "PAUD"
	HeaderLen            = 24
	MaxPacketSize        = 1536
	MaxPayload           = MaxPacketSize - HeaderLen
)

var (
	ErrShortPacket     = errors.New("packet shorter than header")
	ErrBadMagic        = errors.New("bad packet magic")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrLengthMismatch  = errors.New("payload length mismatch")
)

// Frame is a decoded packet. For audio frames Data is interleaved PCM16
// little-endian with Channels channels, and Timestamp is the stream time
// of the first sample frame in microseconds.
type Frame struct {
	Type      FrameType
	Channels  uint8
	SessionID uint32
	Sequence  uint32
	Timestamp uint64
	Data      []byte
}

// NewFrame builds a frame without a channel count, for non-audio types.
func NewFrame(frameType FrameType, sessionID, sequence uint32, timestamp uint64, data []byte) *Frame {
	return &Frame{Type: frameType, SessionID: sessionID, Sequence: sequence, Timestamp: timestamp, Data: data}
}

// EncodedLen is the packet size f marshals to.
func (f *Frame) EncodedLen() int { return HeaderLen + len(f.Data) }

// Validate reports structural problems: an oversized payload, or audio
// that does not hold a whole number of sample frames.
func (f *Frame) Validate() error {
	if len(f.Data) > MaxPayload {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(f.Data), MaxPayload)
	}
	if f.Type == FrameTypeAudioData {
		if f.Channels == 0 {
			return errors.New("audio frame without channel count")
		}
		if len(f.Data)%(2*int(f.Channels)) != 0 {
			return fmt.Errorf("audio payload of %d bytes is not whole %d-channel frames", len(f.Data), f.Channels)
		}
	}
	return nil
}

// MarshalBinary encodes f as a packet.
func (f *Frame) MarshalBinary() ([]byte, error) {
	return f.AppendBinary(make([]byte, 0, f.EncodedLen()))
}

// AppendBinary appends the encoded packet to b.
func (f *Frame) AppendBinary(b []byte) ([]byte, error) {
	if len(f.Data) > MaxPayload {
		return b, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(f.Data), MaxPayload)
	}
	b = binary.BigEndian.AppendUint32(b, Magic)
	b = append(b, byte(f.Type), f.Channels)
	b = binary.BigEndian.AppendUint16(b, uint16(len(f.Data))) //nolint:gosec // G115: bounded by MaxPayload
	b = binary.BigEndian.AppendUint32(b, f.SessionID)
	b = binary.BigEndian.AppendUint32(b, f.Sequence)
	b = binary.BigEndian.AppendUint64(b, f.Timestamp)
	return append(b, f.Data...), nil
}

// UnmarshalBinary decodes one complete packet. Data is copied.
func (f *Frame) UnmarshalBinary(packet []byte) error {
	n, err := f.decodeHeader(packet)
	if err != nil {
		return err
	}
	if len(packet) != HeaderLen+n {
		return fmt.Errorf("%w: got %d bytes, header says %d", ErrLengthMismatch, len(packet), HeaderLen+n)
	}
	f.Data = nil
	if n > 0 {
		f.Data = append(make([]byte, 0, n), packet[HeaderLen:]...)
	}
	return nil
}

// ParseFrame decodes one complete packet.
func ParseFrame(packet []byte) (*Frame, error) {
	f := new(Frame)
	if err := f.UnmarshalBinary(packet); err != nil {
		return nil, err
	}
	return f, nil
}

// ReadFrame reads the next packet from a byte stream. A clean end of
// stream before any header byte returns io.EOF.
func ReadFrame(r io.Reader) (*Frame, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	f := new(Frame)
	n, err := f.decodeHeader(hdr[:])
	if err != nil {
		return nil, err
	}
	if n > 0 {
		f.Data = make([]byte, n)
		if _, err := io.ReadFull(r, f.Data); err != nil {
			return nil, fmt.Errorf("truncated payload: %w", err)
		}
	}
	return f, nil
}

// WriteFrame writes f to w as one packet.
func WriteFrame(w io.Writer, f *Frame) error {
	packet, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(packet)
	return err
}

// decodeHeader fills the header fields of f and returns the payload length.
func (f *Frame) decodeHeader(b []byte) (int, error) {
	if len(b) < HeaderLen {
		return 0, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(b))
	}
	if m := binary.BigEndian.Uint32(b); m != Magic {
		return 0, fmt.Errorf("%w: 0x%08X", ErrBadMagic, m)
	}
	n := int(binary.BigEndian.Uint16(b[6:]))
	if n > MaxPayload {
		return 0, fmt.Errorf("%w: header claims %d bytes", ErrPayloadTooLarge, n)
	}
	f.Type = FrameType(b[4])
	f.Channels = b[5]
	f.SessionID = binary.BigEndian.Uint32(b[8:])
	f.Sequence = binary.BigEndian.Uint32(b[12:])
	f.Timestamp = binary.BigEndian.Uint64(b[16:])
	return n, nil
}

// Samples decodes an audio payload, appending to dst.
func (f *Frame) Samples(dst []float32) ([]float32, error) {
	if f.Type != FrameTypeAudioData {
		return dst, fmt.Errorf("frame type %s carries no audio", f.Type)
	}
	if err := f.Validate(); err != nil {
		return dst, err
	}
	return PCM16ToFloats(dst, f.Data), nil
}
