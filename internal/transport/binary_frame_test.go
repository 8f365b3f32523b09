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
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
	}{
		{"heartbeat", &Frame{Type: FrameTypeHeartbeat, SessionID: 12345, Sequence: 1, Timestamp: 1640995200000000}},
		{"stereo audio", &Frame{Type: FrameTypeAudioData, Channels: 2, SessionID: 67890, Sequence: 42, Timestamp: 5804988, Data: []byte{1, 0, 2, 0, 3, 0, 4, 0}}},
		{"full payload", &Frame{Type: FrameTypeAudioData, Channels: 1, SessionID: 99999, Sequence: 999, Data: make([]byte, MaxPayload)}},
		{"status", &Frame{Type: FrameTypeStatus, SessionID: 11111, Sequence: 5, Data: []byte(`{"state":"running"}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packet, err := tt.frame.MarshalBinary()
			if err != nil {
				t.Fatalf("MarshalBinary: %v", err)
			}
			if len(packet) != tt.frame.EncodedLen() {
				t.Errorf("packet is %d bytes, EncodedLen says %d", len(packet), tt.frame.EncodedLen())
			}
			if len(packet) > MaxPacketSize {
				t.Errorf("packet is %d bytes, over %d", len(packet), MaxPacketSize)
			}

			got, err := ParseFrame(packet)
			if err != nil {
				t.Fatalf("ParseFrame: %v", err)
			}
			if got.Type != tt.frame.Type || got.Channels != tt.frame.Channels ||
				got.SessionID != tt.frame.SessionID || got.Sequence != tt.frame.Sequence ||
				got.Timestamp != tt.frame.Timestamp {
				t.Errorf("header = %+v, want %+v", got, tt.frame)
			}
			if !bytes.Equal(got.Data, tt.frame.Data) {
				t.Errorf("payload differs")
			}
		})
	}
}

func TestHeaderLayout(t *testing.T) {
	f := &Frame{Type: FrameTypeAudioData, Channels: 2, SessionID: 0x01020304, Sequence: 7, Timestamp: 9, Data: []byte{0xAA, 0xBB, 0xCC, 0xDD}}
	packet, err := f.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if string(packet[:4]) != "PAUD" {
		t.Errorf("magic bytes = %q", packet[:4])
	}
	if packet[4] != byte(FrameTypeAudioData) || packet[5] != 2 {
		t.Errorf("type/channels = %d/%d", packet[4], packet[5])
	}
	if n := binary.BigEndian.Uint16(packet[6:]); n != 4 {
		t.Errorf("length field = %d, want 4", n)
	}
	if s := binary.BigEndian.Uint32(packet[8:]); s != 0x01020304 {
		t.Errorf("session field = 0x%08X", s)
	}
	if ts := binary.BigEndian.Uint64(packet[16:]); ts != 9 {
		t.Errorf("timestamp field = %d", ts)
	}
	if !bytes.Equal(packet[HeaderLen:], f.Data) {
		t.Errorf("payload not at offset %d", HeaderLen)
	}
}

func TestAppendBinaryReusesBuffer(t *testing.T) {
	buf := make([]byte, 0, 2*MaxPacketSize)
	buf, err := NewFrame(FrameTypeHeartbeat, 1, 1, 0, nil).AppendBinary(buf)
	if err != nil {
		t.Fatal(err)
	}
	buf, err = NewFrame(FrameTypeHeartbeat, 1, 2, 0, nil).AppendBinary(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(buf) != 2*HeaderLen {
		t.Fatalf("len = %d, want %d", len(buf), 2*HeaderLen)
	}
	second, err := ParseFrame(buf[HeaderLen:])
	if err != nil || second.Sequence != 2 {
		t.Errorf("second packet = %+v, %v", second, err)
	}
}

func TestFrameValidate(t *testing.T) {
	tests := []struct {
		name    string
		frame   *Frame
		wantErr bool
	}{
		{"mono audio", &Frame{Type: FrameTypeAudioData, Channels: 1, Data: []byte{0, 1}}, false},
		{"audio without channels", &Frame{Type: FrameTypeAudioData, Data: []byte{0, 1}}, true},
		{"partial sample frame", &Frame{Type: FrameTypeAudioData, Channels: 2, Data: []byte{0, 1, 2}}, true},
		{"empty heartbeat", &Frame{Type: FrameTypeHeartbeat}, false},
		{"oversized status", &Frame{Type: FrameTypeStatus, Data: make([]byte, MaxPayload+1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.frame.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	_, err := (&Frame{Type: FrameTypeStatus, Data: make([]byte, MaxPayload+1)}).MarshalBinary()
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("MarshalBinary oversized = %v, want ErrPayloadTooLarge", err)
	}
}

func TestParseFrameErrors(t *testing.T) {
	valid, err := NewFrame(FrameTypeHeartbeat, 1, 1, 0, []byte("test")).MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	oversized := append([]byte(nil), valid[:HeaderLen]...)
	oversized[6], oversized[7] = 0xFF, 0xFF

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short", make([]byte, HeaderLen-1), ErrShortPacket},
		{"zero magic", make([]byte, HeaderLen), ErrBadMagic},
		{"truncated", valid[:len(valid)-1], ErrLengthMismatch},
		{"trailing garbage", append(append([]byte(nil), valid...), 0), ErrLengthMismatch},
		{"length over limit", oversized, ErrPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseFrame(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("ParseFrame() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReadWriteFrameStream(t *testing.T) {
	var buf bytes.Buffer
	frames := []*Frame{
		{Type: FrameTypeAudioData, Channels: 1, Sequence: 0, Data: []byte{1, 2, 3, 4}},
		{Type: FrameTypeAudioData, Channels: 1, Sequence: 1, Data: []byte{5, 6}},
		{Type: FrameTypeAudioEnd, Channels: 1, Sequence: 2},
	}
	for _, f := range frames {
		if err := WriteFrame(&buf, f); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	for i, want := range frames {
		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame(%d): %v", i, err)
		}
		if got.Sequence != want.Sequence || got.Type != want.Type || !bytes.Equal(got.Data, want.Data) {
			t.Errorf("frame %d = %+v, want %+v", i, got, want)
		}
	}
	if _, err := ReadFrame(&buf); err != io.EOF {
		t.Errorf("ReadFrame at end = %v, want io.EOF", err)
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	packet, _ := NewFrame(FrameTypeStatus, 1, 1, 0, []byte("payload")).MarshalBinary()
	_, err := ReadFrame(bytes.NewReader(packet[:len(packet)-2]))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadFrame() = %v, want unexpected EOF", err)
	}
}

func TestFrameSamples(t *testing.T) {
	f := &Frame{Type: FrameTypeAudioData, Channels: 1, Data: FloatsToPCM16(nil, []float32{0.5, -0.5})}
	got, err := f.Samples(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] <= 0.49 || got[1] >= -0.49 {
		t.Errorf("Samples() = %v", got)
	}
	if _, err := NewFrame(FrameTypeHeartbeat, 0, 0, 0, nil).Samples(nil); err == nil {
		t.Error("heartbeat decoded as audio")
	}
}

func TestFrameTypeString(t *testing.T) {
	for ft, want := range map[FrameType]string{
		FrameTypeAudioData: "audio_data",
		FrameTypeAudioEnd:  "audio_end",
		FrameType(0x7f):    "frame_type(0x7f)",
	} {
		t.Run(fmt.Sprintf("type_%02x", uint8(ft)), func(t *testing.T) {
			if got := ft.String(); got != want {
				t.Errorf("String() = %q, want %q", got, want)
			}
		})
	}
}
