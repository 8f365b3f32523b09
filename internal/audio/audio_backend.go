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

package audio

// Backend is the native audio layer beneath a Session. Its methods mirror
// the PortAudio C API: results are native codes (0 on success, negative
// PaErrorCode on failure) so that every failure passes through the
// Translator on its way to the caller.
//
// A Backend is driven from control threads only; the Session serializes
// calls into it.
type Backend interface {
	// Version and VersionText work without initialization.
	Version() int
	VersionText() string

	// Initialize and Terminate must be paired.
	Initialize() int
	Terminate() int

	HostApiCount() int
	DefaultHostApi() int
	// HostApiInfo returns nil for an invalid index.
	HostApiInfo(index int) *HostApiInfo
	HostApiTypeIdToHostApiIndex(typeID HostApiTypeID) int
	HostApiDeviceIndexToDeviceIndex(hostApi, hostApiDeviceIndex int) int

	DeviceCount() int
	DefaultInputDevice() int
	DefaultOutputDevice() int
	// DeviceInfo returns nil for an invalid index.
	DeviceInfo(index int) *DeviceInfo

	// OpenDefaultStream opens a float32 interleaved stream on the default
	// devices. The callback runs on the backend's real-time thread.
	OpenDefaultStream(inputChannels, outputChannels int, sampleRate float64, framesPerBuffer int, callback NativeCallback) (NativeStream, int)

	// LastHostError returns the host detail behind the most recent
	// UnanticipatedHostError, if the backend keeps one.
	LastHostError() (code int, text string)

	Sleep(msec int)
}

// NativeStream is a stream handle owned by a Backend.
type NativeStream interface {
	Start() int
	// Stop lets queued output drain before returning.
	Stop() int
	// Abort discards queued output.
	Abort() int
	Close() int
	// IsStopped and IsActive return 1 or 0, or a negative code.
	IsStopped() int
	IsActive() int
	// Time returns the stream clock in seconds, 0 on error.
	Time() float64
	// Info returns nil on error.
	Info() *StreamInfo
	CpuLoad() float64
}

// NativeCallback is invoked once per hardware buffer. input is nil for
// output-only streams and output is nil for input-only streams; both are
// interleaved float32 owned by the backend and valid only for the call.
type NativeCallback func(input, output []float32, frames int, timeInfo TimeInfo, flags StatusFlags) CallbackResult

// HostApiTypeID identifies a host API family (PaHostApiTypeId).
type HostApiTypeID int

const (
	InDevelopment   HostApiTypeID = 0
	DirectSound     HostApiTypeID = 1
	MME             HostApiTypeID = 2
	ASIO            HostApiTypeID = 3
	SoundManager    HostApiTypeID = 4
	CoreAudio       HostApiTypeID = 5
	OSS             HostApiTypeID = 7
	ALSA            HostApiTypeID = 8
	AL              HostApiTypeID = 9
	BeOS            HostApiTypeID = 10
	WDMKS           HostApiTypeID = 11
	JACK            HostApiTypeID = 12
	WASAPI          HostApiTypeID = 13
	AudioScienceHPI HostApiTypeID = 14
	AudioIO         HostApiTypeID = 15
	PulseAudio      HostApiTypeID = 16
	Sndio           HostApiTypeID = 17
)

var hostApiTypeNames = map[HostApiTypeID]string{
	InDevelopment:   "InDevelopment",
	DirectSound:     "DirectSound",
	MME:             "MME",
	ASIO:            "ASIO",
	SoundManager:    "SoundManager",
	CoreAudio:       "CoreAudio",
	OSS:             "OSS",
	ALSA:            "ALSA",
	AL:              "AL",
	BeOS:            "BeOS",
	WDMKS:           "WDMKS",
	JACK:            "JACK",
	WASAPI:          "WASAPI",
	AudioScienceHPI: "AudioScienceHPI",
	AudioIO:         "AudioIO",
	PulseAudio:      "PulseAudio",
	Sndio:           "sndio",
}

func (t HostApiTypeID) String() string {
	if name, ok := hostApiTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// NoDevice marks the absence of a device where an index is expected.
const NoDevice = -1

// Structure versions reported in descriptors.
const (
	HostApiInfoVersion = 1
	DeviceInfoVersion  = 2
	StreamInfoVersion  = 1
)

// HostApiInfo describes one host API.
type HostApiInfo struct {
	StructVersion       int           `json:"struct_version" yaml:"struct_version"`
	Type                HostApiTypeID `json:"type" yaml:"type"`
	Name                string        `json:"name" yaml:"name"`
	DeviceCount         int           `json:"device_count" yaml:"device_count"`
	DefaultInputDevice  int           `json:"default_input_device" yaml:"default_input_device"`
	DefaultOutputDevice int           `json:"default_output_device" yaml:"default_output_device"`
}

// DeviceInfo describes one device. Latencies are in seconds.
type DeviceInfo struct {
	StructVersion            int     `json:"struct_version" yaml:"struct_version"`
	Name                     string  `json:"name" yaml:"name"`
	HostApi                  int     `json:"host_api" yaml:"host_api"`
	MaxInputChannels         int     `json:"max_input_channels" yaml:"max_input_channels"`
	MaxOutputChannels        int     `json:"max_output_channels" yaml:"max_output_channels"`
	DefaultLowInputLatency   float64 `json:"default_low_input_latency" yaml:"default_low_input_latency"`
	DefaultLowOutputLatency  float64 `json:"default_low_output_latency" yaml:"default_low_output_latency"`
	DefaultHighInputLatency  float64 `json:"default_high_input_latency" yaml:"default_high_input_latency"`
	DefaultHighOutputLatency float64 `json:"default_high_output_latency" yaml:"default_high_output_latency"`
	DefaultSampleRate        float64 `json:"default_sample_rate" yaml:"default_sample_rate"`
}

// StreamInfo reports negotiated stream properties. Latencies are in
// seconds.
type StreamInfo struct {
	StructVersion int     `json:"struct_version" yaml:"struct_version"`
	InputLatency  float64 `json:"input_latency" yaml:"input_latency"`
	OutputLatency float64 `json:"output_latency" yaml:"output_latency"`
	SampleRate    float64 `json:"sample_rate" yaml:"sample_rate"`
}
