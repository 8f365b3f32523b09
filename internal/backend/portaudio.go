//go:build !noportaudio

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

package backend

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/loqalabs/loqa-portaudio/internal/audio"
)

func newPortAudio(logger *slog.Logger) (audio.Backend, error) {
	return NewPortAudioBackend(logger), nil
}

// PortAudioBackend implements audio.Backend on the PortAudio library.
// The device list is snapshotted at initialization, as PortAudio itself
// only rescans on a fresh Pa_Initialize.
type PortAudioBackend struct {
	logger *slog.Logger

	mu          sync.Mutex
	live        int
	hostApis    []*portaudio.HostApiInfo
	devices     []*portaudio.DeviceInfo
	deviceHost  []int
	lastHostErr string
}

// NewPortAudioBackend creates a new PortAudio backend.
func NewPortAudioBackend(logger *slog.Logger) *PortAudioBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortAudioBackend{logger: logger}
}

// code converts a binding error into a native code, remembering the text
// of anything that is not a PortAudio error.
func (p *PortAudioBackend) code(err error) int {
	if err == nil {
		return 0
	}
	var paErr portaudio.Error
	if errors.As(err, &paErr) {
		return int(paErr)
	}
	p.mu.Lock()
	p.lastHostErr = err.Error()
	p.mu.Unlock()
	return nativeCode(audio.UnanticipatedHostError)
}

func (p *PortAudioBackend) Version() int        { return portaudio.Version() }
func (p *PortAudioBackend) VersionText() string { return portaudio.VersionText() }

// Initialize initializes the PortAudio subsystem
func (p *PortAudioBackend) Initialize() int {
	if err := portaudio.Initialize(); err != nil {
		p.logger.Error("failed to initialize PortAudio", "error", err)
		return p.code(err)
	}

	apis, err := portaudio.HostApis()
	if err != nil {
		_ = portaudio.Terminate() // Ignore errors while unwinding a failed init
		return p.code(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.live++
	p.hostApis = apis
	p.devices = p.devices[:0]
	p.deviceHost = p.deviceHost[:0]
	for hi, h := range apis {
		for _, d := range h.Devices {
			p.devices = append(p.devices, d)
			p.deviceHost = append(p.deviceHost, hi)
		}
	}
	p.logger.Debug("PortAudio enumerated", "host_apis", len(apis), "devices", len(p.devices))
	return 0
}

// Terminate terminates the PortAudio subsystem
func (p *PortAudioBackend) Terminate() int {
	if err := portaudio.Terminate(); err != nil {
		return p.code(err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live > 0 {
		p.live--
	}
	if p.live == 0 {
		p.hostApis, p.devices, p.deviceHost = nil, nil, nil
	}
	return 0
}

func (p *PortAudioBackend) HostApiCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live == 0 {
		return nativeCode(audio.NotInitialized)
	}
	return len(p.hostApis)
}

func (p *PortAudioBackend) hostIndexLocked(h *portaudio.HostApiInfo) int {
	if h == nil {
		return nativeCode(audio.HostApiNotFound)
	}
	for i, cand := range p.hostApis {
		if cand == h || cand.Type == h.Type {
			return i
		}
	}
	return nativeCode(audio.HostApiNotFound)
}

// deviceIndexLocked finds d in the flattened device list. Descriptors
// from separate binding calls are distinct values, so fall back to
// matching by host and name.
func (p *PortAudioBackend) deviceIndexLocked(d *portaudio.DeviceInfo) int {
	if d == nil {
		return audio.NoDevice
	}
	for i, cand := range p.devices {
		if cand == d {
			return i
		}
	}
	for i, cand := range p.devices {
		if cand.Name == d.Name && cand.MaxInputChannels == d.MaxInputChannels &&
			cand.MaxOutputChannels == d.MaxOutputChannels && sameHost(cand, d) {
			return i
		}
	}
	return audio.NoDevice
}

func sameHost(a, b *portaudio.DeviceInfo) bool {
	if a.HostApi == nil || b.HostApi == nil {
		return a.HostApi == b.HostApi
	}
	return a.HostApi.Type == b.HostApi.Type
}

func (p *PortAudioBackend) DefaultHostApi() int {
	h, err := portaudio.DefaultHostApi()
	if err != nil {
		return p.code(err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live == 0 {
		return nativeCode(audio.NotInitialized)
	}
	return p.hostIndexLocked(h)
}

func (p *PortAudioBackend) HostApiInfo(index int) *audio.HostApiInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live == 0 || index < 0 || index >= len(p.hostApis) {
		return nil
	}
	h := p.hostApis[index]
	return &audio.HostApiInfo{
		StructVersion:       audio.HostApiInfoVersion,
		Type:                audio.HostApiTypeID(h.Type),
		Name:                h.Name,
		DeviceCount:         len(h.Devices),
		DefaultInputDevice:  p.deviceIndexLocked(h.DefaultInputDevice),
		DefaultOutputDevice: p.deviceIndexLocked(h.DefaultOutputDevice),
	}
}

func (p *PortAudioBackend) HostApiTypeIdToHostApiIndex(typeID audio.HostApiTypeID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live == 0 {
		return nativeCode(audio.NotInitialized)
	}
	for i, h := range p.hostApis {
		if audio.HostApiTypeID(h.Type) == typeID {
			return i
		}
	}
	return nativeCode(audio.HostApiNotFound)
}

func (p *PortAudioBackend) HostApiDeviceIndexToDeviceIndex(hostApi, hostApiDeviceIndex int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live == 0 {
		return nativeCode(audio.NotInitialized)
	}
	if hostApi < 0 || hostApi >= len(p.hostApis) {
		return nativeCode(audio.InvalidHostApi)
	}
	if hostApiDeviceIndex < 0 || hostApiDeviceIndex >= len(p.hostApis[hostApi].Devices) {
		return nativeCode(audio.InvalidDevice)
	}
	base := 0
	for i := 0; i < hostApi; i++ {
		base += len(p.hostApis[i].Devices)
	}
	return base + hostApiDeviceIndex
}

func (p *PortAudioBackend) DeviceCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live == 0 {
		return nativeCode(audio.NotInitialized)
	}
	return len(p.devices)
}

func (p *PortAudioBackend) DefaultInputDevice() int {
	return p.defaultDevice(portaudio.DefaultInputDevice)
}

func (p *PortAudioBackend) DefaultOutputDevice() int {
	return p.defaultDevice(portaudio.DefaultOutputDevice)
}

func (p *PortAudioBackend) defaultDevice(query func() (*portaudio.DeviceInfo, error)) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live == 0 {
		return audio.NoDevice
	}
	d, err := query()
	if err != nil {
		return audio.NoDevice
	}
	return p.deviceIndexLocked(d)
}

func (p *PortAudioBackend) DeviceInfo(index int) *audio.DeviceInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live == 0 || index < 0 || index >= len(p.devices) {
		return nil
	}
	d := p.devices[index]
	return &audio.DeviceInfo{
		StructVersion:            audio.DeviceInfoVersion,
		Name:                     d.Name,
		HostApi:                  p.deviceHost[index],
		MaxInputChannels:         d.MaxInputChannels,
		MaxOutputChannels:        d.MaxOutputChannels,
		DefaultLowInputLatency:   seconds(d.DefaultLowInputLatency),
		DefaultLowOutputLatency:  seconds(d.DefaultLowOutputLatency),
		DefaultHighInputLatency:  seconds(d.DefaultHighInputLatency),
		DefaultHighOutputLatency: seconds(d.DefaultHighOutputLatency),
		DefaultSampleRate:        d.DefaultSampleRate,
	}
}

// OpenDefaultStream opens a float32 callback stream. The binding selects
// its callback shape from the argument list, so input-only and
// output-only streams get single-buffer callbacks.
func (p *PortAudioBackend) OpenDefaultStream(inputChannels, outputChannels int, sampleRate float64, framesPerBuffer int, callback audio.NativeCallback) (audio.NativeStream, int) {
	p.mu.Lock()
	live := p.live
	p.mu.Unlock()
	if live == 0 {
		return nil, nativeCode(audio.NotInitialized)
	}

	s := &portAudioStream{backend: p, callback: callback}
	var fn interface{}
	switch {
	case inputChannels > 0 && outputChannels > 0:
		fn = func(in, out []float32, ti portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
			s.dispatch(in, out, len(out)/outputChannels, ti, flags)
		}
	case inputChannels > 0:
		fn = func(in []float32, ti portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
			s.dispatch(in, nil, len(in)/inputChannels, ti, flags)
		}
	default:
		fn = func(out []float32, ti portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
			s.dispatch(nil, out, len(out)/outputChannels, ti, flags)
		}
	}

	stream, err := portaudio.OpenDefaultStream(inputChannels, outputChannels, sampleRate, framesPerBuffer, fn)
	if err != nil {
		p.logger.Error("failed to open stream", "error", err)
		return nil, p.code(err)
	}
	s.stream = stream
	return s, 0
}

func (p *PortAudioBackend) LastHostError() (int, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastHostErr == "" {
		return 0, ""
	}
	return nativeCode(audio.UnanticipatedHostError), p.lastHostErr
}

func (p *PortAudioBackend) Sleep(msec int) {
	time.Sleep(time.Duration(msec) * time.Millisecond)
}

// portAudioStream tracks the started and finished flags the binding does
// not expose. The binding callback has no return value, so once the
// processing function finishes the stream plays silence until stopped.
type portAudioStream struct {
	backend  *PortAudioBackend
	stream   *portaudio.Stream
	callback audio.NativeCallback

	started  atomic.Bool
	complete atomic.Bool
	closed   atomic.Bool
}

func (s *portAudioStream) dispatch(in, out []float32, frames int, ti portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	if s.complete.Load() {
		clear(out)
		return
	}
	timeInfo := audio.TimeInfo{
		InputBufferAdcTime:  seconds(ti.InputBufferAdcTime),
		CurrentTime:         seconds(ti.CurrentTime),
		OutputBufferDacTime: seconds(ti.OutputBufferDacTime),
	}
	if s.callback(in, out, frames, timeInfo, audio.StatusFlags(flags)) != audio.Continue {
		s.complete.Store(true)
	}
}

// Start starts the audio stream
func (s *portAudioStream) Start() int {
	if s.closed.Load() {
		return nativeCode(audio.BadStreamPtr)
	}
	s.complete.Store(false)
	if err := s.stream.Start(); err != nil {
		return s.backend.code(err)
	}
	s.started.Store(true)
	return 0
}

// Stop stops the audio stream after queued buffers have played
func (s *portAudioStream) Stop() int {
	if s.closed.Load() {
		return nativeCode(audio.BadStreamPtr)
	}
	if err := s.stream.Stop(); err != nil {
		return s.backend.code(err)
	}
	s.started.Store(false)
	return 0
}

// Abort stops the audio stream without draining
func (s *portAudioStream) Abort() int {
	if s.closed.Load() {
		return nativeCode(audio.BadStreamPtr)
	}
	if err := s.stream.Abort(); err != nil {
		return s.backend.code(err)
	}
	s.started.Store(false)
	return 0
}

// Close closes the audio stream
func (s *portAudioStream) Close() int {
	if s.closed.Swap(true) {
		return nativeCode(audio.BadStreamPtr)
	}
	s.started.Store(false)
	return s.backend.code(s.stream.Close())
}

func (s *portAudioStream) IsStopped() int {
	if s.closed.Load() {
		return nativeCode(audio.BadStreamPtr)
	}
	if s.started.Load() {
		return 0
	}
	return 1
}

func (s *portAudioStream) IsActive() int {
	if s.closed.Load() {
		return nativeCode(audio.BadStreamPtr)
	}
	if s.started.Load() && !s.complete.Load() {
		return 1
	}
	return 0
}

func (s *portAudioStream) Time() float64 {
	if s.closed.Load() {
		return 0
	}
	return seconds(s.stream.Time())
}

func (s *portAudioStream) Info() *audio.StreamInfo {
	if s.closed.Load() {
		return nil
	}
	info := s.stream.Info()
	if info == nil {
		return nil
	}
	return &audio.StreamInfo{
		StructVersion: audio.StreamInfoVersion,
		InputLatency:  seconds(info.InputLatency),
		OutputLatency: seconds(info.OutputLatency),
		SampleRate:    info.SampleRate,
	}
}

func (s *portAudioStream) CpuLoad() float64 {
	if s.closed.Load() {
		return 0
	}
	return s.stream.CpuLoad()
}
