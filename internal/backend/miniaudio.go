//go:build !nominiaudio

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
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/loqalabs/loqa-portaudio/internal/audio"
)

// miniaudio does not expose device channel ranges or latencies during
// enumeration; these are its documented defaults.
const (
	miniaudioChannels    = 2
	miniaudioSampleRate  = 48000
	miniaudioLowLatency  = 0.010
	miniaudioHighLatency = 0.100
	miniaudioPeriods     = 3
	miniaudioVersionText = "miniaudio (malgo)"
)

func newMiniaudio(logger *slog.Logger) (audio.Backend, error) {
	return NewMiniaudioBackend(logger)
}

// platformBackend picks the miniaudio backend for the running OS.
func platformBackend() (malgo.Backend, audio.HostApiTypeID, string, error) {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa, audio.ALSA, "ALSA", nil
	case "windows":
		return malgo.BackendWasapi, audio.WASAPI, "WASAPI", nil
	case "darwin":
		return malgo.BackendCoreaudio, audio.CoreAudio, "Core Audio", nil
	}
	return malgo.BackendNull, audio.InDevelopment, "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
}

// MiniaudioBackend implements audio.Backend on miniaudio. It exposes a
// single host API whose devices are the capture devices followed by the
// playback devices.
type MiniaudioBackend struct {
	logger   *slog.Logger
	backend  malgo.Backend
	hostType audio.HostApiTypeID
	hostName string

	mu          sync.Mutex
	ctx         *malgo.AllocatedContext
	live        int
	devices     []audio.DeviceInfo
	defaultIn   int
	defaultOut  int
	lastHostErr string
}

// NewMiniaudioBackend creates a miniaudio backend for this platform.
func NewMiniaudioBackend(logger *slog.Logger) (*MiniaudioBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b, hostType, hostName, err := platformBackend()
	if err != nil {
		return nil, err
	}
	return &MiniaudioBackend{
		logger:     logger,
		backend:    b,
		hostType:   hostType,
		hostName:   hostName,
		defaultIn:  audio.NoDevice,
		defaultOut: audio.NoDevice,
	}, nil
}

func (m *MiniaudioBackend) hostError(op string, err error) int {
	m.mu.Lock()
	m.lastHostErr = fmt.Sprintf("%s: %v", op, err)
	m.mu.Unlock()
	m.logger.Error("miniaudio call failed", "op", op, "error", err)
	return nativeCode(audio.UnanticipatedHostError)
}

func (m *MiniaudioBackend) Version() int        { return 0 }
func (m *MiniaudioBackend) VersionText() string { return miniaudioVersionText }

func (m *MiniaudioBackend) Initialize() int {
	m.mu.Lock()
	if m.live > 0 {
		m.live++
		m.mu.Unlock()
		return 0
	}
	m.mu.Unlock()

	ctx, err := malgo.InitContext([]malgo.Backend{m.backend}, malgo.ContextConfig{}, func(message string) {
		m.logger.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return m.hostError("init context", err)
	}

	var devices []audio.DeviceInfo
	defaultIn, defaultOut := audio.NoDevice, audio.NoDevice
	for _, kind := range []malgo.DeviceType{malgo.Capture, malgo.Playback} {
		infos, err := ctx.Devices(kind)
		if err != nil {
			_ = ctx.Uninit() // Ignore errors while unwinding a failed init
			ctx.Free()
			return m.hostError("enumerate devices", err)
		}
		for i := range infos {
			d := audio.DeviceInfo{
				StructVersion:     audio.DeviceInfoVersion,
				Name:              infos[i].Name(),
				HostApi:           0,
				DefaultSampleRate: miniaudioSampleRate,
			}
			if kind == malgo.Capture {
				d.MaxInputChannels = miniaudioChannels
				d.DefaultLowInputLatency = miniaudioLowLatency
				d.DefaultHighInputLatency = miniaudioHighLatency
				if infos[i].IsDefault == 1 && defaultIn == audio.NoDevice {
					defaultIn = len(devices)
				}
			} else {
				d.MaxOutputChannels = miniaudioChannels
				d.DefaultLowOutputLatency = miniaudioLowLatency
				d.DefaultHighOutputLatency = miniaudioHighLatency
				if infos[i].IsDefault == 1 && defaultOut == audio.NoDevice {
					defaultOut = len(devices)
				}
			}
			devices = append(devices, d)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx = ctx
	m.devices = devices
	m.defaultIn, m.defaultOut = defaultIn, defaultOut
	m.live = 1
	m.logger.Debug("miniaudio enumerated", "devices", len(devices))
	return 0
}

func (m *MiniaudioBackend) Terminate() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live == 0 {
		return nativeCode(audio.NotInitialized)
	}
	m.live--
	if m.live > 0 {
		return 0
	}
	err := m.ctx.Uninit()
	m.ctx.Free()
	m.ctx, m.devices = nil, nil
	m.defaultIn, m.defaultOut = audio.NoDevice, audio.NoDevice
	if err != nil {
		m.lastHostErr = fmt.Sprintf("uninit context: %v", err)
		return nativeCode(audio.UnanticipatedHostError)
	}
	return 0
}

func (m *MiniaudioBackend) HostApiCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live == 0 {
		return nativeCode(audio.NotInitialized)
	}
	return 1
}

func (m *MiniaudioBackend) DefaultHostApi() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live == 0 {
		return nativeCode(audio.NotInitialized)
	}
	return 0
}

func (m *MiniaudioBackend) HostApiInfo(index int) *audio.HostApiInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live == 0 || index != 0 {
		return nil
	}
	return &audio.HostApiInfo{
		StructVersion:       audio.HostApiInfoVersion,
		Type:                m.hostType,
		Name:                "miniaudio/" + m.hostName,
		DeviceCount:         len(m.devices),
		DefaultInputDevice:  m.defaultIn,
		DefaultOutputDevice: m.defaultOut,
	}
}

func (m *MiniaudioBackend) HostApiTypeIdToHostApiIndex(typeID audio.HostApiTypeID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live == 0 {
		return nativeCode(audio.NotInitialized)
	}
	if typeID == m.hostType {
		return 0
	}
	return nativeCode(audio.HostApiNotFound)
}

func (m *MiniaudioBackend) HostApiDeviceIndexToDeviceIndex(hostApi, hostApiDeviceIndex int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live == 0 {
		return nativeCode(audio.NotInitialized)
	}
	if hostApi != 0 {
		return nativeCode(audio.InvalidHostApi)
	}
	if hostApiDeviceIndex < 0 || hostApiDeviceIndex >= len(m.devices) {
		return nativeCode(audio.InvalidDevice)
	}
	return hostApiDeviceIndex
}

func (m *MiniaudioBackend) DeviceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live == 0 {
		return nativeCode(audio.NotInitialized)
	}
	return len(m.devices)
}

func (m *MiniaudioBackend) DefaultInputDevice() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaultIn
}

func (m *MiniaudioBackend) DefaultOutputDevice() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaultOut
}

func (m *MiniaudioBackend) DeviceInfo(index int) *audio.DeviceInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live == 0 || index < 0 || index >= len(m.devices) {
		return nil
	}
	d := m.devices[index]
	return &d
}

func (m *MiniaudioBackend) OpenDefaultStream(inputChannels, outputChannels int, sampleRate float64, framesPerBuffer int, callback audio.NativeCallback) (audio.NativeStream, int) {
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()
	if ctx == nil {
		return nil, nativeCode(audio.NotInitialized)
	}

	deviceType := malgo.Playback
	switch {
	case inputChannels > 0 && outputChannels > 0:
		deviceType = malgo.Duplex
	case inputChannels > 0:
		deviceType = malgo.Capture
	}

	deviceConfig := malgo.DefaultDeviceConfig(deviceType)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(inputChannels)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = uint32(outputChannels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(framesPerBuffer)
	deviceConfig.Alsa.NoMMap = 1

	period := time.Duration(float64(framesPerBuffer) / sampleRate * float64(time.Second))
	s := &miniaudioStream{
		backend:    m,
		callback:   callback,
		inCh:       inputChannels,
		outCh:      outputChannels,
		sampleRate: sampleRate,
		period:     period,
		latency:    miniaudioPeriods * period,
		opened:     time.Now(),
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		return nil, m.hostError("init device", err)
	}
	s.device = device
	return s, 0
}

func (m *MiniaudioBackend) LastHostError() (int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastHostErr == "" {
		return 0, ""
	}
	return nativeCode(audio.UnanticipatedHostError), m.lastHostErr
}

func (m *MiniaudioBackend) Sleep(msec int) {
	time.Sleep(time.Duration(msec) * time.Millisecond)
}

type miniaudioStream struct {
	backend    *MiniaudioBackend
	device     *malgo.Device
	callback   audio.NativeCallback
	inCh       int
	outCh      int
	sampleRate float64
	period     time.Duration
	latency    time.Duration
	opened     time.Time

	started  atomic.Bool
	complete atomic.Bool
	closed   atomic.Bool
	cpu      cpuMeter
}

func (s *miniaudioStream) now() float64 {
	return time.Since(s.opened).Seconds()
}

// onData runs on miniaudio's device thread.
func (s *miniaudioStream) onData(pOutput, pInput []byte, frameCount uint32) {
	out := float32View(pOutput)
	if s.complete.Load() {
		clear(out)
		return
	}
	var in []float32
	if s.inCh > 0 {
		in = float32View(pInput)
	}
	if s.outCh == 0 {
		out = nil
	}

	now := s.now()
	ti := audio.TimeInfo{
		InputBufferAdcTime:  now - s.latency.Seconds(),
		CurrentTime:         now,
		OutputBufferDacTime: now + s.latency.Seconds(),
	}
	start := time.Now()
	if s.callback(in, out, int(frameCount), ti, 0) != audio.Continue {
		s.complete.Store(true)
	}
	s.cpu.observe(time.Since(start), s.period)
}

func (s *miniaudioStream) onStop() {
	if s.started.Load() {
		s.backend.logger.Warn("miniaudio device stopped unexpectedly")
	}
}

func (s *miniaudioStream) Start() int {
	if s.closed.Load() {
		return nativeCode(audio.BadStreamPtr)
	}
	s.complete.Store(false)
	s.started.Store(true)
	if err := s.device.Start(); err != nil {
		s.started.Store(false)
		return s.backend.hostError("start device", err)
	}
	return 0
}

// Stop lets the device's queued periods play out before stopping, since
// miniaudio itself stops immediately.
func (s *miniaudioStream) Stop() int {
	if s.closed.Load() {
		return nativeCode(audio.BadStreamPtr)
	}
	if s.outCh > 0 {
		time.Sleep(s.latency)
	}
	return s.halt()
}

func (s *miniaudioStream) Abort() int {
	if s.closed.Load() {
		return nativeCode(audio.BadStreamPtr)
	}
	return s.halt()
}

func (s *miniaudioStream) halt() int {
	s.started.Store(false)
	if err := s.device.Stop(); err != nil {
		return s.backend.hostError("stop device", err)
	}
	return 0
}

func (s *miniaudioStream) Close() int {
	if s.closed.Swap(true) {
		return nativeCode(audio.BadStreamPtr)
	}
	s.started.Store(false)
	s.device.Uninit()
	return 0
}

func (s *miniaudioStream) IsStopped() int {
	if s.closed.Load() {
		return nativeCode(audio.BadStreamPtr)
	}
	if s.started.Load() {
		return 0
	}
	return 1
}

func (s *miniaudioStream) IsActive() int {
	if s.closed.Load() {
		return nativeCode(audio.BadStreamPtr)
	}
	if s.started.Load() && !s.complete.Load() {
		return 1
	}
	return 0
}

func (s *miniaudioStream) Time() float64 {
	if s.closed.Load() {
		return 0
	}
	return s.now()
}

func (s *miniaudioStream) Info() *audio.StreamInfo {
	if s.closed.Load() {
		return nil
	}
	info := &audio.StreamInfo{
		StructVersion: audio.StreamInfoVersion,
		SampleRate:    float64(s.device.SampleRate()),
	}
	if s.inCh > 0 {
		info.InputLatency = s.latency.Seconds()
	}
	if s.outCh > 0 {
		info.OutputLatency = s.latency.Seconds()
	}
	return info
}

func (s *miniaudioStream) CpuLoad() float64 {
	return s.cpu.load()
}
