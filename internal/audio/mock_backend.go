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

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockDevice describes a simulated device.
type MockDevice struct {
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	LowLatency        float64
	HighLatency       float64
}

// MockHostApi describes a simulated host API. DefaultInput and
// DefaultOutput index into Devices, or are NoDevice.
type MockHostApi struct {
	Type          HostApiTypeID
	Name          string
	Devices       []MockDevice
	DefaultInput  int
	DefaultOutput int
}

// DefaultMockTopology is an ALSA-like host with separate input and output
// devices plus a JACK host with one duplex device.
func DefaultMockTopology() []MockHostApi {
	return []MockHostApi{
		{
			Type: ALSA,
			Name: "ALSA",
			Devices: []MockDevice{
				{Name: "Mock Microphone", MaxInputChannels: 2, DefaultSampleRate: 44100, LowLatency: 0.0087, HighLatency: 0.0348},
				{Name: "Mock Speakers", MaxOutputChannels: 2, DefaultSampleRate: 44100, LowLatency: 0.0087, HighLatency: 0.0348},
			},
			DefaultInput:  0,
			DefaultOutput: 1,
		},
		{
			Type: JACK,
			Name: "JACK Audio Connection Kit",
			Devices: []MockDevice{
				{Name: "system", MaxInputChannels: 8, MaxOutputChannels: 8, DefaultSampleRate: 48000, LowLatency: 0.0053, HighLatency: 0.0053},
			},
			DefaultInput:  0,
			DefaultOutput: 0,
		},
	}
}

const (
	mockVersion     = 19*10000 + 7*100
	mockVersionText = "PortAudio V19.7.0-devel (mock)"

	// cpu load smoothing coefficient applied to the previous value
	cpuLoadCoefficient = 0.9

	maxCapturedOutputs = 1024
)

// MockAudioBackend implements Backend without hardware. With real timing
// enabled each started stream gets a goroutine that plays the part of the
// audio thread; otherwise tests drive callbacks with MockStream.Tick.
type MockAudioBackend struct {
	mu             sync.Mutex
	hostApis       []MockHostApi
	defaultHostApi int
	live           int
	initCalls      int
	terminateCalls int
	sleepCalls     int

	initError      int
	terminateError int
	openError      int
	startError     int
	hostErrorText  string

	simulateRealTiming bool
	queuedBuffers      int
	inputGenerator     func(buf []float32, channels int, framePos uint64, sampleRate float64)

	streams map[*MockStream]struct{}
}

// NewMockAudioBackend creates a backend with DefaultMockTopology and real
// timing disabled.
func NewMockAudioBackend() *MockAudioBackend {
	return &MockAudioBackend{
		hostApis:      DefaultMockTopology(),
		queuedBuffers: 2,
		streams:       make(map[*MockStream]struct{}),
	}
}

// SetTopology replaces the simulated host APIs.
func (m *MockAudioBackend) SetTopology(hostApis []MockHostApi, defaultHostApi int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hostApis = hostApis
	m.defaultHostApi = defaultHostApi
}

// SetInitError makes Initialize fail with code.
func (m *MockAudioBackend) SetInitError(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initError = code
}

// SetTerminateError makes Terminate fail with code.
func (m *MockAudioBackend) SetTerminateError(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminateError = code
}

// SetOpenStreamError makes OpenDefaultStream fail with code.
func (m *MockAudioBackend) SetOpenStreamError(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openError = code
}

// SetStartError makes stream starts fail with code.
func (m *MockAudioBackend) SetStartError(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startError = code
}

// SetHostErrorText sets the detail reported by LastHostError.
func (m *MockAudioBackend) SetHostErrorText(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hostErrorText = text
}

// SetSimulateRealTiming controls whether started streams are driven by a
// ticker goroutine. It applies to streams opened afterwards.
func (m *MockAudioBackend) SetSimulateRealTiming(simulate bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.simulateRealTiming = simulate
}

// SetQueuedBuffers sets how many buffer periods Stop waits to drain.
func (m *MockAudioBackend) SetQueuedBuffers(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queuedBuffers = n
}

// SetInputGenerator replaces the default 440 Hz test tone used to fill
// input buffers. It applies to streams opened afterwards.
func (m *MockAudioBackend) SetInputGenerator(gen func(buf []float32, channels int, framePos uint64, sampleRate float64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputGenerator = gen
}

// Calls reports how often Initialize and Terminate were invoked.
func (m *MockAudioBackend) Calls() (initialize, terminate int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initCalls, m.terminateCalls
}

// SleepCalls reports how often Sleep was invoked.
func (m *MockAudioBackend) SleepCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sleepCalls
}

// Streams returns the streams currently open.
func (m *MockAudioBackend) Streams() []*MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockStream, 0, len(m.streams))
	for st := range m.streams {
		out = append(out, st)
	}
	return out
}

func (m *MockAudioBackend) Version() int        { return mockVersion }
func (m *MockAudioBackend) VersionText() string { return mockVersionText }

func (m *MockAudioBackend) Initialize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initCalls++
	if m.initError != 0 {
		return m.initError
	}
	m.live++
	return codeNoError
}

func (m *MockAudioBackend) Terminate() int {
	m.mu.Lock()
	m.terminateCalls++
	if m.terminateError != 0 {
		m.mu.Unlock()
		return m.terminateError
	}
	if m.live == 0 {
		m.mu.Unlock()
		return codeNotInitialized
	}
	m.live--
	var streams []*MockStream
	if m.live == 0 {
		for st := range m.streams {
			streams = append(streams, st)
		}
	}
	// Streams remove themselves from the backend on close.
	m.mu.Unlock()

	for _, st := range streams {
		_ = st.Close() // Ignore errors during cleanup
	}
	return codeNoError
}

func (m *MockAudioBackend) HostApiCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live == 0 {
		return codeNotInitialized
	}
	return len(m.hostApis)
}

func (m *MockAudioBackend) DefaultHostApi() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live == 0 {
		return codeNotInitialized
	}
	if len(m.hostApis) == 0 {
		return codeHostApiNotFound
	}
	return m.defaultHostApi
}

// deviceBase returns the global index of the first device of hostApi.
func (m *MockAudioBackend) deviceBase(hostApi int) int {
	base := 0
	for i := 0; i < hostApi; i++ {
		base += len(m.hostApis[i].Devices)
	}
	return base
}

func (m *MockAudioBackend) globalDefault(hostApi, local int) int {
	if local == NoDevice || local < 0 || local >= len(m.hostApis[hostApi].Devices) {
		return NoDevice
	}
	return m.deviceBase(hostApi) + local
}

func (m *MockAudioBackend) HostApiInfo(index int) *HostApiInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live == 0 || index < 0 || index >= len(m.hostApis) {
		return nil
	}
	h := m.hostApis[index]
	return &HostApiInfo{
		StructVersion:       HostApiInfoVersion,
		Type:                h.Type,
		Name:                h.Name,
		DeviceCount:         len(h.Devices),
		DefaultInputDevice:  m.globalDefault(index, h.DefaultInput),
		DefaultOutputDevice: m.globalDefault(index, h.DefaultOutput),
	}
}

func (m *MockAudioBackend) HostApiTypeIdToHostApiIndex(typeID HostApiTypeID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live == 0 {
		return codeNotInitialized
	}
	for i, h := range m.hostApis {
		if h.Type == typeID {
			return i
		}
	}
	return codeHostApiNotFound
}

func (m *MockAudioBackend) HostApiDeviceIndexToDeviceIndex(hostApi, hostApiDeviceIndex int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live == 0 {
		return codeNotInitialized
	}
	if hostApi < 0 || hostApi >= len(m.hostApis) {
		return codeInvalidHostApi
	}
	if hostApiDeviceIndex < 0 || hostApiDeviceIndex >= len(m.hostApis[hostApi].Devices) {
		return codeInvalidDevice
	}
	return m.deviceBase(hostApi) + hostApiDeviceIndex
}

func (m *MockAudioBackend) DeviceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live == 0 {
		return codeNotInitialized
	}
	return m.deviceBase(len(m.hostApis))
}

func (m *MockAudioBackend) DefaultInputDevice() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaultDeviceLocked(true)
}

func (m *MockAudioBackend) DefaultOutputDevice() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaultDeviceLocked(false)
}

func (m *MockAudioBackend) defaultDeviceLocked(input bool) int {
	if m.live == 0 || m.defaultHostApi < 0 || m.defaultHostApi >= len(m.hostApis) {
		return NoDevice
	}
	h := m.hostApis[m.defaultHostApi]
	if input {
		return m.globalDefault(m.defaultHostApi, h.DefaultInput)
	}
	return m.globalDefault(m.defaultHostApi, h.DefaultOutput)
}

// deviceLocked resolves a global index to its host API and device.
func (m *MockAudioBackend) deviceLocked(index int) (int, *MockDevice) {
	if index < 0 {
		return 0, nil
	}
	for hi := range m.hostApis {
		devs := m.hostApis[hi].Devices
		if index < len(devs) {
			return hi, &devs[index]
		}
		index -= len(devs)
	}
	return 0, nil
}

func (m *MockAudioBackend) DeviceInfo(index int) *DeviceInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live == 0 {
		return nil
	}
	hostApi, d := m.deviceLocked(index)
	if d == nil {
		return nil
	}
	info := &DeviceInfo{
		StructVersion:     DeviceInfoVersion,
		Name:              d.Name,
		HostApi:           hostApi,
		MaxInputChannels:  d.MaxInputChannels,
		MaxOutputChannels: d.MaxOutputChannels,
		DefaultSampleRate: d.DefaultSampleRate,
	}
	if d.MaxInputChannels > 0 {
		info.DefaultLowInputLatency = d.LowLatency
		info.DefaultHighInputLatency = d.HighLatency
	}
	if d.MaxOutputChannels > 0 {
		info.DefaultLowOutputLatency = d.LowLatency
		info.DefaultHighOutputLatency = d.HighLatency
	}
	return info
}

func (m *MockAudioBackend) OpenDefaultStream(inputChannels, outputChannels int, sampleRate float64, framesPerBuffer int, callback NativeCallback) (NativeStream, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.live == 0 {
		return nil, codeNotInitialized
	}
	if m.openError != 0 {
		return nil, m.openError
	}
	if callback == nil {
		return nil, codeNullCallback
	}

	st := &MockStream{
		backend:    m,
		inCh:       inputChannels,
		outCh:      outputChannels,
		frames:     framesPerBuffer,
		sampleRate: sampleRate,
		callback:   callback,
		realTime:   m.simulateRealTiming,
		queued:     m.queuedBuffers,
		generator:  m.inputGenerator,
		opened:     time.Now(),
	}
	if st.generator == nil {
		st.generator = sineGenerator
	}
	if inputChannels > 0 {
		_, d := m.deviceLocked(m.defaultDeviceLocked(true))
		if d == nil {
			return nil, codeInvalidDevice
		}
		if inputChannels > d.MaxInputChannels {
			return nil, codeInvalidChannelCount
		}
		st.inLatency = d.LowLatency
		st.in = make([]float32, framesPerBuffer*inputChannels)
	}
	if outputChannels > 0 {
		_, d := m.deviceLocked(m.defaultDeviceLocked(false))
		if d == nil {
			return nil, codeInvalidDevice
		}
		if outputChannels > d.MaxOutputChannels {
			return nil, codeInvalidChannelCount
		}
		st.outLatency = d.LowLatency
		st.out = make([]float32, framesPerBuffer*outputChannels)
	}

	m.streams[st] = struct{}{}
	return st, codeNoError
}

func (m *MockAudioBackend) LastHostError() (int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return 0, m.hostErrorText
}

func (m *MockAudioBackend) Sleep(msec int) {
	m.mu.Lock()
	m.sleepCalls++
	m.mu.Unlock()
	time.Sleep(time.Duration(msec) * time.Millisecond)
}

func (m *MockAudioBackend) startErrorCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startError
}

func (m *MockAudioBackend) removeStream(st *MockStream) {
	m.mu.Lock()
	delete(m.streams, st)
	m.mu.Unlock()
}

// sineGenerator fills buf with a 440 Hz tone at 0.1 amplitude on every
// channel.
func sineGenerator(buf []float32, channels int, framePos uint64, sampleRate float64) {
	if channels <= 0 {
		return
	}
	for i := 0; i < len(buf)/channels; i++ {
		t := float64(framePos+uint64(i)) / sampleRate
		v := float32(0.1 * math.Sin(2*math.Pi*440*t))
		for c := 0; c < channels; c++ {
			buf[i*channels+c] = v
		}
	}
}

type haltMode int

const (
	haltDrain haltMode = iota
	haltAbort
)

// MockStream implements NativeStream. Its hardware buffers are owned by
// whichever goroutine holds cbMu.
type MockStream struct {
	backend    *MockAudioBackend
	inCh       int
	outCh      int
	frames     int
	sampleRate float64
	inLatency  float64
	outLatency float64
	callback   NativeCallback
	realTime   bool
	queued     int
	generator  func(buf []float32, channels int, framePos uint64, sampleRate float64)
	opened     time.Time

	mu      sync.Mutex
	running bool
	closed  bool
	halt    chan haltMode
	done    chan struct{}

	// stopping is closed when a Stop or Abort running outside mu is done.
	stopping <-chan struct{}

	complete  atomic.Bool
	nextFlags atomic.Uint32
	cpuLoad   atomic.Uint64

	cbMu     sync.Mutex
	in       []float32
	out      []float32
	framePos uint64

	capMu    sync.Mutex
	captured [][]float32
}

// SetNextStatusFlags makes the next callback report flags.
func (s *MockStream) SetNextStatusFlags(flags StatusFlags) {
	s.nextFlags.Store(uint32(flags))
}

// Outputs returns copies of the most recent output buffers, oldest first.
func (s *MockStream) Outputs() [][]float32 {
	s.capMu.Lock()
	defer s.capMu.Unlock()
	out := make([][]float32, len(s.captured))
	copy(out, s.captured)
	return out
}

// Channels returns the channel counts the stream was opened with.
func (s *MockStream) Channels() (input, output int) {
	return s.inCh, s.outCh
}

func (s *MockStream) Start() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return codeBadStreamPtr
	}
	if s.running {
		return codeStreamIsNotStopped
	}
	if s.stopping != nil {
		<-s.stopping
		s.stopping = nil
	}
	if code := s.backend.startErrorCode(); code != 0 {
		return code
	}

	s.running = true
	s.complete.Store(false)
	if s.realTime {
		s.halt = make(chan haltMode, 1)
		s.done = make(chan struct{})
		go s.simulateHardware(s.halt, s.done)
	}
	return codeNoError
}

func (s *MockStream) Stop() int {
	return s.stop(haltDrain)
}

func (s *MockStream) Abort() int {
	return s.stop(haltAbort)
}

func (s *MockStream) stop(mode haltMode) int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return codeBadStreamPtr
	}
	if !s.running {
		s.mu.Unlock()
		return codeStreamIsStopped
	}
	s.running = false
	halt, done := s.halt, s.done
	s.halt, s.done = nil, nil
	s.stopping = done
	s.mu.Unlock()

	// Queries stay answerable while the queued buffers drain.
	s.awaitHalt(halt, done, mode)
	return codeNoError
}

// awaitHalt ends callback delivery and waits until no callback is in
// flight. The hardware goroutine never takes s.mu.
func (s *MockStream) awaitHalt(halt chan<- haltMode, done <-chan struct{}, mode haltMode) {
	if halt != nil {
		halt <- mode
		<-done
		return
	}
	s.cbMu.Lock()
	s.cbMu.Unlock() //nolint:staticcheck // waits for an in-flight Tick
}

func (s *MockStream) Close() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return codeBadStreamPtr
	}
	if s.running {
		s.running = false
		s.awaitHalt(s.halt, s.done, haltAbort)
		s.halt, s.done = nil, nil
	}
	if s.stopping != nil {
		<-s.stopping
		s.stopping = nil
	}
	s.closed = true
	s.backend.removeStream(s)
	return codeNoError
}

func (s *MockStream) IsStopped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return codeBadStreamPtr
	}
	if s.running {
		return 0
	}
	return 1
}

func (s *MockStream) IsActive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return codeBadStreamPtr
	}
	if s.running && !s.complete.Load() {
		return 1
	}
	return 0
}

func (s *MockStream) Time() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	return time.Since(s.opened).Seconds()
}

func (s *MockStream) Info() *StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return &StreamInfo{
		StructVersion: StreamInfoVersion,
		InputLatency:  s.inLatency,
		OutputLatency: s.outLatency,
		SampleRate:    s.sampleRate,
	}
}

func (s *MockStream) CpuLoad() float64 {
	return math.Float64frombits(s.cpuLoad.Load())
}

// Tick delivers one hardware buffer to the callback and returns a copy of
// the output it produced. It fails with a StreamIsStopped code unless the
// stream is running.
func (s *MockStream) Tick() ([]float32, int) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return nil, codeBadStreamPtr
	case !s.running:
		s.mu.Unlock()
		return nil, codeStreamIsStopped
	}
	s.mu.Unlock()
	return s.process(), codeNoError
}

// TickRaw invokes the callback with caller-supplied buffers, bypassing
// the stream's own sizing. Used to exercise malformed hardware buffers.
func (s *MockStream) TickRaw(input, output []float32, frames int, timeInfo TimeInfo, flags StatusFlags) CallbackResult {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	return s.callback(input, output, frames, timeInfo, flags)
}

func (s *MockStream) process() []float32 {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	if s.in != nil {
		s.generator(s.in, s.inCh, s.framePos, s.sampleRate)
	}
	now := time.Since(s.opened).Seconds()
	ti := TimeInfo{
		InputBufferAdcTime:  now - s.inLatency,
		CurrentTime:         now,
		OutputBufferDacTime: now + s.outLatency,
	}
	flags := StatusFlags(s.nextFlags.Swap(0))

	if s.complete.Load() {
		clear(s.out)
	} else {
		start := time.Now()
		if r := s.callback(s.in, s.out, s.frames, ti, flags); r != Continue {
			s.complete.Store(true)
		}
		s.updateCpuLoad(time.Since(start))
	}
	s.framePos += uint64(s.frames)

	var result []float32
	if s.out != nil {
		result = make([]float32, len(s.out))
		copy(result, s.out)
		s.capMu.Lock()
		s.captured = append(s.captured, result)
		if len(s.captured) > maxCapturedOutputs {
			s.captured = s.captured[len(s.captured)-maxCapturedOutputs:]
		}
		s.capMu.Unlock()
	}
	return result
}

func (s *MockStream) period() time.Duration {
	return time.Duration(float64(s.frames) / s.sampleRate * float64(time.Second))
}

func (s *MockStream) updateCpuLoad(elapsed time.Duration) {
	p := s.period()
	if p <= 0 {
		return
	}
	now := elapsed.Seconds() / p.Seconds()
	prev := math.Float64frombits(s.cpuLoad.Load())
	s.cpuLoad.Store(math.Float64bits(cpuLoadCoefficient*prev + (1-cpuLoadCoefficient)*now))
}

// simulateHardware plays the audio thread: one callback per buffer
// period until halted. A drain halt waits out the queued buffers first.
func (s *MockStream) simulateHardware(halt <-chan haltMode, done chan<- struct{}) {
	defer close(done)

	p := s.period()
	if p <= 0 {
		p = time.Millisecond
	}
	ticker := time.NewTicker(p)
	defer ticker.Stop()

	for {
		select {
		case mode := <-halt:
			if mode == haltDrain && s.queued > 0 {
				time.Sleep(time.Duration(s.queued) * p)
			}
			return
		case <-ticker.C:
			s.process()
		}
	}
}
