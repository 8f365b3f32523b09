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
	"github.com/google/uuid"
)

// State is the lifecycle state of a Stream.
type State int

const (
	StateClosed State = iota
	StateStopped
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	}
	return "unknown"
}

// StreamConfig describes a default-device stream. Samples are float32
// interleaved.
type StreamConfig struct {
	InputChannels   int     `json:"input_channels" yaml:"input_channels"`
	OutputChannels  int     `json:"output_channels" yaml:"output_channels"`
	SampleRate      float64 `json:"sample_rate" yaml:"sample_rate"`
	FramesPerBuffer int     `json:"frames_per_buffer" yaml:"frames_per_buffer"`
}

// Validate checks the parameters that can be rejected without asking the
// backend.
func (c StreamConfig) Validate() error {
	const op = "open default stream"
	switch {
	case c.InputChannels < 0 || c.OutputChannels < 0:
		return newError(op, InvalidChannelCount)
	case c.InputChannels == 0 && c.OutputChannels == 0:
		return newError(op, InvalidChannelCount)
	case c.SampleRate <= 0:
		return newError(op, InvalidSampleRate)
	case c.FramesPerBuffer <= 0:
		return newError(op, BufferTooSmall)
	}
	return nil
}

// Stream is an open audio stream. Its methods are control-thread
// operations; the processing function runs separately on the backend's
// real-time thread.
type Stream struct {
	id      string
	session *Session
	cfg     StreamConfig
	native  NativeStream
	ctx     *streamContext

	// guarded by session.mu
	state   State
	halting bool
}

// OpenDefaultStream opens a stream on the default input and output
// devices. fn is invoked once per hardware buffer with userData once the
// stream is started.
func (s *Session) OpenDefaultStream(cfg StreamConfig, fn ProcessFunc, userData any) (*Stream, error) {
	const op = "open default stream"
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLive(op); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, newError(op, NullCallback)
	}

	st := &Stream{
		id:      uuid.NewString(),
		session: s,
		cfg:     cfg,
	}
	st.ctx = newStreamContext(cfg, fn, userData, s.logger.With("stream", st.id))

	native, code := s.backend.OpenDefaultStream(cfg.InputChannels, cfg.OutputChannels, cfg.SampleRate, cfg.FramesPerBuffer, st.ctx.invoke)
	if err := s.check(op, code); err != nil {
		return nil, err
	}
	if native == nil {
		return nil, newError(op, InternalError)
	}
	st.native = native
	st.state = StateStopped
	s.streams[st] = struct{}{}

	s.logger.Debug("stream opened",
		"stream", st.id,
		"input_channels", cfg.InputChannels,
		"output_channels", cfg.OutputChannels,
		"sample_rate", cfg.SampleRate,
		"frames_per_buffer", cfg.FramesPerBuffer)
	return st, nil
}

// ID identifies the stream in logs and status reports.
func (st *Stream) ID() string {
	if st == nil {
		return ""
	}
	return st.id
}

// Config returns the parameters the stream was opened with.
func (st *Stream) Config() StreamConfig {
	if st == nil {
		return StreamConfig{}
	}
	return st.cfg
}

// State returns the current lifecycle state.
func (st *Stream) State() State {
	if st == nil {
		return StateClosed
	}
	st.session.mu.Lock()
	defer st.session.mu.Unlock()
	return st.state
}

// Stats returns callback counters. Safe from any goroutine.
func (st *Stream) Stats() Stats {
	if st == nil {
		return Stats{}
	}
	return st.ctx.stats.snapshot()
}

// waitHalt blocks while another goroutine is stopping or aborting st.
// Callers hold session.mu, which is released while waiting.
func (st *Stream) waitHalt() {
	for st.halting {
		st.session.idle.Wait()
	}
}

// usable reports NotAStream, BadStreamPtr or NotInitialized for a handle
// that can no longer be operated on. Callers hold session.mu.
func (st *Stream) usable(op string) error {
	if st.state == StateClosed {
		return newError(op, BadStreamPtr)
	}
	return st.session.requireLive(op)
}

// Start begins callback delivery.
func (st *Stream) Start() error {
	const op = "start stream"
	if st == nil {
		return newError(op, NotAStream)
	}
	s := st.session
	s.mu.Lock()
	defer s.mu.Unlock()

	st.waitHalt()
	if err := st.usable(op); err != nil {
		return err
	}
	if st.state == StateRunning {
		return newError(op, StreamIsNotStopped)
	}
	if err := s.check(op, st.native.Start()); err != nil {
		st.syncState()
		return err
	}
	st.state = StateRunning
	s.logger.Debug("stream started", "stream", st.id)
	return nil
}

// Stop halts the stream after queued output has drained.
func (st *Stream) Stop() error {
	return st.halt("stop stream", func() int { return st.native.Stop() })
}

// Abort halts the stream immediately, discarding queued output.
func (st *Stream) Abort() error {
	return st.halt("abort stream", func() int { return st.native.Abort() })
}

// halt runs the native stop or abort without holding session.mu, so a
// draining stream does not stall queries or other streams. Control calls
// on the same stream wait until it returns.
func (st *Stream) halt(op string, call func() int) error {
	if st == nil {
		return newError(op, NotAStream)
	}
	s := st.session
	s.mu.Lock()
	st.waitHalt()
	if err := st.usable(op); err != nil {
		s.mu.Unlock()
		return err
	}
	if st.state != StateRunning {
		s.mu.Unlock()
		return newError(op, StreamIsStopped)
	}
	st.halting = true
	s.halting++
	s.mu.Unlock()

	code := call()

	s.mu.Lock()
	defer s.mu.Unlock()
	st.halting = false
	s.halting--
	s.idle.Broadcast()

	if err := s.check(op, code); err != nil {
		st.syncState()
		return err
	}
	st.state = StateStopped
	s.logger.Debug("stream halted", "stream", st.id, "op", op)
	return nil
}

// syncState re-reads the native stopped flag after a failed transition.
func (st *Stream) syncState() {
	switch st.native.IsStopped() {
	case 1:
		st.state = StateStopped
	case 0:
		st.state = StateRunning
	}
}

// Close releases the stream, aborting it first if it is running. The
// handle is unusable afterwards even if the backend reports an error.
func (st *Stream) Close() error {
	if st == nil {
		return newError("close stream", NotAStream)
	}
	s := st.session
	s.mu.Lock()
	defer s.mu.Unlock()

	st.waitHalt()
	if err := st.usable("close stream"); err != nil {
		return err
	}
	return st.closeLocked()
}

func (st *Stream) closeLocked() error {
	const op = "close stream"
	s := st.session
	if st.state == StateRunning {
		if err := s.check("abort stream", st.native.Abort()); err != nil {
			s.logger.Warn("abort before close failed", "stream", st.id, "error", err)
		}
	}
	err := s.check(op, st.native.Close())
	st.state = StateClosed
	delete(s.streams, st)
	s.logger.Debug("stream closed", "stream", st.id)
	return err
}

// IsStopped reports whether the stream is stopped.
func (st *Stream) IsStopped() (bool, error) {
	return st.query("is stream stopped", func() int { return st.native.IsStopped() })
}

// IsActive reports whether the stream is delivering callbacks. A started
// stream whose processing function returned Complete or Abort is neither
// active nor stopped.
func (st *Stream) IsActive() (bool, error) {
	return st.query("is stream active", func() int { return st.native.IsActive() })
}

func (st *Stream) query(op string, call func() int) (bool, error) {
	if st == nil {
		return false, newError(op, NotAStream)
	}
	s := st.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := st.usable(op); err != nil {
		return false, err
	}
	r := call()
	if err := s.check(op, r); err != nil {
		return false, err
	}
	return r == 1, nil
}

// Time returns the stream clock in seconds, or 0 if the stream cannot be
// queried.
func (st *Stream) Time() float64 {
	if st == nil {
		return 0
	}
	st.session.mu.Lock()
	defer st.session.mu.Unlock()
	if st.usable("stream time") != nil {
		return 0
	}
	return st.native.Time()
}

// Info returns the negotiated latencies and sample rate.
func (st *Stream) Info() (StreamInfo, error) {
	const op = "stream info"
	if st == nil {
		return StreamInfo{}, newError(op, NotAStream)
	}
	st.session.mu.Lock()
	defer st.session.mu.Unlock()
	if err := st.usable(op); err != nil {
		return StreamInfo{}, err
	}
	info := st.native.Info()
	if info == nil {
		return StreamInfo{}, newError(op, BadStreamPtr)
	}
	return *info, nil
}

// CpuLoad returns the fraction of the buffer period spent in the
// callback, or 0 if the stream cannot be queried.
func (st *Stream) CpuLoad() float64 {
	if st == nil {
		return 0
	}
	st.session.mu.Lock()
	defer st.session.mu.Unlock()
	if st.usable("stream cpu load") != nil {
		return 0
	}
	return st.native.CpuLoad()
}
