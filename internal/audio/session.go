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
	"log/slog"
	"sync"
)

// Session owns a Backend for the lifetime of its live window. Initialize
// and Terminate are reference counted: the backend is brought up on the
// first Initialize and torn down by the matching final Terminate.
//
// All directory and lifecycle calls are serialized on the session; the
// real-time callback path never takes its lock.
type Session struct {
	backend    Backend
	logger     *slog.Logger
	translator *Translator

	mu      sync.Mutex
	refs    int
	streams map[*Stream]struct{}
	// halting counts streams inside a native stop or abort, which runs
	// without mu. idle is signalled as each one finishes.
	halting int
	idle    *sync.Cond
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger. Streams log through a child of it.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSession wraps backend. The session starts uninitialized.
func NewSession(backend Backend, opts ...SessionOption) *Session {
	s := &Session{
		backend: backend,
		logger:  slog.Default(),
		streams: make(map[*Stream]struct{}),
	}
	s.idle = sync.NewCond(&s.mu)
	for _, opt := range opts {
		opt(s)
	}
	s.translator = NewTranslator(s.logger)
	return s
}

// Initialize opens the session, or adds a reference to an open one.
func (s *Session) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs == 0 {
		if err := s.check("initialize", s.backend.Initialize()); err != nil {
			return err
		}
		s.logger.Info("audio backend initialized", "version", s.backend.VersionText())
	}
	s.refs++
	return nil
}

// Terminate drops a reference. The final Terminate closes any stream
// still open and then terminates the backend.
func (s *Session) Terminate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.halting > 0 {
		s.idle.Wait()
	}

	if s.refs == 0 {
		return newError("terminate", NotInitialized)
	}
	if s.refs == 1 {
		for st := range s.streams {
			s.logger.Warn("closing stream left open at terminate", "stream", st.id)
			if err := st.closeLocked(); err != nil {
				s.logger.Warn("failed to close stream during terminate", "stream", st.id, "error", err)
			}
		}
		if err := s.check("terminate", s.backend.Terminate()); err != nil {
			return err
		}
		s.logger.Info("audio backend terminated")
	}
	s.refs--
	return nil
}

// IsInitialized reports whether the session is inside its live window.
func (s *Session) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs > 0
}

// OpenStreams returns the number of streams not yet closed.
func (s *Session) OpenStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// Version returns the backend version number. No initialization needed.
func (s *Session) Version() int {
	return s.backend.Version()
}

// VersionText returns the backend version string. No initialization
// needed.
func (s *Session) VersionText() string {
	return s.backend.VersionText()
}

// Sleep blocks the calling thread for at least msec milliseconds.
func (s *Session) Sleep(msec int) {
	if msec <= 0 {
		return
	}
	s.backend.Sleep(msec)
}

// Translate maps a native code through the session's translator.
func (s *Session) Translate(code int) ErrorKind {
	return s.translator.Translate(code)
}

func (s *Session) requireLive(op string) error {
	if s.refs == 0 {
		return newError(op, NotInitialized)
	}
	return nil
}

func (s *Session) check(op string, code int) error {
	err := s.translator.check(op, code)
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok && e.Kind == UnanticipatedHostError {
		if _, text := s.backend.LastHostError(); text != "" {
			e.HostText = text
		}
	}
	return err
}
