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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) (*Session, *MockAudioBackend, *logBuffer) {
	t.Helper()
	backend := NewMockAudioBackend()
	logger, buf := newTestLogger()
	return NewSession(backend, WithLogger(logger)), backend, buf
}

func liveSession(t *testing.T) (*Session, *MockAudioBackend) {
	t.Helper()
	s, backend, _ := newTestSession(t)
	require.NoError(t, s.Initialize())
	t.Cleanup(func() {
		for i := 0; i < 8 && s.IsInitialized(); i++ {
			_ = s.Terminate() // Ignore errors during test cleanup
		}
	})
	return s, backend
}

func TestSessionReferenceCounting(t *testing.T) {
	t.Run("nested_init_terminate_balances", func(t *testing.T) {
		s, backend, _ := newTestSession(t)

		require.NoError(t, s.Initialize())
		require.NoError(t, s.Initialize())
		assert.True(t, s.IsInitialized())

		require.NoError(t, s.Terminate())
		assert.True(t, s.IsInitialized(), "one reference should remain")
		require.NoError(t, s.Terminate())
		assert.False(t, s.IsInitialized())

		inits, terms := backend.Calls()
		assert.Equal(t, 1, inits)
		assert.Equal(t, inits, terms)
	})

	t.Run("terminate_without_init", func(t *testing.T) {
		s, backend, _ := newTestSession(t)
		err := s.Terminate()
		require.Error(t, err)
		assert.ErrorIs(t, err, NotInitialized)

		_, terms := backend.Calls()
		assert.Zero(t, terms, "backend should not be touched")
	})

	t.Run("failed_init_leaves_session_closed", func(t *testing.T) {
		s, backend, _ := newTestSession(t)
		backend.SetInitError(codeDeviceUnavailable)

		err := s.Initialize()
		require.Error(t, err)
		assert.ErrorIs(t, err, DeviceUnavailable)
		assert.False(t, s.IsInitialized())

		backend.SetInitError(0)
		require.NoError(t, s.Initialize())
		require.NoError(t, s.Terminate())
	})

	t.Run("failed_terminate_keeps_reference", func(t *testing.T) {
		s, backend, _ := newTestSession(t)
		require.NoError(t, s.Initialize())

		backend.SetTerminateError(codeInternalError)
		assert.ErrorIs(t, s.Terminate(), InternalError)
		assert.True(t, s.IsInitialized())

		backend.SetTerminateError(0)
		require.NoError(t, s.Terminate())
		assert.False(t, s.IsInitialized())
	})

	t.Run("host_error_text_attached", func(t *testing.T) {
		s, backend, _ := newTestSession(t)
		backend.SetInitError(codeUnanticipatedHostError)
		backend.SetHostErrorText("snd_pcm_open failed")

		err := s.Initialize()
		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, UnanticipatedHostError, e.Kind)
		assert.Equal(t, "snd_pcm_open failed", e.HostText)
	})

	t.Run("final_terminate_closes_open_streams", func(t *testing.T) {
		s, backend, buf := newTestSession(t)
		require.NoError(t, s.Initialize())

		st, err := s.OpenDefaultStream(StreamConfig{OutputChannels: 2, SampleRate: 44100, FramesPerBuffer: 64}, silenceFunc, nil)
		require.NoError(t, err)
		require.NoError(t, st.Start())
		assert.Equal(t, 1, s.OpenStreams())

		require.NoError(t, s.Terminate())
		assert.Equal(t, StateClosed, st.State())
		assert.Zero(t, s.OpenStreams())
		assert.Empty(t, backend.Streams())
		assert.Contains(t, buf.String(), "closing stream left open at terminate")
	})
}

func TestSessionVersionWithoutInit(t *testing.T) {
	s, backend, _ := newTestSession(t)

	assert.Equal(t, mockVersion, s.Version())
	assert.Equal(t, mockVersionText, s.VersionText())
	inits, _ := backend.Calls()
	assert.Zero(t, inits)
}

func TestSessionSleep(t *testing.T) {
	s, backend, _ := newTestSession(t)

	s.Sleep(1)
	s.Sleep(0)
	s.Sleep(-5)
	assert.Equal(t, 1, backend.SleepCalls(), "non-positive durations should not reach the backend")
}

func TestSessionTranslateUsesSessionLogger(t *testing.T) {
	s, _, buf := newTestSession(t)

	assert.Equal(t, Undefined, s.Translate(-42))
	assert.Equal(t, 1, buf.Count("undefined native error code"))
}

func silenceFunc(b *Batch, _ any) CallbackResult {
	return Continue
}
