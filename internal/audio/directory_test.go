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

func TestDirectoryRequiresInit(t *testing.T) {
	s, _, _ := newTestSession(t)

	calls := map[string]func() error{
		"host_api_count":   func() error { _, err := s.HostApiCount(); return err },
		"default_host_api": func() error { _, err := s.DefaultHostApi(); return err },
		"host_api_info":    func() error { _, err := s.HostApiInfo(0); return err },
		"type_to_index":    func() error { _, err := s.HostApiTypeIdToHostApiIndex(ALSA); return err },
		"device_count":     func() error { _, err := s.DeviceCount(); return err },
		"device_info":      func() error { _, err := s.DeviceInfo(0); return err },
		"default_input":    func() error { _, err := s.DefaultInputDevice(); return err },
		"default_output":   func() error { _, err := s.DefaultOutputDevice(); return err },
		"host_index_map":   func() error { _, err := s.HostApiDeviceIndexToDeviceIndex(0, 0); return err },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, call(), NotInitialized)
		})
	}
}

func TestDirectoryEnumeration(t *testing.T) {
	s, _ := liveSession(t)

	t.Run("host_apis", func(t *testing.T) {
		n, err := s.HostApiCount()
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		def, err := s.DefaultHostApi()
		require.NoError(t, err)
		assert.Equal(t, 0, def)

		info, err := s.HostApiInfo(1)
		require.NoError(t, err)
		assert.Equal(t, JACK, info.Type)
		assert.Equal(t, HostApiInfoVersion, info.StructVersion)
		assert.Equal(t, 1, info.DeviceCount)
		assert.Equal(t, 2, info.DefaultInputDevice, "defaults are global indices")
		assert.Equal(t, 2, info.DefaultOutputDevice)
	})

	t.Run("devices", func(t *testing.T) {
		n, err := s.DeviceCount()
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		info, err := s.DeviceInfo(0)
		require.NoError(t, err)
		assert.Equal(t, "Mock Microphone", info.Name)
		assert.Equal(t, 2, info.MaxInputChannels)
		assert.Zero(t, info.MaxOutputChannels)
		assert.Greater(t, info.DefaultLowInputLatency, 0.0)
		assert.Zero(t, info.DefaultLowOutputLatency)
		assert.Equal(t, DeviceInfoVersion, info.StructVersion)

		info, err = s.DeviceInfo(2)
		require.NoError(t, err)
		assert.Equal(t, "system", info.Name)
		assert.Equal(t, 1, info.HostApi)
	})

	t.Run("defaults", func(t *testing.T) {
		in, err := s.DefaultInputDevice()
		require.NoError(t, err)
		assert.Equal(t, 0, in)

		out, err := s.DefaultOutputDevice()
		require.NoError(t, err)
		assert.Equal(t, 1, out)
	})

	t.Run("invalid_indices", func(t *testing.T) {
		for _, idx := range []int{-1, 2, 100} {
			_, err := s.HostApiInfo(idx)
			assert.ErrorIs(t, err, InvalidHostApi, "host api %d", idx)
		}
		for _, idx := range []int{-1, 3, 100} {
			_, err := s.DeviceInfo(idx)
			assert.ErrorIs(t, err, InvalidDevice, "device %d", idx)
		}
	})

	t.Run("type_id_to_index", func(t *testing.T) {
		idx, err := s.HostApiTypeIdToHostApiIndex(JACK)
		require.NoError(t, err)
		assert.Equal(t, 1, idx)

		_, err = s.HostApiTypeIdToHostApiIndex(WASAPI)
		assert.ErrorIs(t, err, HostApiNotFound)
	})

	t.Run("snapshots", func(t *testing.T) {
		hosts, err := s.HostApis()
		require.NoError(t, err)
		require.Len(t, hosts, 2)
		assert.Equal(t, "ALSA", hosts[0].Name)

		devices, err := s.Devices()
		require.NoError(t, err)
		require.Len(t, devices, 3)
		assert.Equal(t, "Mock Speakers", devices[1].Name)
	})
}

func TestHostApiDeviceIndexToDeviceIndex(t *testing.T) {
	s, _ := liveSession(t)

	tests := []struct {
		name     string
		hostApi  int
		local    int
		want     int
		wantKind ErrorKind
	}{
		{"first_host_first_device", 0, 0, 0, NoError},
		{"first_host_second_device", 0, 1, 1, NoError},
		{"second_host_offset_by_first", 1, 0, 2, NoError},
		{"host_out_of_range", 2, 0, 0, InvalidHostApi},
		{"negative_host", -1, 0, 0, InvalidHostApi},
		{"device_out_of_range", 1, 1, 0, InvalidDevice},
		{"negative_device", 0, -1, 0, InvalidDevice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.HostApiDeviceIndexToDeviceIndex(tt.hostApi, tt.local)
			if tt.wantKind != NoError {
				assert.ErrorIs(t, err, tt.wantKind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)


			base := 0
			for h := 0; h < tt.hostApi; h++ {
				info, err := s.HostApiInfo(h)
				require.NoError(t, err)
				base += info.DeviceCount
			}
			assert.Equal(t, base+tt.local, got)
		})
	}
}

func TestDirectoryWithoutDevices(t *testing.T) {
	s, backend := liveSession(t)
	backend.SetTopology([]MockHostApi{{
		Type:          PulseAudio,
		Name:          "PulseAudio",
		DefaultInput:  NoDevice,
		DefaultOutput: NoDevice,
	}}, 0)

	in, err := s.DefaultInputDevice()
	require.NoError(t, err)
	assert.Equal(t, NoDevice, in)

	out, err := s.DefaultOutputDevice()
	require.NoError(t, err)
	assert.Equal(t, NoDevice, out)

	info, err := s.HostApiInfo(0)
	require.NoError(t, err)
	assert.Equal(t, NoDevice, info.DefaultInputDevice)
	assert.Zero(t, info.DeviceCount)

	_, err = s.OpenDefaultStream(StreamConfig{OutputChannels: 2, SampleRate: 44100, FramesPerBuffer: 256}, silenceFunc, nil)
	assert.ErrorIs(t, err, InvalidDevice)
}
