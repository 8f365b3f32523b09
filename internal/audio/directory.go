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

// HostApiCount returns the number of host APIs.
func (s *Session) HostApiCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostApiCountLocked("host api count")
}

func (s *Session) hostApiCountLocked(op string) (int, error) {
	if err := s.requireLive(op); err != nil {
		return 0, err
	}
	n := s.backend.HostApiCount()
	if err := s.check(op, n); err != nil {
		return 0, err
	}
	return n, nil
}

// DefaultHostApi returns the index of the default host API.
func (s *Session) DefaultHostApi() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLive("default host api"); err != nil {
		return 0, err
	}
	idx := s.backend.DefaultHostApi()
	if err := s.check("default host api", idx); err != nil {
		return 0, err
	}
	return idx, nil
}

// HostApiInfo describes the host API at index.
func (s *Session) HostApiInfo(index int) (HostApiInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostApiInfoLocked(index)
}

func (s *Session) hostApiInfoLocked(index int) (HostApiInfo, error) {
	const op = "host api info"
	n, err := s.hostApiCountLocked(op)
	if err != nil {
		return HostApiInfo{}, err
	}
	if index < 0 || index >= n {
		return HostApiInfo{}, newError(op, InvalidHostApi)
	}
	info := s.backend.HostApiInfo(index)
	if info == nil {
		return HostApiInfo{}, newError(op, InvalidHostApi)
	}
	return *info, nil
}

// HostApiTypeIdToHostApiIndex finds the host API of the given type.
func (s *Session) HostApiTypeIdToHostApiIndex(typeID HostApiTypeID) (int, error) {
	const op = "host api type id to index"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLive(op); err != nil {
		return 0, err
	}
	idx := s.backend.HostApiTypeIdToHostApiIndex(typeID)
	if err := s.check(op, idx); err != nil {
		return 0, err
	}
	return idx, nil
}

// HostApiDeviceIndexToDeviceIndex converts a per-host device index into a
// global device index.
func (s *Session) HostApiDeviceIndexToDeviceIndex(hostApi, hostApiDeviceIndex int) (int, error) {
	const op = "host api device index to device index"
	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := s.hostApiInfoLocked(hostApi)
	if err != nil {
		if KindOf(err) == InvalidHostApi {
			return 0, newError(op, InvalidHostApi)
		}
		return 0, err
	}
	if hostApiDeviceIndex < 0 || hostApiDeviceIndex >= info.DeviceCount {
		return 0, newError(op, InvalidDevice)
	}
	idx := s.backend.HostApiDeviceIndexToDeviceIndex(hostApi, hostApiDeviceIndex)
	if err := s.check(op, idx); err != nil {
		return 0, err
	}
	return idx, nil
}

// DeviceCount returns the number of devices across all host APIs.
func (s *Session) DeviceCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceCountLocked("device count")
}

func (s *Session) deviceCountLocked(op string) (int, error) {
	if err := s.requireLive(op); err != nil {
		return 0, err
	}
	n := s.backend.DeviceCount()
	if err := s.check(op, n); err != nil {
		return 0, err
	}
	return n, nil
}

// DefaultInputDevice returns the default input device or NoDevice.
func (s *Session) DefaultInputDevice() (int, error) {
	return s.defaultDevice("default input device", s.backend.DefaultInputDevice)
}

// DefaultOutputDevice returns the default output device or NoDevice.
func (s *Session) DefaultOutputDevice() (int, error) {
	return s.defaultDevice("default output device", s.backend.DefaultOutputDevice)
}

func (s *Session) defaultDevice(op string, query func() int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLive(op); err != nil {
		return NoDevice, err
	}
	idx := query()
	if idx == NoDevice {
		return NoDevice, nil
	}
	if err := s.check(op, idx); err != nil {
		return NoDevice, err
	}
	return idx, nil
}

// DeviceInfo describes the device at index.
func (s *Session) DeviceInfo(index int) (DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceInfoLocked(index)
}

func (s *Session) deviceInfoLocked(index int) (DeviceInfo, error) {
	const op = "device info"
	n, err := s.deviceCountLocked(op)
	if err != nil {
		return DeviceInfo{}, err
	}
	if index < 0 || index >= n {
		return DeviceInfo{}, newError(op, InvalidDevice)
	}
	info := s.backend.DeviceInfo(index)
	if info == nil {
		return DeviceInfo{}, newError(op, InvalidDevice)
	}
	return *info, nil
}

// HostApis returns every host API descriptor in index order.
func (s *Session) HostApis() ([]HostApiInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.hostApiCountLocked("host apis")
	if err != nil {
		return nil, err
	}
	out := make([]HostApiInfo, 0, n)
	for i := 0; i < n; i++ {
		info, err := s.hostApiInfoLocked(i)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// Devices returns every device descriptor in global index order.
func (s *Session) Devices() ([]DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.deviceCountLocked("devices")
	if err != nil {
		return nil, err
	}
	out := make([]DeviceInfo, 0, n)
	for i := 0; i < n; i++ {
		info, err := s.deviceInfoLocked(i)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}
