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

// Package config loads paudio settings from defaults, a YAML file, the
// environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, so stream.sample_rate
// becomes PAUDIO_STREAM_SAMPLE_RATE.
const EnvPrefix = "PAUDIO"

// LogSettings selects the slog level and handler.
type LogSettings struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// StreamSettings are the default-device stream parameters.
type StreamSettings struct {
	InputChannels   int     `mapstructure:"input_channels" yaml:"input_channels"`
	OutputChannels  int     `mapstructure:"output_channels" yaml:"output_channels"`
	SampleRate      float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	FramesPerBuffer int     `mapstructure:"frames_per_buffer" yaml:"frames_per_buffer"`
}

// NATSSettings configure the serve command's bus connection.
type NATSSettings struct {
	URL            string        `mapstructure:"url" yaml:"url"`
	NodeID         string        `mapstructure:"node_id" yaml:"node_id"`
	ConnectRetries int           `mapstructure:"connect_retries" yaml:"connect_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// MetricsSettings hold the Prometheus listen address.
type MetricsSettings struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// PlaybackSettings size the player buffer.
type PlaybackSettings struct {
	BufferMs int `mapstructure:"buffer_ms" yaml:"buffer_ms"`
}

// CaptureSettings size the recorder buffer and published packets.
type CaptureSettings struct {
	FramesPerPacket int `mapstructure:"frames_per_packet" yaml:"frames_per_packet"`
	BufferMs        int `mapstructure:"buffer_ms" yaml:"buffer_ms"`
}

// Settings is the full paudio configuration.
type Settings struct {
	Backend  string           `mapstructure:"backend" yaml:"backend"`
	Log      LogSettings      `mapstructure:"log" yaml:"log"`
	Stream   StreamSettings   `mapstructure:"stream" yaml:"stream"`
	NATS     NATSSettings     `mapstructure:"nats" yaml:"nats"`
	Metrics  MetricsSettings  `mapstructure:"metrics" yaml:"metrics"`
	Playback PlaybackSettings `mapstructure:"playback" yaml:"playback"`
	Capture  CaptureSettings  `mapstructure:"capture" yaml:"capture"`
}

// SetDefaults registers every key with its default value. Keys must be
// known to viper for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backend", "portaudio")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("stream.input_channels", 0)
	v.SetDefault("stream.output_channels", 2)
	v.SetDefault("stream.sample_rate", 48000.0)
	v.SetDefault("stream.frames_per_buffer", 256)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.node_id", "")
	v.SetDefault("nats.connect_retries", 5)
	v.SetDefault("nats.retry_delay", 2*time.Second)
	v.SetDefault("metrics.listen", ":9464")
	v.SetDefault("playback.buffer_ms", 500)
	v.SetDefault("capture.frames_per_packet", 0)
	v.SetDefault("capture.buffer_ms", 500)
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (when set) into v, binds flags and decodes the result.
// A node ID is generated when none is configured.
func Load(v *viper.Viper, path string, flags *pflag.FlagSet) (*Settings, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if settings.NATS.NodeID == "" {
		settings.NATS.NodeID = uuid.NewString()
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate rejects values no stream could be opened with.
func (s *Settings) Validate() error {
	var errs []error
	switch strings.ToLower(s.Backend) {
	case "portaudio", "miniaudio", "mock":
	default:
		errs = append(errs, fmt.Errorf("backend %q is not one of portaudio, miniaudio, mock", s.Backend))
	}
	if s.Stream.InputChannels < 0 || s.Stream.OutputChannels < 0 {
		errs = append(errs, errors.New("stream channel counts must not be negative"))
	}
	if s.Stream.InputChannels == 0 && s.Stream.OutputChannels == 0 {
		errs = append(errs, errors.New("stream needs at least one input or output channel"))
	}
	if s.Stream.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("stream.sample_rate must be positive, got %v", s.Stream.SampleRate))
	}
	if s.Stream.FramesPerBuffer <= 0 {
		errs = append(errs, fmt.Errorf("stream.frames_per_buffer must be positive, got %d", s.Stream.FramesPerBuffer))
	}
	if s.NATS.ConnectRetries < 1 {
		errs = append(errs, errors.New("nats.connect_retries must be at least 1"))
	}
	if s.Playback.BufferMs <= 0 || s.Capture.BufferMs <= 0 {
		errs = append(errs, errors.New("buffer_ms must be positive"))
	}
	if s.Capture.FramesPerPacket < 0 {
		errs = append(errs, errors.New("capture.frames_per_packet must not be negative"))
	}
	return errors.Join(errs...)
}

// BufferFrames converts a buffer length in milliseconds to frames at the
// configured sample rate.
func (s *Settings) BufferFrames(ms int) int {
	return max(1, int(s.Stream.SampleRate*float64(ms)/1000))
}
