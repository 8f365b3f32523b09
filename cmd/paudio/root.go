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

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loqalabs/loqa-portaudio/internal/audio"
	"github.com/loqalabs/loqa-portaudio/internal/backend"
	"github.com/loqalabs/loqa-portaudio/internal/config"
	"github.com/loqalabs/loqa-portaudio/internal/logging"
)

// pollInterval is how often commands check whether a stream has finished.
const pollInterval = 20 * time.Millisecond

// app carries state shared by every subcommand.
type app struct {
	v        *viper.Viper
	cfgFile  string
	settings *config.Settings
	logger   *slog.Logger
	out      io.Writer
	errOut   io.Writer
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{v: config.New(), out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "paudio",
		Short:         "Audio device I/O over PortAudio and miniaudio",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "YAML config file")
	flags.String("backend", "", "audio backend: "+fmt.Sprint(backend.Names()))
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")
	flags.Float64("rate", 0, "stream sample rate")
	flags.Int("frames", 0, "frames per buffer")

	for key, flag := range map[string]string{
		"backend":                  "backend",
		"log.level":                "log-level",
		"log.format":               "log-format",
		"stream.sample_rate":       "rate",
		"stream.frames_per_buffer": "frames",
	} {
		if err := a.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	root.PersistentPreRunE = func(*cobra.Command, []string) error {
		return a.setup()
	}

	root.AddCommand(
		versionCommand(a),
		devicesCommand(a),
		toneCommand(a),
		playCommand(a),
		recordCommand(a),
		serveCommand(a),
	)

	return root
}

func (a *app) setup() error {
	settings, err := config.Load(a.v, a.cfgFile, nil)
	if err != nil {
		return err
	}
	logger, err := logging.New(settings.Log.Level, settings.Log.Format, a.errOut)
	if err != nil {
		return err
	}
	a.settings = settings
	a.logger = logger
	return nil
}

// openSession creates and initializes the configured backend. The returned
// func terminates the session, logging any failure.
func (a *app) openSession() (*audio.Session, func(), error) {
	b, err := backend.New(a.settings.Backend, logging.ForComponent(a.logger, "backend"))
	if err != nil {
		return nil, nil, err
	}
	s := audio.NewSession(b, audio.WithLogger(logging.ForComponent(a.logger, "audio")))
	if err := s.Initialize(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize %s: %w", a.settings.Backend, err)
	}
	return s, func() {
		if err := s.Terminate(); err != nil {
			a.logger.Warn("⚠️  failed to terminate audio backend", "error", err)
		}
	}, nil
}

// waitInactive blocks until st stops producing audio, ctx is done, or the
// optional limit passes.
func waitInactive(ctx context.Context, st *audio.Stream, limit time.Duration) error {
	var deadline <-chan time.Time
	if limit > 0 {
		timer := time.NewTimer(limit)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return nil
		case <-ticker.C:
			active, err := st.IsActive()
			if err != nil {
				return err
			}
			if !active {
				return nil
			}
		}
	}
}

// finish stops and closes st, then logs its statistics.
func (a *app) finish(st *audio.Stream) error {
	if st.State() == audio.StateRunning {
		if err := st.Stop(); err != nil {
			a.logger.Warn("⚠️  failed to stop stream", "stream", st.ID(), "error", err)
		}
	}
	stats := st.Stats()
	if err := st.Close(); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	a.logger.Info("🛑 stream closed",
		"stream", st.ID(),
		"callbacks", stats.Callbacks,
		"skipped", stats.SkippedTicks,
		"short_outputs", stats.ShortOutputs,
		"max_callback", stats.MaxDuration)
	return nil
}
