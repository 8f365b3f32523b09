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
	"time"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-portaudio/internal/audio"
	"github.com/loqalabs/loqa-portaudio/internal/pipeline"
)

func toneCommand(a *app) *cobra.Command {
	var (
		frequency float64
		amplitude float32
		duration  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "tone",
		Short: "Play a test tone on the default output device",
		Long:  "Play a sine tone, or a constant level when --freq is 0, on every output channel.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, done, err := a.openSession()
			if err != nil {
				return err
			}
			defer done()

			cfg := audio.StreamConfig{
				OutputChannels:  a.settings.Stream.OutputChannels,
				SampleRate:      a.settings.Stream.SampleRate,
				FramesPerBuffer: a.settings.Stream.FramesPerBuffer,
			}
			tone := pipeline.NewSine(frequency, amplitude, cfg.SampleRate)
			tone.Frames = int(duration.Seconds() * cfg.SampleRate)

			st, err := s.OpenDefaultStream(cfg, tone.Process, nil)
			if err != nil {
				return err
			}
			if err := st.Start(); err != nil {
				_ = st.Close()
				return err
			}
			a.logger.Info("🔊 playing tone", "frequency", frequency, "amplitude", amplitude, "duration", duration, "rate", cfg.SampleRate)

			if err := waitInactive(cmd.Context(), st, 0); err != nil {
				_ = st.Close()
				return err
			}
			return a.finish(st)
		},
	}
	cmd.Flags().Float64Var(&frequency, "freq", 440, "tone frequency in Hz, 0 for a constant level")
	cmd.Flags().Float32Var(&amplitude, "amplitude", 0.2, "peak level between 0 and 1")
	cmd.Flags().DurationVar(&duration, "duration", 2*time.Second, "how long to play")
	return cmd
}
