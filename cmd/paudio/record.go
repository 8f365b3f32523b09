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
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-portaudio/internal/audio"
	"github.com/loqalabs/loqa-portaudio/internal/pipeline"
)

func recordCommand(a *app) *cobra.Command {
	var (
		channels int
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "record <file.wav>",
		Short: "Record the default input device to a 16-bit WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, done, err := a.openSession()
			if err != nil {
				return err
			}
			defer done()

			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", args[0], err)
			}
			defer f.Close()

			rate := a.settings.Stream.SampleRate
			w, err := pipeline.NewWAVWriter(f, int(rate), channels)
			if err != nil {
				return err
			}

			rec := pipeline.NewRecorder(channels, a.settings.BufferFrames(a.settings.Capture.BufferMs))
			st, err := s.OpenDefaultStream(audio.StreamConfig{
				InputChannels:   channels,
				SampleRate:      rate,
				FramesPerBuffer: a.settings.Stream.FramesPerBuffer,
			}, rec.Process, nil)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			drained := make(chan error, 1)
			go func() { drained <- rec.Drain(ctx, w, 0) }()

			if err := st.Start(); err != nil {
				cancel()
				<-drained
				_ = st.Close()
				return err
			}
			a.logger.Info("🎙️  recording", "file", args[0], "rate", rate, "channels", channels, "duration", duration)

			waitErr := waitInactive(cmd.Context(), st, duration)
			finishErr := a.finish(st)
			cancel()
			drainErr := <-drained

			if n := rec.Overflows(); n > 0 {
				a.logger.Warn("⚠️  capture overflows", "count", n)
			}
			if err := errors.Join(waitErr, finishErr, drainErr, w.Close()); err != nil {
				return err
			}
			a.logger.Info("💾 recording saved", "file", args[0], "frames", w.Frames())
			return nil
		},
	}
	cmd.Flags().IntVar(&channels, "channels", 1, "input channels to record")
	cmd.Flags().DurationVar(&duration, "duration", 5*time.Second, "how long to record, 0 until interrupted")
	return cmd
}
