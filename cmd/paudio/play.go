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

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-portaudio/internal/audio"
	"github.com/loqalabs/loqa-portaudio/internal/pipeline"
)

func playCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "play <file>",
		Short: "Play an audio file (wav, aiff, mp3, ogg, flac) at its own sample rate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := pipeline.OpenFile(args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			s, done, err := a.openSession()
			if err != nil {
				return err
			}
			defer done()

			rate := float64(src.SampleRate())
			player := pipeline.NewPlayer(src.Channels(), max(1, int(rate)*a.settings.Playback.BufferMs/1000))
			st, err := s.OpenDefaultStream(audio.StreamConfig{
				OutputChannels:  src.Channels(),
				SampleRate:      rate,
				FramesPerBuffer: a.settings.Stream.FramesPerBuffer,
			}, player.Process, nil)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			feedErr := make(chan error, 1)
			go func() { feedErr <- pipeline.Feed(ctx, src, player, a.settings.Stream.FramesPerBuffer) }()

			if err := st.Start(); err != nil {
				_ = st.Close()
				return err
			}
			a.logger.Info("🔊 playing file", "file", args[0], "rate", rate, "channels", src.Channels())

			if err := waitInactive(cmd.Context(), st, 0); err != nil {
				_ = st.Close()
				return err
			}
			cancel()
			if err := <-feedErr; err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Warn("⚠️  playback ended early", "error", err)
			}
			if n := player.Underruns(); n > 0 {
				a.logger.Warn("⚠️  playback underruns", "count", n)
			}
			return a.finish(st)
		},
	}
}
