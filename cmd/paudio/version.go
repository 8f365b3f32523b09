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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-portaudio/internal/audio"
	"github.com/loqalabs/loqa-portaudio/internal/backend"
	"github.com/loqalabs/loqa-portaudio/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func versionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print paudio and backend versions",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			b, err := backend.New(a.settings.Backend, logging.ForComponent(a.logger, "backend"))
			if err != nil {
				return err
			}
			s := audio.NewSession(b)
			fmt.Fprintf(a.out, "paudio %s\n", version)
			fmt.Fprintf(a.out, "%s: %s (%d)\n", a.settings.Backend, s.VersionText(), s.Version())
			return nil
		},
	}
}
