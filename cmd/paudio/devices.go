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
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/loqalabs/loqa-portaudio/internal/audio"
)

// deviceListing is the document printed by devices in json and yaml form.
type deviceListing struct {
	DefaultHostApi int                 `json:"default_host_api" yaml:"default_host_api"`
	DefaultInput   int                 `json:"default_input" yaml:"default_input"`
	DefaultOutput  int                 `json:"default_output" yaml:"default_output"`
	HostApis       []audio.HostApiInfo `json:"host_apis" yaml:"host_apis"`
	Devices        []audio.DeviceInfo  `json:"devices" yaml:"devices"`
}

func devicesCommand(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List host APIs and devices",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			s, done, err := a.openSession()
			if err != nil {
				return err
			}
			defer done()

			listing, err := listDevices(s)
			if err != nil {
				return err
			}
			switch output {
			case "json":
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(listing)
			case "yaml":
				enc := yaml.NewEncoder(a.out)
				defer enc.Close()
				return enc.Encode(listing)
			case "table":
				return printDeviceTable(a.out, listing)
			}
			return fmt.Errorf("unknown output format %q", output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format (table, json, yaml)")
	return cmd
}

func listDevices(s *audio.Session) (*deviceListing, error) {
	hosts, err := s.HostApis()
	if err != nil {
		return nil, err
	}
	devices, err := s.Devices()
	if err != nil {
		return nil, err
	}
	l := &deviceListing{HostApis: hosts, Devices: devices}
	if l.DefaultHostApi, err = s.DefaultHostApi(); err != nil {
		return nil, err
	}
	if l.DefaultInput, err = s.DefaultInputDevice(); err != nil {
		return nil, err
	}
	if l.DefaultOutput, err = s.DefaultOutputDevice(); err != nil {
		return nil, err
	}
	return l, nil
}

func printDeviceTable(w io.Writer, l *deviceListing) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HOST\tTYPE\tDEVICES\tDEFAULT IN\tDEFAULT OUT")
	for i, h := range l.HostApis {
		marker := ""
		if i == l.DefaultHostApi {
			marker = " *"
		}
		fmt.Fprintf(tw, "%s%s\t%s\t%d\t%d\t%d\n", h.Name, marker, h.Type, h.DeviceCount, h.DefaultInputDevice, h.DefaultOutputDevice)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "#\tDEVICE\tHOST\tIN\tOUT\tRATE\tLATENCY IN\tLATENCY OUT")
	for i, d := range l.Devices {
		host := ""
		if d.HostApi >= 0 && d.HostApi < len(l.HostApis) {
			host = l.HostApis[d.HostApi].Name
		}
		marker := ""
		switch i {
		case l.DefaultInput:
			marker = " <"
		case l.DefaultOutput:
			marker = " >"
		}
		fmt.Fprintf(tw, "%d%s\t%s\t%s\t%d\t%d\t%.0f\t%.4f\t%.4f\n", i, marker, d.Name, host,
			d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate,
			d.DefaultLowInputLatency, d.DefaultLowOutputLatency)
	}
	return tw.Flush()
}
