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
	"hash/fnv"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-portaudio/internal/audio"
	"github.com/loqalabs/loqa-portaudio/internal/logging"
	"github.com/loqalabs/loqa-portaudio/internal/metrics"
	"github.com/loqalabs/loqa-portaudio/internal/nats"
	"github.com/loqalabs/loqa-portaudio/internal/pipeline"
	"github.com/loqalabs/loqa-portaudio/internal/transport"
)

const (
	watchInterval   = 100 * time.Millisecond
	shutdownTimeout = 5 * time.Second
)

func serveCommand(a *app) *cobra.Command {
	var autostart bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an audio node controlled over NATS",
		Long: "Open a stream on the default devices, play audio frames received on NATS, " +
			"publish captured input, accept start/stop/abort/status/devices requests and " +
			"serve Prometheus metrics.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context(), autostart)
		},
	}
	cmd.Flags().BoolVar(&autostart, "autostart", true, "start the stream without waiting for a start request")
	return cmd
}

func (a *app) serve(ctx context.Context, autostart bool) error {
	cfg := a.settings
	node := cfg.NATS.NodeID
	logger := logging.ForComponent(a.logger, "serve").With("node", node)

	conn, err := nats.Connect(cfg.NATS.URL, cfg.NATS.ConnectRetries, cfg.NATS.RetryDelay, logging.ForComponent(a.logger, "nats"))
	if err != nil {
		return err
	}
	defer conn.Close()

	s, done, err := a.openSession()
	if err != nil {
		return err
	}
	defer done()

	var (
		fns        []audio.ProcessFunc
		player     *pipeline.Player
		recorder   *pipeline.Recorder
		subscriber *nats.AudioSubscriber
		publisher  *nats.CapturePublisher
		tap        *pipeline.Tap
	)
	if cfg.Stream.InputChannels > 0 {
		pk, err := transport.NewPacketizer(sessionID(node), cfg.Stream.InputChannels, cfg.Stream.SampleRate)
		if err != nil {
			return err
		}
		recorder = pipeline.NewRecorder(cfg.Stream.InputChannels, cfg.BufferFrames(cfg.Capture.BufferMs))
		publisher = nats.NewCapturePublisher(conn, node)
		tap = pipeline.NewTap(pk, cfg.Capture.FramesPerPacket, publisher.Publish)
		fns = append(fns, recorder.Process)
	}
	if cfg.Stream.OutputChannels > 0 {
		player = pipeline.NewPlayer(cfg.Stream.OutputChannels, cfg.BufferFrames(cfg.Playback.BufferMs))
		subscriber = nats.NewAudioSubscriber(conn, node, player, logging.ForComponent(a.logger, "playback"))
		fns = append(fns, player.Process)
	}

	st, err := s.OpenDefaultStream(audio.StreamConfig{
		InputChannels:   cfg.Stream.InputChannels,
		OutputChannels:  cfg.Stream.OutputChannels,
		SampleRate:      cfg.Stream.SampleRate,
		FramesPerBuffer: cfg.Stream.FramesPerBuffer,
	}, pipeline.Combine(fns...), nil)
	if err != nil {
		return err
	}

	controller := nats.NewController(conn, node, s, st, logging.ForComponent(a.logger, "control"))
	if player != nil {
		controller.OnHalt(func(command string) {
			if command == nats.CommandAbort {
				player.Reset()
			}
		})
	}

	reg := prometheus.NewRegistry()
	streams := metrics.NewStreamCollector()
	streams.Add(st)
	pm := metrics.PipelineCollectors{}
	if player != nil {
		pm.PlaybackUnderruns = player.Underruns
		pm.PlaybackBuffered = func() float64 { return float64(player.Buffered()) }
		pm.NetworkDropped = subscriber.Dropped
		pm.NetworkRejected = subscriber.Rejected
	}
	if recorder != nil {
		pm.CaptureOverflows = recorder.Overflows
		pm.CaptureSent = publisher.Sent
	}
	if err := metrics.Register(reg, append(pm.Collectors(), streams, collectors.NewGoCollector())...); err != nil {
		_ = st.Close()
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Metrics.Listen,
		Handler:           metricsMux(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	drained := make(chan error, 1)
	if recorder != nil {
		go func() { drained <- recorder.Drain(runCtx, tap, 0) }()
	} else {
		close(drained)
	}
	go controller.Watch(runCtx, watchInterval)

	if subscriber != nil {
		if err := subscriber.Start(); err != nil {
			cancel()
			_ = st.Close()
			return err
		}
		defer subscriber.Stop()
	}
	if err := controller.Start(); err != nil {
		cancel()
		_ = st.Close()
		return err
	}
	defer controller.Stop()

	if autostart {
		if resp := controller.Handle(nats.ControlRequest{Command: nats.CommandStart}); !resp.OK {
			logger.Warn("⚠️  failed to start stream", "error", resp.Error)
		}
	}

	logger.Info("🚀 audio node ready",
		"stream", st.ID(),
		"control", nats.ControlSubject(node),
		"playback", nats.PlaybackSubject(node),
		"capture", nats.CaptureSubject(node),
		"metrics", cfg.Metrics.Listen)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("🛑 shutting down audio node")
	case err, ok := <-srvErr:
		if ok {
			runErr = fmt.Errorf("metrics server failed: %w", err)
		}
	}

	closeErr := a.finish(st)
	controller.Closed()
	cancel()
	if err := <-drained; err != nil {
		logger.Warn("⚠️  capture drain failed", "error", err)
	}
	if tap != nil {
		if err := tap.Close(); err != nil {
			logger.Warn("⚠️  failed to send end of capture", "error", err)
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("⚠️  metrics server shutdown failed", "error", err)
	}
	logger.Info("👋 audio node stopped")
	return errors.Join(runErr, closeErr)
}

func metricsMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// sessionID derives the capture frame session from the node ID so that
// listeners can tell nodes apart.
func sessionID(node string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(node))
	return h.Sum32()
}
