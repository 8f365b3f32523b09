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

package nats

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-portaudio/internal/pipeline"
	"github.com/loqalabs/loqa-portaudio/internal/transport"
)

// AudioSubscriber feeds binary audio frames from the node's playback
// subject and the broadcast subject into a Player.
type AudioSubscriber struct {
	conn   Conn
	nodeID string
	player *pipeline.Player
	logger *slog.Logger

	mu      sync.Mutex
	subs    []*nats.Subscription
	samples []float32

	frames   atomic.Uint64
	dropped  atomic.Uint64
	rejected atomic.Uint64
}

// NewAudioSubscriber wires conn to player. Nothing is subscribed until
// Start.
func NewAudioSubscriber(conn Conn, nodeID string, player *pipeline.Player, logger *slog.Logger) *AudioSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &AudioSubscriber{
		conn:    conn,
		nodeID:  nodeID,
		player:  player,
		logger:  logger,
		samples: make([]float32, 0, transport.MaxPayload/2),
	}
}

// Start subscribes to the playback subjects.
func (as *AudioSubscriber) Start() error {
	for _, subject := range []string{PlaybackSubject(as.nodeID), BroadcastSubject} {
		sub, err := as.conn.Subscribe(subject, as.handleAudioMessage)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		as.mu.Lock()
		as.subs = append(as.subs, sub)
		as.mu.Unlock()
	}
	as.logger.Info("subscribed to playback audio", "node", as.nodeID, "broadcast", BroadcastSubject)
	return nil
}

// Stop removes the subscriptions made by Start.
func (as *AudioSubscriber) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()
	for _, sub := range as.subs {
		if sub != nil && sub.IsValid() {
			_ = sub.Unsubscribe()
		}
	}
	as.subs = nil
}

// Frames counts audio frames accepted into the player.
func (as *AudioSubscriber) Frames() uint64 { return as.frames.Load() }

// Dropped counts audio frames partly or entirely lost to a full player.
func (as *AudioSubscriber) Dropped() uint64 { return as.dropped.Load() }

// Rejected counts messages that were not valid audio frames.
func (as *AudioSubscriber) Rejected() uint64 { return as.rejected.Load() }

func (as *AudioSubscriber) handleAudioMessage(msg *nats.Msg) {
	frame, err := transport.ParseFrame(msg.Data)
	if err != nil {
		as.rejected.Add(1)
		as.logger.Warn("failed to decode audio frame", "subject", msg.Subject, "error", err)
		return
	}

	switch frame.Type {
	case transport.FrameTypeAudioData:
		as.playFrame(msg.Subject, frame)
	case transport.FrameTypeAudioEnd:
		as.logger.Info("audio session ended", "session", frame.SessionID, "subject", msg.Subject)
	case transport.FrameTypeHeartbeat:
	default:
		as.logger.Debug("ignoring frame", "type", frame.Type, "subject", msg.Subject)
	}
}

func (as *AudioSubscriber) playFrame(subject string, frame *transport.Frame) {
	if int(frame.Channels) != as.player.Channels() {
		as.rejected.Add(1)
		as.logger.Warn("audio frame channel mismatch",
			"subject", subject, "channels", frame.Channels, "expected", as.player.Channels())
		return
	}

	// Message handlers may run concurrently across subscriptions.
	as.mu.Lock()
	defer as.mu.Unlock()

	samples, err := frame.Samples(as.samples[:0])
	if err != nil {
		as.rejected.Add(1)
		as.logger.Warn("invalid audio payload", "subject", subject, "error", err)
		return
	}
	as.samples = samples

	n, err := as.player.Write(samples)
	switch {
	case errors.Is(err, pipeline.ErrPlayerClosed):
		as.dropped.Add(1)
		return
	case err != nil:
		as.dropped.Add(1)
		as.logger.Warn("failed to queue audio", "error", err)
		return
	case n < len(samples):
		as.dropped.Add(1)
		as.logger.Debug("playback buffer full, dropping audio",
			"session", frame.SessionID, "sequence", frame.Sequence, "lost", len(samples)-n)
		return
	}
	as.frames.Add(1)
}
