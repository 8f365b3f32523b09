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

// Package nats connects audio streams to a NATS bus: incoming playback
// frames, outgoing capture frames, remote stream control and status
// events.
package nats

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// BroadcastSubject carries playback audio for every node.
	BroadcastSubject = "audio.broadcast"

	DefaultConnectRetries = 5
	DefaultRetryDelay     = 2 * time.Second
)

// Per-node subjects. Playback and control are consumed by the node;
// capture and status are published by it.
func PlaybackSubject(node string) string { return fmt.Sprintf("audio.%s.playback", node) }
func CaptureSubject(node string) string  { return fmt.Sprintf("audio.%s.capture", node) }
func ControlSubject(node string) string  { return fmt.Sprintf("audio.%s.control", node) }
func StatusSubject(node string) string   { return fmt.Sprintf("audio.%s.status", node) }

// Conn is the part of a NATS connection the audio components use.
type Conn interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subject string, data []byte) error
	Close()
}

// ConnAdapter adapts *nats.Conn to Conn.
type ConnAdapter struct {
	conn *nats.Conn
}

// NewConnAdapter wraps an established connection.
func NewConnAdapter(conn *nats.Conn) *ConnAdapter {
	return &ConnAdapter{conn: conn}
}

func (a *ConnAdapter) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	return a.conn.Subscribe(subject, cb)
}

func (a *ConnAdapter) Publish(subject string, data []byte) error {
	return a.conn.Publish(subject, data)
}

func (a *ConnAdapter) Close() {
	a.conn.Close()
}

// Connect dials url, retrying up to retries times with delay between
// attempts.
func Connect(url string, retries int, delay time.Duration, logger *slog.Logger) (*ConnAdapter, error) {
	if retries < 1 {
		retries = DefaultConnectRetries
	}
	if logger == nil {
		logger = slog.Default()
	}

	var (
		nc  *nats.Conn
		err error
	)
	for i := 0; i < retries; i++ {
		nc, err = nats.Connect(url, nats.Name("paudio"))
		if err == nil {
			break
		}
		logger.Warn("failed to connect to NATS", "attempt", i+1, "max", retries, "error", err)
		if i < retries-1 {
			time.Sleep(delay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", retries, err)
	}

	logger.Info("connected to NATS", "url", url)
	return NewConnAdapter(nc), nil
}
