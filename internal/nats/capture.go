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

import "sync/atomic"

// CapturePublisher sends encoded capture frames to the node's capture
// subject.
type CapturePublisher struct {
	conn    Conn
	subject string
	sent    atomic.Uint64
}

// NewCapturePublisher publishes on the capture subject of nodeID.
func NewCapturePublisher(conn Conn, nodeID string) *CapturePublisher {
	return &CapturePublisher{conn: conn, subject: CaptureSubject(nodeID)}
}

// Subject is where frames are published.
func (p *CapturePublisher) Subject() string { return p.subject }

// Sent counts published frames.
func (p *CapturePublisher) Sent() uint64 { return p.sent.Load() }

// Publish sends one packet. Pass it to pipeline.NewTap.
func (p *CapturePublisher) Publish(packet []byte) error {
	if err := p.conn.Publish(p.subject, packet); err != nil {
		return err
	}
	p.sent.Add(1)
	return nil
}
