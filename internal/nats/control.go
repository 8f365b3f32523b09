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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-portaudio/internal/audio"
)

// Control commands accepted on the control subject.
const (
	CommandStart   = "start"
	CommandStop    = "stop"
	CommandAbort   = "abort"
	CommandStatus  = "status"
	CommandDevices = "devices"
)

// Status events published on the status subject.
const (
	EventStarted   = "started"
	EventStopped   = "stopped"
	EventAborted   = "aborted"
	EventCompleted = "completed"
	EventClosed    = "closed"
)

// ControlRequest is the JSON body of a control message.
type ControlRequest struct {
	ID      string `json:"id,omitempty"`
	Command string `json:"command"`
}

// ControlResponse is the JSON reply to a control message.
type ControlResponse struct {
	ID        string              `json:"id"`
	OK        bool                `json:"ok"`
	Error     string              `json:"error,omitempty"`
	ErrorKind string              `json:"error_kind,omitempty"`
	Status    *StreamStatus       `json:"status,omitempty"`
	HostApis  []audio.HostApiInfo `json:"host_apis,omitempty"`
	Devices   []audio.DeviceInfo  `json:"devices,omitempty"`
}

// StreamStatus is a point-in-time view of the controlled stream.
type StreamStatus struct {
	StreamID string            `json:"stream_id"`
	State    string            `json:"state"`
	Active   bool              `json:"active"`
	Time     float64           `json:"time"`
	CpuLoad  float64           `json:"cpu_load"`
	Info     *audio.StreamInfo `json:"info,omitempty"`
	Stats    audio.Stats       `json:"stats"`
}

// StatusEvent is published whenever the stream changes state.
type StatusEvent struct {
	Node      string    `json:"node"`
	StreamID  string    `json:"stream_id"`
	Event     string    `json:"event"`
	State     string    `json:"state"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HaltHook runs after a successful stop or abort with the command name.
type HaltHook func(command string)

// Controller answers control requests for one stream and publishes status
// events.
type Controller struct {
	conn    Conn
	nodeID  string
	session *audio.Session
	stream  *audio.Stream
	logger  *slog.Logger
	onHalt  HaltHook

	mu        sync.Mutex
	sub       *nats.Subscription
	completed bool
}

// NewController serves control requests for stream on behalf of nodeID.
// Call Start to subscribe. A nil logger uses slog.Default.
func NewController(conn Conn, nodeID string, session *audio.Session, stream *audio.Stream, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{conn: conn, nodeID: nodeID, session: session, stream: stream, logger: logger}
}

// OnHalt registers a hook for successful stop and abort commands.
func (c *Controller) OnHalt(h HaltHook) { c.onHalt = h }

// Start subscribes to the control subject.
func (c *Controller) Start() error {
	subject := ControlSubject(c.nodeID)
	sub, err := c.conn.Subscribe(subject, c.handleControlMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
	c.logger.Info("listening for stream control", "subject", subject)
	return nil
}

// Stop removes the control subscription.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil && c.sub.IsValid() {
		_ = c.sub.Unsubscribe()
	}
	c.sub = nil
}

// Handle executes one request. It is what the control subscription calls
// and is usable without a bus.
func (c *Controller) Handle(req ControlRequest) ControlResponse {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	resp := ControlResponse{ID: req.ID}

	var (
		err   error
		event string
	)
	switch req.Command {
	case CommandStart:
		if err = c.stream.Start(); err == nil {
			event = EventStarted
			c.mu.Lock()
			c.completed = false
			c.mu.Unlock()
		}
	case CommandStop:
		if err = c.stream.Stop(); err == nil {
			event = EventStopped
		}
	case CommandAbort:
		if err = c.stream.Abort(); err == nil {
			event = EventAborted
		}
	case CommandStatus:
		st := c.Status()
		resp.Status = &st
	case CommandDevices:
		if resp.HostApis, err = c.session.HostApis(); err == nil {
			resp.Devices, err = c.session.Devices()
		}
	default:
		resp.Error = fmt.Sprintf("unknown command %q", req.Command)
		return resp
	}

	if err != nil {
		resp.Error = err.Error()
		resp.ErrorKind = audio.KindOf(err).String()
		c.logger.Warn("control command failed", "command", req.Command, "request", req.ID, "error", err)
		return resp
	}
	resp.OK = true

	if event != "" {
		if (event == EventStopped || event == EventAborted) && c.onHalt != nil {
			c.onHalt(req.Command)
		}
		c.publishEvent(event, req.ID)
	}
	return resp
}

// Status reports the stream's current state.
func (c *Controller) Status() StreamStatus {
	st := StreamStatus{
		StreamID: c.stream.ID(),
		State:    c.stream.State().String(),
		Time:     c.stream.Time(),
		CpuLoad:  c.stream.CpuLoad(),
		Stats:    c.stream.Stats(),
	}
	if active, err := c.stream.IsActive(); err == nil {
		st.Active = active
	}
	if info, err := c.stream.Info(); err == nil {
		st.Info = &info
	}
	return st
}

// Watch polls the stream until ctx is done and publishes a completed event
// when a running stream goes inactive on its own.
func (c *Controller) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkCompleted()
		}
	}
}

func (c *Controller) checkCompleted() {
	if c.stream.State() != audio.StateRunning {
		return
	}
	active, err := c.stream.IsActive()
	if err != nil || active {
		return
	}
	c.mu.Lock()
	already := c.completed
	c.completed = true
	c.mu.Unlock()
	if !already {
		c.publishEvent(EventCompleted, "")
	}
}

// Closed publishes the final event for the stream.
func (c *Controller) Closed() {
	c.publishEvent(EventClosed, "")
}

func (c *Controller) publishEvent(event, requestID string) {
	data, err := json.Marshal(StatusEvent{
		Node:      c.nodeID,
		StreamID:  c.stream.ID(),
		Event:     event,
		State:     c.stream.State().String(),
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		c.logger.Error("failed to encode status event", "error", err)
		return
	}
	if err := c.conn.Publish(StatusSubject(c.nodeID), data); err != nil {
		c.logger.Warn("failed to publish status event", "event", event, "error", err)
	}
}

func (c *Controller) handleControlMessage(msg *nats.Msg) {
	var req ControlRequest
	resp := ControlResponse{}
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		resp.ID = uuid.NewString()
		resp.Error = fmt.Sprintf("invalid control request: %v", err)
	} else {
		resp = c.Handle(req)
	}

	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("failed to encode control response", "error", err)
		return
	}
	if err := c.conn.Publish(msg.Reply, data); err != nil {
		c.logger.Warn("failed to send control response", "reply", msg.Reply, "error", err)
	}
}
