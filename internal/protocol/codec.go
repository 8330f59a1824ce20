// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Wire command names.
const (
	CommandUpload              = "upload"
	CommandSerialMonitor       = "serial_monitor"
	CommandSerialMonitorStop   = "serial_monitor_stop"
	CommandAuthResult          = "auth_result"
	CommandUploadResult        = "upload_result"
	CommandPing                = "ping"
	CommandSerialMonitorResult = "serial_monitor_result"
	CommandMonitorUnavailable  = "monitor_unavailable"
	CommandAuthRequest         = "auth_request"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingPayload = errors.New("missing payload")
	ErrInternalOnly   = errors.New("message is not sent over the wire")
)

// DecodeError describes an inbound frame that could not be turned into a
// message. Decode errors are never fatal for a connection.
type DecodeError struct {
	Command string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("decode %q: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err is (or wraps) a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Frame is one transport frame. Binary frames carry raw serial bytes, text
// frames carry a JSON envelope.
type Frame struct {
	Binary bool
	Data   []byte
}

// envelope is the JSON shape of every text frame.
type envelope struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeIncoming turns a frame received from the server into a message.
func DecodeIncoming(f Frame) (Incoming, error) {
	if f.Binary {
		data := make([]byte, len(f.Data))
		copy(data, f.Data)
		return SerialMonitorMessageToAgent{Data: data}, nil
	}
	return DecodeText(f.Data)
}

// DecodeText decodes a JSON envelope.
func DecodeText(data []byte) (Incoming, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if len(env.Payload) == 0 || bytes.Equal(bytes.TrimSpace(env.Payload), []byte("null")) {
		return nil, &DecodeError{Command: env.Command, Err: ErrMissingPayload}
	}

	var msg Incoming
	switch env.Command {
	case CommandUpload:
		var m UploadMessage
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, &DecodeError{Command: env.Command, Err: err}
		}
		msg = m
	case CommandSerialMonitor:
		var m SerialMonitorRequest
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, &DecodeError{Command: env.Command, Err: err}
		}
		msg = m
	case CommandSerialMonitorStop:
		msg = SerialMonitorRequestStop{}
	case CommandAuthResult:
		var m AuthResult
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, &DecodeError{Command: env.Command, Err: err}
		}
		msg = m
	default:
		return nil, &DecodeError{Command: env.Command, Err: ErrUnknownCommand}
	}
	return msg, nil
}

// EncodeOutgoing turns a message into the frame sent to the server.
func EncodeOutgoing(m Outgoing) (Frame, error) {
	if b, ok := m.(SerialMonitorMessageToClient); ok {
		return Frame{Binary: true, Data: b.Data}, nil
	}

	var command string
	var payload any = m
	switch m.(type) {
	case UploadResultMessage:
		command = CommandUploadResult
	case PingMessage:
		command = CommandPing
		payload = struct{}{}
	case SerialMonitorResult:
		command = CommandSerialMonitorResult
	case MonitorUnavailable:
		command = CommandMonitorUnavailable
	case AuthRequest:
		command = CommandAuthRequest
	default:
		return Frame{}, fmt.Errorf("encode %T: %w", m, ErrUnknownCommand)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", command, err)
	}
	data, err := json.Marshal(envelope{Command: command, Payload: raw})
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s envelope: %w", command, err)
	}
	return Frame{Data: data}, nil
}

// EncodeIncoming is the server side of the codec: it renders a wire message
// as the frame a control server would send. Used by test servers and tools.
func EncodeIncoming(m Incoming) (Frame, error) {
	if b, ok := m.(SerialMonitorMessageToAgent); ok {
		return Frame{Binary: true, Data: b.Data}, nil
	}

	var command string
	var payload any = m
	switch m.(type) {
	case UploadMessage:
		command = CommandUpload
	case SerialMonitorRequest:
		command = CommandSerialMonitor
	case SerialMonitorRequestStop:
		command = CommandSerialMonitorStop
		payload = struct{}{}
	case AuthResult:
		command = CommandAuthResult
	default:
		return Frame{}, fmt.Errorf("encode %T: %w", m, ErrInternalOnly)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	data, err := json.Marshal(envelope{Command: command, Payload: raw})
	if err != nil {
		return Frame{}, err
	}
	return Frame{Data: data}, nil
}

// DecodeOutgoing is the server side counterpart of EncodeOutgoing.
func DecodeOutgoing(f Frame) (Outgoing, error) {
	if f.Binary {
		return SerialMonitorMessageToClient{Data: f.Data}, nil
	}
	var env envelope
	if err := json.Unmarshal(f.Data, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if len(env.Payload) == 0 {
		return nil, &DecodeError{Command: env.Command, Err: ErrMissingPayload}
	}

	var out Outgoing
	var err error
	switch env.Command {
	case CommandUploadResult:
		var m UploadResultMessage
		err = json.Unmarshal(env.Payload, &m)
		out = m
	case CommandPing:
		out = PingMessage{}
	case CommandSerialMonitorResult:
		var m SerialMonitorResult
		err = json.Unmarshal(env.Payload, &m)
		out = m
	case CommandMonitorUnavailable:
		var m MonitorUnavailable
		err = json.Unmarshal(env.Payload, &m)
		out = m
	case CommandAuthRequest:
		var m AuthRequest
		err = json.Unmarshal(env.Payload, &m)
		out = m
	default:
		return nil, &DecodeError{Command: env.Command, Err: ErrUnknownCommand}
	}
	if err != nil {
		return nil, &DecodeError{Command: env.Command, Err: err}
	}
	return out, nil
}
