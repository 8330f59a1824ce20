// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Here lies the definition of the data exchanged between the control server
// and the agent.
// Everything the engine consumes is an Incoming message. Some of them arrive
// over the wire, the Internal* ones are posted by effects so that multi step
// work (download -> upload -> report) re-enters the single projection
// pipeline instead of touching state from inside an effect.
// Everything the engine emits towards the server is an Outgoing message.
package protocol

// Incoming is a message consumed by the engine.
type Incoming interface {
	incoming()
}

// Outgoing is a message the engine sends to the control server.
type Outgoing interface {
	outgoing()
}

// Framing selects how serial bytes are chunked before being forwarded.
type Framing string

const (
	// FramingRaw forwards bytes exactly as read.
	FramingRaw Framing = "raw"
	// FramingMinOS forwards only complete MinOS chunks.
	FramingMinOS Framing = "minos"
)

// DefaultBaudRate is used when a monitor request carries no config.
const DefaultBaudRate = 115200

// MonitorConfig describes a serial monitor session. Two configs are the
// same session if they compare equal.
type MonitorConfig struct {
	BaudRate int     `json:"baudrate"`
	Framing  Framing `json:"framing,omitempty"`
}

// DefaultMonitorConfig returns the config used when a request omits one.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{BaudRate: DefaultBaudRate, Framing: FramingRaw}
}

// Normalize fills zero fields with defaults.
func (c MonitorConfig) Normalize() MonitorConfig {
	if c.BaudRate <= 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.Framing == "" {
		c.Framing = FramingRaw
	}
	return c
}

// Session is an open serial monitor session as seen by the protocol layer.
// The concrete type lives in the monitor feature.
type Session interface {
	ID() string
}

// Lifecycle

type InternalStartLifecycle struct{}

type InternalEndLifecycle struct {
	Reason error
}

// Auth

type AuthResult struct {
	Error *string `json:"error"`
}

// Upload

type UploadMessage struct {
	SoftwareID string `json:"software_id"`
}

type InternalSucceededSoftwareDownload struct {
	FilePath string
}

type InternalFailedSoftwareDownload struct {
	Reason error
}

type InternalUploadBoardSoftware struct {
	FilePath string
}

type InternalSucceededSoftwareUpload struct{}

type InternalFailedSoftwareUpload struct {
	Reason error
}

// Serial monitor

type SerialMonitorRequest struct {
	Config *MonitorConfig `json:"config,omitempty"`
}

type SerialMonitorRequestStop struct{}

// SerialMonitorMessageToAgent carries bytes the client wants written to the
// board. It travels as a binary frame.
type SerialMonitorMessageToAgent struct {
	Data []byte
}

type InternalSerialMonitorStarting struct {
	Config MonitorConfig
}

type InternalSerialMonitorOpened struct {
	Config  MonitorConfig
	Session Session
}

type InternalSerialMonitorOpenFailed struct {
	Config MonitorConfig
	Reason error
}

// InternalSerialMonitorDiscarded reports that a port opened for a request
// that was superseded meanwhile has been closed again.
type InternalSerialMonitorDiscarded struct {
	Config MonitorConfig
}

type InternalReceivedSerialBytes struct {
	Data []byte
}

type InternalSerialMonitorDied struct {
	Reason error
}

type InternalSerialMonitorStopped struct {
	Session Session
}

func (InternalStartLifecycle) incoming()            {}
func (InternalEndLifecycle) incoming()              {}
func (AuthResult) incoming()                        {}
func (UploadMessage) incoming()                     {}
func (InternalSucceededSoftwareDownload) incoming() {}
func (InternalFailedSoftwareDownload) incoming()    {}
func (InternalUploadBoardSoftware) incoming()       {}
func (InternalSucceededSoftwareUpload) incoming()   {}
func (InternalFailedSoftwareUpload) incoming()      {}
func (SerialMonitorRequest) incoming()              {}
func (SerialMonitorRequestStop) incoming()          {}
func (SerialMonitorMessageToAgent) incoming()       {}
func (InternalSerialMonitorStarting) incoming()     {}
func (InternalSerialMonitorOpened) incoming()       {}
func (InternalSerialMonitorOpenFailed) incoming()   {}
func (InternalSerialMonitorDiscarded) incoming()    {}
func (InternalReceivedSerialBytes) incoming()       {}
func (InternalSerialMonitorDied) incoming()         {}
func (InternalSerialMonitorStopped) incoming()      {}

// Outgoing messages

type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type PingMessage struct{}

type UploadResultMessage struct {
	Error *string `json:"error"`
}

type SerialMonitorResult struct {
	Error *string `json:"error"`
}

// SerialMonitorMessageToClient carries bytes read from the board. It travels
// as a binary frame.
type SerialMonitorMessageToClient struct {
	Data []byte
}

type MonitorUnavailable struct {
	Reason string `json:"reason"`
}

func (AuthRequest) outgoing()                  {}
func (PingMessage) outgoing()                  {}
func (UploadResultMessage) outgoing()          {}
func (SerialMonitorResult) outgoing()          {}
func (SerialMonitorMessageToClient) outgoing() {}
func (MonitorUnavailable) outgoing()           {}

// ErrorText converts an error into the optional string carried by result
// messages. A nil error yields nil.
func ErrorText(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}
