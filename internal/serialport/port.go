// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package serialport opens board serial devices and provides an in-memory
// stand-in for boards without one.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// ErrPortClosed is returned by operations on a closed port.
var ErrPortClosed = errors.New("serial port closed")

// Port is an open serial device. A Read that times out returns 0, nil.
// Both go.bug.st/serial ports and Virtual satisfy it.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Open opens a system serial device at the given baud rate.
func Open(device string, baudRate int) (Port, error) {
	if device == "" {
		return nil, errors.New("no serial device configured")
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s at %d baud: %w", device, baudRate, err)
	}
	return p, nil
}

// Info describes a serial device found on the host.
type Info struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// List enumerates the serial devices of the host.
func List() ([]Info, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	out := make([]Info, 0, len(ports))
	for _, p := range ports {
		out = append(out, Info{
			Name:         p.Name,
			IsUSB:        p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	return out, nil
}
