package mcpcan

import (
	"time"
)

// Port is the byte stream to the transceiver module. Only the receive loop
// calls ReadLine; writes are serialised by the bridge.
type Port interface {
	// Write sends one complete wire frame.
	Write(p []byte) error
	// ReadLine returns the next line without its terminator, or ErrReadTimeout
	// if no complete line arrived within timeout.
	ReadLine(timeout time.Duration) (string, error)
	Close() error
}

// Opener opens a named port at the given baudrate.
type Opener func(name string, baudrate int) (Port, error)

type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
}
