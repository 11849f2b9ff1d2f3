package mcpcan

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DefaultBaudrate is the rate the module firmware talks at.
const DefaultBaudrate = 115200

// lines longer than this without a terminator are garbage and get dropped
const maxLineLength = 512

// SerialPort is a Port backed by a serial device.
type SerialPort struct {
	name    string
	port    serial.Port
	buf     []byte
	readBuf []byte
}

// OpenSerial opens a serial device 8N1 and discards anything buffered in it.
func OpenSerial(name string, baudrate int) (Port, error) {
	if baudrate <= 0 {
		baudrate = DefaultBaudrate
	}
	mode := &serial.Mode{
		BaudRate: baudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, &OpenError{Port: name, Err: err}
	}
	p.ResetOutputBuffer()
	p.ResetInputBuffer()
	return &SerialPort{
		name:    name,
		port:    p,
		buf:     make([]byte, 0, maxLineLength),
		readBuf: make([]byte, 64),
	}, nil
}

func (sp *SerialPort) Name() string {
	return sp.name
}

func (sp *SerialPort) Write(p []byte) error {
	written := 0
	for written < len(p) {
		n, err := sp.port.Write(p[written:])
		if err != nil {
			err = portError("write", err)
			if written > 0 {
				// the module has seen half a frame, resending would garble it
				return Unrecoverable(err)
			}
			return err
		}
		written += n
	}
	return nil
}

func (sp *SerialPort) ReadLine(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		if i := bytes.IndexByte(sp.buf, '\n'); i >= 0 {
			line := string(bytes.TrimRight(sp.buf[:i], "\r"))
			n := copy(sp.buf, sp.buf[i+1:])
			sp.buf = sp.buf[:n]
			return line, nil
		}
		if len(sp.buf) > maxLineLength {
			sp.buf = sp.buf[:0]
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", ErrReadTimeout
		}
		if err := sp.port.SetReadTimeout(remaining); err != nil {
			return "", portError("set read timeout", err)
		}
		n, err := sp.port.Read(sp.readBuf)
		if err != nil {
			return "", portError("read", err)
		}
		if n == 0 {
			return "", ErrReadTimeout
		}
		sp.buf = append(sp.buf, sp.readBuf[:n]...)
	}
}

func (sp *SerialPort) Close() error {
	sp.port.ResetInputBuffer()
	sp.port.ResetOutputBuffer()
	if err := sp.port.Close(); err != nil {
		return fmt.Errorf("failed to close com port: %w", err)
	}
	return nil
}

func portError(op string, err error) error {
	var pe *serial.PortError
	if errors.As(err, &pe) && pe.Code() == serial.PortClosed {
		return Unrecoverable(fmt.Errorf("failed to %s com port: %w", op, err))
	}
	return fmt.Errorf("failed to %s com port: %w", op, err)
}

// ListPorts returns the serial ports present on the system, sorted by name.
func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list com ports: %w", err)
	}
	out := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		out = append(out, PortInfo{
			Name:         p.Name,
			IsUSB:        p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
