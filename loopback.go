package mcpcan

import (
	"errors"
	"sync"
	"time"
)

// LoopbackPort is the port name the CLI maps to NewLoopback.
const LoopbackPort = "loopback"

var errLoopbackClosed = errors.New("loopback closed")

// Loopback is an in-memory Port standing in for the transceiver module. Every
// frame written to it comes back as a received line, the way the module
// reports frames it sees on a bus with another node echoing traffic.
type Loopback struct {
	mu     sync.Mutex
	closed bool
	lines  chan string
	done   chan struct{}
	echo   bool
}

func NewLoopback() *Loopback {
	return &Loopback{
		lines: make(chan string, 1024),
		done:  make(chan struct{}),
		echo:  true,
	}
}

// OpenLoopback satisfies Opener.
func OpenLoopback(string, int) (Port, error) {
	return NewLoopback(), nil
}

// SetEcho controls whether written frames are reported back.
func (l *Loopback) SetEcho(enabled bool) {
	l.mu.Lock()
	l.echo = enabled
	l.mu.Unlock()
}

func (l *Loopback) Write(p []byte) error {
	l.mu.Lock()
	closed, echo := l.closed, l.echo
	l.mu.Unlock()
	if closed {
		return Unrecoverable(errLoopbackClosed)
	}
	if !echo {
		return nil
	}
	wf, err := ParseWire(p)
	if err != nil {
		// the module ignores what it can't parse
		return nil
	}
	// the wire format carries no dlc, the module always puts 8 bytes on the bus
	l.Inject(FormatLine(Frame{ID: wf.ID, DLC: MaxDLC, Data: wf.Data}))
	return nil
}

// Inject queues a raw line as if the module had sent it. Lines are dropped
// when the queue is full or the port is closed.
func (l *Loopback) Inject(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.lines <- line:
	default:
	}
}

func (l *Loopback) ReadLine(timeout time.Duration) (string, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case line := <-l.lines:
		return line, nil
	case <-l.done:
		return "", Unrecoverable(errLoopbackClosed)
	case <-t.C:
		return "", ErrReadTimeout
	}
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
	return nil
}
