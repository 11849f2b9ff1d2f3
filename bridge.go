package mcpcan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connected
)

func (s ConnectionState) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Payload is the default frame content used when only an id is given, most
// notably by the auto-ID sweep.
type Payload struct {
	Speed string
	DLC   int
	Data  []int
}

// Bridge owns the connection to the transceiver module, the frame log and the
// auto-ID sweep. All outbound traffic goes through Send.
type Bridge struct {
	cfg    *Config
	log    zerolog.Logger
	frames *FrameLog

	mu       sync.RWMutex // port, portName
	port     Port
	portName string

	wmu sync.Mutex // single writer on the port

	pmu     sync.RWMutex
	payload Payload

	sweep   *Sweeper
	evtChan chan Event
	stats   counters

	closeOnce sync.Once
}

func New(cfg *Config) (*Bridge, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = cfg.withDefaults()
	if _, ok := LookupSpeed(cfg.Speed); !ok {
		cfg.Logger.Warn().Str("speed", cfg.Speed).Str("code", DefaultSpeedCode).Msg("unknown CAN speed, using default code")
	}
	b := &Bridge{
		cfg:     cfg,
		log:     cfg.Logger,
		frames:  NewFrameLog(),
		evtChan: make(chan Event, 100),
		payload: Payload{
			Speed: cfg.Speed,
			DLC:   MaxDLC,
			Data:  make([]int, MaxDLC),
		},
	}
	b.sweep = NewSweeper(b.sweepSend, b.sweepFailed)
	b.sweep.onTick = cfg.OnSweepTick
	return b, nil
}

// Log returns the frame log.
func (b *Bridge) Log() *FrameLog {
	return b.frames
}

// Events delivers status messages meant for the user.
func (b *Bridge) Events() <-chan Event {
	return b.evtChan
}

// Connect opens the named port, or the configured one if name is empty.
func (b *Bridge) Connect(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		name = b.cfg.Port
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port != nil {
		return fmt.Errorf("%w to %s", ErrAlreadyConnected, b.portName)
	}
	p, err := b.cfg.Open(name, b.cfg.PortBaudrate)
	if err != nil {
		var oe *OpenError
		if !errors.As(err, &oe) {
			err = &OpenError{Port: name, Err: err}
		}
		b.log.Error().Err(err).Str("port", name).Msg("connect failed")
		b.errorEvent(err)
		return err
	}
	b.port = p
	b.portName = name
	b.log.Info().Str("port", name).Int("baudrate", b.cfg.PortBaudrate).Msg("connected")
	b.infoEvent("Connected to " + name)
	return nil
}

// Disconnect closes the port. An in-flight write completes first; every send
// after Disconnect returns fails with ErrNotConnected.
func (b *Bridge) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port == nil {
		return nil
	}
	p, name := b.port, b.portName
	b.port = nil
	b.portName = ""
	err := p.Close()
	b.log.Info().Str("port", name).Msg("disconnected")
	b.infoEvent("Disconnected")
	return err
}

func (b *Bridge) State() ConnectionState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.port == nil {
		return Disconnected
	}
	return Connected
}

// PortName returns the name of the open port, or "" when disconnected.
func (b *Bridge) PortName() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.portName
}

func (b *Bridge) currentPort() Port {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.port
}

// SetPayload replaces the default payload. Data is copied.
func (b *Bridge) SetPayload(p Payload) error {
	if p.DLC < 0 || p.DLC > MaxDLC {
		return &EncodingError{Field: "dlc", Reason: fmt.Sprintf("%d is outside 0-8", p.DLC)}
	}
	if len(p.Data) > MaxDLC {
		return &EncodingError{Field: "data", Reason: fmt.Sprintf("%d bytes, max is 8", len(p.Data))}
	}
	data := make([]int, MaxDLC)
	copy(data, p.Data)
	for i, v := range data {
		if v < 0 || v > 255 {
			return &EncodingError{Field: "data", Reason: fmt.Sprintf("D%d = %d is outside 0-255", i, v)}
		}
	}
	if p.Speed == "" {
		p.Speed = b.cfg.Speed
	}
	p.Data = data
	b.pmu.Lock()
	b.payload = p
	b.pmu.Unlock()
	return nil
}

func (b *Bridge) Payload() Payload {
	b.pmu.RLock()
	defer b.pmu.RUnlock()
	p := b.payload
	p.Data = append([]int(nil), b.payload.Data...)
	return p
}

// StartSweep starts the auto-ID sweep, replacing one that is already running.
func (b *Bridge) StartSweep(ctx context.Context, cfg SweepConfig) error {
	if err := b.sweep.Start(ctx, cfg); err != nil {
		return err
	}
	b.log.Info().Int("start", cfg.Start).Int("end", cfg.End).Dur("delay", cfg.Delay).Msg("auto-id sweep started")
	b.infoEvent(fmt.Sprintf("Auto ID %d-%d every %s", cfg.Start, cfg.End, cfg.Delay))
	return nil
}

// StopSweep stops the sweep and waits for it to exit.
func (b *Bridge) StopSweep() {
	if b.sweep.Stop() {
		b.log.Info().Msg("auto-id sweep stopped")
		b.infoEvent("Auto ID stopped")
	}
}

func (b *Bridge) SweepState() SweepState {
	return b.sweep.State()
}

func (b *Bridge) sweepSend(id int) error {
	_, err := b.SendPayload(FormatID(id))
	return err
}

func (b *Bridge) sweepFailed(err error) {
	err = fmt.Errorf("auto-id sweep stopped: %w", err)
	b.log.Error().Err(err).Msg("sweep failed")
	b.errorEvent(err)
}

// Close stops the sweep and disconnects.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.StopSweep()
		err = b.Disconnect()
	})
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
