package mcpcan

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MaxSweepID is the highest 11-bit CAN identifier.
const MaxSweepID = 2047

type SweepState int

const (
	SweepIdle SweepState = iota
	SweepRunning
)

func (s SweepState) String() string {
	if s == SweepRunning {
		return "running"
	}
	return "idle"
}

// SweepConfig describes an auto-ID sweep: ids Start..End inclusive, one frame
// every Delay.
type SweepConfig struct {
	Start int
	End   int
	Delay time.Duration
}

func (c SweepConfig) Validate() error {
	switch {
	case c.Start < 0 || c.Start > MaxSweepID:
		return fmt.Errorf("%w: start id %d outside 0-%d", ErrInvalidSweep, c.Start, MaxSweepID)
	case c.End < 0 || c.End > MaxSweepID:
		return fmt.Errorf("%w: end id %d outside 0-%d", ErrInvalidSweep, c.End, MaxSweepID)
	case c.Start > c.End:
		return fmt.Errorf("%w: start id %d is after end id %d", ErrInvalidSweep, c.Start, c.End)
	case c.Delay < 0:
		return fmt.Errorf("%w: negative delay %s", ErrInvalidSweep, c.Delay)
	}
	return nil
}

// Sweeper runs at most one sweep task at a time.
type Sweeper struct {
	send    func(id int) error
	onError func(error)
	onTick  func(id int)

	mu     sync.Mutex
	state  SweepState
	cfg    SweepConfig
	cancel context.CancelFunc
	done   chan struct{}
	run    uint64
}

// NewSweeper returns an idle sweeper. send is called once per tick; the first
// error it returns ends the sweep and is handed to onError.
func NewSweeper(send func(id int) error, onError func(error)) *Sweeper {
	return &Sweeper{
		send:    send,
		onError: onError,
	}
}

// Start begins a sweep. A sweep that is already running is stopped, and has
// exited, before the new one sends anything.
func (s *Sweeper) Start(ctx context.Context, cfg SweepConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.run++
	s.cancel = cancel
	s.done = done
	s.cfg = cfg
	s.state = SweepRunning
	go s.loop(ctx, cfg, s.run, done)
	return nil
}

// Stop cancels the running sweep and waits for it to exit. It reports whether
// a sweep was running.
func (s *Sweeper) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Sweeper) stopLocked() bool {
	if s.cancel == nil {
		return false
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.state = SweepIdle
	return true
}

func (s *Sweeper) State() SweepState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns the settings of the current or last sweep.
func (s *Sweeper) Config() SweepConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Sweeper) loop(ctx context.Context, cfg SweepConfig, run uint64, done chan struct{}) {
	err := s.sweep(ctx, cfg)
	// done must close before taking mu, Stop holds mu while waiting on it
	close(done)
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.run == run && s.cancel != nil {
		s.cancel()
		s.cancel = nil
		s.done = nil
		s.state = SweepIdle
	}
	s.mu.Unlock()
	if s.onError != nil {
		s.onError(err)
	}
}

func (s *Sweeper) sweep(ctx context.Context, cfg SweepConfig) error {
	cursor := cfg.Start
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.send(cursor); err != nil {
			return err
		}
		if s.onTick != nil {
			s.onTick(cursor)
		}
		cursor++
		if cursor > cfg.End {
			cursor = cfg.Start
		}
		if err := sleep(ctx, cfg.Delay); err != nil {
			return nil
		}
	}
}
