package mcpcan

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type DirectionFilter int

const (
	FilterAll DirectionFilter = iota
	FilterTX
	FilterRX
)

func (d DirectionFilter) String() string {
	switch d {
	case FilterTX:
		return "TX"
	case FilterRX:
		return "RX"
	default:
		return "ALL"
	}
}

// ParseDirectionFilter accepts ALL, TX or RX in any case.
func ParseDirectionFilter(s string) (DirectionFilter, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "ALL":
		return FilterAll, nil
	case "TX":
		return FilterTX, nil
	case "RX":
		return FilterRX, nil
	default:
		return FilterAll, fmt.Errorf("unknown direction filter %q", s)
	}
}

// FilterCriteria selects frames for display. The zero value matches everything.
type FilterCriteria struct {
	ID        string
	Direction DirectionFilter
}

// Match reports whether f passes both the id and the direction filter. The id
// must equal the frame id exactly, ignoring case only.
func (c FilterCriteria) Match(f Frame) bool {
	if id := strings.TrimSpace(c.ID); id != "" && !strings.EqualFold(id, f.ID) {
		return false
	}
	switch c.Direction {
	case FilterTX:
		return f.Direction == TX
	case FilterRX:
		return f.Direction == RX
	}
	return true
}

// Project returns the frames matching c, in their original order.
func Project(frames []Frame, c FilterCriteria) []Frame {
	out := make([]Frame, 0, len(frames))
	for _, f := range frames {
		if c.Match(f) {
			out = append(out, f)
		}
	}
	return out
}

// LogUpdate is delivered to subscribers. Reset means the view was rebuilt and
// should be redrawn from FrameLog.View; otherwise Frame was added to it.
type LogUpdate struct {
	Frame Frame
	Reset bool
}

// a subscriber that misses this many updates in a row is dropped
const maxMissedUpdates = 20

type Subscriber struct {
	log       *FrameLog
	ch        chan LogUpdate
	done      chan struct{}
	missed    int
	closeOnce sync.Once
}

// Chan delivers updates until the subscriber is closed or dropped.
func (s *Subscriber) Chan() <-chan LogUpdate {
	return s.ch
}

func (s *Subscriber) Close() {
	s.log.unsubscribe(s)
}

// FrameLog keeps every frame sent or received, in arrival order, together with
// the filtered view that is currently on display.
type FrameLog struct {
	mu        sync.RWMutex
	frames    []Frame
	view      []Frame
	criteria  FilterCriteria
	suspended bool
	subs      map[*Subscriber]struct{}
}

func NewFrameLog() *FrameLog {
	return &FrameLog{
		subs: make(map[*Subscriber]struct{}),
	}
}

// Append stores f. The live view is only updated while logging is not
// suspended; the frame is kept either way.
func (l *FrameLog) Append(f Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, f)
	if l.suspended || !l.criteria.Match(f) {
		return
	}
	l.view = append(l.view, f)
	l.fanout(LogUpdate{Frame: f})
}

// Project returns the stored frames matching c without touching the view.
func (l *FrameLog) Project(c FilterCriteria) []Frame {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Project(l.frames, c)
}

// Frames returns a copy of everything stored.
func (l *FrameLog) Frames() []Frame {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Frame, len(l.frames))
	copy(out, l.frames)
	return out
}

func (l *FrameLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.frames)
}

// View returns a copy of the frames currently on display.
func (l *FrameLog) View() []Frame {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Frame, len(l.view))
	copy(out, l.view)
	return out
}

func (l *FrameLog) Filter() FilterCriteria {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.criteria
}

// SetFilter replaces the display criteria and rebuilds the view.
func (l *FrameLog) SetFilter(c FilterCriteria) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.criteria = c
	l.rebuild()
}

// Refresh rebuilds the view from the whole log, picking up anything that
// arrived while logging was suspended.
func (l *FrameLog) Refresh() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rebuild()
}

func (l *FrameLog) Suspend(suspended bool) {
	l.mu.Lock()
	l.suspended = suspended
	l.mu.Unlock()
}

func (l *FrameLog) Suspended() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.suspended
}

// Clear drops every stored frame. There is no undo.
func (l *FrameLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = nil
	l.view = nil
	l.fanout(LogUpdate{Reset: true})
}

func (l *FrameLog) rebuild() {
	l.view = Project(l.frames, l.criteria)
	l.fanout(LogUpdate{Reset: true})
}

// Subscribe returns a subscriber that is fed view updates until ctx is done or
// Close is called.
func (l *FrameLog) Subscribe(ctx context.Context, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 100
	}
	s := &Subscriber{
		log:  l,
		ch:   make(chan LogUpdate, buffer),
		done: make(chan struct{}),
	}
	l.mu.Lock()
	l.subs[s] = struct{}{}
	l.mu.Unlock()
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s
}

func (l *FrameLog) unsubscribe(s *Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropLocked(s)
}

func (l *FrameLog) dropLocked(s *Subscriber) {
	if _, ok := l.subs[s]; !ok {
		return
	}
	delete(l.subs, s)
	s.closeOnce.Do(func() {
		close(s.ch)
		close(s.done)
	})
}

func (l *FrameLog) fanout(u LogUpdate) {
	for s := range l.subs {
		select {
		case s.ch <- u:
			s.missed = 0
		default:
			s.missed++
			if s.missed > maxMissedUpdates {
				l.dropLocked(s)
			}
		}
	}
}
