package mcpcan

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var errTransient = errors.New("transient write failure")

// fakePort records writes. It pushes bytes one at a time into a shared stream
// and yields between them, so unserialised writers would interleave.
type fakePort struct {
	mu       sync.Mutex
	stream   []byte
	writes   int
	failNext int
	failErr  error
	closed   bool
	lines    chan string
}

func newFakePort() *fakePort {
	return &fakePort{lines: make(chan string, 100)}
}

func (p *fakePort) Write(b []byte) error {
	p.mu.Lock()
	p.writes++
	if p.closed {
		p.mu.Unlock()
		return Unrecoverable(errors.New("closed"))
	}
	if p.failNext > 0 {
		p.failNext--
		err := p.failErr
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()
	for _, c := range b {
		p.mu.Lock()
		p.stream = append(p.stream, c)
		p.mu.Unlock()
		runtime.Gosched()
	}
	return nil
}

func (p *fakePort) ReadLine(timeout time.Duration) (string, error) {
	select {
	case l := <-p.lines:
		return l, nil
	case <-time.After(timeout):
		return "", ErrReadTimeout
	}
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePort) written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.stream)
}

func (p *fakePort) attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

func testConfig(port Port) *Config {
	cfg := DefaultConfig()
	cfg.Port = "test"
	cfg.Logger = zerolog.Nop()
	cfg.ReadTimeout = 5 * time.Millisecond
	cfg.ErrorBackoff = time.Millisecond
	cfg.WriteRetryDelay = time.Millisecond
	cfg.Open = func(string, int) (Port, error) { return port, nil }
	return cfg
}

func newTestBridge(t *testing.T, port Port) *Bridge {
	t.Helper()
	b, err := New(testConfig(port))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Connect(""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSendWritesWireFrame(t *testing.T) {
	port := newFakePort()
	b := newTestBridge(t, port)

	f, err := b.Send("207", "500 kbps", []int{1, 2, 3, 99}, 3)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if want := "1150207001002003000000000000000A"; port.written() != want {
		t.Fatalf("wrote %q, want %q", port.written(), want)
	}
	if f.ID != "0207" || f.DLC != 3 || f.Data != [8]byte{1, 2, 3} || f.Direction != TX || f.Time.IsZero() {
		t.Fatalf("unexpected frame %+v", f)
	}
	frames := b.Log().Frames()
	if len(frames) != 1 || frames[0] != f {
		t.Fatalf("frame not logged: %v", frames)
	}
	if b.Stats().Sent != 1 {
		t.Fatalf("expected sent counter 1, got %+v", b.Stats())
	}
}

func TestSendUnknownSpeedUsesDefault(t *testing.T) {
	port := newFakePort()
	b := newTestBridge(t, port)
	if _, err := b.Send("0001", "7 kbps", nil, 0); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := port.written()[1:3]; got != DefaultSpeedCode {
		t.Fatalf("speed code %q, want %q", got, DefaultSpeedCode)
	}
}

func TestSendNotConnected(t *testing.T) {
	port := newFakePort()
	b, err := New(testConfig(port))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Send("0207", DefaultSpeed, []int{1}, 1); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if port.attempts() != 0 || b.Log().Len() != 0 {
		t.Fatalf("nothing should be written or logged")
	}
}

func TestDisconnectThenSend(t *testing.T) {
	port := newFakePort()
	b := newTestBridge(t, port)
	if _, err := b.Send("0001", DefaultSpeed, nil, 0); err != nil {
		t.Fatal(err)
	}
	if err := b.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if b.State() != Disconnected {
		t.Fatalf("expected disconnected, got %s", b.State())
	}
	before := b.Log().Frames()
	if _, err := b.Send("0002", DefaultSpeed, []int{1, 2}, 2); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if port.attempts() != 1 {
		t.Fatalf("expected exactly one write, got %d", port.attempts())
	}
	if after := b.Log().Frames(); len(after) != len(before) {
		t.Fatalf("log changed after failed send: %v", after)
	}
}

func TestSendValidation(t *testing.T) {
	port := newFakePort()
	b := newTestBridge(t, port)
	cases := []struct {
		name string
		id   string
		data []int
		dlc  int
	}{
		{"dlc too big", "0001", []int{1, 2, 3, 4, 5, 6, 7, 8, 9}, 9},
		{"negative dlc", "0001", nil, -1},
		{"too few bytes", "0001", []int{1}, 2},
		{"byte out of range", "0001", []int{1, 300}, 2},
		{"id too long", "12345", nil, 0},
		{"bad id", "zz", nil, 0},
	}
	for _, tc := range cases {
		_, err := b.Send(tc.id, DefaultSpeed, tc.data, tc.dlc)
		var ee *EncodingError
		if !errors.As(err, &ee) {
			t.Fatalf("%s: expected EncodingError, got %v", tc.name, err)
		}
	}
	if port.attempts() != 0 || b.Log().Len() != 0 {
		t.Fatalf("invalid requests must not write or log")
	}
}

func TestSendIgnoresBytesPastDLC(t *testing.T) {
	port := newFakePort()
	b := newTestBridge(t, port)
	f, err := b.Send("0001", DefaultSpeed, []int{1, 2, 300}, 2)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if f.Data != [8]byte{1, 2} {
		t.Fatalf("unexpected data %v", f.Data)
	}
}

func TestSendRetriesTransientWrite(t *testing.T) {
	port := newFakePort()
	port.failNext = 2
	port.failErr = errTransient
	b := newTestBridge(t, port)
	if _, err := b.Send("0001", DefaultSpeed, nil, 0); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if port.attempts() != 3 {
		t.Fatalf("expected 3 attempts, got %d", port.attempts())
	}
	if b.Log().Len() != 1 {
		t.Fatalf("expected one logged frame")
	}
}

func TestSendGivesUp(t *testing.T) {
	port := newFakePort()
	port.failNext = 10
	port.failErr = errTransient
	b := newTestBridge(t, port)
	if _, err := b.Send("0001", DefaultSpeed, nil, 0); !errors.Is(err, errTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if port.attempts() != 3 {
		t.Fatalf("expected 3 attempts, got %d", port.attempts())
	}
	if b.Log().Len() != 0 || b.Stats().Errors != 1 {
		t.Fatalf("failed send must not be logged, stats %+v", b.Stats())
	}
}

func TestSendDoesNotRetryUnrecoverable(t *testing.T) {
	port := newFakePort()
	port.failNext = 10
	port.failErr = Unrecoverable(errTransient)
	b := newTestBridge(t, port)
	if _, err := b.Send("0001", DefaultSpeed, nil, 0); !errors.Is(err, errTransient) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if port.attempts() != 1 {
		t.Fatalf("expected a single attempt, got %d", port.attempts())
	}
}

func TestConcurrentSendsDoNotInterleave(t *testing.T) {
	port := newFakePort()
	b := newTestBridge(t, port)

	const perWorker = 50
	var g errgroup.Group
	for w := 0; w < 3; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				data := []int{w, i, w, i, w, i, w, i}
				if _, err := b.Send(FormatID(w*100+i), DefaultSpeed, data, 8); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("send: %v", err)
	}

	stream := port.written()
	if len(stream) != 3*perWorker*WireFrameSize {
		t.Fatalf("stream length %d", len(stream))
	}
	logged := b.Log().Frames()
	for n := 0; n < 3*perWorker; n++ {
		chunk := stream[n*WireFrameSize : (n+1)*WireFrameSize]
		wf, err := ParseWire([]byte(chunk))
		if err != nil {
			t.Fatalf("frame %d corrupted: %q: %v", n, chunk, err)
		}
		if wf.Data[0] != wf.Data[2] || wf.Data[1] != wf.Data[3] {
			t.Fatalf("frame %d mixed payloads: %v", n, wf.Data)
		}
		if logged[n].ID != wf.ID {
			t.Fatalf("log order differs from wire order at %d: %s vs %s", n, logged[n].ID, wf.ID)
		}
	}
}

func TestConnect(t *testing.T) {
	port := newFakePort()
	b := newTestBridge(t, port)
	if b.State() != Connected || b.PortName() != "test" {
		t.Fatalf("unexpected state %s %q", b.State(), b.PortName())
	}
	if err := b.Connect("other"); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
	select {
	case e := <-b.Events():
		if e.Type != EventTypeInfo || !strings.Contains(e.Details, "test") {
			t.Fatalf("unexpected event %s", e)
		}
	default:
		t.Fatalf("expected a connect event")
	}
}

func TestConnectOpenError(t *testing.T) {
	cfg := testConfig(nil)
	openErr := errors.New("permission denied")
	cfg.Open = func(string, int) (Port, error) { return nil, openErr }
	b, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	err = b.Connect("/dev/ttyUSB9")
	var oe *OpenError
	if !errors.As(err, &oe) || oe.Port != "/dev/ttyUSB9" || !errors.Is(err, openErr) {
		t.Fatalf("expected OpenError, got %v", err)
	}
	if b.State() != Disconnected {
		t.Fatalf("expected disconnected")
	}
}

func TestReceiveLoop(t *testing.T) {
	port := newFakePort()
	b := newTestBridge(t, port)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	port.lines <- "GARBAGE"
	port.lines <- "R;0207;3;10;20"
	port.lines <- "R;0207;3;10;20;30"

	waitFor(t, "received frame", func() bool { return b.Log().Len() == 1 })
	f := b.Log().Frames()[0]
	if f.ID != "0207" || f.DLC != 3 || f.Data != [8]byte{10, 20, 30} || f.Direction != RX || f.Time.IsZero() {
		t.Fatalf("unexpected frame %+v", f)
	}
	st := b.Stats()
	if st.Received != 1 || st.Ignored != 1 || st.Dropped != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("receive loop did not stop")
	}
}

type flakyReader struct {
	*fakePort
	mu    sync.Mutex
	fails int
}

func (p *flakyReader) ReadLine(timeout time.Duration) (string, error) {
	p.mu.Lock()
	if p.fails > 0 {
		p.fails--
		p.mu.Unlock()
		return "", errTransient
	}
	p.mu.Unlock()
	return p.fakePort.ReadLine(timeout)
}

func TestReceiveLoopSurvivesReadErrors(t *testing.T) {
	port := &flakyReader{fakePort: newFakePort(), fails: 3}
	b := newTestBridge(t, port)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	port.lines <- "R;0001;0"
	waitFor(t, "frame after read errors", func() bool { return b.Log().Len() == 1 })
	if b.Stats().Errors != 3 {
		t.Fatalf("expected 3 read errors, got %+v", b.Stats())
	}
}

func TestReceiveLoopWhileDisconnected(t *testing.T) {
	port := newFakePort()
	b, err := New(testConfig(port))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	port.lines <- "R;0001;1;7"
	time.Sleep(20 * time.Millisecond)
	if b.Log().Len() != 0 {
		t.Fatalf("nothing should be read while disconnected")
	}
	if err := b.Connect(""); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "frame after connect", func() bool { return b.Log().Len() == 1 })
}

func TestLoopbackEcho(t *testing.T) {
	b := newTestBridge(t, NewLoopback())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	if _, err := b.Send("0300", DefaultSpeed, []int{4, 5}, 2); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "echo", func() bool { return b.Log().Len() == 2 })
	rx := b.Log().Project(FilterCriteria{Direction: FilterRX})
	if len(rx) != 1 || rx[0].ID != "0300" || rx[0].DLC != MaxDLC || rx[0].Data != [8]byte{4, 5} {
		t.Fatalf("unexpected echo %v", rx)
	}
}

func TestSetPayload(t *testing.T) {
	port := newFakePort()
	b := newTestBridge(t, port)
	if err := b.SetPayload(Payload{DLC: 9}); err == nil {
		t.Fatalf("expected error for dlc 9")
	}
	if err := b.SetPayload(Payload{DLC: 1, Data: []int{256}}); err == nil {
		t.Fatalf("expected error for byte 256")
	}
	data := []int{9, 8}
	if err := b.SetPayload(Payload{Speed: "250 kbps", DLC: 2, Data: data}); err != nil {
		t.Fatal(err)
	}
	data[0] = 100
	f, err := b.SendPayload("42")
	if err != nil {
		t.Fatal(err)
	}
	if f.ID != "0042" || f.Data != [8]byte{9, 8} {
		t.Fatalf("unexpected frame %+v", f)
	}
	if want := "1140042009008000000000000000000A"; port.written() != want {
		t.Fatalf("wrote %q, want %q", port.written(), want)
	}
}
