package mcpcan

import (
	"fmt"
	"time"

	"github.com/avast/retry-go"
)

// Send transmits one frame. data must hold at least dlc values, anything past
// dlc is ignored and the frame is zero padded to eight bytes. Unknown speed
// labels select DefaultSpeedCode.
//
// Nothing is written or logged unless the request is valid and the port is
// connected.
func (b *Bridge) Send(canID, speed string, data []int, dlc int) (Frame, error) {
	if dlc < 0 || dlc > MaxDLC {
		return Frame{}, &EncodingError{Field: "dlc", Reason: fmt.Sprintf("%d is outside 0-8", dlc)}
	}
	if len(data) < dlc {
		return Frame{}, &EncodingError{Field: "data", Reason: fmt.Sprintf("dlc is %d but only %d bytes given", dlc, len(data))}
	}
	id := PadID(canID)
	values := make([]int, MaxDLC)
	copy(values, data[:dlc])
	wire, err := Encode(id, SpeedCode(speed), values)
	if err != nil {
		return Frame{}, err
	}
	f := Frame{ID: id, DLC: dlc, Direction: TX}
	for i := 0; i < dlc; i++ {
		f.Data[i] = byte(values[i])
	}

	b.wmu.Lock()
	defer b.wmu.Unlock()
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.port == nil {
		return Frame{}, ErrNotConnected
	}
	if err := b.write(b.port, wire); err != nil {
		b.stats.errors.Add(1)
		b.log.Error().Err(err).Str("id", id).Msg("send failed")
		return Frame{}, err
	}
	f.Time = time.Now()
	b.frames.Append(f)
	b.stats.sent.Add(1)
	b.log.Debug().Str("port", b.portName).Bytes("wire", wire).Msg(">>")
	return f, nil
}

// SendPayload sends the default payload with the given id.
func (b *Bridge) SendPayload(canID string) (Frame, error) {
	p := b.Payload()
	return b.Send(canID, p.Speed, p.Data, p.DLC)
}

func (b *Bridge) write(p Port, wire []byte) error {
	return retry.Do(
		func() error {
			return p.Write(wire)
		},
		retry.Attempts(b.cfg.WriteAttempts),
		retry.Delay(b.cfg.WriteRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(IsRecoverable),
		retry.OnRetry(func(n uint, err error) {
			b.log.Warn().Err(err).Uint("attempt", n+1).Msg("write failed, retrying")
		}),
		retry.LastErrorOnly(true),
	)
}
