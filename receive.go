package mcpcan

import (
	"context"
	"errors"
	"time"
)

// Run is the receive loop. It reads lines from whatever port is connected,
// decodes them and appends received frames to the log until ctx is done.
// Read failures are logged and retried, they never end the loop.
func (b *Bridge) Run(ctx context.Context) error {
	b.log.Debug().Msg("receive loop started")
	defer b.log.Debug().Msg("receive loop stopped")
	for ctx.Err() == nil {
		port := b.currentPort()
		if port == nil {
			sleep(ctx, b.cfg.ReadTimeout)
			continue
		}
		line, err := port.ReadLine(b.cfg.ReadTimeout)
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				sleep(ctx, b.cfg.PollInterval)
				continue
			}
			if b.currentPort() != port {
				// closed under us by Disconnect
				continue
			}
			b.stats.errors.Add(1)
			b.log.Warn().Err(err).Str("port", b.PortName()).Msg("read failed")
			b.warnEvent("read error: " + err.Error())
			sleep(ctx, b.cfg.ErrorBackoff)
			continue
		}
		b.handleLine(line)
	}
	return nil
}

func (b *Bridge) handleLine(line string) {
	f, err := Decode(line)
	if err != nil {
		b.stats.dropped.Add(1)
		b.log.Warn().Err(err).Msg("dropping line")
		b.warnEvent(err.Error())
		return
	}
	if f == nil {
		if line != "" {
			b.stats.ignored.Add(1)
			b.log.Debug().Str("line", line).Msg("ignoring line")
		}
		return
	}
	f.Time = time.Now()
	b.frames.Append(*f)
	b.stats.received.Add(1)
	b.log.Debug().Str("line", line).Msg("<<")
}
