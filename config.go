package mcpcan

import (
	"time"

	"github.com/rs/zerolog"
)

// Config collects runtime settings for the bridge. Zero values are replaced
// with the defaults from DefaultConfig.
type Config struct {
	Port         string
	PortBaudrate int
	// Speed is the bit-rate label used for the default payload.
	Speed string

	ReadTimeout  time.Duration // how long a single ReadLine may block
	PollInterval time.Duration // idle wait after a read that returned nothing
	ErrorBackoff time.Duration // pause after a failed read

	WriteAttempts   uint
	WriteRetryDelay time.Duration

	Open   Opener
	Logger zerolog.Logger

	// OnSweepTick is called after every frame the auto-ID sweep sent.
	OnSweepTick func(id int)
}

func DefaultConfig() *Config {
	return &Config{
		PortBaudrate:    DefaultBaudrate,
		Speed:           DefaultSpeed,
		ReadTimeout:     100 * time.Millisecond,
		PollInterval:    time.Millisecond,
		ErrorBackoff:    100 * time.Millisecond,
		WriteAttempts:   3,
		WriteRetryDelay: 5 * time.Millisecond,
		Open:            OpenSerial,
		Logger:          zerolog.Nop(),
	}
}

func (cfg *Config) withDefaults() *Config {
	def := DefaultConfig()
	out := *cfg
	if out.PortBaudrate <= 0 {
		out.PortBaudrate = def.PortBaudrate
	}
	if out.Speed == "" {
		out.Speed = def.Speed
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = def.ReadTimeout
	}
	if out.PollInterval <= 0 {
		out.PollInterval = def.PollInterval
	}
	if out.ErrorBackoff <= 0 {
		out.ErrorBackoff = def.ErrorBackoff
	}
	if out.WriteAttempts == 0 {
		out.WriteAttempts = def.WriteAttempts
	}
	if out.WriteRetryDelay <= 0 {
		out.WriteRetryDelay = def.WriteRetryDelay
	}
	if out.Open == nil {
		out.Open = def.Open
	}
	return &out
}
