package session

import (
	"time"

	"github.com/danmuck/nccomm/internal/protocol/frame"
)

// MaxEmptyReads bounds consecutive (0, nil) reads before the reader gives up.
const MaxEmptyReads = 100

// Config defines communicator, client and transport defaults.
type Config struct {
	// ReadBufferSize is the working buffer for each read from the device.
	ReadBufferSize int
	// WriteChunkSize caps each chunk written under chunked framing.
	WriteChunkSize int
	Limits         frame.Limits
	// Framing is the initial outbound framing; hello negotiation may switch it.
	Framing frame.Framing
	// SingleShot stops the reader after its first terminal outcome.
	SingleShot bool

	ConnectTimeout     time.Duration
	HelloTimeout       time.Duration
	ReplyTimeout       time.Duration
	MaxConnectAttempts int

	KnownHostsFile        string
	InsecureIgnoreHostKey bool

	Backoff BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ReadBufferSize:     1024,
		WriteChunkSize:     16 * 1024,
		Limits:             frame.DefaultLimits(),
		Framing:            frame.FramingEndOfMessage,
		ConnectTimeout:     10 * time.Second,
		HelloTimeout:       15 * time.Second,
		ReplyTimeout:       30 * time.Second,
		MaxConnectAttempts: 3,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}
	if c.WriteChunkSize <= 0 {
		c.WriteChunkSize = def.WriteChunkSize
	}
	if c.Limits.MaxMessageBytes == 0 {
		c.Limits.MaxMessageBytes = def.Limits.MaxMessageBytes
	}
	if c.Limits.MaxChunkBytes == 0 {
		c.Limits.MaxChunkBytes = def.Limits.MaxChunkBytes
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HelloTimeout <= 0 {
		c.HelloTimeout = def.HelloTimeout
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = def.ReplyTimeout
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = def.Backoff
	}
	return c
}
