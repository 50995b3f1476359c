// Package stream pumps one live WebSocket connection into a voice session:
// inbound frames are rate limited, decoded and queued on the session; the
// session's outbound events are written through an ordered writer that
// sheds audio under backpressure.
package stream

import "time"

type Config struct {
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	MaxMessageBytes int64

	// Inbound token buckets. Zero disables a bucket.
	InboundFPS            int
	InboundBytesPerSecond int64
	InboundBurstSeconds   int

	// QueueSize bounds the outbound queue.
	QueueSize int
}

const (
	DefaultPingInterval    = 20 * time.Second
	DefaultWriteTimeout    = 5 * time.Second
	DefaultMaxMessageBytes = 1 << 20
	DefaultQueueSize       = 256
)

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}
