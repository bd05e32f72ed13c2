// SPDX-License-Identifier: Apache-2.0

package fdc

import "time"

// DefaultTimeout is the watchdog inactivity interval. The controller retries
// on a one-second timeout, so two seconds of silence means the link is gone.
const DefaultTimeout = 2 * time.Second

// Config holds server configuration.
type Config struct {
	// Timeout is the watchdog inactivity interval.
	Timeout time.Duration

	// MaxTrackLen caps track transfer lengths. Requests above it are
	// clamped, never rejected.
	MaxTrackLen int

	// Events receives status notifications (optional).
	Events EventSink
}

func defaultConfig() Config {
	return Config{
		Timeout:     DefaultTimeout,
		MaxTrackLen: MaxTrackLen,
		Events:      nopSink{},
	}
}

// Option is a functional option for configuring the Server.
type Option func(*Config)

// WithTimeout sets the watchdog inactivity interval.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// WithMaxTrackLen caps the track buffer size. Values above the protocol
// maximum or below one are ignored.
func WithMaxTrackLen(n int) Option {
	return func(c *Config) {
		if n > 0 && n <= MaxTrackLen {
			c.MaxTrackLen = n
		}
	}
}

// WithEventSink sets the sink receiving status events.
func WithEventSink(sink EventSink) Option {
	return func(c *Config) {
		if sink != nil {
			c.Events = sink
		}
	}
}
