package transport

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/luma/paylink/protocol"
)

const (
	DefaultPingInterval   = 2500 * time.Millisecond
	DefaultReconnectDelay = 3 * time.Second

	DefaultMaxReconnectAttempts = 20

	// Dead-connection thresholds as multiples of the ping interval, so
	// tuning the interval scales all three consistently.
	DefaultWarnMultiple     = 2
	DefaultErrorMultiple    = 4
	DefaultShutdownMultiple = 8

	DefaultProbeInterval = 3 * time.Second
	DefaultMaxProbes     = 10
)

type Options struct {
	// ClientID identifies this caller to the server-side exclusivity
	// arbitration. It is appended to the open address.
	ClientID string

	// ForceTakeover asks the server to displace another session already
	// bound to the terminal. Without it, a contested open is denied.
	ForceTakeover bool

	// PingInterval is how often a heartbeat ping is sent.
	PingInterval time.Duration

	// WarnMultiple, ErrorMultiple and ShutdownMultiple express the
	// pong-silence thresholds as multiples of PingInterval. Each must be
	// strictly larger than the previous.
	WarnMultiple     int
	ErrorMultiple    int
	ShutdownMultiple int

	// ReconnectDelay is the fixed delay between reconnect attempts.
	ReconnectDelay time.Duration

	// MaxReconnectAttempts bounds the retry loop. Exceeding it surfaces
	// a terminal device error and stops retrying.
	MaxReconnectAttempts int

	// DisableReconnect turns the retry loop off entirely: a send on a
	// dead socket fails instead of queueing.
	DisableReconnect bool

	// ProbeInterval and MaxProbes drive the discovery handshake.
	ProbeInterval time.Duration
	MaxProbes     int

	// Builder defaults to the LAN dialect.
	Builder *protocol.Builder

	// Clock defaults to the system clock. Tests inject a fake.
	Clock Clock

	// Dial defaults to DialWebsocket.
	Dial DialFunc

	// Preflight defaults to HTTPPreflight. Set to nil explicitly via
	// NoPreflight to skip the existence check.
	Preflight PreflightFunc

	Log *zap.Logger
}

// NoPreflight skips the pre-flight existence check.
func NoPreflight() PreflightFunc {
	return func(_ context.Context, _ string) error { return nil }
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.WarnMultiple <= 0 {
		o.WarnMultiple = DefaultWarnMultiple
	}
	if o.ErrorMultiple <= 0 {
		o.ErrorMultiple = DefaultErrorMultiple
	}
	if o.ShutdownMultiple <= 0 {
		o.ShutdownMultiple = DefaultShutdownMultiple
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = DefaultProbeInterval
	}
	if o.MaxProbes <= 0 {
		o.MaxProbes = DefaultMaxProbes
	}
	if o.Builder == nil {
		o.Builder = protocol.NewBuilder("")
	}
	if o.Clock == nil {
		o.Clock = SystemClock()
	}
	if o.Dial == nil {
		o.Dial = DialWebsocket
	}
	if o.Preflight == nil {
		o.Preflight = HTTPPreflight
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	return o
}
