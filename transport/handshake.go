package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luma/paylink/protocol"
)

// ErrDiscoveryTimeout means the terminal accepted the socket but never
// answered a discovery probe. The usual cause is another client already
// holding the session without force takeover.
var ErrDiscoveryTimeout = errors.New("terminal never answered discovery")

// Handshake drives the discovery exchange that gates a fresh
// connection. A socket is not a session: after every open, discovery
// probes go out on an interval until the terminal answers with
// DISCOVERY_RESPONSE, and only then is the connection ready for
// transaction traffic. Losing the socket resets readiness; the next
// open probes again.
type Handshake struct {
	dev   *Device
	clock Clock
	log   *zap.Logger

	interval  time.Duration
	maxProbes int

	mu           sync.Mutex
	acknowledged bool
	probing      bool
	probeStop    chan struct{}
	waiters      []chan error
}

func NewHandshake(dev *Device) *Handshake {
	h := &Handshake{
		dev:       dev,
		clock:     dev.opts.Clock,
		log:       dev.opts.Log.Named("handshake"),
		interval:  dev.opts.ProbeInterval,
		maxProbes: dev.opts.MaxProbes,
	}

	dev.On(DeviceOpened, func(*protocol.Message) { h.startProbing() })
	dev.On(DeviceClosed, func(*protocol.Message) { h.reset() })
	dev.On(protocol.DiscoveryResponse, func(msg *protocol.Message) { h.acknowledge(msg) })

	return h
}

// Acknowledged reports whether the terminal has answered discovery on
// the current connection.
func (h *Handshake) Acknowledged() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.acknowledged
}

// WaitReady blocks until the terminal answers discovery, discovery
// gives up, or the context expires.
func (h *Handshake) WaitReady(ctx context.Context) error {
	h.mu.Lock()
	if h.acknowledged {
		h.mu.Unlock()
		return nil
	}
	ch := make(chan error, 1)
	h.waiters = append(h.waiters, ch)
	h.mu.Unlock()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handshake) startProbing() {
	h.mu.Lock()
	h.acknowledged = false
	if h.probing {
		h.mu.Unlock()
		return
	}
	h.probing = true
	stop := make(chan struct{})
	h.probeStop = stop
	h.mu.Unlock()

	go h.probeLoop(stop)
}

func (h *Handshake) probeLoop(stop chan struct{}) {
	probes := 0
	for {
		probes++
		if msg, err := h.dev.Builder().BuildDiscoveryRequest(); err == nil {
			h.log.Debug("Probing terminal", zap.Int("probe", probes))
			if err := h.dev.Send(msg); err != nil {
				h.log.Warn("Discovery probe failed to send", zap.Error(err))
			}
		}
		if probes > h.maxProbes {
			h.fail()
			return
		}

		timer := h.clock.NewTimer(h.interval)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C():
		}
	}
}

// acknowledge marks the connection ready and releases waiters. The
// discovery response itself still reaches listeners through the normal
// emitter path, so callers can read terminal identity from it.
func (h *Handshake) acknowledge(msg *protocol.Message) {
	h.mu.Lock()
	h.acknowledged = true
	h.stopProbingLocked()
	waiters := h.waiters
	h.waiters = nil
	h.mu.Unlock()

	h.log.Info("Terminal answered discovery",
		zap.String("serial", msg.PayloadField("serial").String()),
		zap.String("model", msg.PayloadField("model").String()))

	for _, ch := range waiters {
		ch <- nil
	}
}

// fail tears the connection down. A terminal that holds a socket open
// without ever answering discovery is not usable, so there is no point
// keeping the session.
func (h *Handshake) fail() {
	h.mu.Lock()
	h.stopProbingLocked()
	waiters := h.waiters
	h.waiters = nil
	h.mu.Unlock()

	h.log.Error("Giving up on discovery", zap.Int("probes", h.maxProbes))

	for _, ch := range waiters {
		ch <- ErrDiscoveryTimeout
	}

	_ = h.dev.Close()
}

// reset clears readiness when the socket drops. Probing stops; it
// restarts when the device reopens.
func (h *Handshake) reset() {
	h.mu.Lock()
	h.acknowledged = false
	h.stopProbingLocked()
	h.mu.Unlock()
}

func (h *Handshake) stopProbingLocked() {
	if h.probing {
		h.probing = false
		close(h.probeStop)
		h.probeStop = nil
	}
}
