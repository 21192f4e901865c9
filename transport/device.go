package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/paylink/protocol"
)

// Local connection events, dispatched through the same emitter as
// terminal methods so a transaction can await them alongside FINISH_OK
// and friends.
const (
	// DeviceOpened fires on every successful socket open, reconnects
	// included.
	DeviceOpened protocol.Method = "DEVICE_OPENED"

	// DeviceClosed fires whenever the socket is lost or shut down.
	DeviceClosed protocol.Method = "DEVICE_CLOSED"

	// DeviceError is terminal: reconnection gave up, or the session was
	// denied or stolen by another client.
	DeviceError protocol.Method = "DEVICE_ERROR"

	// ConnectionError and ConnectionWarning report pong silence past the
	// error and warn thresholds respectively.
	ConnectionError   protocol.Method = "CONNECTION_ERROR"
	ConnectionWarning protocol.Method = "CONNECTION_WARNING"
)

// Payload codes the server uses to signal exclusivity outcomes on an
// ERROR message. Neither is retryable.
const (
	codeConnectionDenied = "CONNECTION_DENIED"
	codeConnectionStolen = "CONNECTION_STOLEN"
)

var ErrDisconnected = errors.New("terminal disconnected")

// State is the connection lifecycle position. A Reconnecting flag is
// orthogonal: the state cycles Connecting/Open repeatedly while the
// retry loop runs.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateErroring
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateErroring:
		return "erroring"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Device owns the persistent connection to a payment terminal: the
// socket, the heartbeat, dead-connection detection, bounded
// reconnection, the outbound resend queue and the inbound
// event-dispatch surface.
type Device struct {
	opts    Options
	builder *protocol.Builder
	clock   Clock
	emitter *Emitter
	log     *zap.Logger

	// writeMu serializes socket writes and the queue drain that
	// precedes them, preserving FIFO order across reconnects. Lock
	// ordering: writeMu before mu.
	writeMu sync.Mutex

	mu                sync.Mutex
	state             State
	sock              Socket
	address           string
	reconnecting      bool
	reconnectAttempts int
	resendQueue       [][]byte
	pingSent          time.Time
	pongReceived      time.Time
	takenOver         bool
	closing           bool
	heartbeatStop     chan struct{}
}

func NewDevice(options Options) *Device {
	options = options.withDefaults()

	return &Device{
		opts:    options,
		builder: options.Builder,
		clock:   options.Clock,
		emitter: NewEmitter(),
		log:     options.Log.Named("device"),
	}
}

// Builder returns the envelope builder for this connection's dialect.
func (d *Device) Builder() *protocol.Builder {
	return d.builder
}

func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// IsOpen reports whether the socket is open. Note this says nothing
// about the discovery handshake; see Handshake.Acknowledged.
func (d *Device) IsOpen() bool {
	return d.State() == StateOpen
}

// Reconnecting reports whether the bounded retry loop is running.
func (d *Device) Reconnecting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reconnecting
}

// Listener registration, keyed by method. See Emitter.
func (d *Device) On(method protocol.Method, fn Handler) *Listener   { return d.emitter.On(method, fn) }
func (d *Device) Once(method protocol.Method, fn Handler) *Listener { return d.emitter.Once(method, fn) }
func (d *Device) RemoveListener(l *Listener)                        { d.emitter.Remove(l) }
func (d *Device) RemoveListeners(ls []*Listener)                    { d.emitter.RemoveAll(ls) }
func (d *Device) ListenerCount(method protocol.Method) int          { return d.emitter.Count(method) }

// Open contacts the terminal. It decorates the address with the caller
// identity and takeover flag, runs the pre-flight existence check, then
// dials. Idempotent: opening an already open or connecting device is a
// no-op.
func (d *Device) Open(ctx context.Context, address string) error {
	d.mu.Lock()
	if d.state == StateOpen || d.state == StateConnecting {
		d.mu.Unlock()
		return nil
	}
	d.state = StateConnecting
	d.closing = false
	d.takenOver = false
	d.mu.Unlock()

	decorated, err := decorateAddress(address, d.opts.ClientID, d.opts.ForceTakeover)
	if err != nil {
		d.setState(StateIdle)
		return err
	}

	d.mu.Lock()
	d.address = decorated
	d.mu.Unlock()

	if err := d.opts.Preflight(ctx, decorated); err != nil {
		d.setState(StateIdle)
		return err
	}

	d.log.Info("Contacting terminal", zap.String("address", address))

	if err := d.connect(ctx); err != nil {
		d.setState(StateIdle)
		return fmt.Errorf("failed to contact terminal: %w", err)
	}
	return nil
}

func decorateAddress(address, clientID string, forceTakeover bool) (string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("terminal address %q is not a url: %w", address, err)
	}

	q := u.Query()
	if clientID != "" {
		q.Set("clientId", clientID)
	}
	q.Set("forceTakeover", strconv.FormatBool(forceTakeover))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// connect dials the decorated address and brings the connection up:
// resets the reconnect counter, starts the heartbeat and read loops,
// and drains anything queued while we were away.
func (d *Device) connect(ctx context.Context) error {
	d.mu.Lock()
	address := d.address
	d.mu.Unlock()

	sock, err := d.opts.Dial(ctx, address)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if d.closing || d.takenOver {
		d.reconnecting = false
		d.mu.Unlock()
		sock.Close()
		return ErrDisconnected
	}
	d.stopHeartbeatLocked()
	d.sock = sock
	d.state = StateOpen
	d.reconnectAttempts = 0
	d.reconnecting = false
	d.pongReceived = d.clock.Now()
	d.pingSent = d.pongReceived
	stop := make(chan struct{})
	d.heartbeatStop = stop
	d.mu.Unlock()

	go d.readLoop(sock)
	go d.heartbeat(stop)

	d.flushQueue()
	d.emitLocal(DeviceOpened, "")

	return nil
}

// Send serializes and transmits an envelope.
//
// If the socket is open, everything queued during a disconnected period
// is drained oldest-first before this message, guaranteeing in-order
// delivery despite the detour through the queue. If the socket is
// connecting, the message is queued and flushed on a later heartbeat
// tick. If the socket is down and reconnection is enabled, the message
// is queued and a reconnect is triggered; with reconnection disabled
// the send fails with ErrDisconnected.
func (d *Device) Send(msg *protocol.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return d.send(data)
}

func (d *Device) send(data []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	d.mu.Lock()
	switch d.state {
	case StateOpen:
		sock := d.sock
		queue := d.resendQueue
		d.resendQueue = nil
		d.mu.Unlock()

		for i, queued := range queue {
			if err := sock.WriteMessage(websocket.TextMessage, queued); err != nil {
				d.requeueFront(append(queue[i:], data))
				go d.handleSocketError(sock, err)
				return nil
			}
		}
		if err := sock.WriteMessage(websocket.TextMessage, data); err != nil {
			d.requeueFront([][]byte{data})
			go d.handleSocketError(sock, err)
		}
		return nil

	case StateConnecting:
		// Defer until open; the heartbeat tick flushes the queue.
		d.resendQueue = append(d.resendQueue, data)
		d.mu.Unlock()
		return nil

	default:
		if !d.opts.DisableReconnect && !d.takenOver && !d.closing {
			d.resendQueue = append(d.resendQueue, data)
			// Reconnecting needs a previously opened address; before the
			// first Open the queue simply waits for it.
			trigger := d.address != "" && !d.reconnecting
			if trigger {
				d.reconnecting = true
			}
			d.mu.Unlock()
			if trigger {
				go d.reconnectLoop()
			}
			return nil
		}
		sock := d.sock
		d.sock = nil
		d.state = StateClosed
		d.mu.Unlock()
		if sock != nil {
			sock.Close()
		}
		return ErrDisconnected
	}
}

// flushQueue drains the resend queue oldest-first while the socket is
// open. Unsent remainders go back to the front of the queue on error.
func (d *Device) flushQueue() {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	d.mu.Lock()
	if d.state != StateOpen || len(d.resendQueue) == 0 {
		d.mu.Unlock()
		return
	}
	sock := d.sock
	queue := d.resendQueue
	d.resendQueue = nil
	d.mu.Unlock()

	for i, queued := range queue {
		if err := sock.WriteMessage(websocket.TextMessage, queued); err != nil {
			d.requeueFront(queue[i:])
			go d.handleSocketError(sock, err)
			return
		}
	}
}

func (d *Device) requeueFront(items [][]byte) {
	d.mu.Lock()
	d.resendQueue = append(append([][]byte{}, items...), d.resendQueue...)
	d.mu.Unlock()
}

func (d *Device) readLoop(sock Socket) {
	log := d.log.Named("readLoop")

	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			log.Debug("Read loop exiting", zap.Error(err))
			d.handleSocketError(sock, err)
			return
		}
		d.receive(raw)
	}
}

// receive decodes one inbound frame, answers liveness probes, detects
// the exclusivity signals, and fans the message out to listeners.
func (d *Device) receive(raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		d.log.Warn("Discarding malformed terminal message", zap.Error(err))
		return
	}

	switch msg.Type {
	case protocol.Pong:
		d.mu.Lock()
		d.pongReceived = d.clock.Now()
		d.mu.Unlock()

	case protocol.Ping:
		// Peer-initiated liveness check.
		if pong, err := d.builder.BuildPong(); err == nil {
			_ = d.Send(pong)
		}
	}

	if msg.Method == protocol.Error {
		if code := msg.PayloadField("code").String(); code == codeConnectionDenied || code == codeConnectionStolen {
			d.mu.Lock()
			d.takenOver = true
			d.mu.Unlock()
			d.log.Error("Terminal session lost to another client", zap.String("code", code))
			d.emitLocal(DeviceError, "terminal session "+code)
		}
	}

	d.emitter.Emit(msg)
}

// handleSocketError reacts to a broken socket: clean shutdown when we
// were closing anyway, reconnection when allowed, a terminal error
// otherwise. Safe to call multiple times for the same socket; only the
// first call for the current socket acts.
func (d *Device) handleSocketError(sock Socket, err error) {
	d.mu.Lock()
	if d.sock != sock {
		// A newer connection already replaced this one.
		d.mu.Unlock()
		return
	}
	d.sock = nil
	d.stopHeartbeatLocked()

	if d.closing {
		d.state = StateClosed
		d.mu.Unlock()
		d.emitLocal(DeviceClosed, "")
		return
	}

	noRetry := d.opts.DisableReconnect || d.takenOver
	if noRetry {
		d.state = StateClosed
	} else {
		d.state = StateErroring
	}
	trigger := !noRetry && !d.reconnecting
	if trigger {
		d.reconnecting = true
	}
	d.mu.Unlock()

	sock.Close()

	if noRetry {
		d.emitLocal(ConnectionError, err.Error())
		d.emitLocal(DeviceClosed, "")
		return
	}

	d.log.Warn("Socket failed, will reconnect", zap.Error(err))
	d.emitLocal(DeviceClosed, "")
	if trigger {
		go d.reconnectLoop()
	}
}

// reconnectLoop retries with a fixed delay up to the bounded attempt
// count. Exceeding the bound surfaces a terminal device error; the
// resend queue's contents are reported as lost.
func (d *Device) reconnectLoop() {
	log := d.log.Named("reconnect")

	for {
		d.mu.Lock()
		if d.closing || d.takenOver {
			d.reconnecting = false
			d.mu.Unlock()
			return
		}
		d.reconnectAttempts++
		attempt := d.reconnectAttempts
		if attempt > d.opts.MaxReconnectAttempts {
			d.reconnecting = false
			d.reconnectAttempts = 0
			d.state = StateClosed
			lost := len(d.resendQueue)
			d.resendQueue = nil
			d.mu.Unlock()

			log.Error("Exceeded reconnect attempts, giving up",
				zap.Int("attempts", d.opts.MaxReconnectAttempts),
				zap.Int("lostMessages", lost))
			d.emitLocal(DeviceError, fmt.Sprintf(
				"gave up after %d reconnect attempts, %d queued messages lost",
				d.opts.MaxReconnectAttempts, lost))
			return
		}
		d.state = StateConnecting
		d.mu.Unlock()

		timer := d.clock.NewTimer(d.opts.ReconnectDelay)
		<-timer.C()

		// Close or a takeover may have landed during the delay.
		d.mu.Lock()
		if d.closing || d.takenOver {
			d.reconnecting = false
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()

		log.Info("Attempting reconnect", zap.Int("attempt", attempt))
		if err := d.connect(context.Background()); err != nil {
			log.Warn("Reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		return
	}
}

// heartbeat ticks at the ping interval: checks for pong silence,
// flushes anything deferred while connecting, then sends a new ping.
func (d *Device) heartbeat(stop chan struct{}) {
	ticker := d.clock.NewTicker(d.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			d.checkDeadConnection()
			d.flushQueue()
			d.ping()
		}
	}
}

// checkDeadConnection measures pong silence against the warn, error and
// shutdown thresholds. Warn and error emit events; the shutdown
// threshold force-closes the socket so a stuck session cannot linger
// indefinitely.
func (d *Device) checkDeadConnection() {
	d.mu.Lock()
	pingSent := d.pingSent
	pongReceived := d.pongReceived
	sock := d.sock
	d.mu.Unlock()

	if !pongReceived.Before(pingSent) {
		// A pong arrived since the last ping.
		return
	}

	lag := d.clock.Now().Sub(pongReceived)
	interval := d.opts.PingInterval

	switch {
	case lag >= time.Duration(d.opts.ShutdownMultiple)*interval:
		d.log.Error("Connection is dead, force closing", zap.Duration("silence", lag))
		if sock != nil {
			sock.Close()
		}
	case lag >= time.Duration(d.opts.ErrorMultiple)*interval:
		d.log.Error("Connection appears to be dead", zap.Duration("silence", lag))
		d.emitLocal(ConnectionError, fmt.Sprintf("no response in %s", lag))
	case lag >= time.Duration(d.opts.WarnMultiple)*interval:
		d.log.Warn("Connection is slow", zap.Duration("silence", lag))
		d.emitLocal(ConnectionWarning, fmt.Sprintf("no response in %s", lag))
	}
}

func (d *Device) ping() {
	d.mu.Lock()
	if d.state != StateOpen {
		d.mu.Unlock()
		return
	}
	d.pingSent = d.clock.Now()
	d.mu.Unlock()

	if msg, err := d.builder.BuildPing(); err == nil {
		_ = d.Send(msg)
	}
}

// Close is best-effort: it attempts to notify the terminal with a
// SHUTDOWN message, then always closes the underlying socket.
// Reconnection is suppressed for good.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.state == StateClosed || d.state == StateClosing {
		d.mu.Unlock()
		return nil
	}
	d.closing = true
	d.state = StateClosing
	d.stopHeartbeatLocked()
	sock := d.sock
	d.sock = nil
	d.resendQueue = nil
	d.mu.Unlock()

	var err error
	if sock != nil {
		if msg, berr := d.builder.BuildShutdown(); berr == nil {
			if raw, eerr := msg.Encode(); eerr == nil {
				d.writeMu.Lock()
				if werr := sock.WriteMessage(websocket.TextMessage, raw); werr != nil {
					err = multierr.Append(err, fmt.Errorf("failed to notify terminal of shutdown: %w", werr))
				}
				d.writeMu.Unlock()
			}
		}
		if cerr := sock.Close(); cerr != nil {
			err = multierr.Append(err, cerr)
		}
	}

	d.setState(StateClosed)
	d.emitLocal(DeviceClosed, "")

	return err
}

func (d *Device) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *Device) stopHeartbeatLocked() {
	if d.heartbeatStop != nil {
		close(d.heartbeatStop)
		d.heartbeatStop = nil
	}
}

func (d *Device) emitLocal(method protocol.Method, detail string) {
	msg := &protocol.Message{
		Method:      method,
		Type:        protocol.Event,
		PackageName: d.builder.PackageName(),
	}
	if detail != "" {
		msg.Payload = fmt.Sprintf(`{"message":%q}`, detail)
	}
	d.emitter.Emit(msg)
}
