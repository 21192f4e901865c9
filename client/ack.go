package client

import (
	"sync"

	"github.com/luma/paylink/protocol"
	"github.com/luma/paylink/transport"
)

// ackWaiter resolves a fire-and-acknowledge operation: the outbound
// envelope carries a correlation id, and the terminal echoes it back on
// an ACK message. This is the light lifecycle used by void, print,
// cash drawer and cancel operations; no signature step, no multi-branch
// resolution.
type ackWaiter struct {
	dev           device
	correlationID string
	complete      Completion

	resolveOnce sync.Once

	mu        sync.Mutex
	listeners []*transport.Listener
}

// sendWithAck transmits msg with the given correlation id attached and
// arranges for complete to fire when the matching ACK arrives. A
// terminal device error resolves the wait as a failure so the callback
// is never stranded.
func sendWithAck(dev device, msg *protocol.Message, correlationID string, complete Completion) error {
	w := &ackWaiter{
		dev:           dev,
		correlationID: correlationID,
		complete:      complete,
	}

	w.mu.Lock()
	w.listeners = []*transport.Listener{
		dev.On(protocol.Ack, w.onAck),
		dev.Once(transport.DeviceError, w.onDeviceError),
		dev.Once(transport.ConnectionError, w.onDeviceError),
	}
	w.mu.Unlock()

	if err := dev.Send(msg.WithID(correlationID)); err != nil {
		w.resolve(wrapError(CommunicationError, err, "failed to send %s", msg.Method), nil)
		return err
	}
	return nil
}

// onAck ignores acknowledgements belonging to other in-flight
// operations; each waiter only ever resolves its own id.
func (w *ackWaiter) onAck(msg *protocol.Message) {
	if msg.ID != w.correlationID {
		return
	}
	w.resolve(nil, &Result{Code: ResultSuccess, CorrelationID: w.correlationID})
}

func (w *ackWaiter) onDeviceError(*protocol.Message) {
	w.resolve(newError(DeviceError, "connection lost before acknowledgement"), nil)
}

func (w *ackWaiter) resolve(err error, result *Result) {
	w.resolveOnce.Do(func() {
		w.mu.Lock()
		listeners := w.listeners
		w.listeners = nil
		w.mu.Unlock()

		w.dev.RemoveListeners(listeners)

		if w.complete != nil {
			w.complete(err, result)
		}
	})
}
