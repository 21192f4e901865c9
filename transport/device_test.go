package transport_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/paylink/protocol"
	"github.com/luma/paylink/transport"
)

// eventCounter records local connection events for assertions.
type eventCounter struct {
	mu     sync.Mutex
	counts map[protocol.Method]int
}

func newEventCounter(dev *transport.Device, methods ...protocol.Method) *eventCounter {
	c := &eventCounter{counts: map[protocol.Method]int{}}
	for _, method := range methods {
		method := method
		dev.On(method, func(*protocol.Message) {
			c.mu.Lock()
			c.counts[method]++
			c.mu.Unlock()
		})
	}
	return c
}

func (c *eventCounter) count(method protocol.Method) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[method]
}

var _ = Describe("Device", func() {
	const (
		address      = "ws://terminal.local:12345/remote_pay"
		pingInterval = transport.DefaultPingInterval
		retryDelay   = transport.DefaultReconnectDelay
	)

	var (
		clk    *fakeClock
		sock   *fakeSocket
		dialer *fakeDialer
		dev    *transport.Device
	)

	BeforeEach(func() {
		clk = newFakeClock()
		sock = newFakeSocket()
		dialer = newFakeDialer(sock)
		dev = makeDevice(clk, dialer)
	})

	AfterEach(func() {
		dev.Close()
	})

	command := func(method protocol.Method) *protocol.Message {
		msg, err := dev.Builder().Build(method, protocol.Command, nil, "")
		Expect(err).To(Succeed())
		return msg
	}

	Describe("Open", func() {
		It("dials the address decorated with the client identity", func() {
			Expect(dev.Open(context.Background(), address)).To(Succeed())

			Expect(dev.IsOpen()).To(BeTrue())
			Expect(dialer.dialCount()).To(Equal(1))
		})

		It("is idempotent while the connection is up", func() {
			Expect(dev.Open(context.Background(), address)).To(Succeed())
			Expect(dev.Open(context.Background(), address)).To(Succeed())

			Expect(dialer.dialCount()).To(Equal(1))
		})

		It("emits DEVICE_OPENED once connected", func() {
			counter := newEventCounter(dev, transport.DeviceOpened)

			Expect(dev.Open(context.Background(), address)).To(Succeed())

			Eventually(func() int { return counter.count(transport.DeviceOpened) }).Should(Equal(1))
		})

		It("fails when the dial fails", func() {
			empty := newFakeDialer()
			dev := makeDevice(clk, empty)

			Expect(dev.Open(context.Background(), address)).NotTo(Succeed())
			Expect(dev.IsOpen()).To(BeFalse())
		})
	})

	Describe("liveness", func() {
		BeforeEach(func() {
			Expect(dev.Open(context.Background(), address)).To(Succeed())
			// The heartbeat starts on its own goroutine; wait for its
			// ticker before driving the clock.
			Eventually(clk.tickerCount).Should(BeNumerically(">=", 1))
		})

		It("pings on every heartbeat interval", func() {
			clk.Advance(pingInterval)
			Eventually(sock.writtenMethods).Should(ContainElement("PING"))
		})

		It("answers a terminal PING with a PONG", func() {
			sock.deliver(&protocol.Message{Type: protocol.Ping})

			Eventually(sock.writtenMethods).Should(ContainElement("PONG"))
		})

		It("escalates from warning to error as pong silence grows", func() {
			counter := newEventCounter(dev, transport.ConnectionWarning, transport.ConnectionError)

			pings := func() int {
				n := 0
				for _, m := range sock.writtenMethods() {
					if m == "PING" {
						n++
					}
				}
				return n
			}

			// First tick sends the first ping; no silence measured yet.
			clk.Advance(pingInterval)
			Eventually(pings).Should(Equal(1))
			Expect(counter.count(transport.ConnectionWarning)).To(Equal(0))

			// Two intervals of silence crosses the warn threshold.
			clk.Advance(pingInterval)
			Eventually(pings).Should(Equal(2))
			Eventually(func() int { return counter.count(transport.ConnectionWarning) }).Should(Equal(1))
			Expect(counter.count(transport.ConnectionError)).To(Equal(0))

			clk.Advance(pingInterval)
			Eventually(pings).Should(Equal(3))
			Eventually(func() int { return counter.count(transport.ConnectionWarning) }).Should(Equal(2))

			// Four intervals of silence crosses the error threshold.
			clk.Advance(pingInterval)
			Eventually(pings).Should(Equal(4))
			Eventually(func() int { return counter.count(transport.ConnectionError) }).Should(Equal(1))
			Expect(counter.count(transport.ConnectionWarning)).To(Equal(2))
		})

		It("stops escalating once a pong arrives", func() {
			counter := newEventCounter(dev, transport.ConnectionWarning)

			ponged := make(chan struct{}, 1)
			dev.On(transport.AllMessages, func(msg *protocol.Message) {
				if msg.Type == protocol.Pong {
					ponged <- struct{}{}
				}
			})

			clk.Advance(pingInterval)
			Eventually(sock.writtenMethods).Should(ContainElement("PING"))

			sock.deliver(&protocol.Message{Type: protocol.Pong})
			Eventually(ponged).Should(Receive())

			clk.Advance(pingInterval)
			Consistently(func() int { return counter.count(transport.ConnectionWarning) }).Should(Equal(0))
		})
	})

	Describe("Send", func() {
		It("queues messages sent before the connection opens and flushes them in order", func() {
			Expect(dev.Send(command(protocol.ShowWelcomeScreen))).To(Succeed())
			Expect(dev.Send(command(protocol.TerminalMessage))).To(Succeed())

			Expect(dev.Open(context.Background(), address)).To(Succeed())

			Eventually(sock.writtenMethods).Should(Equal([]string{
				"SHOW_WELCOME_SCREEN",
				"TERMINAL_MESSAGE",
			}))
		})

		It("requeues on write failure and resends in order after reconnecting", func() {
			next := newFakeSocket()
			dialer = newFakeDialer(sock, next)
			dev = makeDevice(clk, dialer)

			Expect(dev.Open(context.Background(), address)).To(Succeed())

			sock.breakWrites()
			Expect(dev.Send(command(protocol.ShowWelcomeScreen))).To(Succeed())
			Eventually(dev.IsOpen).Should(BeFalse())

			Expect(dev.Send(command(protocol.TerminalMessage))).To(Succeed())
			Expect(dev.Send(command(protocol.OpenCashDrawer))).To(Succeed())

			Eventually(func() int {
				clk.Advance(retryDelay)
				return dialer.dialCount()
			}).Should(Equal(2))

			expected := []string{"SHOW_WELCOME_SCREEN", "TERMINAL_MESSAGE", "OPEN_CASH_DRAWER"}
			Eventually(func() []string {
				methods := next.writtenMethods()
				if len(methods) > len(expected) {
					methods = methods[:len(expected)]
				}
				return methods
			}).Should(Equal(expected))
		})

		It("fails fast when reconnection is disabled", func() {
			dev = makeDevice(clk, newFakeDialer(sock), func(o *transport.Options) {
				o.DisableReconnect = true
			})

			Expect(dev.Open(context.Background(), address)).To(Succeed())
			sock.Close()
			Eventually(dev.IsOpen).Should(BeFalse())

			Expect(dev.Send(command(protocol.TerminalMessage))).To(MatchError(transport.ErrDisconnected))
		})
	})

	Describe("reconnection", func() {
		It("redials after the socket drops", func() {
			next := newFakeSocket()
			dialer = newFakeDialer(sock, next)
			dev = makeDevice(clk, dialer)
			counter := newEventCounter(dev, transport.DeviceOpened, transport.DeviceClosed)

			Expect(dev.Open(context.Background(), address)).To(Succeed())
			sock.Close()

			Eventually(func() int { return counter.count(transport.DeviceClosed) }).Should(Equal(1))
			Eventually(func() int {
				clk.Advance(retryDelay)
				return dialer.dialCount()
			}).Should(Equal(2))

			Eventually(dev.IsOpen).Should(BeTrue())
			Eventually(func() int { return counter.count(transport.DeviceOpened) }).Should(Equal(2))
		})

		It("gives up with a device error after exhausting its attempts", func() {
			counter := newEventCounter(dev, transport.DeviceError)

			Expect(dev.Open(context.Background(), address)).To(Succeed())
			sock.Close()

			Eventually(func() int {
				clk.Advance(retryDelay)
				return counter.count(transport.DeviceError)
			}, 10*time.Second).Should(Equal(1))

			// The first dial succeeded, then every bounded retry failed.
			Expect(dialer.dialCount()).To(Equal(1 + transport.DefaultMaxReconnectAttempts))
			Expect(dev.State()).To(Equal(transport.StateClosed))

			clk.Advance(retryDelay)
			Consistently(dialer.dialCount).Should(Equal(1 + transport.DefaultMaxReconnectAttempts))
		})

		It("does not reconnect after the session is stolen", func() {
			counter := newEventCounter(dev, transport.DeviceError)

			Expect(dev.Open(context.Background(), address)).To(Succeed())

			sock.deliver(&protocol.Message{
				Method:  protocol.Error,
				Type:    protocol.Event,
				Payload: `{"method":"ERROR","code":"CONNECTION_STOLEN"}`,
			})
			Eventually(func() int { return counter.count(transport.DeviceError) }).Should(Equal(1))

			sock.Close()
			Eventually(func() transport.State { return dev.State() }).Should(Equal(transport.StateClosed))

			clk.Advance(retryDelay)
			Consistently(dialer.dialCount).Should(Equal(1))
		})

		It("does not reconnect when the session is denied outright", func() {
			counter := newEventCounter(dev, transport.DeviceError)

			Expect(dev.Open(context.Background(), address)).To(Succeed())

			sock.deliver(&protocol.Message{
				Method:  protocol.Error,
				Type:    protocol.Event,
				Payload: `{"method":"ERROR","code":"CONNECTION_DENIED"}`,
			})
			Eventually(func() int { return counter.count(transport.DeviceError) }).Should(Equal(1))

			sock.Close()
			clk.Advance(retryDelay)
			Consistently(dialer.dialCount).Should(Equal(1))
		})
	})

	Describe("Close", func() {
		It("notifies the terminal with SHUTDOWN before closing the socket", func() {
			counter := newEventCounter(dev, transport.DeviceClosed)

			Expect(dev.Open(context.Background(), address)).To(Succeed())
			Expect(dev.Close()).To(Succeed())

			Expect(sock.writtenMethods()).To(ContainElement("SHUTDOWN"))
			Expect(dev.State()).To(Equal(transport.StateClosed))
			Eventually(func() int { return counter.count(transport.DeviceClosed) }).Should(Equal(1))
		})

		It("is idempotent", func() {
			Expect(dev.Open(context.Background(), address)).To(Succeed())
			Expect(dev.Close()).To(Succeed())
			Expect(dev.Close()).To(Succeed())
		})

		It("does not reconnect afterwards", func() {
			Expect(dev.Open(context.Background(), address)).To(Succeed())
			Expect(dev.Close()).To(Succeed())

			clk.Advance(retryDelay)
			Consistently(dialer.dialCount).Should(Equal(1))
		})

		It("does not reconnect when closed during the retry delay", func() {
			next := newFakeSocket()
			dialer = newFakeDialer(sock, next)
			dev = makeDevice(clk, dialer)

			Expect(dev.Open(context.Background(), address)).To(Succeed())
			sock.Close()

			// Wait for the retry loop to park on its delay timer.
			Eventually(clk.timerCount).Should(Equal(1))

			Expect(dev.Close()).To(Succeed())
			Expect(dev.State()).To(Equal(transport.StateClosed))

			clk.Advance(retryDelay)
			Consistently(dialer.dialCount).Should(Equal(1))
			Expect(dev.State()).To(Equal(transport.StateClosed))
		})
	})
})
