package client

import (
	"context"
	"errors"
	"image"

	"go.uber.org/zap"

	"github.com/luma/paylink/protocol"
	"github.com/luma/paylink/storage"
	"github.com/luma/paylink/transport"
)

// Options configures a Client.
type Options struct {
	// Config locates the terminal, either directly or through the
	// cloud. Required.
	Config *Configuration

	// ManualSignatureVerification disables automatic signature
	// acceptance for every operation. Individual requests can also opt
	// out on their own.
	ManualSignatureVerification bool

	// AutoRestartOnFail asks the terminal to restart a failed
	// transaction instead of returning to idle.
	AutoRestartOnFail bool

	// RemotePrint routes receipt printing back to this client instead
	// of the terminal's own printer.
	RemotePrint bool

	// Store persists resolved configurations. Optional; nothing is
	// persisted without one.
	Store storage.Store

	// Transport carries connection tuning. ClientID defaults to the
	// configuration's FriendlyID; Builder and Log are filled in here.
	Transport transport.Options

	Log *zap.Logger
}

// Client is the caller-facing facade. It owns the device connection,
// the discovery handshake and the roster of in-flight operations, and
// maps every public operation onto the transaction lifecycle or the
// ACK sub-protocol.
type Client struct {
	opts      Options
	cfg       *Configuration
	dev       *transport.Device
	handshake *transport.Handshake
	endpoints *Endpoints
	store     storage.Store
	log       *zap.Logger
}

func New(opts Options) (*Client, error) {
	if opts.Config == nil {
		return nil, newError(IncompleteConfiguration, "a configuration is required")
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	log := opts.Log.Named("client")

	topts := opts.Transport
	if topts.ClientID == "" {
		topts.ClientID = opts.Config.FriendlyID
	}
	if topts.Log == nil {
		topts.Log = opts.Log
	}

	// Cloud-resolved connections speak the relay dialect.
	if topts.Builder == nil && opts.Config.DeviceAddress == "" {
		topts.Builder = protocol.NewBuilder(protocol.PackageWebsocket)
	}

	dev := transport.NewDevice(topts)

	return &Client{
		opts:      opts,
		cfg:       opts.Config,
		dev:       dev,
		handshake: transport.NewHandshake(dev),
		endpoints: NewEndpoints(opts.Log),
		store:     opts.Store,
		log:       log,
	}, nil
}

// Device exposes the underlying connection for raw event listeners.
func (c *Client) Device() *transport.Device {
	return c.dev
}

// Connect resolves the terminal address, opens the connection and
// blocks until the terminal answers discovery.
func (c *Client) Connect(ctx context.Context) error {
	address, err := c.endpoints.ResolveAddress(ctx, c.cfg)
	if err != nil {
		return err
	}

	c.persistConfig(ctx)

	if err := c.dev.Open(ctx, address); err != nil {
		return wrapError(CommunicationError, err, "failed to open terminal connection")
	}

	if err := c.handshake.WaitReady(ctx); err != nil {
		if errors.Is(err, transport.ErrDiscoveryTimeout) {
			return wrapError(DiscoveryTimeout, err, "terminal never acknowledged")
		}
		return err
	}

	c.log.Info("Terminal ready")

	return nil
}

// persistConfig saves the resolved configuration for next time. The
// volatile websocket address never goes to disk.
func (c *Client) persistConfig(ctx context.Context) {
	if c.store == nil || c.cfg.Name == "" {
		return
	}

	err := c.store.Save(ctx, &storage.DeviceConfig{
		Name:         c.cfg.Name,
		AccessToken:  c.cfg.AccessToken,
		Domain:       c.cfg.Domain,
		MerchantID:   c.cfg.MerchantID,
		DeviceID:     c.cfg.DeviceID,
		DeviceSerial: c.cfg.DeviceSerial,
		FriendlyID:   c.cfg.FriendlyID,
	})
	if err != nil {
		c.log.Warn("Failed to persist configuration", zap.Error(err))
	}
}

// Ready reports whether the socket is open AND the terminal has
// answered discovery. Operations issued before readiness are queued by
// the transport but the terminal will not act on them.
func (c *Client) Ready() bool {
	return c.dev.IsOpen() && c.handshake.Acknowledged()
}

// Sale charges the customer. The returned correlation id identifies
// the operation before its asynchronous result arrives; complete fires
// exactly once with that result. Validation failures are reported both
// through complete and the returned error, and transmit nothing.
func (c *Client) Sale(req *SaleRequest, complete Completion) (string, error) {
	if err := validateSale(req); err != nil {
		if complete != nil {
			complete(err, nil)
		}
		return "", err
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = protocol.NewID()
	}

	intent := &payIntent{
		Action:           startTransactionAction,
		TransactionType:  txTypePayment,
		Amount:           req.Amount,
		TipAmount:        req.TipAmount,
		TaxAmount:        req.TaxAmount,
		EmployeeID:       req.EmployeeID,
		ExternalID:       correlationID,
		TransactionNo:    protocol.NewTransactionNumber(),
		CardEntryMethods: cardEntryOrDefault(req.CardEntryMethods),
		RemotePrint:      c.opts.RemotePrint,
		AutoRestart:      c.opts.AutoRestartOnFail,
	}

	msg, err := c.dev.Builder().BuildTxStart(intent)
	if err != nil {
		if complete != nil {
			complete(err, nil)
		}
		return "", err
	}

	autoSign := !c.opts.ManualSignatureVerification && !req.ManualSignatureVerification
	startTransaction(c.dev, c.log, msg, correlationID, req, "payment", autoSign, complete)

	return correlationID, nil
}

// Refund credits the customer, a manual refund untied to any previous
// payment. The caller gives a positive amount; the wire carries it
// negated.
func (c *Client) Refund(req *RefundRequest, complete Completion) (string, error) {
	if err := validateRefund(req); err != nil {
		if complete != nil {
			complete(err, nil)
		}
		return "", err
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = protocol.NewID()
	}

	intent := &payIntent{
		Action:           startTransactionAction,
		TransactionType:  txTypeCredit,
		Amount:           -req.Amount,
		TaxAmount:        req.TaxAmount,
		EmployeeID:       req.EmployeeID,
		ExternalID:       correlationID,
		TransactionNo:    protocol.NewTransactionNumber(),
		CardEntryMethods: cardEntryOrDefault(req.CardEntryMethods),
		RemotePrint:      c.opts.RemotePrint,
		AutoRestart:      c.opts.AutoRestartOnFail,
	}

	msg, err := c.dev.Builder().BuildTxStart(intent)
	if err != nil {
		if complete != nil {
			complete(err, nil)
		}
		return "", err
	}

	autoSign := !c.opts.ManualSignatureVerification
	startTransaction(c.dev, c.log, msg, correlationID, req, "credit", autoSign, complete)

	return correlationID, nil
}

// VoidTransaction voids a completed payment on the terminal. Resolved
// by ACK.
func (c *Client) VoidTransaction(payment *Payment, reason string, complete Completion) error {
	if payment == nil || len(payment.Raw) == 0 {
		err := newError(InvalidData, "a payment record is required to void")
		if complete != nil {
			complete(err, nil)
		}
		return err
	}

	msg, err := c.dev.Builder().BuildPaymentVoid(payment.Raw, reason)
	if err != nil {
		return err
	}
	return sendWithAck(c.dev, msg, protocol.NewID(), complete)
}

// RefundPayment refunds a specific previous payment, fully or
// partially. Unlike Refund this round-trips through the terminal's
// refund flow and resolves on REFUND_RESPONSE.
func (c *Client) RefundPayment(req *PaymentRefundRequest, complete Completion) error {
	if err := validatePaymentRefund(req); err != nil {
		if complete != nil {
			complete(err, nil)
		}
		return err
	}

	msg, err := c.dev.Builder().BuildRefundRequest(req.OrderID, req.PaymentID, req.Amount)
	if err != nil {
		return err
	}

	startPaymentRefund(c.dev, msg, req, complete)

	return nil
}

// Print sends lines of text to the terminal's printer. Resolved by ACK.
func (c *Client) Print(lines []string, complete Completion) error {
	if len(lines) == 0 {
		err := newError(InvalidData, "nothing to print")
		if complete != nil {
			complete(err, nil)
		}
		return err
	}

	msg, err := c.dev.Builder().BuildPrintText(lines)
	if err != nil {
		return err
	}
	return sendWithAck(c.dev, msg, protocol.NewID(), complete)
}

// PrintImage prints an image on the terminal's printer. Resolved by
// ACK.
func (c *Client) PrintImage(img image.Image, complete Completion) error {
	encoded, err := EncodeImage(img)
	if err != nil {
		if complete != nil {
			complete(err, nil)
		}
		return err
	}

	msg, err := c.dev.Builder().BuildPrintImage(encoded)
	if err != nil {
		return err
	}
	return sendWithAck(c.dev, msg, protocol.NewID(), complete)
}

// PrintReceipt brings up the terminal's receipt options screen for a
// completed payment. Resolved by ACK.
func (c *Client) PrintReceipt(orderID, paymentID string, complete Completion) error {
	if orderID == "" || paymentID == "" {
		err := newError(InvalidData, "order id and payment id are required")
		if complete != nil {
			complete(err, nil)
		}
		return err
	}

	msg, err := c.dev.Builder().BuildShowPaymentReceiptOptions(orderID, paymentID)
	if err != nil {
		return err
	}
	return sendWithAck(c.dev, msg, protocol.NewID(), complete)
}

// OpenCashDrawer pops the drawer attached to the terminal. Resolved by
// ACK.
func (c *Client) OpenCashDrawer(reason string, complete Completion) error {
	msg, err := c.dev.Builder().BuildOpenCashDrawer(reason)
	if err != nil {
		return err
	}
	return sendWithAck(c.dev, msg, protocol.NewID(), complete)
}

// SendCancel presses escape on the terminal, backing out of whatever
// screen it is on. Resolved by ACK.
func (c *Client) SendCancel(complete Completion) error {
	msg, err := c.dev.Builder().BuildKeyPress("ESC")
	if err != nil {
		return err
	}
	return sendWithAck(c.dev, msg, protocol.NewID(), complete)
}

// DisplayMessage shows a message on the terminal's screen.
func (c *Client) DisplayMessage(text string) error {
	msg, err := c.dev.Builder().BuildTerminalMessage(text)
	if err != nil {
		return err
	}
	return c.dev.Send(msg)
}

// ShowWelcomeScreen returns the terminal to its idle display.
func (c *Client) ShowWelcomeScreen() error {
	msg, err := c.dev.Builder().BuildShowWelcomeScreen()
	if err != nil {
		return err
	}
	return c.dev.Send(msg)
}

// ShowThankYouScreen shows the post-transaction thank you display.
func (c *Client) ShowThankYouScreen() error {
	msg, err := c.dev.Builder().BuildShowThankYouScreen()
	if err != nil {
		return err
	}
	return c.dev.Send(msg)
}

// ShowReceiptScreen shows the receipt display for the last
// transaction.
func (c *Client) ShowReceiptScreen() error {
	msg, err := c.dev.Builder().BuildShowReceiptScreen()
	if err != nil {
		return err
	}
	return c.dev.Send(msg)
}

// DisplayOrder mirrors an order summary onto the terminal's screen.
func (c *Client) DisplayOrder(order interface{}) error {
	msg, err := c.dev.Builder().BuildShowOrderScreen(order)
	if err != nil {
		return err
	}
	return c.dev.Send(msg)
}

// Closeout is not supported yet.
func (c *Client) Closeout(complete Completion) error {
	return c.notImplemented("closeout", complete)
}

// VaultCard is not supported yet.
func (c *Client) VaultCard(complete Completion) error {
	return c.notImplemented("vault card", complete)
}

// CapturePreauth is not supported yet.
func (c *Client) CapturePreauth(complete Completion) error {
	return c.notImplemented("capture preauth", complete)
}

// TipAdjust is not supported yet.
func (c *Client) TipAdjust(complete Completion) error {
	return c.notImplemented("tip adjust", complete)
}

func (c *Client) notImplemented(op string, complete Completion) error {
	err := newError(NotImplemented, "%s is not supported by this client", op)
	if complete != nil {
		complete(err, nil)
	}
	return err
}

// Close shuts the connection down. Safe to call repeatedly.
func (c *Client) Close() error {
	return c.dev.Close()
}

func cardEntryOrDefault(methods int) int {
	if methods == 0 {
		return CardEntryAll
	}
	return methods
}
