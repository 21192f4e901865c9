package client

import "encoding/json"

// Card entry methods the terminal may offer, combinable as a bitmask.
const (
	CardEntryMagStripe      = 1
	CardEntryICCContact     = 2
	CardEntryNFCContactless = 4
	CardEntryManual         = 8
	CardEntryAll            = CardEntryMagStripe | CardEntryICCContact | CardEntryNFCContactless | CardEntryManual
)

// Transaction type tags carried inside a pay intent.
const (
	txTypePayment = "PAYMENT"
	txTypeCredit  = "CREDIT"
)

const startTransactionAction = "com.paylink.terminal.action.START_TRANSACTION"

// SaleRequest describes one sale. Amounts are integer cents.
type SaleRequest struct {
	// Amount to charge. Must be a non-negative integer.
	Amount int64

	// TipAmount is added on top of Amount. Zero means no tip.
	TipAmount int64

	// TaxAmount is informational for the receipt.
	TaxAmount int64

	// EmployeeID attributes the sale on the terminal, optional.
	EmployeeID string

	// CorrelationID lets the caller supply their own tracking id. At
	// most 32 characters; one is generated when empty.
	CorrelationID string

	// CardEntryMethods restricts how the card may be presented.
	// Defaults to CardEntryAll.
	CardEntryMethods int

	// ManualSignatureVerification opts this operation out of automatic
	// signature acceptance. The raw VERIFY_SIGNATURE event still
	// reaches any listener the caller registered.
	ManualSignatureVerification bool
}

// RefundRequest describes a manual refund (a credit). The amount is
// given positive by the caller and negated on the wire.
type RefundRequest struct {
	Amount           int64
	TaxAmount        int64
	EmployeeID       string
	CorrelationID    string
	CardEntryMethods int
}

// PaymentRefundRequest targets a previously completed payment.
type PaymentRefundRequest struct {
	OrderID   string
	PaymentID string

	// Amount in cents; zero refunds the full payment.
	Amount int64
}

// payIntent is the operation template transmitted inside TX_START.
type payIntent struct {
	Action           string `json:"action"`
	TransactionType  string `json:"transactionType"`
	Amount           int64  `json:"amount"`
	TipAmount        int64  `json:"tipAmount,omitempty"`
	TaxAmount        int64  `json:"taxAmount,omitempty"`
	EmployeeID       string `json:"employeeId,omitempty"`
	ExternalID       string `json:"externalPaymentId"`
	TransactionNo    int    `json:"transactionNo"`
	CardEntryMethods int    `json:"cardEntryMethods"`
	RemotePrint      bool   `json:"remotePrint,omitempty"`
	AutoRestart      bool   `json:"autoRestartOnFail,omitempty"`
}

// Payment is the terminal's record of a completed sale.
type Payment struct {
	ID         string          `json:"id"`
	ExternalID string          `json:"externalPaymentId"`
	Amount     int64           `json:"amount"`
	TipAmount  int64           `json:"tipAmount"`
	Order      *Reference      `json:"order,omitempty"`
	Result     string          `json:"result,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

// Credit is the terminal's record of a completed manual refund.
type Credit struct {
	ID     string          `json:"id"`
	Amount int64           `json:"amount"`
	Order  *Reference      `json:"order,omitempty"`
	Raw    json.RawMessage `json:"-"`
}

// Refund is the terminal's record of a payment refund.
type Refund struct {
	ID      string          `json:"id"`
	Amount  int64           `json:"amount"`
	Payment *Reference      `json:"payment,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// Reference is a bare id pointing at another record.
type Reference struct {
	ID string `json:"id"`
}

// Signature is a captured customer signature as pen strokes.
type Signature struct {
	Strokes []Stroke `json:"strokes"`
}

type Stroke struct {
	Points []Point `json:"points"`
}

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Result codes.
const (
	ResultSuccess = "SUCCESS"
	ResultCancel  = "CANCEL"
	ResultError   = "ERROR"
)

// Result is delivered to a transaction's completion callback. Exactly
// one of Payment, Credit or Refund is set on success, matching the
// operation that produced it.
type Result struct {
	Code string

	// CorrelationID echoes the id returned synchronously by the facade.
	CorrelationID string

	// Request echoes the caller's original request.
	Request interface{}

	Payment *Payment
	Credit  *Credit
	Refund  *Refund

	// Signature holds the captured signature when the terminal asked
	// for verification during this operation.
	Signature *Signature
}

// Completion receives the outcome of an asynchronous operation. Result
// may be non-nil even when err is, notably for terminal-side
// cancellation which carries a best-effort result alongside a
// Canceled error.
type Completion func(err error, result *Result)
