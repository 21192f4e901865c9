package protocol

// MessageType classifies an envelope. Everything the client initiates
// is a COMMAND; the terminal's asynchronous notifications are EVENTs.
type MessageType string

const (
	Command MessageType = "COMMAND"
	Query   MessageType = "QUERY"
	Event   MessageType = "EVENT"
	Ping    MessageType = "PING"
	Pong    MessageType = "PONG"
)

// Method identifies what an envelope means. The set is closed per
// terminal firmware release but Decode accepts unknown values so newer
// terminals do not break older clients.
type Method string

// Transaction lifecycle.
const (
	TxStart                Method = "TX_START"
	FinishOk               Method = "FINISH_OK"
	FinishCancel           Method = "FINISH_CANCEL"
	VerifySignature        Method = "VERIFY_SIGNATURE"
	SignatureVerified      Method = "SIGNATURE_VERIFIED"
	TipAdded               Method = "TIP_ADDED"
	VoidPayment            Method = "VOID_PAYMENT"
	PaymentVoided          Method = "PAYMENT_VOIDED"
	RefundRequest          Method = "REFUND_REQUEST"
	RefundResponse         Method = "REFUND_RESPONSE"
	CapturePreauth         Method = "CAPTURE_PREAUTH"
	CapturePreauthResponse Method = "CAPTURE_PREAUTH_RESPONSE"
	TipAdjust              Method = "TIP_ADJUST"
	TipAdjustResponse      Method = "TIP_ADJUST_RESPONSE"
	VaultCard              Method = "VAULT_CARD"
	VaultCardResponse      Method = "VAULT_CARD_RESPONSE"
	CloseoutRequest        Method = "CLOSEOUT_REQUEST"
	CloseoutResponse       Method = "CLOSEOUT_RESPONSE"
)

// Device and session control.
const (
	DiscoveryRequest  Method = "DISCOVERY_REQUEST"
	DiscoveryResponse Method = "DISCOVERY_RESPONSE"
	Shutdown          Method = "SHUTDOWN"
	KeyPress          Method = "KEY_PRESS"
	UIState           Method = "UI_STATE"
	TxState           Method = "TX_STATE"
	Break             Method = "BREAK"
	Ack               Method = "ACK"
	Error             Method = "ERROR"
)

// Printing and display.
const (
	PrintText                 Method = "PRINT_TEXT"
	PrintImage                Method = "PRINT_IMAGE"
	PrintPayment              Method = "PRINT_PAYMENT"
	PrintPaymentMerchantCopy  Method = "PRINT_PAYMENT_MERCHANT_COPY"
	PrintPaymentDecline       Method = "PRINT_PAYMENT_DECLINE"
	PrintCredit               Method = "PRINT_CREDIT"
	PrintCreditDecline        Method = "PRINT_CREDIT_DECLINE"
	TerminalMessage           Method = "TERMINAL_MESSAGE"
	ShowWelcomeScreen         Method = "SHOW_WELCOME_SCREEN"
	ShowThankYouScreen        Method = "SHOW_THANK_YOU_SCREEN"
	ShowReceiptScreen         Method = "SHOW_RECEIPT_SCREEN"
	ShowOrderScreen           Method = "SHOW_ORDER_SCREEN"
	ShowPaymentReceiptOptions Method = "SHOW_PAYMENT_RECEIPT_OPTIONS"
	OpenCashDrawer            Method = "OPEN_CASH_DRAWER"
	LastMessageRequest        Method = "LAST_MSG_REQUEST"
	LastMessageResponse       Method = "LAST_MSG_RESPONSE"
)

// Protocol dialects. PackageLAN is spoken to a terminal on the local
// network, PackageWebsocket to one reached through the cloud relay.
const (
	PackageLAN       = "com.paylink.protocol.lan"
	PackageWebsocket = "com.paylink.protocol.websocket"
)
