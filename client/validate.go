package client

import (
	"github.com/asaskevich/govalidator"

	"github.com/luma/paylink/protocol"
)

// validateAmount enforces the non-negative integer-cents contract.
func validateAmount(amount int64) error {
	if amount < 0 {
		return newError(InvalidData, "amount must be a non-negative integer, got %d", amount)
	}
	return nil
}

func validateTip(tip int64) error {
	if tip < 0 {
		return newError(InvalidData, "tip amount must be a non-negative integer, got %d", tip)
	}
	return nil
}

// validateCorrelationID checks a caller-supplied id. Empty is fine,
// one will be generated.
func validateCorrelationID(id string) error {
	if id == "" {
		return nil
	}
	if len(id) > protocol.IDLengthLimit {
		return newError(InvalidData, "correlation id exceeds %d characters", protocol.IDLengthLimit)
	}
	if !govalidator.IsPrintableASCII(id) {
		return newError(InvalidData, "correlation id must be printable ASCII")
	}
	return nil
}

func validateSale(req *SaleRequest) error {
	if req == nil {
		return newError(InvalidData, "sale request is required")
	}
	if err := validateAmount(req.Amount); err != nil {
		return err
	}
	if err := validateTip(req.TipAmount); err != nil {
		return err
	}
	return validateCorrelationID(req.CorrelationID)
}

func validateRefund(req *RefundRequest) error {
	if req == nil {
		return newError(InvalidData, "refund request is required")
	}
	if err := validateAmount(req.Amount); err != nil {
		return err
	}
	return validateCorrelationID(req.CorrelationID)
}

func validatePaymentRefund(req *PaymentRefundRequest) error {
	if req == nil {
		return newError(InvalidData, "refund request is required")
	}
	if req.OrderID == "" || req.PaymentID == "" {
		return newError(InvalidData, "order id and payment id are required")
	}
	return validateAmount(req.Amount)
}
