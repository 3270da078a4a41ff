package ledger

import "strings"

// PaymentMethod is the closed set of tender categories a sale or an
// evaluation settlement can use. Only cash moves a register balance.
type PaymentMethod string

const (
	MethodCash        PaymentMethod = "cash"
	MethodPix         PaymentMethod = "pix"
	MethodDebitCard   PaymentMethod = "debit_card"
	MethodCreditCard  PaymentMethod = "credit_card"
	MethodStoreCredit PaymentMethod = "store_credit"
)

func (p PaymentMethod) Valid() bool {
	switch p {
	case MethodCash, MethodPix, MethodDebitCard, MethodCreditCard, MethodStoreCredit:
		return true
	}
	return false
}

func (p PaymentMethod) IsCash() bool { return p == MethodCash }

// ParsePaymentMethod accepts the canonical names case-insensitively.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	p := PaymentMethod(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", &ValidationError{Field: "method", Message: "unknown payment method " + s, Err: ErrUnknownPaymentMethod}
	}
	return p, nil
}
