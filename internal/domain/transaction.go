package domain

import (
	"time"
)

// TransactionDirection is the flow of funds relative to the merchant.
type TransactionDirection string

const (
	DirectionInbound  TransactionDirection = "inbound"
	DirectionOutbound TransactionDirection = "outbound"
)

// PaymentMethod is the instrument used for a transaction.
type PaymentMethod string

const (
	PaymentMethodCreditCard   PaymentMethod = "credit_card"
	PaymentMethodDebitCard    PaymentMethod = "debit_card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodPayPal       PaymentMethod = "pay_pal"
	PaymentMethodApplePay     PaymentMethod = "apple_pay"
	PaymentMethodGooglePay    PaymentMethod = "google_pay"
)

// TransactionRecordType classifies a transaction record.
type TransactionRecordType string

const (
	RecordTypePayment    TransactionRecordType = "payment"
	RecordTypeRefund     TransactionRecordType = "refund"
	RecordTypeChargeback TransactionRecordType = "chargeback"
	RecordTypeTransfer   TransactionRecordType = "transfer"
	RecordTypeWithdrawal TransactionRecordType = "withdrawal"
)

// TransactionRecord is an immutable transaction row. The engine only
// reads these; ingestion happens through the worker or the API.
type TransactionRecord struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Date      time.Time `json:"date"`

	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	BaseAmount   float64 `json:"baseAmount"`
	BaseCurrency string  `json:"baseCurrency"`

	Direction     TransactionDirection  `json:"direction"`
	PaymentMethod PaymentMethod         `json:"paymentMethod"`
	Type          TransactionRecordType `json:"type"`

	// Counterparty references; each side resolves to an end user or a
	// business. BusinessID fields are set when the side is a business.
	CounterpartyOriginatorID  string `json:"counterpartyOriginatorId,omitempty"`
	CounterpartyBeneficiaryID string `json:"counterpartyBeneficiaryId,omitempty"`
	OriginatorBusinessID      string `json:"originatorBusinessId,omitempty"`
	BeneficiaryBusinessID     string `json:"beneficiaryBusinessId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Subject returns the counterparty and business ids for the requested side.
func (t *TransactionRecord) Subject(side SubjectSide) (counterpartyID, businessID string) {
	if side == SubjectOriginator {
		return t.CounterpartyOriginatorID, t.OriginatorBusinessID
	}
	return t.CounterpartyBeneficiaryID, t.BeneficiaryBusinessID
}

// TransactionFilter narrows transaction queries. Amount bounds are
// half-open: MinAmount is inclusive, MaxAmount exclusive.
type TransactionFilter struct {
	Direction             TransactionDirection
	PaymentMethods        []PaymentMethod
	ExcludePaymentMethods bool
	Types                 []TransactionRecordType
	MinAmount             *float64
	MaxAmount             *float64
	Since                 time.Time
	CounterpartyID        string
}
