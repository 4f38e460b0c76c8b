package loan

import "time"

// StatusCode is the raw status stored on chain. The contract only knows three
// codes; acceptance is signalled out of band through the collateral fields.
type StatusCode uint8

const (
	CodeOpen      StatusCode = 0
	CodeRepaid    StatusCode = 1
	CodeDefaulted StatusCode = 2
)

// Record mirrors the tuple returned by the contract's get-loan read. Amounts
// are kept in their smallest units (satoshis for collateral, micro-units for
// the loan denomination).
type Record struct {
	ID                   uint64
	Lender               string
	Borrower             string
	CollateralBTCAddress string
	CollateralBTCSats    uint64
	LoanAmountMicro      uint64
	StatusCode           StatusCode
}

// Status is the derived, unambiguous loan state shown to consumers.
type Status string

const (
	StatusOpen       Status = "open"
	StatusAccepted   Status = "accepted"
	StatusRepaid     Status = "repaid"
	StatusLiquidated Status = "liquidated"
)

// Loan is the normalized domain view of a Record. It is recomputed on every
// fetch and never persisted.
type Loan struct {
	ID uint64 `json:"id"`
	// Lender is the principal that created the loan offer.
	Lender string `json:"lender"`
	// Borrower is empty until a borrower accepts; the contract stores the
	// lender's own principal as a placeholder before that.
	Borrower string `json:"borrower,omitempty"`
	// BTCAddress and BTCAmountSats describe the posted collateral. Both are
	// zero-valued while the offer is unaccepted.
	BTCAddress      string `json:"btcAddress,omitempty"`
	BTCAmountSats   uint64 `json:"btcAmountSats"`
	LoanAmountMicro uint64 `json:"amountMicro"`
	Status          Status `json:"status"`
	// ObservedAt is stamped at fetch time. The contract does not record a
	// creation height or timestamp, so this value changes on every refetch
	// and must not be used as an ordering key.
	ObservedAt time.Time `json:"observedAt"`
}

// HasBorrower reports whether a borrower has been recorded for the loan.
func (l Loan) HasBorrower() bool { return l.Borrower != "" }

// HasCollateral reports whether collateral has been posted.
func (l Loan) HasCollateral() bool { return l.BTCAddress != "" && l.BTCAmountSats > 0 }

// FromRecord derives the domain view from a raw contract record. The function
// is total: malformed records are rejected upstream at the ledger boundary and
// never reach the mapper.
//
// The contract has no dedicated "accepted" code. An open loan whose collateral
// fields are populated has been accepted by a borrower; an open loan without
// collateral is still available. Defaulted loans surface as liquidated.
func FromRecord(rec Record, observedAt time.Time) Loan {
	var status Status
	switch rec.StatusCode {
	case CodeDefaulted:
		status = StatusLiquidated
	case CodeOpen:
		if rec.CollateralBTCAddress == "" || rec.CollateralBTCSats == 0 {
			status = StatusOpen
		} else {
			status = StatusAccepted
		}
	default:
		status = StatusRepaid
	}

	borrower := rec.Borrower
	if borrower == rec.Lender {
		// Placeholder self-reference means no borrower yet.
		borrower = ""
	}

	return Loan{
		ID:              rec.ID,
		Lender:          rec.Lender,
		Borrower:        borrower,
		BTCAddress:      rec.CollateralBTCAddress,
		BTCAmountSats:   rec.CollateralBTCSats,
		LoanAmountMicro: rec.LoanAmountMicro,
		Status:          status,
		ObservedAt:      observedAt,
	}
}
