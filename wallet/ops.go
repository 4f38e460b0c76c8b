package wallet

import (
	"context"
	"errors"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/btcsuite/btcutil/bech32"

	"hodl/ledger"
	"hodl/observability"
)

// Operation names a mutating operation kind. In-flight flags are tracked per
// kind; different kinds may run concurrently (deliberate looseness — the
// ledger serializes conflicting calls anyway).
type Operation string

const (
	OpCreateLoan    Operation = "create-loan"
	OpAcceptLoan    Operation = "accept-loan"
	OpLiquidateLoan Operation = "liquidate-loan"
	OpSetPrice      Operation = "set-price"
)

// InFlight reports whether an operation of the given kind is awaiting the
// signing agent.
func (m *Manager) InFlight(op Operation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight[op]
}

func (m *Manager) setInFlight(op Operation, v bool) {
	m.mu.Lock()
	m.inflight[op] = v
	m.mu.Unlock()
}

func (m *Manager) requireSignedIn() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateSignedIn {
		return ErrNotSignedIn
	}
	return nil
}

// CreateLoan offers a new loan of amountMicro micro-units and resolves with
// the submitted transaction id.
func (m *Manager) CreateLoan(ctx context.Context, amountMicro uint64) (string, error) {
	if err := m.requireSignedIn(); err != nil {
		observability.Wallet().RecordSigning(string(OpCreateLoan), "invalid")
		return "", err
	}
	if amountMicro == 0 {
		observability.Wallet().RecordSigning(string(OpCreateLoan), "invalid")
		return "", &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	return m.submit(ctx, OpCreateLoan, ledger.NewCreateLoanCall(m.contract, amountMicro))
}

// AcceptLoan accepts loan id, pledging btcAmountSats of collateral held at
// btcAddress.
func (m *Manager) AcceptLoan(ctx context.Context, id uint64, btcAddress string, btcAmountSats uint64) (string, error) {
	if err := m.requireSignedIn(); err != nil {
		observability.Wallet().RecordSigning(string(OpAcceptLoan), "invalid")
		return "", err
	}
	if err := validateBTCAddress(btcAddress); err != nil {
		observability.Wallet().RecordSigning(string(OpAcceptLoan), "invalid")
		return "", err
	}
	if btcAmountSats == 0 {
		observability.Wallet().RecordSigning(string(OpAcceptLoan), "invalid")
		return "", &ValidationError{Field: "btcAmount", Reason: "must be positive"}
	}
	return m.submit(ctx, OpAcceptLoan, ledger.NewAcceptLoanCall(m.contract, id, btcAddress, btcAmountSats))
}

// LiquidateLoan submits a liquidation of loan id. Eligibility is the ledger's
// call; this layer only flags candidates.
func (m *Manager) LiquidateLoan(ctx context.Context, id uint64) (string, error) {
	if err := m.requireSignedIn(); err != nil {
		observability.Wallet().RecordSigning(string(OpLiquidateLoan), "invalid")
		return "", err
	}
	return m.submit(ctx, OpLiquidateLoan, ledger.NewLiquidateCall(m.contract, id))
}

// SetPrice overrides the mock oracle price (admin operation).
func (m *Manager) SetPrice(ctx context.Context, priceUSD uint64) (string, error) {
	if err := m.requireSignedIn(); err != nil {
		observability.Wallet().RecordSigning(string(OpSetPrice), "invalid")
		return "", err
	}
	if priceUSD == 0 {
		observability.Wallet().RecordSigning(string(OpSetPrice), "invalid")
		return "", &ValidationError{Field: "price", Reason: "must be positive"}
	}
	return m.submit(ctx, OpSetPrice, ledger.NewSetPriceCall(m.contract, priceUSD))
}

// submit hands the descriptor to the agent and waits for the user's verdict.
// No retries: a rejection or failure goes straight back to the caller.
func (m *Manager) submit(ctx context.Context, op Operation, call ledger.UnsignedCall) (string, error) {
	m.setInFlight(op, true)
	defer m.setInFlight(op, false)

	txID, err := m.agent.Sign(ctx, call)
	switch {
	case err == nil:
		observability.Wallet().RecordSigning(string(op), "approved")
		m.log.Info("transaction submitted", "operation", op, "txId", txID)
		return txID, nil
	case errors.Is(err, ErrSigningRejected):
		observability.Wallet().RecordSigning(string(op), "rejected")
		m.log.Info("signing declined", "operation", op)
		return "", err
	default:
		observability.Wallet().RecordSigning(string(op), "failed")
		m.log.Error("signing failed", "operation", op, "error", err)
		return "", err
	}
}

// validateBTCAddress accepts bech32 (bc1/tb1/bcrt1) and base58check (1/3/m/n/2)
// encodings. The check is structural only; ownership is the user's problem.
func validateBTCAddress(addr string) error {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return &ValidationError{Field: "btcAddress", Reason: "must not be empty"}
	}
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "bc1") || strings.HasPrefix(lower, "tb1") || strings.HasPrefix(lower, "bcrt1") {
		if _, _, err := bech32.Decode(lower); err != nil {
			return &ValidationError{Field: "btcAddress", Reason: "malformed bech32 address"}
		}
		return nil
	}
	decoded := base58.Decode(trimmed)
	if len(decoded) != 25 {
		return &ValidationError{Field: "btcAddress", Reason: "malformed base58 address"}
	}
	return nil
}
