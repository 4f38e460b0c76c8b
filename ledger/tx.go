package ledger

import (
	"bytes"
	"fmt"

	"lukechampine.com/blake3"
)

// Contract identifies the loan contract on chain.
type Contract struct {
	Address string
	Name    string
}

// DefaultContract is the testnet deployment the dashboard targets unless
// configured otherwise.
var DefaultContract = Contract{
	Address: "ST1Z9Q8F39NMNNAKRXDQZYNS2R6PJA5BVHHGRESTD",
	Name:    "poh",
}

func (c Contract) String() string {
	return c.Address + "." + c.Name
}

// UnsignedCall is an unsigned contract-call descriptor: the target contract,
// the function, and its ordered typed arguments. Building one performs no I/O
// and no validation beyond type construction; signing and broadcast are
// delegated to the external agent.
type UnsignedCall struct {
	Contract Contract `json:"contract"`
	Function string   `json:"function"`
	Args     []Value  `json:"args"`
}

// Digest returns a BLAKE3 hash of the canonical descriptor encoding. The
// signing agent echoes it back so approvals can be matched to the exact call
// the user saw.
func (u UnsignedCall) Digest() [32]byte {
	var buf bytes.Buffer
	buf.WriteString(u.Contract.Address)
	buf.WriteByte(0)
	buf.WriteString(u.Contract.Name)
	buf.WriteByte(0)
	buf.WriteString(u.Function)
	buf.WriteByte(0)
	for _, arg := range u.Args {
		arg.canonicalEncode(&buf)
	}
	return blake3.Sum256(buf.Bytes())
}

func (u UnsignedCall) String() string {
	return fmt.Sprintf("%s::%s/%d args", u.Contract, u.Function, len(u.Args))
}

// NewCreateLoanCall builds the descriptor offering a new loan of the given
// amount in micro-units.
func NewCreateLoanCall(ct Contract, amountMicro uint64) UnsignedCall {
	return UnsignedCall{
		Contract: ct,
		Function: "create-loan",
		Args:     []Value{Uint(amountMicro)},
	}
}

// NewAcceptLoanCall builds the descriptor accepting loan id with BTC
// collateral posted at btcAddress.
func NewAcceptLoanCall(ct Contract, id uint64, btcAddress string, btcAmountSats uint64) UnsignedCall {
	return UnsignedCall{
		Contract: ct,
		Function: "accept-loan",
		Args:     []Value{Uint(id), StringASCII(btcAddress), Uint(btcAmountSats)},
	}
}

// NewLiquidateCall builds the descriptor liquidating loan id.
func NewLiquidateCall(ct Contract, id uint64) UnsignedCall {
	return UnsignedCall{
		Contract: ct,
		Function: "liquidate-loan",
		Args:     []Value{Uint(id)},
	}
}

// NewSetPriceCall builds the admin descriptor overriding the mock BTC price.
func NewSetPriceCall(ct Contract, priceUSD uint64) UnsignedCall {
	return UnsignedCall{
		Contract: ct,
		Function: "set-mock-price",
		Args:     []Value{Uint(priceUSD)},
	}
}
