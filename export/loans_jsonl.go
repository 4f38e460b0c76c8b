package export

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"hodl/loan"
	"hodl/snapshot"
)

// LoansJSONL builds a JSON Lines export for a snapshot of the loan book and
// returns the serialised payload alongside a checksum.
func LoansJSONL(snap *snapshot.Snapshot) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, l := range snap.Loans {
		payload := map[string]interface{}{
			"id":              l.ID,
			"status":          string(l.Status),
			"lender":          l.Lender,
			"borrower":        l.Borrower,
			"btcAddress":      l.BTCAddress,
			"btcSats":         l.BTCAmountSats,
			"amountMicro":     l.LoanAmountMicro,
			"collateralRatio": loan.CollateralRatio(l, snap.PriceUSD),
			"liquidatable":    loan.Liquidatable(l, snap.PriceUSD),
			"priceUsd":        snap.PriceUSD,
			"observedAt":      l.ObservedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
