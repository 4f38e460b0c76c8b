package export

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"hodl/loan"
	"hodl/snapshot"
)

// LoansCSV builds a CSV export for a snapshot of the loan book and returns the
// serialised data alongside a SHA-256 checksum of the payload. Risk columns are
// valued at the snapshot's price.
func LoansCSV(snap *snapshot.Snapshot) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"id", "status", "lender", "borrower", "btc_address", "btc_sats", "amount_micro", "collateral_ratio", "liquidatable", "price_usd", "observed_at"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, l := range snap.Loans {
		ratio := loan.CollateralRatio(l, snap.PriceUSD)
		record := []string{
			strconv.FormatUint(l.ID, 10),
			string(l.Status),
			l.Lender,
			l.Borrower,
			l.BTCAddress,
			strconv.FormatUint(l.BTCAmountSats, 10),
			strconv.FormatUint(l.LoanAmountMicro, 10),
			fmt.Sprintf("%.2f", ratio),
			strconv.FormatBool(loan.Liquidatable(l, snap.PriceUSD)),
			strconv.FormatUint(snap.PriceUSD, 10),
			l.ObservedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
