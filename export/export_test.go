package export

import (
	"encoding/csv"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hodl/loan"
	"hodl/snapshot"
)

func sampleSnapshot() *snapshot.Snapshot {
	observed := time.Unix(1700, 0).UTC()
	return &snapshot.Snapshot{
		Loans: []loan.Loan{
			{
				ID:              0,
				Status:          loan.StatusOpen,
				Lender:          "ST1LENDER",
				LoanAmountMicro: 20_000_000_000,
				ObservedAt:      observed,
			},
			{
				ID:              1,
				Status:          loan.StatusAccepted,
				Lender:          "ST1LENDER",
				Borrower:        "ST2BORROWER",
				BTCAddress:      "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4",
				BTCAmountSats:   100_000_000,
				LoanAmountMicro: 20_000_000_000,
				ObservedAt:      observed,
			},
		},
		PriceUSD: 30_000,
		TakenAt:  observed,
	}
}

func TestLoansCSV(t *testing.T) {
	data, checksum, err := LoansCSV(sampleSnapshot())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(data) == 0 || checksum == "" {
		t.Fatalf("expected data and checksum")
	}

	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("parse back: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	if rows[0][0] != "id" || rows[0][7] != "collateral_ratio" {
		t.Fatalf("header = %v", rows[0])
	}
	// 1 BTC at 30k against a 20k loan is a 150% ratio.
	if rows[2][7] != "150.00" || rows[2][8] != "false" {
		t.Fatalf("risk columns = %v", rows[2])
	}
	if rows[1][1] != "open" || rows[2][1] != "accepted" {
		t.Fatalf("status columns = %v / %v", rows[1], rows[2])
	}
}

func TestLoansJSONL(t *testing.T) {
	data, checksum, err := LoansJSONL(sampleSnapshot())
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if len(data) == 0 || checksum == "" {
		t.Fatalf("expected data and checksum")
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if !strings.Contains(lines[1], "\"status\":\"accepted\"") {
		t.Fatalf("missing status: %s", lines[1])
	}
	if !strings.Contains(lines[1], "\"collateralRatio\":150") {
		t.Fatalf("missing ratio: %s", lines[1])
	}
}

func TestLoansParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loans.parquet")
	if err := LoansParquet(path, sampleSnapshot()); err != nil {
		t.Fatalf("parquet: %v", err)
	}
}
