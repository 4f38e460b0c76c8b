package export

import (
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"hodl/loan"
	"hodl/snapshot"
)

type parquetLoan struct {
	ID              int64   `parquet:"name=id, type=INT64"`
	Status          string  `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Lender          string  `parquet:"name=lender, type=BYTE_ARRAY, convertedtype=UTF8"`
	Borrower        string  `parquet:"name=borrower, type=BYTE_ARRAY, convertedtype=UTF8"`
	BTCAddress      string  `parquet:"name=btc_address, type=BYTE_ARRAY, convertedtype=UTF8"`
	BTCSats         int64   `parquet:"name=btc_sats, type=INT64"`
	AmountMicro     int64   `parquet:"name=amount_micro, type=INT64"`
	CollateralRatio float64 `parquet:"name=collateral_ratio, type=DOUBLE"`
	Liquidatable    bool    `parquet:"name=liquidatable, type=BOOLEAN"`
	PriceUSD        int64   `parquet:"name=price_usd, type=INT64"`
	ObservedAt      string  `parquet:"name=observed_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// LoansParquet writes the snapshot to a Parquet file at path.
func LoansParquet(path string, snap *snapshot.Snapshot) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetLoan), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, l := range snap.Loans {
		row := &parquetLoan{
			ID:              int64(l.ID),
			Status:          string(l.Status),
			Lender:          l.Lender,
			Borrower:        l.Borrower,
			BTCAddress:      l.BTCAddress,
			BTCSats:         int64(l.BTCAmountSats),
			AmountMicro:     int64(l.LoanAmountMicro),
			CollateralRatio: loan.CollateralRatio(l, snap.PriceUSD),
			Liquidatable:    loan.Liquidatable(l, snap.PriceUSD),
			PriceUSD:        int64(snap.PriceUSD),
			ObservedAt:      l.ObservedAt.UTC().Format(time.RFC3339),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("export: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("export: parquet finalize: %w", err)
	}
	return file.Close()
}
