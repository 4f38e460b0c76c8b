package loan

const (
	// SatsPerBTC is the number of satoshis in one whole bitcoin.
	SatsPerBTC = 100_000_000
	// MicroPerUnit is the number of micro-units in one whole native token.
	MicroPerUnit = 1_000_000

	// MinimumCreationRatio is the collateralization percentage the contract
	// requires when a borrower accepts an offer. Display-only here; the
	// contract enforces it.
	MinimumCreationRatio = 150
	// LiquidationThreshold is the percentage below which a loan becomes
	// eligible for forced liquidation.
	LiquidationThreshold = 120
)

// CollateralRatio returns the collateral value over the outstanding loan value
// as a percentage at the given USD price per whole bitcoin. Loans without
// collateral, or with a zero loan amount, have a ratio of zero.
func CollateralRatio(l Loan, priceUSD uint64) float64 {
	if l.BTCAmountSats == 0 || l.LoanAmountMicro == 0 {
		return 0
	}
	collateralValue := float64(l.BTCAmountSats) / SatsPerBTC * float64(priceUSD)
	loanValue := float64(l.LoanAmountMicro) / MicroPerUnit
	return collateralValue / loanValue * 100
}

// Liquidatable reports whether the loan sits below the liquidation threshold.
// A ratio of exactly the threshold is not liquidatable.
func Liquidatable(l Loan, priceUSD uint64) bool {
	return CollateralRatio(l, priceUSD) < LiquidationThreshold
}
