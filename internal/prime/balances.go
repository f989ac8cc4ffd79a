package prime

import (
	"github.com/shopspring/decimal"
)

const (
	statusDone     = "TRANSACTION_DONE"
	statusImported = "TRANSACTION_IMPORTED"
)

func settled(tx transaction) bool {
	switch tx.Type {
	case "DEPOSIT":
		return tx.Status == statusDone || tx.Status == statusImported
	case "WITHDRAWAL":
		return tx.Status == statusDone
	}
	return false
}

// signedAmount returns the transaction amount with withdrawals negated.
func signedAmount(tx transaction) (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(tx.Amount)
	if err != nil {
		return decimal.Zero, false
	}
	if tx.Type == "WITHDRAWAL" && amount.IsPositive() {
		amount = amount.Neg()
	}
	return amount, true
}

// settledTotal derives a wallet balance from its completed deposits and withdrawals.
func settledTotal(txs []transaction) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		if !settled(tx) {
			continue
		}
		if amount, ok := signedAmount(tx); ok {
			total = total.Add(amount)
		}
	}
	return total
}
