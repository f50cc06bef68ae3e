package engine

import (
	"context"
	"errors"

	"missionline/internal/domain"
	"missionline/internal/ledger"
	"missionline/internal/repo"
)

// CreditPoints appends a reward. A mission id only tags the transaction; the
// completion reward of that mission is still credited on completion.
func (e Engine) CreditPoints(ctx context.Context, amount domain.Points, description, missionID string) (domain.Transaction, error) {
	if description == "" {
		return domain.Transaction{}, domain.ValidationError{Field: "description", Reason: "description is required"}
	}
	return e.Ledger.Credit(ctx, amount, description, missionID)
}

// SpendPoints debits a purchase. It reports false when the balance is short.
func (e Engine) SpendPoints(ctx context.Context, amount domain.Points, description string) (bool, error) {
	if description == "" {
		return false, domain.ValidationError{Field: "description", Reason: "description is required"}
	}
	_, err := e.Ledger.Debit(ctx, amount, description, "", domain.TxPurchase)
	if errors.Is(err, domain.ErrInsufficientBalance) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (e Engine) ListTransactions(ctx context.Context, filter repo.TxFilter) ([]domain.Transaction, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, domain.ValidationError{Field: "type", Reason: "unknown transaction type " + string(filter.Type)}
	}
	return e.Ledger.Transactions(ctx, filter)
}

func (e Engine) Balance(ctx context.Context) (domain.Points, error) {
	return e.Ledger.Balance(ctx)
}

func (e Engine) VerifyLedger(ctx context.Context) (ledger.VerifyResult, error) {
	return e.Ledger.Verify(ctx)
}
