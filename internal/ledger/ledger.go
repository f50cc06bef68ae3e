// Package ledger owns the point balance and the append-only transaction log.
package ledger

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"missionline/internal/domain"
	"missionline/internal/events"
	"missionline/internal/repo"
)

// Ledger is the only writer of the wallet balance and the transactions table.
// Every mutation holds mu and runs in one SQL transaction.
type Ledger struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
	NewID  func() string
	Logger *slog.Logger

	mu sync.Mutex
}

func New(db *sql.DB, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{Now: time.Now},
		Now:    time.Now,
		NewID:  uuid.NewString,
		Logger: logger.With("component", "ledger"),
	}
}

// VerifyResult compares the stored balance with the sum of the log.
type VerifyResult struct {
	Balance domain.Points `json:"balance"`
	Sum     domain.Points `json:"sum"`
	Count   int           `json:"count"`
	OK      bool          `json:"ok"`
}

// Update runs fn in a transaction while holding the ledger lock.
// Callers that combine mission changes with ledger effects go through here.
func (l *Ledger) Update(ctx context.Context, fn func(tx *sql.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PersistenceError{Op: "begin", Err: err}
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return domain.PersistenceError{Op: "commit", Err: err}
	}
	return nil
}

func (l *Ledger) Credit(ctx context.Context, amount domain.Points, description, missionID string) (domain.Transaction, error) {
	var t domain.Transaction
	err := l.Update(ctx, func(tx *sql.Tx) error {
		var err error
		t, err = l.CreditTx(ctx, tx, amount, description, missionID)
		return err
	})
	return t, err
}

// CreditTx appends a reward. The mission id only tags the transaction.
func (l *Ledger) CreditTx(ctx context.Context, tx *sql.Tx, amount domain.Points, description, missionID string) (domain.Transaction, error) {
	if amount < 0 {
		return domain.Transaction{}, domain.ValidationError{Field: "amount", Reason: "credit amount must not be negative"}
	}
	t := l.newTransaction(amount, description, missionID, domain.TxReward)
	if _, err := l.apply(ctx, tx, t); err != nil {
		return t, err
	}
	return t, nil
}

func (l *Ledger) Debit(ctx context.Context, amount domain.Points, description, missionID string, kind domain.TxType) (domain.Transaction, error) {
	var t domain.Transaction
	err := l.Update(ctx, func(tx *sql.Tx) error {
		var err error
		t, err = l.DebitTx(ctx, tx, amount, description, missionID, kind)
		return err
	})
	return t, err
}

// DebitTx appends a purchase or a penalty. A purchase needs the balance to
// cover it and fails with ErrInsufficientBalance otherwise. A penalty always
// applies and may take the balance below zero.
func (l *Ledger) DebitTx(ctx context.Context, tx *sql.Tx, amount domain.Points, description, missionID string, kind domain.TxType) (domain.Transaction, error) {
	if amount < 0 {
		return domain.Transaction{}, domain.ValidationError{Field: "amount", Reason: "debit amount must not be negative"}
	}
	t := l.newTransaction(-amount, description, missionID, kind)
	switch kind {
	case domain.TxPurchase:
		covered, err := l.Repo.DebitIfCoveredTx(ctx, tx, amount)
		if err != nil {
			return t, domain.PersistenceError{Op: "debit balance", Err: err}
		}
		if !covered {
			l.Logger.Info("insufficient balance", "amount", amount.String(), "description", description)
			return t, domain.ErrInsufficientBalance
		}
		if _, err := l.Repo.InsertTransactionTx(ctx, tx, t); err != nil {
			return t, domain.PersistenceError{Op: "insert transaction", Err: err}
		}
		if err := l.appendEvent(ctx, tx, events.LedgerDebited, t); err != nil {
			return t, err
		}
		l.Logger.Info("ledger debit", "type", kind, "amount", amount.String(), "mission_id", missionID, "description", description)
		return t, nil
	case domain.TxPenalty:
		_, err := l.apply(ctx, tx, t)
		return t, err
	default:
		return t, domain.ValidationError{Field: "type", Reason: "debit must be purchase or penalty"}
	}
}

// SettleTx records the ledger side of a mission transition: the reward of a
// completion or the penalty of a refusal. Each effect lands at most once per
// mission; false means it was already recorded. Plain credits and debits
// tagged with the same mission never count against it.
func (l *Ledger) SettleTx(ctx context.Context, tx *sql.Tx, effect domain.Effect, amount domain.Points, description, missionID string) (domain.Transaction, bool, error) {
	if amount < 0 {
		return domain.Transaction{}, false, domain.ValidationError{Field: "amount", Reason: "amount must not be negative"}
	}
	if missionID == "" {
		return domain.Transaction{}, false, domain.ValidationError{Field: "mission_id", Reason: "mission id is required"}
	}
	var t domain.Transaction
	switch effect {
	case domain.EffectCompleted:
		t = l.newTransaction(amount, description, missionID, domain.TxReward)
	case domain.EffectRefused:
		t = l.newTransaction(-amount, description, missionID, domain.TxPenalty)
	default:
		return t, false, domain.ValidationError{Field: "effect", Reason: "unknown mission effect " + string(effect)}
	}
	t.Effect = effect
	applied, err := l.apply(ctx, tx, t)
	return t, applied, err
}

// apply inserts an unconditional transaction and moves the balance by its
// amount. It reports false when the insert was a duplicate mission effect.
func (l *Ledger) apply(ctx context.Context, tx *sql.Tx, t domain.Transaction) (bool, error) {
	inserted, err := l.Repo.InsertTransactionTx(ctx, tx, t)
	if err != nil {
		return false, domain.PersistenceError{Op: "insert transaction", Err: err}
	}
	if !inserted {
		return false, nil
	}
	if err := l.Repo.AdjustBalanceTx(ctx, tx, t.Amount); err != nil {
		return false, domain.PersistenceError{Op: "adjust balance", Err: err}
	}
	evtType := events.LedgerCredited
	if t.Type != domain.TxReward {
		evtType = events.LedgerDebited
	}
	if err := l.appendEvent(ctx, tx, evtType, t); err != nil {
		return false, err
	}
	l.Logger.Info("ledger "+string(t.Type), "amount", t.Amount.String(), "mission_id", t.MissionID, "effect", t.Effect, "description", t.Description)
	return true, nil
}

// Open seeds the opening balance the first time the ledger is used.
func (l *Ledger) Open(ctx context.Context, initial domain.Points) (bool, error) {
	var opened bool
	err := l.Update(ctx, func(tx *sql.Tx) error {
		n, err := l.Repo.CountTransactionsTx(ctx, tx)
		if err != nil {
			return domain.PersistenceError{Op: "count transactions", Err: err}
		}
		if n > 0 || initial <= 0 {
			return nil
		}
		if _, err := l.CreditTx(ctx, tx, initial, "opening balance", ""); err != nil {
			return err
		}
		opened = true
		return nil
	})
	return opened, err
}

func (l *Ledger) Balance(ctx context.Context) (domain.Points, error) {
	b, err := l.Repo.Balance(ctx)
	if err != nil {
		return 0, domain.PersistenceError{Op: "read balance", Err: err}
	}
	return b, nil
}

func (l *Ledger) Transactions(ctx context.Context, filter repo.TxFilter) ([]domain.Transaction, error) {
	res, err := l.Repo.ListTransactions(ctx, filter)
	if err != nil {
		return nil, domain.PersistenceError{Op: "list transactions", Err: err}
	}
	return res, nil
}

// Verify recomputes the balance from the log under the ledger lock.
func (l *Ledger) Verify(ctx context.Context) (VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var res VerifyResult
	var err error
	if res.Balance, err = l.Repo.Balance(ctx); err != nil {
		return res, domain.PersistenceError{Op: "read balance", Err: err}
	}
	if res.Sum, err = l.Repo.SumTransactions(ctx); err != nil {
		return res, domain.PersistenceError{Op: "sum transactions", Err: err}
	}
	if res.Count, err = l.Repo.CountTransactionsTx(ctx, nil); err != nil {
		return res, domain.PersistenceError{Op: "count transactions", Err: err}
	}
	res.OK = res.Balance == res.Sum
	return res, nil
}

func (l *Ledger) newTransaction(amount domain.Points, description, missionID string, kind domain.TxType) domain.Transaction {
	return domain.Transaction{
		ID:          l.NewID(),
		Amount:      amount,
		Description: description,
		MissionID:   missionID,
		CreatedAt:   l.Now().UTC(),
		Type:        kind,
	}
}

func (l *Ledger) appendEvent(ctx context.Context, tx *sql.Tx, evtType string, t domain.Transaction) error {
	err := l.Events.Append(ctx, tx, evtType, "transaction", t.ID, events.EventPayload{
		"amount":      t.Amount.String(),
		"type":        t.Type,
		"description": t.Description,
		"mission_id":  t.MissionID,
		"effect":      t.Effect,
	})
	if err != nil {
		return domain.PersistenceError{Op: "append event", Err: err}
	}
	return nil
}
