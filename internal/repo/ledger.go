package repo

import (
	"context"
	"database/sql"
	"strings"

	"missionline/internal/domain"
)

// TxFilter narrows ListTransactions.
type TxFilter struct {
	Type      domain.TxType
	MissionID string
	Limit     int
}

// InsertTransactionTx appends to the log. It reports false when the mission
// already has a transaction for t.Effect. Transactions without an effect
// always append.
func (r Repo) InsertTransactionTx(ctx context.Context, tx *sql.Tx, t domain.Transaction) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO transactions(id,amount,description,mission_id,created_at,type,effect) VALUES (?,?,?,?,?,?,?)
ON CONFLICT DO NOTHING`,
		t.ID, int64(t.Amount), t.Description, nullable(t.MissionID), FormatTime(t.CreatedAt), string(t.Type), nullable(string(t.Effect)))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) ListTransactions(ctx context.Context, filter TxFilter) ([]domain.Transaction, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, string(filter.Type))
	}
	if filter.MissionID != "" {
		clauses = append(clauses, "mission_id=?")
		args = append(args, filter.MissionID)
	}
	query := `SELECT id,amount,description,COALESCE(mission_id,''),created_at,type,COALESCE(effect,'') FROM transactions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, rowid"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Transaction
	for rows.Next() {
		var (
			t         domain.Transaction
			amount    int64
			createdAt string
		)
		if err := rows.Scan(&t.ID, &amount, &t.Description, &t.MissionID, &createdAt, &t.Type, &t.Effect); err != nil {
			return nil, err
		}
		t.Amount = domain.Points(amount)
		if t.CreatedAt, err = ParseTime(createdAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CountTransactionsTx returns the size of the transaction log.
func (r Repo) CountTransactionsTx(ctx context.Context, tx *sql.Tx) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n)
	return n, err
}

// SumTransactions recomputes the balance from the log.
func (r Repo) SumTransactions(ctx context.Context) (domain.Points, error) {
	var sum int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount),0) FROM transactions`).Scan(&sum)
	return domain.Points(sum), err
}

func (r Repo) Balance(ctx context.Context) (domain.Points, error) {
	return r.BalanceTx(ctx, nil)
}

func (r Repo) BalanceTx(ctx context.Context, tx *sql.Tx) (domain.Points, error) {
	var balance int64
	err := r.q(tx).QueryRowContext(ctx, `SELECT balance FROM wallet WHERE id=1`).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return domain.Points(balance), err
}

// AdjustBalanceTx applies a signed delta unconditionally.
func (r Repo) AdjustBalanceTx(ctx context.Context, tx *sql.Tx, delta domain.Points) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE wallet SET balance=balance+? WHERE id=1`, int64(delta))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DebitIfCoveredTx subtracts amount only when the balance covers it.
func (r Repo) DebitIfCoveredTx(ctx context.Context, tx *sql.Tx, amount domain.Points) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE wallet SET balance=balance-? WHERE id=1 AND balance>=?`, int64(amount), int64(amount))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
