package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionline/internal/db"
	"missionline/internal/domain"
	"missionline/internal/migrate"
	"missionline/internal/repo"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return New(conn, quietLogger())
}

func assertBalanced(t *testing.T, l *Ledger) {
	t.Helper()
	res, err := l.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK, "balance %s != sum %s", res.Balance, res.Sum)
}

func TestOpenSeedsOnce(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	opened, err := l.Open(ctx, domain.WholePoints(10))
	require.NoError(t, err)
	assert.True(t, opened)
	opened, err = l.Open(ctx, domain.WholePoints(10))
	require.NoError(t, err)
	assert.False(t, opened)

	b, err := l.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.WholePoints(10), b)
	txs, err := l.Transactions(ctx, repo.TxFilter{})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TxReward, txs[0].Type)
	assertBalanced(t, l)
}

func TestPurchaseRequiresBalance(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	_, err := l.Open(ctx, domain.WholePoints(10))
	require.NoError(t, err)

	_, err = l.Debit(ctx, domain.WholePoints(12), "too much", "", domain.TxPurchase)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	b, _ := l.Balance(ctx)
	assert.Equal(t, domain.WholePoints(10), b)
	txs, _ := l.Transactions(ctx, repo.TxFilter{})
	assert.Len(t, txs, 1)

	tx, err := l.Debit(ctx, domain.WholePoints(2), "coffee", "", domain.TxPurchase)
	require.NoError(t, err)
	assert.Equal(t, domain.WholePoints(-2), tx.Amount)
	b, _ = l.Balance(ctx)
	assert.Equal(t, domain.WholePoints(8), b)
	assertBalanced(t, l)
}

func TestPenaltyMayGoNegativeAndAppliesOnce(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := l.Update(ctx, func(tx *sql.Tx) error {
			_, applied, err := l.SettleTx(ctx, tx, domain.EffectRefused, domain.PointsFromFloat(3.5), "refused", "m1")
			assert.Equal(t, i == 0, applied)
			return err
		})
		require.NoError(t, err)
	}

	b, _ := l.Balance(ctx)
	assert.Equal(t, domain.PointsFromFloat(-3.5), b)
	txs, _ := l.Transactions(ctx, repo.TxFilter{MissionID: "m1"})
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TxPenalty, txs[0].Type)
	assert.Equal(t, domain.EffectRefused, txs[0].Effect)
	assertBalanced(t, l)
}

func TestMissionRewardAppliesOnce(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		err := l.Update(ctx, func(tx *sql.Tx) error {
			_, _, err := l.SettleTx(ctx, tx, domain.EffectCompleted, domain.WholePoints(5), "mission completed", "m1")
			return err
		})
		require.NoError(t, err)
	}
	b, _ := l.Balance(ctx)
	assert.Equal(t, domain.WholePoints(5), b)
	txs, _ := l.Transactions(ctx, repo.TxFilter{MissionID: "m1"})
	assert.Len(t, txs, 1)
}

func TestTaggedCreditsAlwaysAppend(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		tx, err := l.Credit(ctx, domain.WholePoints(1), "bonus", "m1")
		require.NoError(t, err)
		assert.Equal(t, domain.EffectNone, tx.Effect)
	}
	_, err := l.Debit(ctx, domain.WholePoints(1), "late", "m1", domain.TxPenalty)
	require.NoError(t, err)
	_, err = l.Debit(ctx, domain.WholePoints(1), "late", "m1", domain.TxPenalty)
	require.NoError(t, err)

	err = l.Update(ctx, func(tx *sql.Tx) error {
		_, applied, err := l.SettleTx(ctx, tx, domain.EffectCompleted, domain.WholePoints(5), "mission completed", "m1")
		assert.True(t, applied)
		return err
	})
	require.NoError(t, err)

	b, _ := l.Balance(ctx)
	assert.Equal(t, domain.WholePoints(5), b)
	txs, _ := l.Transactions(ctx, repo.TxFilter{MissionID: "m1"})
	assert.Len(t, txs, 5)
	assertBalanced(t, l)
}

func TestSettleRejectsUnknownEffect(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	var verr domain.ValidationError
	err := l.Update(ctx, func(tx *sql.Tx) error {
		_, _, err := l.SettleTx(ctx, tx, domain.EffectNone, domain.WholePoints(1), "x", "m1")
		return err
	})
	assert.ErrorAs(t, err, &verr)
	err = l.Update(ctx, func(tx *sql.Tx) error {
		_, _, err := l.SettleTx(ctx, tx, domain.EffectCompleted, domain.WholePoints(1), "x", "")
		return err
	})
	assert.ErrorAs(t, err, &verr)
	assertBalanced(t, l)
}

func TestRejectsNegativeAmountsAndUnknownKind(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	var verr domain.ValidationError
	_, err := l.Credit(ctx, -1, "bad", "")
	assert.ErrorAs(t, err, &verr)
	_, err = l.Debit(ctx, 1, "bad", "", domain.TxReward)
	assert.ErrorAs(t, err, &verr)
	assertBalanced(t, l)
}

func TestConcurrentPurchasesNeverOverspend(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	_, err := l.Open(ctx, domain.WholePoints(10))
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Debit(ctx, domain.WholePoints(1), "spend", "", domain.TxPurchase)
			if err != nil && !errors.Is(err, domain.ErrInsufficientBalance) {
				t.Errorf("unexpected error: %v", err)
			}
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, succeeded)
	b, _ := l.Balance(ctx)
	assert.Equal(t, domain.Points(0), b)
	assertBalanced(t, l)
}

func TestBalanceMatchesLogProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 15
	properties := gopter.NewProperties(params)

	properties.Property("balance equals sum of transactions after every operation", prop.ForAll(
		func(ops []int) bool {
			l := newLedger(t)
			ctx := context.Background()
			for i, op := range ops {
				amount := domain.Points(op)
				mission := fmt.Sprintf("m%d", i%4)
				switch {
				case op >= 0 && i%3 == 0:
					_, _ = l.Debit(ctx, amount, "penalty", "", domain.TxPenalty)
				case op >= 0 && i%3 == 1:
					_ = l.Update(ctx, func(tx *sql.Tx) error {
						_, _, err := l.SettleTx(ctx, tx, domain.EffectCompleted, amount, "mission completed", mission)
						return err
					})
				case op >= 0:
					_, _ = l.Credit(ctx, amount, "reward", mission)
				default:
					_, _ = l.Debit(ctx, -amount, "purchase", "", domain.TxPurchase)
				}
				res, err := l.Verify(ctx)
				if err != nil || !res.OK {
					t.Logf("drift after op %d (%d): balance %s, sum %s, err %v", i, op, res.Balance, res.Sum, err)
					return false
				}
				if res.Count > i+1 {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(12, gen.IntRange(-2000, 2000)),
	))
	properties.TestingRun(t)
}

func TestStoreFailureIsPersistenceError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	l := New(conn, quietLogger())
	ctx := context.Background()

	mock.ExpectBegin().WillReturnError(errors.New("disk I/O error"))
	_, err = l.Credit(ctx, domain.WholePoints(1), "reward", "")
	var perr domain.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "begin", perr.Op)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transactions").WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()
	_, err = l.Credit(ctx, domain.WholePoints(1), "reward", "")
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "insert transaction", perr.Op)
	assert.NoError(t, mock.ExpectationsWereMet())
}
