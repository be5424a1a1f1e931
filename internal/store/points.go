package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/komunitas/loyalty-server/internal/model"
)

// ErrInsufficientBalance is returned when a debit exceeds the member's coin
// balance.
var ErrInsufficientBalance = errors.New("insufficient coin balance")

// ErrNegativeAmount is returned when a credit or debit is called with a
// negative amount.
var ErrNegativeAmount = errors.New("amount must be >= 0")

// ErrLifetimeCutNotAllowed is returned when a negative admin adjustment is
// attempted without the explicit lifetime-correction flag.
var ErrLifetimeCutNotAllowed = errors.New("negative adjustment requires explicit lifetime correction")

// PointsStore is the append-only ledger plus the balance reconciler. Every
// mutation inserts a loyalty_point_history row and updates the cached
// balances on the member row inside a single transaction, so the two can
// never drift apart mid-flight. Credits move loyalty_point and coin
// together; debits move coin only.
type PointsStore struct {
	db *sql.DB
}

func NewPointsStore(db *sql.DB) *PointsStore {
	return &PointsStore{db: db}
}

// Credit awards amount points: one history row, loyalty_point += amount,
// coin += amount.
func (s *PointsStore) Credit(ctx context.Context, memberID, amount int64, event, eventType string, taskID *int64) (*model.BalanceUpdate, error) {
	if amount < 0 {
		return nil, ErrNegativeAmount
	}

	var upd *model.BalanceUpdate
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		upd, err = s.CreditTx(tx, memberID, amount, event, eventType, taskID)
		return err
	})
	return upd, err
}

// CreditTx applies a credit inside an existing transaction. Used by the
// submission state machine so the award and the state transition commit
// atomically.
func (s *PointsStore) CreditTx(tx *sql.Tx, memberID, amount int64, event, eventType string, taskID *int64) (*model.BalanceUpdate, error) {
	if amount < 0 {
		return nil, ErrNegativeAmount
	}

	var tID sql.NullInt64
	if taskID != nil {
		tID = sql.NullInt64{Int64: *taskID, Valid: true}
	}

	if _, err := tx.Exec(
		`INSERT INTO loyalty_point_history (member_id, point, event, event_type, task_id) VALUES (?, ?, ?, ?, ?)`,
		memberID, amount, event, eventType, tID,
	); err != nil {
		return nil, fmt.Errorf("insert history: %w", err)
	}

	res, err := tx.Exec(
		`UPDATE members SET loyalty_point = loyalty_point + ?, coin = coin + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		amount, amount, memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("update balances: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("member %d not found", memberID)
	}

	return balancesTx(tx, memberID)
}

// Debit spends amount coins: one negative history row, coin -= amount.
// loyalty_point is untouched — it is lifetime earnings, not spendable
// balance. Fails with ErrInsufficientBalance when coin < amount; the check
// and the decrement happen in the same transaction so a concurrent credit
// or debit cannot race past it.
func (s *PointsStore) Debit(ctx context.Context, memberID, amount int64, event string, rewardID *int64) (*model.BalanceUpdate, error) {
	if amount < 0 {
		return nil, ErrNegativeAmount
	}

	var upd *model.BalanceUpdate
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		upd, err = s.DebitTx(tx, memberID, amount, event, rewardID)
		return err
	})
	return upd, err
}

// DebitTx applies a debit inside an existing transaction.
func (s *PointsStore) DebitTx(tx *sql.Tx, memberID, amount int64, event string, rewardID *int64) (*model.BalanceUpdate, error) {
	if amount < 0 {
		return nil, ErrNegativeAmount
	}

	var coin int64
	err := tx.QueryRow(`SELECT coin FROM members WHERE id = ?`, memberID).Scan(&coin)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("member %d not found", memberID)
	}
	if err != nil {
		return nil, fmt.Errorf("read coin balance: %w", err)
	}
	if coin < amount {
		return nil, ErrInsufficientBalance
	}

	var rID sql.NullInt64
	if rewardID != nil {
		rID = sql.NullInt64{Int64: *rewardID, Valid: true}
	}

	if _, err := tx.Exec(
		`INSERT INTO loyalty_point_history (member_id, point, event, event_type, reward_id) VALUES (?, ?, ?, ?, ?)`,
		memberID, -amount, event, model.EventRedemption, rID,
	); err != nil {
		return nil, fmt.Errorf("insert history: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE members SET coin = coin - ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		amount, memberID,
	); err != nil {
		return nil, fmt.Errorf("update coin: %w", err)
	}

	return balancesTx(tx, memberID)
}

// RefundTx returns previously debited coins to the member: a positive
// coin-only history row. A resync between the debit and the refund may have
// already restored the coins, so the refund is clamped to keep
// coin <= loyalty_point; when the balances are already whole no ledger row
// is written.
func (s *PointsStore) RefundTx(tx *sql.Tx, memberID, amount int64, event string, rewardID *int64) (*model.BalanceUpdate, error) {
	if amount < 0 {
		return nil, ErrNegativeAmount
	}

	var loyalty, coin int64
	err := tx.QueryRow(`SELECT loyalty_point, coin FROM members WHERE id = ?`, memberID).Scan(&loyalty, &coin)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("member %d not found", memberID)
	}
	if err != nil {
		return nil, fmt.Errorf("read balances: %w", err)
	}
	if amount > loyalty-coin {
		amount = loyalty - coin
	}
	if amount <= 0 {
		return balancesTx(tx, memberID)
	}

	var rID sql.NullInt64
	if rewardID != nil {
		rID = sql.NullInt64{Int64: *rewardID, Valid: true}
	}

	if _, err := tx.Exec(
		`INSERT INTO loyalty_point_history (member_id, point, event, event_type, reward_id) VALUES (?, ?, ?, ?, ?)`,
		memberID, amount, event, model.EventRedemptionRefund, rID,
	); err != nil {
		return nil, fmt.Errorf("insert history: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE members SET coin = coin + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		amount, memberID,
	); err != nil {
		return nil, fmt.Errorf("update coin: %w", err)
	}

	return balancesTx(tx, memberID)
}

// Resync is the administrative repair path: it sets coin = loyalty_point.
// Idempotent; a history row recording the delta is written only when the
// balances actually differed.
func (s *PointsStore) Resync(ctx context.Context, memberID int64) (*model.BalanceUpdate, error) {
	var upd *model.BalanceUpdate
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var loyalty, coin int64
		err := tx.QueryRow(`SELECT loyalty_point, coin FROM members WHERE id = ?`, memberID).Scan(&loyalty, &coin)
		if err == sql.ErrNoRows {
			return fmt.Errorf("member %d not found", memberID)
		}
		if err != nil {
			return fmt.Errorf("read balances: %w", err)
		}

		if coin != loyalty {
			if _, err := tx.Exec(
				`INSERT INTO loyalty_point_history (member_id, point, event, event_type) VALUES (?, ?, ?, ?)`,
				memberID, loyalty-coin, "coin resync to loyalty point", model.EventSystemResync,
			); err != nil {
				return fmt.Errorf("insert history: %w", err)
			}
			if _, err := tx.Exec(
				`UPDATE members SET coin = loyalty_point, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
				memberID,
			); err != nil {
				return fmt.Errorf("resync coin: %w", err)
			}
		}

		upd, err = balancesTx(tx, memberID)
		return err
	})
	return upd, err
}

// AdminAdjust applies a signed delta. Positive deltas move both balances
// symmetrically (same as a credit). Negative deltas cut lifetime earnings
// and require the explicit allowLifetimeCut flag; they reduce both balances
// and fail if either would go below zero.
func (s *PointsStore) AdminAdjust(ctx context.Context, memberID, delta int64, event string, allowLifetimeCut bool) (*model.BalanceUpdate, error) {
	if delta >= 0 {
		return s.Credit(ctx, memberID, delta, event, model.EventAdminAdjustment, nil)
	}
	if !allowLifetimeCut {
		return nil, ErrLifetimeCutNotAllowed
	}

	var upd *model.BalanceUpdate
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var loyalty, coin int64
		err := tx.QueryRow(`SELECT loyalty_point, coin FROM members WHERE id = ?`, memberID).Scan(&loyalty, &coin)
		if err == sql.ErrNoRows {
			return fmt.Errorf("member %d not found", memberID)
		}
		if err != nil {
			return fmt.Errorf("read balances: %w", err)
		}
		if loyalty+delta < 0 || coin+delta < 0 {
			return ErrInsufficientBalance
		}

		if _, err := tx.Exec(
			`INSERT INTO loyalty_point_history (member_id, point, event, event_type) VALUES (?, ?, ?, ?)`,
			memberID, delta, event, model.EventAdminAdjustment,
		); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
		if _, err := tx.Exec(
			`UPDATE members SET loyalty_point = loyalty_point + ?, coin = coin + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			delta, delta, memberID,
		); err != nil {
			return fmt.Errorf("update balances: %w", err)
		}

		upd, err = balancesTx(tx, memberID)
		return err
	})
	return upd, err
}

// Balances returns the current cached balance pair.
func (s *PointsStore) Balances(memberID int64) (*model.BalanceUpdate, error) {
	var upd model.BalanceUpdate
	err := s.db.QueryRow(
		`SELECT id, loyalty_point, coin FROM members WHERE id = ?`, memberID,
	).Scan(&upd.MemberID, &upd.LoyaltyPoint, &upd.Coin)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balances: %w", err)
	}
	return &upd, nil
}

func scanLedgerEntry(scanner interface{ Scan(...any) error }) (*model.PointLedgerEntry, error) {
	var e model.PointLedgerEntry
	var taskID, rewardID sql.NullInt64

	err := scanner.Scan(&e.ID, &e.MemberID, &e.Point, &e.Event, &e.EventType, &taskID, &rewardID, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	if taskID.Valid {
		e.TaskID = &taskID.Int64
	}
	if rewardID.Valid {
		e.RewardID = &rewardID.Int64
	}
	return &e, nil
}

const ledgerCols = `id, member_id, point, event, event_type, task_id, reward_id, created_at`

// History returns the member's most recent ledger entries, newest first.
func (s *PointsStore) History(memberID int64, limit int) ([]model.PointLedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+ledgerCols+` FROM loyalty_point_history WHERE member_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		memberID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []model.PointLedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *PointsStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return withTx(ctx, s.db, fn)
}

func balancesTx(tx *sql.Tx, memberID int64) (*model.BalanceUpdate, error) {
	var upd model.BalanceUpdate
	err := tx.QueryRow(
		`SELECT id, loyalty_point, coin FROM members WHERE id = ?`, memberID,
	).Scan(&upd.MemberID, &upd.LoyaltyPoint, &upd.Coin)
	if err != nil {
		return nil, fmt.Errorf("read updated balances: %w", err)
	}
	return &upd, nil
}
