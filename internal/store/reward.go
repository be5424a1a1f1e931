package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/komunitas/loyalty-server/internal/model"
)

// ErrRewardInactive is returned when redeeming a deactivated reward.
var ErrRewardInactive = errors.New("reward is not active")

// ErrInsufficientStock is returned when the requested quantity exceeds stock.
var ErrInsufficientStock = errors.New("insufficient reward stock")

// ErrRedemptionResolved is returned when an admin decides a redemption that
// is no longer pending.
var ErrRedemptionResolved = errors.New("redemption already resolved")

type RewardStore struct {
	db     *sql.DB
	points *PointsStore
}

func NewRewardStore(db *sql.DB, points *PointsStore) *RewardStore {
	return &RewardStore{db: db, points: points}
}

func scanReward(scanner interface{ Scan(...any) error }) (*model.Reward, error) {
	var r model.Reward
	var active int

	err := scanner.Scan(&r.ID, &r.Name, &r.Description, &r.PointCost, &r.Stock, &active, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	r.Active = active != 0
	return &r, nil
}

const rewardCols = `id, name, description, point_cost, stock, active, created_at`

func (s *RewardStore) Create(name, description string, pointCost, stock int64, active bool) (*model.Reward, error) {
	var a int
	if active {
		a = 1
	}

	result, err := s.db.Exec(
		`INSERT INTO rewards (name, description, point_cost, stock, active) VALUES (?, ?, ?, ?, ?)`,
		name, description, pointCost, stock, a,
	)
	if err != nil {
		return nil, fmt.Errorf("insert reward: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *RewardStore) GetByID(id int64) (*model.Reward, error) {
	row := s.db.QueryRow(`SELECT `+rewardCols+` FROM rewards WHERE id = ?`, id)
	r, err := scanReward(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reward: %w", err)
	}
	return r, nil
}

// List returns all rewards, active first, then by name.
func (s *RewardStore) List() ([]model.Reward, error) {
	rows, err := s.db.Query(`SELECT ` + rewardCols + ` FROM rewards ORDER BY active DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list rewards: %w", err)
	}
	defer rows.Close()

	var rewards []model.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		rewards = append(rewards, *r)
	}
	return rewards, rows.Err()
}

func (s *RewardStore) Update(id int64, name, description string, pointCost, stock int64, active bool) (*model.Reward, error) {
	var a int
	if active {
		a = 1
	}

	_, err := s.db.Exec(
		`UPDATE rewards SET name = ?, description = ?, point_cost = ?, stock = ?, active = ? WHERE id = ?`,
		name, description, pointCost, stock, a, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update reward: %w", err)
	}
	return s.GetByID(id)
}

func (s *RewardStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM rewards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete reward: %w", err)
	}
	return nil
}

// --- Redemption methods ---

func scanRedemption(scanner interface{ Scan(...any) error }) (*model.RewardRedemption, error) {
	var r model.RewardRedemption
	err := scanner.Scan(
		&r.ID, &r.MemberID, &r.RewardID, &r.PointsSpent, &r.Quantity,
		&r.ShippingNotes, &r.Status, &r.RedeemedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

const redemptionCols = `id, member_id, reward_id, points_spent, quantity, shipping_notes, status, redeemed_at, updated_at`

func (s *RewardStore) GetRedemptionByID(id int64) (*model.RewardRedemption, error) {
	row := s.db.QueryRow(`SELECT `+redemptionCols+` FROM reward_redemptions WHERE id = ?`, id)
	r, err := scanRedemption(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get redemption: %w", err)
	}
	return r, nil
}

// Redeem spends quantity * point_cost coins on a reward. Stock check, coin
// debit (with its negative ledger row) and the pending redemption record all
// commit in one transaction, so a concurrent redeem or credit on the same
// member serializes against it.
func (s *RewardStore) Redeem(ctx context.Context, memberID, rewardID, quantity int64, shippingNotes string) (*model.RewardRedemption, *model.BalanceUpdate, error) {
	var redemptionID int64
	var upd *model.BalanceUpdate

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRow(`SELECT `+rewardCols+` FROM rewards WHERE id = ?`, rewardID)
		reward, err := scanReward(row)
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		if err != nil {
			return fmt.Errorf("read reward: %w", err)
		}
		if !reward.Active {
			return ErrRewardInactive
		}
		if reward.Stock < quantity {
			return ErrInsufficientStock
		}

		totalCost := reward.PointCost * quantity

		if _, err := tx.Exec(
			`UPDATE rewards SET stock = stock - ? WHERE id = ?`,
			quantity, rewardID,
		); err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}

		upd, err = s.points.DebitTx(tx, memberID, totalCost, "reward redemption: "+reward.Name, &rewardID)
		if err != nil {
			return err
		}

		res, err := tx.Exec(
			`INSERT INTO reward_redemptions (member_id, reward_id, points_spent, quantity, shipping_notes, status) VALUES (?, ?, ?, ?, ?, ?)`,
			memberID, rewardID, totalCost, quantity, shippingNotes, model.RedemptionPending,
		)
		if err != nil {
			return fmt.Errorf("insert redemption: %w", err)
		}
		redemptionID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		return nil
	})
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	redemption, err := s.GetRedemptionByID(redemptionID)
	return redemption, upd, err
}

// Resolve completes or rejects a pending redemption. Rejection restores the
// stock and refunds the coins with a compensating coin-only ledger row.
func (s *RewardStore) Resolve(ctx context.Context, id int64, status string) (*model.RewardRedemption, error) {
	if status != model.RedemptionCompleted && status != model.RedemptionRejected {
		return nil, fmt.Errorf("invalid redemption status %q", status)
	}

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRow(`SELECT `+redemptionCols+` FROM reward_redemptions WHERE id = ?`, id)
		redemption, err := scanRedemption(row)
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		if err != nil {
			return fmt.Errorf("read redemption: %w", err)
		}
		if redemption.Status != model.RedemptionPending {
			return ErrRedemptionResolved
		}

		if _, err := tx.Exec(
			`UPDATE reward_redemptions SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			status, id,
		); err != nil {
			return fmt.Errorf("update redemption: %w", err)
		}

		if status == model.RedemptionRejected {
			if _, err := tx.Exec(
				`UPDATE rewards SET stock = stock + ? WHERE id = ?`,
				redemption.Quantity, redemption.RewardID,
			); err != nil {
				return fmt.Errorf("restore stock: %w", err)
			}
			if _, err := s.points.RefundTx(tx, redemption.MemberID, redemption.PointsSpent, "redemption rejected", &redemption.RewardID); err != nil {
				return err
			}
		}
		return nil
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetRedemptionByID(id)
}

func (s *RewardStore) ListRedemptionsByMember(memberID int64) ([]model.RewardRedemption, error) {
	return s.listRedemptions(`WHERE member_id = ?`, memberID)
}

func (s *RewardStore) ListRedemptionsByStatus(status string) ([]model.RewardRedemption, error) {
	return s.listRedemptions(`WHERE status = ?`, status)
}

func (s *RewardStore) listRedemptions(where string, arg any) ([]model.RewardRedemption, error) {
	rows, err := s.db.Query(
		`SELECT `+redemptionCols+` FROM reward_redemptions `+where+` ORDER BY redeemed_at DESC, id DESC`,
		arg,
	)
	if err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	defer rows.Close()

	var redemptions []model.RewardRedemption
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		redemptions = append(redemptions, *r)
	}
	return redemptions, rows.Err()
}
