package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/komunitas/loyalty-server/internal/database"
	"github.com/komunitas/loyalty-server/internal/model"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestMember(t *testing.T, db *sql.DB, name string) *model.Member {
	t.Helper()
	m, err := NewMemberStore(db).Create(name, name+"@example.com", "", "member")
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	return m
}

func TestCreditMovesBothBalances(t *testing.T) {
	db := openTestDB(t)
	points := NewPointsStore(db)
	m := createTestMember(t, db, "alice")

	upd, err := points.Credit(context.Background(), m.ID, 50, "task completed: follow", model.EventTaskCompletion, nil)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if upd.LoyaltyPoint != 50 {
		t.Errorf("loyalty_point = %d, want 50", upd.LoyaltyPoint)
	}
	if upd.Coin != 50 {
		t.Errorf("coin = %d, want 50", upd.Coin)
	}

	entries, err := points.History(m.ID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("history length = %d, want 1", len(entries))
	}
	if entries[0].Point != 50 {
		t.Errorf("history point = %d, want 50", entries[0].Point)
	}
	if entries[0].EventType != model.EventTaskCompletion {
		t.Errorf("event_type = %q, want %q", entries[0].EventType, model.EventTaskCompletion)
	}
}

func TestDebitMovesCoinOnly(t *testing.T) {
	db := openTestDB(t)
	points := NewPointsStore(db)
	m := createTestMember(t, db, "bob")

	if _, err := points.Credit(context.Background(), m.ID, 100, "seed", model.EventAdminAdjustment, nil); err != nil {
		t.Fatalf("credit: %v", err)
	}

	upd, err := points.Debit(context.Background(), m.ID, 30, "reward redemption: mug", nil)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if upd.LoyaltyPoint != 100 {
		t.Errorf("loyalty_point = %d, want 100 (lifetime untouched)", upd.LoyaltyPoint)
	}
	if upd.Coin != 70 {
		t.Errorf("coin = %d, want 70", upd.Coin)
	}

	entries, _ := points.History(m.ID, 10)
	if len(entries) != 2 {
		t.Fatalf("history length = %d, want 2", len(entries))
	}
	// Newest first: the debit row is negative.
	if entries[0].Point != -30 {
		t.Errorf("debit history point = %d, want -30", entries[0].Point)
	}
}

func TestDebitInsufficientBalance(t *testing.T) {
	db := openTestDB(t)
	points := NewPointsStore(db)
	m := createTestMember(t, db, "carol")

	if _, err := points.Credit(context.Background(), m.ID, 10, "seed", model.EventAdminAdjustment, nil); err != nil {
		t.Fatalf("credit: %v", err)
	}

	_, err := points.Debit(context.Background(), m.ID, 11, "too much", nil)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	// Balances and ledger untouched by the failed debit.
	upd, _ := points.Balances(m.ID)
	if upd.Coin != 10 {
		t.Errorf("coin = %d, want 10", upd.Coin)
	}
	entries, _ := points.History(m.ID, 10)
	if len(entries) != 1 {
		t.Errorf("history length = %d, want 1", len(entries))
	}
}

func TestNegativeAmountRejected(t *testing.T) {
	db := openTestDB(t)
	points := NewPointsStore(db)
	m := createTestMember(t, db, "dave")

	if _, err := points.Credit(context.Background(), m.ID, -5, "bad", model.EventAdminAdjustment, nil); !errors.Is(err, ErrNegativeAmount) {
		t.Errorf("credit err = %v, want ErrNegativeAmount", err)
	}
	if _, err := points.Debit(context.Background(), m.ID, -5, "bad", nil); !errors.Is(err, ErrNegativeAmount) {
		t.Errorf("debit err = %v, want ErrNegativeAmount", err)
	}
}

func TestResync(t *testing.T) {
	db := openTestDB(t)
	points := NewPointsStore(db)
	m := createTestMember(t, db, "erin")

	points.Credit(context.Background(), m.ID, 100, "seed", model.EventAdminAdjustment, nil)
	points.Debit(context.Background(), m.ID, 40, "spend", nil)

	upd, err := points.Resync(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if upd.Coin != 100 || upd.LoyaltyPoint != 100 {
		t.Errorf("balances = (%d, %d), want (100, 100)", upd.LoyaltyPoint, upd.Coin)
	}

	entries, _ := points.History(m.ID, 10)
	if len(entries) != 3 {
		t.Fatalf("history length = %d, want 3", len(entries))
	}
	if entries[0].Point != 40 || entries[0].EventType != model.EventSystemResync {
		t.Errorf("resync row = (%d, %q), want (40, %q)", entries[0].Point, entries[0].EventType, model.EventSystemResync)
	}

	// Resync when already equal is a no-op and writes no row.
	if _, err := points.Resync(context.Background(), m.ID); err != nil {
		t.Fatalf("second resync: %v", err)
	}
	entries, _ = points.History(m.ID, 10)
	if len(entries) != 3 {
		t.Errorf("history length after idempotent resync = %d, want 3", len(entries))
	}
}

func TestAdminAdjustPositive(t *testing.T) {
	db := openTestDB(t)
	points := NewPointsStore(db)
	m := createTestMember(t, db, "frank")

	upd, err := points.AdminAdjust(context.Background(), m.ID, 25, "bonus", false)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if upd.LoyaltyPoint != 25 || upd.Coin != 25 {
		t.Errorf("balances = (%d, %d), want (25, 25)", upd.LoyaltyPoint, upd.Coin)
	}
}

func TestAdminAdjustNegativeRequiresFlag(t *testing.T) {
	db := openTestDB(t)
	points := NewPointsStore(db)
	m := createTestMember(t, db, "grace")

	points.Credit(context.Background(), m.ID, 50, "seed", model.EventAdminAdjustment, nil)

	if _, err := points.AdminAdjust(context.Background(), m.ID, -10, "oops", false); !errors.Is(err, ErrLifetimeCutNotAllowed) {
		t.Fatalf("err = %v, want ErrLifetimeCutNotAllowed", err)
	}

	upd, err := points.AdminAdjust(context.Background(), m.ID, -10, "correction", true)
	if err != nil {
		t.Fatalf("adjust with flag: %v", err)
	}
	if upd.LoyaltyPoint != 40 || upd.Coin != 40 {
		t.Errorf("balances = (%d, %d), want (40, 40)", upd.LoyaltyPoint, upd.Coin)
	}

	// Cannot cut below zero.
	if _, err := points.AdminAdjust(context.Background(), m.ID, -100, "too far", true); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestCoinNeverExceedsLoyaltyPoint(t *testing.T) {
	db := openTestDB(t)
	points := NewPointsStore(db)
	m := createTestMember(t, db, "heidi")

	points.Credit(context.Background(), m.ID, 100, "seed", model.EventAdminAdjustment, nil)
	points.Debit(context.Background(), m.ID, 60, "spend", nil)
	points.Credit(context.Background(), m.ID, 20, "earn", model.EventTaskCompletion, nil)

	upd, _ := points.Balances(m.ID)
	if upd.Coin > upd.LoyaltyPoint {
		t.Errorf("coin %d exceeds loyalty_point %d", upd.Coin, upd.LoyaltyPoint)
	}
}
