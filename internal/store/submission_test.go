package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/komunitas/loyalty-server/internal/model"
)

func createTestTask(t *testing.T, db *sql.DB, keyword string, points int64) *model.Task {
	t.Helper()
	task, err := NewTaskStore(db).Create(keyword, "", "https://instagram.com/p/x", points, model.TaskAvailable)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestStartCreatesVerifyingSubmission(t *testing.T) {
	db := openTestDB(t)
	subs := NewSubmissionStore(db, NewPointsStore(db))
	m := createTestMember(t, db, "alice")
	task := createTestTask(t, db, "follow", 10)

	now := time.Now()
	sub, err := subs.Start(context.Background(), m.ID, task.ID, now, now.Add(4*time.Hour))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sub.Status != model.SubmissionVerifying {
		t.Errorf("status = %q, want %q", sub.Status, model.SubmissionVerifying)
	}
	if sub.Deadline == nil {
		t.Fatal("deadline not set")
	}
	if got := sub.Deadline.Sub(sub.StartedAt); got < 3*time.Hour {
		t.Errorf("deadline window = %v, want ~4h", got)
	}
}

func TestStartWhileVerifying(t *testing.T) {
	db := openTestDB(t)
	subs := NewSubmissionStore(db, NewPointsStore(db))
	m := createTestMember(t, db, "bob")
	task := createTestTask(t, db, "like", 5)

	now := time.Now()
	if _, err := subs.Start(context.Background(), m.ID, task.ID, now, now.Add(4*time.Hour)); err != nil {
		t.Fatalf("first start: %v", err)
	}
	_, err := subs.Start(context.Background(), m.ID, task.ID, now, now.Add(4*time.Hour))
	if !errors.Is(err, ErrActiveSubmission) {
		t.Fatalf("err = %v, want ErrActiveSubmission", err)
	}
}

func TestStartAfterCompleted(t *testing.T) {
	db := openTestDB(t)
	subs := NewSubmissionStore(db, NewPointsStore(db))
	m := createTestMember(t, db, "carol")
	task := createTestTask(t, db, "comment", 5)

	now := time.Now()
	sub, _ := subs.Start(context.Background(), m.ID, task.ID, now, now.Add(4*time.Hour))
	if _, _, err := subs.Complete(context.Background(), sub.ID, nil, "", 5, "task completed: comment", false); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err := subs.Start(context.Background(), m.ID, task.ID, now, now.Add(4*time.Hour))
	if !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("err = %v, want ErrAlreadyFinalized", err)
	}
}

func TestRetryAfterFailureReusesRow(t *testing.T) {
	db := openTestDB(t)
	subs := NewSubmissionStore(db, NewPointsStore(db))
	m := createTestMember(t, db, "dave")
	task := createTestTask(t, db, "share", 5)

	now := time.Now()
	first, _ := subs.Start(context.Background(), m.ID, task.ID, now, now.Add(4*time.Hour))
	if _, err := subs.Fail(context.Background(), first.ID, nil, "keyword not found", false); err != nil {
		t.Fatalf("fail: %v", err)
	}

	later := now.Add(time.Hour)
	second, err := subs.Start(context.Background(), m.ID, task.ID, later, later.Add(4*time.Hour))
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("restart created new row: id %d, want %d", second.ID, first.ID)
	}
	if second.Status != model.SubmissionVerifying {
		t.Errorf("status = %q, want %q", second.Status, model.SubmissionVerifying)
	}
	if second.AdminNotes != "" {
		t.Errorf("admin notes not reset: %q", second.AdminNotes)
	}
}

func TestCompleteAwardsOnce(t *testing.T) {
	db := openTestDB(t)
	points := NewPointsStore(db)
	subs := NewSubmissionStore(db, points)
	m := createTestMember(t, db, "erin")
	task := createTestTask(t, db, "follow", 10)

	now := time.Now()
	sub, _ := subs.Start(context.Background(), m.ID, task.ID, now, now.Add(4*time.Hour))

	done, upd, err := subs.Complete(context.Background(), sub.ID, nil, "verified", 10, "task completed: follow", false)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != model.SubmissionCompleted {
		t.Errorf("status = %q, want %q", done.Status, model.SubmissionCompleted)
	}
	if upd.LoyaltyPoint != 10 || upd.Coin != 10 {
		t.Errorf("balances = (%d, %d), want (10, 10)", upd.LoyaltyPoint, upd.Coin)
	}

	// A second verdict must not award again.
	_, _, err = subs.Complete(context.Background(), sub.ID, nil, "dup", 10, "task completed: follow", false)
	if !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("err = %v, want ErrAlreadyFinalized", err)
	}
	final, _ := points.Balances(m.ID)
	if final.LoyaltyPoint != 10 {
		t.Errorf("loyalty_point after duplicate verdict = %d, want 10", final.LoyaltyPoint)
	}
	entries, _ := points.History(m.ID, 10)
	if len(entries) != 1 {
		t.Errorf("ledger rows = %d, want 1", len(entries))
	}
}

func TestCompleteConcurrentVerdictsAwardOnce(t *testing.T) {
	db := openTestDB(t)
	// Single pool connection so both transactions hit the same in-memory
	// database.
	db.SetMaxOpenConns(1)
	points := NewPointsStore(db)
	subs := NewSubmissionStore(db, points)
	m := createTestMember(t, db, "mallory")
	task := createTestTask(t, db, "follow", 10)

	now := time.Now()
	sub, _ := subs.Start(context.Background(), m.ID, task.ID, now, now.Add(4*time.Hour))

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := subs.Complete(context.Background(), sub.ID, nil, "verified", 10, "task completed: follow", false)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, losses int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyFinalized), errors.Is(err, ErrNotVerifying):
			losses++
		default:
			t.Fatalf("complete: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("wins = %d, losses = %d, want exactly one of each", wins, losses)
	}

	final, _ := points.Balances(m.ID)
	if final.LoyaltyPoint != 10 || final.Coin != 10 {
		t.Errorf("balances = (%d, %d), want (10, 10)", final.LoyaltyPoint, final.Coin)
	}
	entries, _ := points.History(m.ID, 10)
	if len(entries) != 1 {
		t.Errorf("ledger rows = %d, want 1", len(entries))
	}
}

func TestCompleteFromFailedRequiresOverride(t *testing.T) {
	db := openTestDB(t)
	subs := NewSubmissionStore(db, NewPointsStore(db))
	m := createTestMember(t, db, "frank")
	task := createTestTask(t, db, "like", 5)

	now := time.Now()
	sub, _ := subs.Start(context.Background(), m.ID, task.ID, now, now.Add(4*time.Hour))
	subs.Fail(context.Background(), sub.ID, nil, "", false)

	if _, _, err := subs.Complete(context.Background(), sub.ID, nil, "", 5, "task completed: like", false); !errors.Is(err, ErrNotVerifying) {
		t.Fatalf("err = %v, want ErrNotVerifying", err)
	}

	done, upd, err := subs.Complete(context.Background(), sub.ID, nil, "manual review", 5, "task completed: like", true)
	if err != nil {
		t.Fatalf("admin complete: %v", err)
	}
	if done.Status != model.SubmissionCompleted {
		t.Errorf("status = %q, want %q", done.Status, model.SubmissionCompleted)
	}
	if upd.Coin != 5 {
		t.Errorf("coin = %d, want 5", upd.Coin)
	}
}

func TestExpire(t *testing.T) {
	db := openTestDB(t)
	subs := NewSubmissionStore(db, NewPointsStore(db))
	m := createTestMember(t, db, "grace")
	task := createTestTask(t, db, "comment", 5)

	now := time.Now().Truncate(time.Second)
	deadline := now.Add(4 * time.Hour)
	sub, _ := subs.Start(context.Background(), m.ID, task.ID, now, deadline)

	// Before the deadline, expiry is rejected.
	if _, err := subs.Expire(context.Background(), sub.ID, now.Add(time.Hour)); !errors.Is(err, ErrDeadlineNotReached) {
		t.Fatalf("err = %v, want ErrDeadlineNotReached", err)
	}

	// The exact deadline instant is still in time.
	if _, err := subs.Expire(context.Background(), sub.ID, deadline); !errors.Is(err, ErrDeadlineNotReached) {
		t.Fatalf("err at deadline = %v, want ErrDeadlineNotReached", err)
	}

	expired, err := subs.Expire(context.Background(), sub.ID, now.Add(5*time.Hour))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired.Status != model.SubmissionFailed {
		t.Errorf("status = %q, want %q", expired.Status, model.SubmissionFailed)
	}

	// Expiring a terminal submission is a no-op.
	again, err := subs.Expire(context.Background(), sub.ID, now.Add(6*time.Hour))
	if err != nil {
		t.Fatalf("expire terminal: %v", err)
	}
	if again.Status != model.SubmissionFailed {
		t.Errorf("status = %q, want %q", again.Status, model.SubmissionFailed)
	}
}

func TestListOverdue(t *testing.T) {
	db := openTestDB(t)
	subs := NewSubmissionStore(db, NewPointsStore(db))
	m := createTestMember(t, db, "heidi")
	overdueTask := createTestTask(t, db, "follow", 5)
	freshTask := createTestTask(t, db, "like", 5)

	now := time.Now()
	subs.Start(context.Background(), m.ID, overdueTask.ID, now.Add(-5*time.Hour), now.Add(-time.Hour))
	subs.Start(context.Background(), m.ID, freshTask.ID, now, now.Add(4*time.Hour))

	overdue, err := subs.ListOverdue(now)
	if err != nil {
		t.Fatalf("list overdue: %v", err)
	}
	if len(overdue) != 1 {
		t.Fatalf("overdue count = %d, want 1", len(overdue))
	}
	if overdue[0].TaskID != overdueTask.ID {
		t.Errorf("overdue task = %d, want %d", overdue[0].TaskID, overdueTask.ID)
	}
}

func TestListByStatus(t *testing.T) {
	db := openTestDB(t)
	subs := NewSubmissionStore(db, NewPointsStore(db))
	m := createTestMember(t, db, "ivan")
	t1 := createTestTask(t, db, "follow", 5)
	t2 := createTestTask(t, db, "like", 5)

	now := time.Now()
	s1, _ := subs.Start(context.Background(), m.ID, t1.ID, now, now.Add(4*time.Hour))
	subs.Start(context.Background(), m.ID, t2.ID, now, now.Add(4*time.Hour))
	subs.Complete(context.Background(), s1.ID, nil, "", 5, "task completed: follow", false)

	verifying, err := subs.ListByStatus(model.SubmissionVerifying, 10)
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(verifying) != 1 {
		t.Fatalf("verifying count = %d, want 1", len(verifying))
	}
	if verifying[0].TaskID != t2.ID {
		t.Errorf("verifying task = %d, want %d", verifying[0].TaskID, t2.ID)
	}
}
