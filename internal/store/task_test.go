package store

import (
	"context"
	"testing"
	"time"

	"github.com/komunitas/loyalty-server/internal/model"
)

func TestListForMember(t *testing.T) {
	db := openTestDB(t)
	tasks := NewTaskStore(db)
	subs := NewSubmissionStore(db, NewPointsStore(db))
	m := createTestMember(t, db, "alice")

	fresh := createTestTask(t, db, "follow", 10)
	inFlight := createTestTask(t, db, "like", 5)
	done := createTestTask(t, db, "comment", 5)
	if _, err := tasks.Create("hidden", "", "https://instagram.com/p/x", 5, model.TaskInactive); err != nil {
		t.Fatalf("create inactive task: %v", err)
	}

	now := time.Now()
	subs.Start(context.Background(), m.ID, inFlight.ID, now, now.Add(4*time.Hour))
	doneSub, _ := subs.Start(context.Background(), m.ID, done.ID, now, now.Add(4*time.Hour))
	subs.Complete(context.Background(), doneSub.ID, nil, "", 5, "task completed: comment", false)

	list, err := tasks.ListForMember(m.ID, 20, 0)
	if err != nil {
		t.Fatalf("list for member: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("list length = %d, want 3 (inactive task hidden)", len(list))
	}

	byID := make(map[int64]model.TaskWithSubmission)
	for _, tw := range list {
		byID[tw.ID] = tw
	}

	if got := byID[fresh.ID].SubmissionStatus; got != "available" {
		t.Errorf("untouched task status = %q, want %q", got, "available")
	}
	if got := byID[inFlight.ID].SubmissionStatus; got != model.SubmissionVerifying {
		t.Errorf("in-flight task status = %q, want %q", got, model.SubmissionVerifying)
	}
	if byID[inFlight.ID].Deadline == nil {
		t.Error("in-flight task missing deadline")
	}
	if got := byID[done.ID].SubmissionStatus; got != model.SubmissionCompleted {
		t.Errorf("completed task status = %q, want %q", got, model.SubmissionCompleted)
	}
	if byID[done.ID].Deadline != nil {
		t.Error("completed task should not expose a deadline")
	}
}

func TestCountCompletedSince(t *testing.T) {
	db := openTestDB(t)
	tasks := NewTaskStore(db)
	subs := NewSubmissionStore(db, NewPointsStore(db))
	m := createTestMember(t, db, "bob")

	t1 := createTestTask(t, db, "follow", 5)
	t2 := createTestTask(t, db, "like", 5)

	now := time.Now()
	s1, _ := subs.Start(context.Background(), m.ID, t1.ID, now, now.Add(4*time.Hour))
	s2, _ := subs.Start(context.Background(), m.ID, t2.ID, now, now.Add(4*time.Hour))
	subs.Complete(context.Background(), s1.ID, nil, "", 5, "task completed: follow", false)
	subs.Complete(context.Background(), s2.ID, nil, "", 5, "task completed: like", false)

	n, err := tasks.CountCompletedSince(m.ID, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}

	n, _ = tasks.CountCompletedSince(m.ID, now.Add(time.Hour))
	if n != 0 {
		t.Errorf("future-window count = %d, want 0", n)
	}
}

func TestTaskDeleteCascades(t *testing.T) {
	db := openTestDB(t)
	tasks := NewTaskStore(db)
	points := NewPointsStore(db)
	subs := NewSubmissionStore(db, points)
	m := createTestMember(t, db, "carol")
	task := createTestTask(t, db, "follow", 10)

	now := time.Now()
	sub, _ := subs.Start(context.Background(), m.ID, task.ID, now, now.Add(4*time.Hour))
	subs.Complete(context.Background(), sub.ID, nil, "", 10, "task completed: follow", false)

	if err := tasks.Delete(task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, _ := subs.GetByID(sub.ID)
	if got != nil {
		t.Error("submission survived task delete")
	}

	// The awarded points and their ledger row are immutable.
	upd, _ := points.Balances(m.ID)
	if upd.LoyaltyPoint != 10 {
		t.Errorf("loyalty_point = %d, want 10", upd.LoyaltyPoint)
	}
	entries, _ := points.History(m.ID, 10)
	if len(entries) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(entries))
	}
	if entries[0].TaskID != nil {
		t.Error("ledger task_id should be nulled after task delete")
	}
}
