package store

import (
	"testing"
	"time"
)

func TestSessionLifecycle(t *testing.T) {
	db := openTestDB(t)
	sessions := NewSessionStore(db)
	m := createTestMember(t, db, "alice")

	sess, err := sessions.Create(m.ID, time.Hour)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.Token == "" {
		t.Fatal("empty session token")
	}

	got, err := sessions.GetByToken(sess.Token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if got == nil || got.MemberID != m.ID {
		t.Fatalf("got = %+v, want session for member %d", got, m.ID)
	}

	if err := sessions.Delete(sess.Token); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = sessions.GetByToken(sess.Token)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got != nil {
		t.Error("session still resolvable after delete")
	}
}

func TestExpiredSessionNotReturned(t *testing.T) {
	db := openTestDB(t)
	sessions := NewSessionStore(db)
	m := createTestMember(t, db, "bob")

	sess, err := sessions.Create(m.ID, -time.Minute)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	got, err := sessions.GetByToken(sess.Token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if got != nil {
		t.Error("expired session resolved")
	}
}

func TestDeleteExpired(t *testing.T) {
	db := openTestDB(t)
	sessions := NewSessionStore(db)
	m := createTestMember(t, db, "carol")

	sessions.Create(m.ID, -time.Minute)
	sessions.Create(m.ID, -time.Hour)
	live, _ := sessions.Create(m.ID, time.Hour)

	n, err := sessions.DeleteExpired()
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}

	got, _ := sessions.GetByToken(live.Token)
	if got == nil {
		t.Error("live session swept away")
	}
}
