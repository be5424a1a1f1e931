package model

import "time"

// Ledger event types. Every balance mutation appends exactly one history row;
// the rows are never updated or deleted.
const (
	EventTaskCompletion   = "task_completion"
	EventAdminAdjustment  = "admin_adjustment"
	EventRedemption       = "redemption"
	EventRedemptionRefund = "redemption_refund"
	EventSystemResync     = "system_resync"
)

type PointLedgerEntry struct {
	ID        int64     `json:"id"`
	MemberID  int64     `json:"member_id"`
	Point     int64     `json:"point"`
	Event     string    `json:"event"`
	EventType string    `json:"event_type"`
	TaskID    *int64    `json:"task_id"`
	RewardID  *int64    `json:"reward_id"`
	CreatedAt time.Time `json:"created_at"`
}
