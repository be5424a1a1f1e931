package model

import "time"

type Member struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Role            string    `json:"role"`
	LoyaltyPoint    int64     `json:"loyalty_point"`
	Coin            int64     `json:"coin"`
	ProfileComplete bool      `json:"profile_complete"`
	PhotoURL        string    `json:"photo_url"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// BalanceUpdate reports both balances after a ledger mutation.
type BalanceUpdate struct {
	MemberID     int64 `json:"member_id"`
	LoyaltyPoint int64 `json:"loyalty_point"`
	Coin         int64 `json:"coin"`
}

type Session struct {
	ID        int64     `json:"id"`
	MemberID  int64     `json:"member_id"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
