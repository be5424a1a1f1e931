package model

import "time"

type Reward struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PointCost   int64     `json:"point_cost"`
	Stock       int64     `json:"stock"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Redemption statuses. Redemptions are created pending and resolved by an
// admin; rejecting one refunds the coins spent.
const (
	RedemptionPending   = "pending"
	RedemptionCompleted = "completed"
	RedemptionRejected  = "rejected"
)

type RewardRedemption struct {
	ID            int64     `json:"id"`
	MemberID      int64     `json:"member_id"`
	RewardID      int64     `json:"reward_id"`
	PointsSpent   int64     `json:"points_spent"`
	Quantity      int64     `json:"quantity"`
	ShippingNotes string    `json:"shipping_notes"`
	Status        string    `json:"status"`
	RedeemedAt    time.Time `json:"redeemed_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
