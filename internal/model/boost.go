package model

import "time"

// BoostWindow is an admin-managed promotional period. SettingValue is either
// a numeric percentage ("300") or an activation flag ("true"/"active"); the
// boost package parses it once into a typed value.
type BoostWindow struct {
	ID           int64     `json:"id"`
	SettingName  string    `json:"setting_name"`
	SettingValue string    `json:"setting_value"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
