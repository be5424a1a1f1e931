package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/komunitas/loyalty-server/internal/model"
)

type BoostStore struct {
	db *sql.DB
}

func NewBoostStore(db *sql.DB) *BoostStore {
	return &BoostStore{db: db}
}

func scanBoost(scanner interface{ Scan(...any) error }) (*model.BoostWindow, error) {
	var b model.BoostWindow
	err := scanner.Scan(
		&b.ID, &b.SettingName, &b.SettingValue, &b.Title, &b.Description,
		&b.StartDate, &b.EndDate, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

const boostCols = `id, setting_name, setting_value, title, description, start_date, end_date, created_at, updated_at`

// Upsert creates or replaces the window keyed by setting name, so an admin
// re-saving "double_points_weekend" updates the existing window in place.
func (s *BoostStore) Upsert(settingName, settingValue, title, description string, start, end time.Time) (*model.BoostWindow, error) {
	_, err := s.db.Exec(
		`INSERT INTO boost_windows (setting_name, setting_value, title, description, start_date, end_date)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(setting_name) DO UPDATE SET
		   setting_value = excluded.setting_value,
		   title = excluded.title,
		   description = excluded.description,
		   start_date = excluded.start_date,
		   end_date = excluded.end_date,
		   updated_at = CURRENT_TIMESTAMP`,
		settingName, settingValue, title, description, start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert boost window: %w", err)
	}
	return s.GetByName(settingName)
}

func (s *BoostStore) GetByID(id int64) (*model.BoostWindow, error) {
	row := s.db.QueryRow(`SELECT `+boostCols+` FROM boost_windows WHERE id = ?`, id)
	b, err := scanBoost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get boost window: %w", err)
	}
	return b, nil
}

func (s *BoostStore) GetByName(settingName string) (*model.BoostWindow, error) {
	row := s.db.QueryRow(`SELECT `+boostCols+` FROM boost_windows WHERE setting_name = ?`, settingName)
	b, err := scanBoost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get boost window by name: %w", err)
	}
	return b, nil
}

func (s *BoostStore) List() ([]model.BoostWindow, error) {
	rows, err := s.db.Query(`SELECT ` + boostCols + ` FROM boost_windows ORDER BY start_date DESC`)
	if err != nil {
		return nil, fmt.Errorf("list boost windows: %w", err)
	}
	defer rows.Close()

	var windows []model.BoostWindow
	for rows.Next() {
		b, err := scanBoost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan boost window: %w", err)
		}
		windows = append(windows, *b)
	}
	return windows, rows.Err()
}

func (s *BoostStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM boost_windows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete boost window: %w", err)
	}
	return nil
}
