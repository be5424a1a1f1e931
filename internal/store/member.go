package store

import (
	"database/sql"
	"fmt"

	"github.com/komunitas/loyalty-server/internal/model"
)

type MemberStore struct {
	db *sql.DB
}

func NewMemberStore(db *sql.DB) *MemberStore {
	return &MemberStore{db: db}
}

func scanMember(scanner interface{ Scan(...any) error }) (*model.Member, error) {
	var m model.Member
	var profileComplete int

	err := scanner.Scan(
		&m.ID, &m.Name, &m.Email, &m.Role, &m.LoyaltyPoint, &m.Coin,
		&profileComplete, &m.PhotoURL, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.ProfileComplete = profileComplete != 0
	return &m, nil
}

const memberCols = `id, name, email, role, loyalty_point, coin, profile_complete, photo_url, created_at, updated_at`

func (s *MemberStore) Create(name, email, passwordHash, role string) (*model.Member, error) {
	if role == "" {
		role = "member"
	}
	result, err := s.db.Exec(
		`INSERT INTO members (name, email, password_hash, role) VALUES (?, ?, ?, ?)`,
		name, email, passwordHash, role,
	)
	if err != nil {
		return nil, fmt.Errorf("insert member: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *MemberStore) GetByID(id int64) (*model.Member, error) {
	row := s.db.QueryRow(`SELECT `+memberCols+` FROM members WHERE id = ?`, id)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

func (s *MemberStore) GetByEmail(email string) (*model.Member, error) {
	row := s.db.QueryRow(`SELECT `+memberCols+` FROM members WHERE email = ?`, email)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member by email: %w", err)
	}
	return m, nil
}

// PasswordHash returns the stored bcrypt hash for login verification.
func (s *MemberStore) PasswordHash(id int64) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT password_hash FROM members WHERE id = ?`, id).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get password hash: %w", err)
	}
	return hash, nil
}

func (s *MemberStore) List() ([]model.Member, error) {
	rows, err := s.db.Query(`SELECT ` + memberCols + ` FROM members ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []model.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

// Leaderboard returns members ordered by lifetime loyalty points.
func (s *MemberStore) Leaderboard(limit int) ([]model.Member, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+memberCols+` FROM members ORDER BY loyalty_point DESC, name ASC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rows.Close()

	var members []model.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func (s *MemberStore) SetProfileComplete(id int64, complete bool) error {
	var c int
	if complete {
		c = 1
	}
	_, err := s.db.Exec(
		`UPDATE members SET profile_complete = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		c, id,
	)
	if err != nil {
		return fmt.Errorf("set profile complete: %w", err)
	}
	return nil
}

func (s *MemberStore) Update(id int64, name, photoURL string) (*model.Member, error) {
	_, err := s.db.Exec(
		`UPDATE members SET name = ?, photo_url = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		name, photoURL, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update member: %w", err)
	}
	return s.GetByID(id)
}

func (s *MemberStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM members WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return nil
}
