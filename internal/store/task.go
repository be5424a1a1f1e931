package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/komunitas/loyalty-server/internal/model"
)

type TaskStore struct {
	db *sql.DB
}

func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

func scanTask(scanner interface{ Scan(...any) error }) (*model.Task, error) {
	var t model.Task
	err := scanner.Scan(
		&t.ID, &t.Keyword, &t.Description, &t.PostURL, &t.PointValue,
		&t.Status, &t.PostedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const taskCols = `id, keyword, description, post_url, point_value, status, posted_at, created_at, updated_at`

func (s *TaskStore) Create(keyword, description, postURL string, pointValue int64, status string) (*model.Task, error) {
	if status == "" {
		status = model.TaskAvailable
	}
	result, err := s.db.Exec(
		`INSERT INTO tasks (keyword, description, post_url, point_value, status) VALUES (?, ?, ?, ?, ?)`,
		keyword, description, postURL, pointValue, status,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *TaskStore) GetByID(id int64) (*model.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *TaskStore) List() ([]model.Task, error) {
	rows, err := s.db.Query(`SELECT ` + taskCols + ` FROM tasks ORDER BY posted_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// ListForMember returns available tasks newest first, each carrying the
// member's own submission state. Tasks the member has never attempted (or
// only failed) report as available again.
func (s *TaskStore) ListForMember(memberID int64, limit, offset int) ([]model.TaskWithSubmission, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT t.id, t.keyword, t.description, t.post_url, t.point_value, t.status, t.posted_at, t.created_at, t.updated_at,
		        s.id, s.status, s.deadline
		 FROM tasks t
		 LEFT JOIN task_submissions s ON s.task_id = t.id AND s.member_id = ?
		 WHERE t.status = ?
		 ORDER BY t.posted_at DESC
		 LIMIT ? OFFSET ?`,
		memberID, model.TaskAvailable, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks for member: %w", err)
	}
	defer rows.Close()

	var tasks []model.TaskWithSubmission
	for rows.Next() {
		var tw model.TaskWithSubmission
		var subID sql.NullInt64
		var subStatus sql.NullString
		var deadline sql.NullTime

		err := rows.Scan(
			&tw.ID, &tw.Keyword, &tw.Description, &tw.PostURL, &tw.PointValue,
			&tw.Status, &tw.PostedAt, &tw.CreatedAt, &tw.UpdatedAt,
			&subID, &subStatus, &deadline,
		)
		if err != nil {
			return nil, fmt.Errorf("scan task with submission: %w", err)
		}

		tw.SubmissionStatus = "available"
		if subStatus.Valid {
			tw.SubmissionStatus = subStatus.String
		}
		if subID.Valid {
			tw.SubmissionID = &subID.Int64
		}
		if deadline.Valid && subStatus.Valid && subStatus.String == model.SubmissionVerifying {
			d := deadline.Time
			tw.Deadline = &d
		}
		tasks = append(tasks, tw)
	}
	return tasks, rows.Err()
}

// CountCompletedSince counts this member's completions in a time range, for
// profile stats.
func (s *TaskStore) CountCompletedSince(memberID int64, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM task_submissions WHERE member_id = ? AND status = ? AND verified_at >= ?`,
		memberID, model.SubmissionCompleted, since.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count completed: %w", err)
	}
	return n, nil
}

func (s *TaskStore) Update(id int64, keyword, description, postURL string, pointValue int64, status string) (*model.Task, error) {
	_, err := s.db.Exec(
		`UPDATE tasks SET keyword = ?, description = ?, post_url = ?, point_value = ?, status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		keyword, description, postURL, pointValue, status, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return s.GetByID(id)
}

// Delete removes a task; its submissions cascade. Ledger entries keep their
// task_id nulled, never removed — awarded points are immutable audit records.
func (s *TaskStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}
