package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/komunitas/loyalty-server/internal/model"
)

// ErrActiveSubmission is returned when a member starts a task they are
// already verifying.
var ErrActiveSubmission = errors.New("submission already being verified")

// ErrAlreadyFinalized is returned when a verdict or restart is applied to a
// completed submission. It is the guard behind at-most-once point awarding.
var ErrAlreadyFinalized = errors.New("submission already finalized")

// ErrNotVerifying is returned when a verdict arrives for a submission that
// is not in the verifying state (late or duplicate callbacks).
var ErrNotVerifying = errors.New("submission is not being verified")

// ErrDeadlineNotReached is returned when a timeout is requested before the
// submission's deadline has passed.
var ErrDeadlineNotReached = errors.New("submission deadline not reached")

// SubmissionStore owns the task_submissions table and the transactional
// state transitions on it. Transitions that award points run the credit in
// the same transaction as the state change, via the points store.
type SubmissionStore struct {
	db     *sql.DB
	points *PointsStore
}

func NewSubmissionStore(db *sql.DB, points *PointsStore) *SubmissionStore {
	return &SubmissionStore{db: db, points: points}
}

func scanSubmission(scanner interface{ Scan(...any) error }) (*model.TaskSubmission, error) {
	var s model.TaskSubmission
	var deadline, verifiedAt sql.NullTime
	var verifierID sql.NullInt64

	err := scanner.Scan(
		&s.ID, &s.MemberID, &s.TaskID, &s.Status, &s.StartedAt,
		&deadline, &verifiedAt, &verifierID, &s.AdminNotes,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if deadline.Valid {
		d := deadline.Time
		s.Deadline = &d
	}
	if verifiedAt.Valid {
		v := verifiedAt.Time
		s.VerifiedAt = &v
	}
	if verifierID.Valid {
		s.VerifierID = &verifierID.Int64
	}
	return &s, nil
}

const submissionCols = `id, member_id, task_id, status, started_at, deadline, verified_at, verifier_id, admin_notes, created_at, updated_at`

func (s *SubmissionStore) GetByID(id int64) (*model.TaskSubmission, error) {
	row := s.db.QueryRow(`SELECT `+submissionCols+` FROM task_submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return sub, nil
}

func (s *SubmissionStore) GetByMemberAndTask(memberID, taskID int64) (*model.TaskSubmission, error) {
	row := s.db.QueryRow(
		`SELECT `+submissionCols+` FROM task_submissions WHERE member_id = ? AND task_id = ?`,
		memberID, taskID,
	)
	sub, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get submission by member and task: %w", err)
	}
	return sub, nil
}

// Start begins (or restarts) the member's attempt at a task. At most one row
// exists per (member, task): a retry after failure reuses the row, resetting
// its clock. Starting while verifying returns ErrActiveSubmission; starting
// a completed submission returns ErrAlreadyFinalized.
func (s *SubmissionStore) Start(ctx context.Context, memberID, taskID int64, now time.Time, deadline time.Time) (*model.TaskSubmission, error) {
	var id int64
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRow(
			`SELECT id, status FROM task_submissions WHERE member_id = ? AND task_id = ?`,
			memberID, taskID,
		)
		var existingID int64
		var status string
		err := row.Scan(&existingID, &status)
		switch {
		case err == sql.ErrNoRows:
			res, err := tx.Exec(
				`INSERT INTO task_submissions (member_id, task_id, status, started_at, deadline) VALUES (?, ?, ?, ?, ?)`,
				memberID, taskID, model.SubmissionVerifying, now.UTC(), deadline.UTC(),
			)
			if err != nil {
				return fmt.Errorf("insert submission: %w", err)
			}
			id, err = res.LastInsertId()
			if err != nil {
				return fmt.Errorf("last insert id: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("read submission: %w", err)
		}

		switch status {
		case model.SubmissionVerifying:
			return ErrActiveSubmission
		case model.SubmissionCompleted:
			return ErrAlreadyFinalized
		}

		if _, err := tx.Exec(
			`UPDATE task_submissions
			 SET status = ?, started_at = ?, deadline = ?, verified_at = NULL, verifier_id = NULL, admin_notes = '', updated_at = CURRENT_TIMESTAMP
			 WHERE id = ?`,
			model.SubmissionVerifying, now.UTC(), deadline.UTC(), existingID,
		); err != nil {
			return fmt.Errorf("restart submission: %w", err)
		}
		id = existingID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(id)
}

// Expire marks an overdue verifying submission failed. Expiring a submission
// that is already terminal is a no-op, not an error, so redundant client
// timers and server sweeps are safe.
func (s *SubmissionStore) Expire(ctx context.Context, id int64, now time.Time) (*model.TaskSubmission, error) {
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var status string
		var deadline sql.NullTime
		err := tx.QueryRow(`SELECT status, deadline FROM task_submissions WHERE id = ?`, id).Scan(&status, &deadline)
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		if err != nil {
			return fmt.Errorf("read submission: %w", err)
		}

		if status != model.SubmissionVerifying {
			return nil // already terminal, nothing to do
		}
		// Expiry requires the deadline to have strictly passed; the exact
		// deadline instant is still in time.
		if deadline.Valid && !now.After(deadline.Time) {
			return ErrDeadlineNotReached
		}

		if _, err := tx.Exec(
			`UPDATE task_submissions SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			model.SubmissionFailed, id,
		); err != nil {
			return fmt.Errorf("expire submission: %w", err)
		}
		return nil
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetByID(id)
}

// ListOverdue returns verifying submissions whose deadline has passed.
func (s *SubmissionStore) ListOverdue(now time.Time) ([]model.TaskSubmission, error) {
	rows, err := s.db.Query(
		`SELECT `+submissionCols+` FROM task_submissions WHERE status = ? AND deadline IS NOT NULL AND deadline < ?`,
		model.SubmissionVerifying, now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list overdue: %w", err)
	}
	defer rows.Close()

	var subs []model.TaskSubmission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// Complete finalizes a verifying submission and credits awardPoints in the
// same transaction. The state check and the credit commit together, so two
// concurrent verdicts serialize and only the first one awards: the loser
// sees a terminal state and gets ErrAlreadyFinalized or ErrNotVerifying.
// fromFailed additionally allows the admin-override path to complete a
// submission that has already failed (e.g. after a wrongly applied expiry).
func (s *SubmissionStore) Complete(ctx context.Context, id int64, verifierID *int64, notes string, awardPoints int64, event string, fromFailed bool) (*model.TaskSubmission, *model.BalanceUpdate, error) {
	var upd *model.BalanceUpdate
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var memberID, taskID int64
		var status string
		err := tx.QueryRow(`SELECT member_id, task_id, status FROM task_submissions WHERE id = ?`, id).
			Scan(&memberID, &taskID, &status)
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		if err != nil {
			return fmt.Errorf("read submission: %w", err)
		}

		switch status {
		case model.SubmissionCompleted:
			return ErrAlreadyFinalized
		case model.SubmissionFailed:
			if !fromFailed {
				return ErrNotVerifying
			}
		}

		var vID sql.NullInt64
		if verifierID != nil {
			vID = sql.NullInt64{Int64: *verifierID, Valid: true}
		}

		if _, err := tx.Exec(
			`UPDATE task_submissions
			 SET status = ?, verified_at = CURRENT_TIMESTAMP, verifier_id = ?, admin_notes = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ?`,
			model.SubmissionCompleted, vID, notes, id,
		); err != nil {
			return fmt.Errorf("complete submission: %w", err)
		}

		upd, err = s.points.CreditTx(tx, memberID, awardPoints, event, model.EventTaskCompletion, &taskID)
		if err != nil {
			return fmt.Errorf("credit award: %w", err)
		}
		return nil
	})
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	sub, err := s.GetByID(id)
	return sub, upd, err
}

// Fail records a failed verdict. No points move. With force set (admin
// path) a failed submission may be re-failed to update the notes.
func (s *SubmissionStore) Fail(ctx context.Context, id int64, verifierID *int64, notes string, force bool) (*model.TaskSubmission, error) {
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRow(`SELECT status FROM task_submissions WHERE id = ?`, id).Scan(&status)
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		if err != nil {
			return fmt.Errorf("read submission: %w", err)
		}

		switch status {
		case model.SubmissionCompleted:
			return ErrAlreadyFinalized
		case model.SubmissionFailed:
			if !force {
				return ErrNotVerifying
			}
		}

		var vID sql.NullInt64
		if verifierID != nil {
			vID = sql.NullInt64{Int64: *verifierID, Valid: true}
		}

		if _, err := tx.Exec(
			`UPDATE task_submissions SET status = ?, verifier_id = ?, admin_notes = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			model.SubmissionFailed, vID, notes, id,
		); err != nil {
			return fmt.Errorf("fail submission: %w", err)
		}
		return nil
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetByID(id)
}

// ListByStatus returns submissions in a given state, oldest first, for the
// admin review queue.
func (s *SubmissionStore) ListByStatus(status string, limit int) ([]model.TaskSubmission, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT `+submissionCols+` FROM task_submissions WHERE status = ? ORDER BY started_at ASC LIMIT ?`,
		status, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var subs []model.TaskSubmission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
