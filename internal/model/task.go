package model

import "time"

// Task statuses. Inactive tasks are hidden from members and cannot be started.
const (
	TaskAvailable = "available"
	TaskInactive  = "inactive"
)

type Task struct {
	ID          int64     `json:"id"`
	Keyword     string    `json:"keyword"`
	Description string    `json:"description"`
	PostURL     string    `json:"post_url"`
	PointValue  int64     `json:"point_value"`
	Status      string    `json:"status"`
	PostedAt    time.Time `json:"posted_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Submission statuses. A task with no submission row (or only a failed one)
// is available to the member; "verifying" is the only non-terminal state.
const (
	SubmissionVerifying = "verifying"
	SubmissionCompleted = "completed"
	SubmissionFailed    = "failed"
)

type TaskSubmission struct {
	ID         int64      `json:"id"`
	MemberID   int64      `json:"member_id"`
	TaskID     int64      `json:"task_id"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	Deadline   *time.Time `json:"deadline"`
	VerifiedAt *time.Time `json:"verified_at"`
	VerifierID *int64     `json:"verifier_id"`
	AdminNotes string     `json:"admin_notes"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Terminal reports whether no further verdict may be applied to the submission.
func (s *TaskSubmission) Terminal() bool {
	return s.Status == SubmissionCompleted || s.Status == SubmissionFailed
}

// TaskWithSubmission is the member-facing task listing row: the task plus the
// member's own submission state and deadline, if any.
type TaskWithSubmission struct {
	Task
	SubmissionStatus string     `json:"submission_status"`
	SubmissionID     *int64     `json:"submission_id,omitempty"`
	Deadline         *time.Time `json:"deadline,omitempty"`
}
