// Package submission orchestrates the task attempt lifecycle: starting an
// attempt, dispatching it to the verification gateway, applying verdicts with
// boost-adjusted awards, and expiring overdue attempts.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/komunitas/loyalty-server/internal/boost"
	"github.com/komunitas/loyalty-server/internal/model"
	"github.com/komunitas/loyalty-server/internal/notify"
	"github.com/komunitas/loyalty-server/internal/store"
	"github.com/komunitas/loyalty-server/internal/verifier"
	"github.com/komunitas/loyalty-server/internal/websocket"
)

// VerificationWindow is how long the verification service has to deliver a
// verdict before the attempt fails on timeout.
const VerificationWindow = 4 * time.Hour

// ErrProfileIncomplete is returned when a member without a completed profile
// tries to start a task.
var ErrProfileIncomplete = errors.New("profile must be completed before starting tasks")

// ErrTaskUnavailable is returned when the task does not exist or is inactive.
var ErrTaskUnavailable = errors.New("task is not available")

// Service ties the submission state machine to the verification gateway, the
// boost resolver, notifications and the realtime hub.
type Service struct {
	members     *store.MemberStore
	tasks       *store.TaskStore
	submissions *store.SubmissionStore
	boosts      *store.BoostStore
	gateway     *verifier.Client
	emitter     notify.Emitter
	hub         *websocket.Hub
	logger      *slog.Logger
}

func NewService(
	members *store.MemberStore,
	tasks *store.TaskStore,
	submissions *store.SubmissionStore,
	boosts *store.BoostStore,
	gateway *verifier.Client,
	emitter notify.Emitter,
	hub *websocket.Hub,
	logger *slog.Logger,
) *Service {
	return &Service{
		members:     members,
		tasks:       tasks,
		submissions: submissions,
		boosts:      boosts,
		gateway:     gateway,
		emitter:     emitter,
		hub:         hub,
		logger:      logger.With("component", "submission"),
	}
}

// Start begins a member's attempt at a task and fires the verification
// request. The attempt is committed before the gateway is called, so a
// gateway outage never loses the attempt — it just runs out the clock.
func (s *Service) Start(ctx context.Context, memberID, taskID int64) (*model.TaskSubmission, error) {
	member, err := s.members.GetByID(memberID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, fmt.Errorf("member %d not found", memberID)
	}
	if !member.ProfileComplete {
		return nil, ErrProfileIncomplete
	}

	task, err := s.tasks.GetByID(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil || task.Status != model.TaskAvailable {
		return nil, ErrTaskUnavailable
	}

	now := time.Now().UTC()
	sub, err := s.submissions.Start(ctx, memberID, taskID, now, now.Add(VerificationWindow))
	if err != nil {
		return nil, err
	}

	go s.gateway.RequestVerification(context.WithoutCancel(ctx), verifier.VerificationRequest{
		SubmissionID: sub.ID,
		MemberID:     memberID,
		TaskID:       taskID,
		Keyword:      task.Keyword,
		PostURL:      task.PostURL,
		Deadline:     sub.Deadline.Format(time.RFC3339),
	})

	s.logger.Info("submission started",
		"submission_id", sub.ID, "member_id", memberID, "task_id", taskID)
	return sub, nil
}

// VerifySuccess applies a successful verdict. The award is the task's base
// points scaled by the boost percentage in effect at verdict time; the state
// transition and the credit commit in one transaction, so a duplicate verdict
// can never award twice.
func (s *Service) VerifySuccess(ctx context.Context, submissionID int64, verifierID *int64, notes string) (*model.TaskSubmission, *model.BalanceUpdate, error) {
	return s.complete(ctx, submissionID, verifierID, notes, nil, false)
}

// AdminComplete is the admin-override completion: it may pull a submission
// out of the failed state and may override the awarded points.
func (s *Service) AdminComplete(ctx context.Context, submissionID int64, adminID *int64, notes string, overridePoints *int64) (*model.TaskSubmission, *model.BalanceUpdate, error) {
	return s.complete(ctx, submissionID, adminID, notes, overridePoints, true)
}

func (s *Service) complete(ctx context.Context, submissionID int64, verifierID *int64, notes string, overridePoints *int64, fromFailed bool) (*model.TaskSubmission, *model.BalanceUpdate, error) {
	sub, err := s.submissions.GetByID(submissionID)
	if err != nil {
		return nil, nil, err
	}
	if sub == nil {
		return nil, nil, nil
	}

	task, err := s.tasks.GetByID(sub.TaskID)
	if err != nil {
		return nil, nil, err
	}
	if task == nil {
		return nil, nil, fmt.Errorf("task %d not found", sub.TaskID)
	}

	award := task.PointValue
	pct := float64(boost.BasePercent)
	if overridePoints != nil {
		award = *overridePoints
	} else {
		windows, err := s.boosts.List()
		if err != nil {
			return nil, nil, err
		}
		pct = boost.Resolve(time.Now().UTC(), windows)
		award = boost.BonusPoints(task.PointValue, pct)
	}

	event := "task completed: " + task.Keyword
	sub, upd, err := s.submissions.Complete(ctx, submissionID, verifierID, notes, award, event, fromFailed)
	if err != nil || sub == nil {
		return sub, upd, err
	}

	s.logger.Info("submission completed",
		"submission_id", sub.ID, "member_id", sub.MemberID,
		"task_id", sub.TaskID, "points", award, "boost_percent", pct)

	s.emitter.Emit(sub.MemberID,
		fmt.Sprintf("Task %q verified. You earned %d points!", task.Keyword, award),
		"/tasks")

	s.hub.Broadcast(websocket.NewMessage(websocket.EventSubmissionCompleted, sub.MemberID, sub.ID, map[string]any{
		"task_id": sub.TaskID,
		"points":  award,
	}))
	if upd != nil {
		s.hub.Broadcast(websocket.NewMessage(websocket.EventPointsCredited, upd.MemberID, sub.ID, map[string]any{
			"loyalty_point": upd.LoyaltyPoint,
			"coin":          upd.Coin,
		}))
	}
	return sub, upd, nil
}

// VerifyFailure applies a failed verdict. No points move; the member may try
// the task again.
func (s *Service) VerifyFailure(ctx context.Context, submissionID int64, verifierID *int64, notes string) (*model.TaskSubmission, error) {
	return s.fail(ctx, submissionID, verifierID, notes, false)
}

// AdminFail records a failure by admin decision, even over a prior failure
// (to amend the notes).
func (s *Service) AdminFail(ctx context.Context, submissionID int64, adminID *int64, notes string) (*model.TaskSubmission, error) {
	return s.fail(ctx, submissionID, adminID, notes, true)
}

func (s *Service) fail(ctx context.Context, submissionID int64, verifierID *int64, notes string, force bool) (*model.TaskSubmission, error) {
	sub, err := s.submissions.Fail(ctx, submissionID, verifierID, notes, force)
	if err != nil || sub == nil {
		return sub, err
	}

	s.logger.Info("submission failed",
		"submission_id", sub.ID, "member_id", sub.MemberID, "task_id", sub.TaskID)

	s.emitter.Emit(sub.MemberID,
		"Task verification failed. You can try the task again.",
		"/tasks")
	s.hub.Broadcast(websocket.NewMessage(websocket.EventSubmissionFailed, sub.MemberID, sub.ID, map[string]any{
		"task_id": sub.TaskID,
	}))
	return sub, nil
}

// Expire times out a single overdue submission. Safe to call repeatedly and
// from both the client-driven path and the sweeper.
func (s *Service) Expire(ctx context.Context, submissionID int64) (*model.TaskSubmission, error) {
	sub, err := s.submissions.GetByID(submissionID)
	if err != nil || sub == nil {
		return sub, err
	}
	if sub.Terminal() {
		return sub, nil
	}

	expired, err := s.submissions.Expire(ctx, submissionID, time.Now().UTC())
	if err != nil || expired == nil {
		return expired, err
	}
	if expired.Status != model.SubmissionFailed || sub.Status == model.SubmissionFailed {
		return expired, nil
	}

	s.logger.Info("submission expired",
		"submission_id", expired.ID, "member_id", expired.MemberID, "task_id", expired.TaskID)

	s.emitter.Emit(expired.MemberID,
		"Task verification timed out. You can try the task again.",
		"/tasks")
	s.hub.Broadcast(websocket.NewMessage(websocket.EventSubmissionFailed, expired.MemberID, expired.ID, map[string]any{
		"task_id": expired.TaskID,
		"reason":  "timeout",
	}))
	return expired, nil
}

// ExpireOverdue fails every verifying submission past its deadline and
// reports how many were expired.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	overdue, err := s.submissions.ListOverdue(now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, sub := range overdue {
		if _, err := s.Expire(ctx, sub.ID); err != nil {
			s.logger.Error("expire submission", "submission_id", sub.ID, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}
