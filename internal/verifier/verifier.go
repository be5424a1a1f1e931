// Package verifier is the gateway to the external task verification service.
// Outbound requests are fire-and-forget: a failed delivery is logged but never
// blocks the member's submission, which will expire on its own if no verdict
// arrives. Inbound verdicts authenticate with a short-lived callback token
// minted per submission.
package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// Config holds the verification service endpoint and the callback signing key.
type Config struct {
	WebhookURL    string
	CallbackToken []byte
	Timeout       time.Duration
	MaxRetries    uint64
}

// VerificationRequest is the payload posted to the verification service when
// a member starts a task.
type VerificationRequest struct {
	SubmissionID  int64  `json:"submission_id"`
	MemberID      int64  `json:"member_id"`
	TaskID        int64  `json:"task_id"`
	Keyword       string `json:"keyword"`
	PostURL       string `json:"post_url"`
	CorrelationID string `json:"correlation_id"`
	CallbackToken string `json:"callback_token"`
	Deadline      string `json:"deadline"`
}

// Client posts verification requests to the external service.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "verifier"),
	}
}

// Enabled reports whether an endpoint is configured. Without one the system
// still works: submissions sit in verifying until an admin verdict or expiry.
func (c *Client) Enabled() bool {
	return c.cfg.WebhookURL != ""
}

// RequestVerification notifies the verification service about a new
// submission. Errors are logged, not returned: delivery is best-effort and
// the submission deadline is the real backstop.
func (c *Client) RequestVerification(ctx context.Context, req VerificationRequest) {
	if !c.Enabled() {
		return
	}

	req.CorrelationID = uuid.NewString()

	token, err := c.MintCallbackToken(req.SubmissionID, req.Deadline)
	if err != nil {
		c.logger.Error("mint callback token", "submission_id", req.SubmissionID, "error", err)
		return
	}
	req.CallbackToken = token

	body, err := json.Marshal(req)
	if err != nil {
		c.logger.Error("marshal verification request", "submission_id", req.SubmissionID, "error", err)
		return
	}

	backoff := retry.WithMaxRetries(c.cfg.MaxRetries, retry.NewFibonacci(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		return retry.RetryableError(c.post(ctx, body))
	})
	if err != nil {
		c.logger.Error("verification request failed",
			"submission_id", req.SubmissionID,
			"correlation_id", req.CorrelationID,
			"error", err)
		return
	}

	c.logger.Info("verification requested",
		"submission_id", req.SubmissionID,
		"task_id", req.TaskID,
		"correlation_id", req.CorrelationID)
}

func (c *Client) post(ctx context.Context, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post verification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("verification service returned %d", resp.StatusCode)
	}
	return nil
}

type callbackClaims struct {
	SubmissionID int64 `json:"sid"`
	jwt.RegisteredClaims
}

// MintCallbackToken signs a token the verification service must present with
// its verdict. It is bound to one submission and expires at the submission
// deadline, so a stale token cannot decide a retried attempt.
func (c *Client) MintCallbackToken(submissionID int64, deadline string) (string, error) {
	exp := time.Now().Add(5 * time.Hour)
	if t, err := time.Parse(time.RFC3339, deadline); err == nil {
		exp = t.Add(time.Minute)
	}

	claims := callbackClaims{
		SubmissionID: submissionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "loyalty-server",
			Subject:   fmt.Sprintf("submission:%d", submissionID),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.cfg.CallbackToken)
}

// VerifyCallbackToken validates a verdict's token and returns the submission
// it is bound to.
func (c *Client) VerifyCallbackToken(tokenString string) (int64, error) {
	var claims callbackClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.cfg.CallbackToken, nil
	})
	if err != nil {
		return 0, fmt.Errorf("parse callback token: %w", err)
	}
	if !token.Valid {
		return 0, fmt.Errorf("invalid callback token")
	}
	return claims.SubmissionID, nil
}
