// Package notify records in-app notifications and fans them out over web
// push. Persistence is the source of truth; push delivery is best-effort and
// expired subscriptions are pruned as they are discovered.
package notify

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/komunitas/loyalty-server/internal/model"
	"github.com/komunitas/loyalty-server/internal/store"
)

// ErrExpired is returned when a push subscription is no longer valid (410 Gone).
var ErrExpired = errors.New("push subscription expired")

// Emitter is the narrow interface services use to notify a member.
type Emitter interface {
	Emit(memberID int64, message, linkURL string)
}

// Payload is the JSON sent to the push service.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// Config holds VAPID configuration. Empty keys disable push delivery;
// in-app notifications are still stored.
type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
}

// Service persists notifications and pushes them to subscribed browsers.
type Service struct {
	cfg           Config
	notifications *store.NotificationStore
	push          *store.PushStore
	logger        *slog.Logger
}

func NewService(cfg Config, notifications *store.NotificationStore, push *store.PushStore, logger *slog.Logger) *Service {
	if cfg.Subscriber == "" {
		cfg.Subscriber = "mailto:noreply@loyalty.local"
	}
	return &Service{
		cfg:           cfg,
		notifications: notifications,
		push:          push,
		logger:        logger.With("component", "notify"),
	}
}

// VAPIDPublicKey returns the VAPID public key for client-side subscription.
func (s *Service) VAPIDPublicKey() string {
	return s.cfg.VAPIDPublicKey
}

// Emit stores a notification for the member and pushes it to their browsers.
// Failures are logged; callers never block on delivery.
func (s *Service) Emit(memberID int64, message, linkURL string) {
	if _, err := s.notifications.Create(memberID, message, linkURL); err != nil {
		s.logger.Error("store notification", "member_id", memberID, "error", err)
		return
	}

	if s.cfg.VAPIDPublicKey == "" || s.cfg.VAPIDPrivateKey == "" {
		return
	}

	subs, err := s.push.ListByMember(memberID)
	if err != nil {
		s.logger.Error("list push subscriptions", "member_id", memberID, "error", err)
		return
	}

	payload := Payload{Title: "Komunitas", Body: message, URL: linkURL}
	for i := range subs {
		err := s.send(&subs[i], payload)
		if errors.Is(err, ErrExpired) {
			if err := s.push.DeleteByEndpoint(subs[i].Endpoint); err != nil {
				s.logger.Error("prune expired subscription", "endpoint", subs[i].Endpoint, "error", err)
			}
			continue
		}
		if err != nil {
			s.logger.Warn("push delivery failed", "member_id", memberID, "error", err)
		}
	}
}

func (s *Service) send(sub *model.PushSubscription, payload Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := webpush.SendNotification(data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		Subscriber:      s.cfg.Subscriber,
		TTL:             86400,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return ErrExpired
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}

	return nil
}

// GenerateVAPIDKeys generates a new ECDSA P-256 key pair for VAPID.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ECDSA key: %w", err)
	}

	pubBytes := elliptic.Marshal(elliptic.P256(), key.PublicKey.X, key.PublicKey.Y)
	publicKey = base64.RawURLEncoding.EncodeToString(pubBytes)
	privateKey = base64.RawURLEncoding.EncodeToString(key.D.Bytes())

	return publicKey, privateKey, nil
}
