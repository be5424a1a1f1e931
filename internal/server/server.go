package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/komunitas/loyalty-server/internal/handler"
	"github.com/komunitas/loyalty-server/internal/middleware"
	"github.com/komunitas/loyalty-server/internal/notify"
	"github.com/komunitas/loyalty-server/internal/store"
	"github.com/komunitas/loyalty-server/internal/submission"
	"github.com/komunitas/loyalty-server/internal/verifier"
	ws "github.com/komunitas/loyalty-server/internal/websocket"
)

// Config carries the pieces of server configuration that come from the
// environment.
type Config struct {
	VerifierWebhookURL string
	CallbackSecret     string
	VAPIDPublicKey     string
	VAPIDPrivateKey    string
	AllowedOrigins     []string
}

type Server struct {
	db            *sql.DB
	hub           *ws.Hub
	authH         *handler.AuthHandler
	memberH       *handler.MemberHandler
	taskH         *handler.TaskHandler
	submissionH   *handler.SubmissionHandler
	rewardH       *handler.RewardHandler
	boostH        *handler.BoostHandler
	notificationH *handler.NotificationHandler
	pushH         *handler.PushHandler
	sessionStore  *store.SessionStore
	memberStore   *store.MemberStore
	rateLimiter   *middleware.RateLimiter
	sweeper       *submission.Sweeper
	cors          *cors.Cors
	logger        *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	memberStore := store.NewMemberStore(db)
	sessionStore := store.NewSessionStore(db)
	taskStore := store.NewTaskStore(db)
	pointsStore := store.NewPointsStore(db)
	submissionStore := store.NewSubmissionStore(db, pointsStore)
	rewardStore := store.NewRewardStore(db, pointsStore)
	boostStore := store.NewBoostStore(db)
	notificationStore := store.NewNotificationStore(db)
	pushStore := store.NewPushStore(db)

	gateway := verifier.NewClient(verifier.Config{
		WebhookURL:    cfg.VerifierWebhookURL,
		CallbackToken: []byte(cfg.CallbackSecret),
	}, logger)

	notifySvc := notify.NewService(notify.Config{
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
	}, notificationStore, pushStore, logger)

	submissionSvc := submission.NewService(
		memberStore, taskStore, submissionStore, boostStore,
		gateway, notifySvc, hub, logger,
	)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	rateLimiter := middleware.NewRateLimiter()

	return &Server{
		db:            db,
		hub:           hub,
		authH:         handler.NewAuthHandler(memberStore, sessionStore, logger.With("component", "auth")),
		memberH:       handler.NewMemberHandler(memberStore, pointsStore, hub, logger.With("component", "member")),
		taskH:         handler.NewTaskHandler(taskStore, submissionSvc, hub, logger.With("component", "task")),
		submissionH:   handler.NewSubmissionHandler(submissionStore, submissionSvc, gateway, logger.With("component", "submission")),
		rewardH:       handler.NewRewardHandler(rewardStore, notifySvc, hub, logger.With("component", "reward")),
		boostH:        handler.NewBoostHandler(boostStore, hub, logger.With("component", "boost")),
		notificationH: handler.NewNotificationHandler(notificationStore, logger.With("component", "notification")),
		pushH:         handler.NewPushHandler(pushStore, notifySvc, logger.With("component", "push")),
		sessionStore:  sessionStore,
		memberStore:   memberStore,
		rateLimiter:   rateLimiter,
		sweeper:       submission.NewSweeper(submissionSvc, sessionStore, rateLimiter.Cleanup),
		cors: cors.New(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
		}),
		logger: logger,
	}
}

// Sweeper returns the background sweeper so main can start and stop it.
func (s *Server) Sweeper() *submission.Sweeper {
	return s.sweeper
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("POST /api/auth/register", s.rateLimitedHandler(s.authH.Register))
	outerMux.HandleFunc("POST /api/auth/login", s.rateLimitedHandler(s.authH.Login))
	outerMux.HandleFunc("POST /api/verifier/callback", s.submissionH.Callback)
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Protected routes
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.sessionStore, s.memberStore)
	outerMux.Handle("/api/", authMiddleware(protectedMux))
	outerMux.Handle("GET /ws", authMiddleware(http.HandlerFunc(s.hub.ServeWS)))

	h := s.cors.Handler(outerMux)
	return middleware.RequestLogger(s.logger.With("component", "http"))(h)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/logout", s.authH.Logout)
	mux.HandleFunc("GET /api/auth/me", s.authH.Me)

	// Member routes
	mux.HandleFunc("PUT /api/profile", s.memberH.UpdateProfile)
	mux.HandleFunc("GET /api/points", s.memberH.Balances)
	mux.HandleFunc("GET /api/points/history", s.memberH.History)
	mux.HandleFunc("GET /api/leaderboard", s.memberH.Leaderboard)

	// Task routes
	mux.HandleFunc("GET /api/tasks", s.taskH.List)
	mux.HandleFunc("GET /api/tasks/{id}", s.taskH.Get)
	mux.HandleFunc("POST /api/tasks/{id}/start", s.taskH.Start)

	// Submission routes
	mux.HandleFunc("GET /api/submissions/{id}", s.submissionH.Get)
	mux.HandleFunc("POST /api/submissions/{id}/expire", s.submissionH.Expire)

	// Reward routes
	mux.HandleFunc("GET /api/rewards", s.rewardH.List)
	mux.HandleFunc("POST /api/rewards/{id}/redeem", s.rewardH.Redeem)
	mux.HandleFunc("GET /api/redemptions", s.rewardH.MyRedemptions)

	// Boost routes
	mux.HandleFunc("GET /api/boosts", s.boostH.List)

	// Notification routes
	mux.HandleFunc("GET /api/notifications", s.notificationH.List)
	mux.HandleFunc("GET /api/notifications/unread-count", s.notificationH.UnreadCount)
	mux.HandleFunc("POST /api/notifications/{id}/read", s.notificationH.MarkRead)
	mux.HandleFunc("POST /api/notifications/read-all", s.notificationH.MarkAllRead)

	// Push routes
	mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
	mux.HandleFunc("POST /api/push/unsubscribe", s.pushH.Unsubscribe)
	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)

	// Admin routes
	adminMux := http.NewServeMux()
	adminMux.HandleFunc("GET /api/admin/members", s.memberH.List)
	adminMux.HandleFunc("GET /api/admin/members/{id}", s.memberH.Get)
	adminMux.HandleFunc("POST /api/admin/members/{id}/adjust", s.memberH.AdminAdjust)
	adminMux.HandleFunc("POST /api/admin/members/{id}/resync", s.memberH.Resync)
	adminMux.HandleFunc("GET /api/admin/tasks", s.taskH.ListAll)
	adminMux.HandleFunc("POST /api/admin/tasks", s.taskH.Create)
	adminMux.HandleFunc("PUT /api/admin/tasks/{id}", s.taskH.Update)
	adminMux.HandleFunc("DELETE /api/admin/tasks/{id}", s.taskH.Delete)
	adminMux.HandleFunc("GET /api/admin/submissions", s.submissionH.ListByStatus)
	adminMux.HandleFunc("POST /api/admin/submissions/{id}/complete", s.submissionH.AdminComplete)
	adminMux.HandleFunc("POST /api/admin/submissions/{id}/fail", s.submissionH.AdminFail)
	adminMux.HandleFunc("POST /api/admin/rewards", s.rewardH.Create)
	adminMux.HandleFunc("PUT /api/admin/rewards/{id}", s.rewardH.Update)
	adminMux.HandleFunc("DELETE /api/admin/rewards/{id}", s.rewardH.Delete)
	adminMux.HandleFunc("GET /api/admin/redemptions", s.rewardH.ListRedemptions)
	adminMux.HandleFunc("POST /api/admin/redemptions/{id}/resolve", s.rewardH.Resolve)
	adminMux.HandleFunc("PUT /api/admin/boosts", s.boostH.Upsert)
	adminMux.HandleFunc("DELETE /api/admin/boosts/{id}", s.boostH.Delete)
	mux.Handle("/api/admin/", middleware.RequireAdmin(adminMux))
}
