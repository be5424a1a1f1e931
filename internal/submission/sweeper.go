package submission

import (
	"context"
	"sync"
	"time"

	"github.com/komunitas/loyalty-server/internal/store"
)

// Sweeper periodically fails overdue submissions, prunes expired sessions,
// and runs any extra housekeeping hooks. It is the server-side backstop for
// clients that never come back to report a timeout.
type Sweeper struct {
	mu       sync.RWMutex
	service  *Service
	sessions *store.SessionStore
	hooks    []func()
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewSweeper(svc *Service, sessions *store.SessionStore, hooks ...func()) *Sweeper {
	return &Sweeper{
		service:  svc,
		sessions: sessions,
		hooks:    hooks,
		interval: 60 * time.Second,
	}
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop gracefully stops the sweep loop.
func (s *Sweeper) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	n, err := s.service.ExpireOverdue(ctx)
	if err != nil {
		s.service.logger.Error("sweep overdue submissions", "error", err)
	} else if n > 0 {
		s.service.logger.Info("swept overdue submissions", "expired", n)
	}

	if _, err := s.sessions.DeleteExpired(); err != nil {
		s.service.logger.Error("sweep expired sessions", "error", err)
	}

	for _, hook := range s.hooks {
		hook()
	}
}
