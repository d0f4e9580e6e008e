package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/codexmcp/internal/observability"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultCleanupSchedule runs the idle sweep every ten minutes.
const DefaultCleanupSchedule = "@every 10m"

// Cleanup deletes sessions that have been idle longer than maxIdle.
type Cleanup struct {
	store    Store
	maxIdle  time.Duration
	schedule string
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewCleanup creates a cleanup handler. maxIdle must be positive.
func NewCleanup(store Store, maxIdle time.Duration, schedule string) (*Cleanup, error) {
	if maxIdle <= 0 {
		return nil, fmt.Errorf("max idle must be positive, got %s", maxIdle)
	}
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}

	return &Cleanup{
		store:    store,
		maxIdle:  maxIdle,
		schedule: schedule,
		now:      time.Now,
	}, nil
}

// Start registers the sweep on the cron schedule and starts the scheduler.
func (c *Cleanup) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("cleanup is already running")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	scheduler := cron.New(cron.WithParser(parser))
	if _, err := scheduler.AddFunc(c.schedule, func() {
		if _, err := c.CleanupNow(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to clean up idle sessions")
		}
	}); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", c.schedule, err)
	}

	scheduler.Start()
	c.cron = scheduler
	c.running = true

	log.Info().
		Dur("max_idle", c.maxIdle).
		Str("schedule", c.schedule).
		Msg("Session cleanup started")

	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (c *Cleanup) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return fmt.Errorf("cleanup is not running")
	}
	scheduler := c.cron
	c.cron = nil
	c.running = false
	c.mu.Unlock()

	<-scheduler.Stop().Done()

	log.Info().Msg("Session cleanup stopped")
	return nil
}

// IsRunning returns whether the cleanup is running
func (c *Cleanup) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// CleanupNow deletes every session whose UpdatedAt is older than maxIdle and
// returns how many were removed.
func (c *Cleanup) CleanupNow(ctx context.Context) (int, error) {
	sessions, err := c.store.ListSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	cutoff := c.now().Add(-c.maxIdle)
	deleted := 0

	for _, s := range sessions {
		if !s.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := c.store.DeleteSession(ctx, s.SessionID); err != nil {
			log.Warn().
				Str("session_id", s.SessionID).
				Err(err).
				Msg("Failed to delete idle session")
			continue
		}
		deleted++
		observability.RecordSessionAudit(ctx, "session_deleted", s.SessionID, "success", map[string]interface{}{
			"reason":     "idle",
			"updated_at": s.UpdatedAt,
		})
		log.Debug().
			Str("session_id", s.SessionID).
			Dur("idle", c.now().Sub(s.UpdatedAt)).
			Msg("Idle session deleted")
	}

	if deleted > 0 {
		log.Info().Int("deleted", deleted).Msg("Cleaned up idle sessions")
	}

	return deleted, nil
}
