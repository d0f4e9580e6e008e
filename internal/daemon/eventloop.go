package daemon

import (
	"context"
	"time"

	"github.com/harun/codexmcp/internal/observability"
)

// EventLoop runs periodic maintenance while the daemon is up
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		daemon:   d,
		interval: 30 * time.Second,
	}
}

// Run runs the event loop until ctx ends
func (e *EventLoop) Run(ctx context.Context) {
	e.daemon.logger.Debug().Msg("Event loop started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.daemon.logger.Debug().Msg("Event loop stopping")
			return
		case <-ticker.C:
			e.processTasks(ctx)
		}
	}
}

// processTasks refreshes the session gauge and logs busy lanes
func (e *EventLoop) processTasks(ctx context.Context) {
	if sessions, err := e.daemon.store.ListSessions(ctx); err == nil {
		observability.SetActiveSessions(len(sessions))
	} else {
		e.daemon.logger.Warn().Err(err).Msg("Failed to list sessions")
	}

	for lane, laneStats := range e.daemon.queue.GetStats() {
		if laneStats["queued"] > 0 || laneStats["running"] > 0 {
			e.daemon.logger.Debug().
				Str("lane", lane).
				Int("queued", laneStats["queued"]).
				Int("running", laneStats["running"]).
				Msg("Queue stats")
		}
	}
}
