package routing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// cronParser supports both standard (5-field) and extended (6-field with seconds) cron expressions.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// SweeperConfig configures the expired-request sweeper.
type SweeperConfig struct {
	// Schedule is a cron expression or descriptor (e.g. "@every 10m")
	// controlling when sweeps run. Defaults to "@every 10m".
	Schedule string

	// MaxAge is the age past which a pending request expires.
	// Defaults to 24 hours.
	MaxAge time.Duration

	// WorkerID identifies this sweeper instance in logs. Defaults to a UUID.
	WorkerID string

	// Logger for sweep events.
	Logger *slog.Logger
}

// DefaultSweeperConfig returns a SweeperConfig with sensible defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Schedule: "@every 10m",
		MaxAge:   24 * time.Hour,
		WorkerID: uuid.NewString(),
	}
}

// Sweeper expires stale pending requests through a Manager on a cron
// schedule. The stores and the manager own no background work themselves;
// a host that wants request aging starts a Sweeper explicitly.
type Sweeper struct {
	manager  *Manager
	config   SweeperConfig
	logger   *slog.Logger
	schedule cron.Schedule

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSweeper creates a sweeper bound to a manager.
func NewSweeper(manager *Manager, config SweeperConfig) (*Sweeper, error) {
	if manager == nil {
		return nil, fmt.Errorf("manager is required")
	}
	if config.Schedule == "" {
		config.Schedule = "@every 10m"
	}
	if config.MaxAge <= 0 {
		config.MaxAge = 24 * time.Hour
	}
	if config.WorkerID == "" {
		config.WorkerID = uuid.NewString()
	}

	schedule, err := cronParser.Parse(config.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", config.Schedule, err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		manager:  manager,
		config:   config,
		logger:   logger.With("component", "request-sweeper"),
		schedule: schedule,
	}, nil
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.logger.Info("starting request sweeper",
		"worker_id", s.config.WorkerID,
		"schedule", s.config.Schedule,
		"max_age", s.config.MaxAge,
	)

	s.wg.Add(1)
	go s.loop(ctx)

	return nil
}

// Stop gracefully shuts down the sweeper.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("request sweeper stopped", "worker_id", s.config.WorkerID)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the sweep loop is active.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single expiry pass and returns the number of requests
// removed. Exposed for one-shot invocations outside the schedule.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	removed := s.manager.RemoveExpiredRequests(ctx, s.config.MaxAge)
	if removed > 0 {
		s.logger.Info("sweep removed expired requests",
			"worker_id", s.config.WorkerID,
			"removed", removed,
		)
	}
	return removed
}
