package access

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/rolegate/pkg/observability"
)

// DefaultSweepSchedule runs the expiration sweep every five minutes
const DefaultSweepSchedule = "@every 5m"

// Sweeper periodically expires user role assignments whose expiry has passed
type Sweeper struct {
	controller *Controller
	schedule   string
	logger     *observability.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSweeper creates a sweeper for controller on a cron schedule. An empty
// schedule uses DefaultSweepSchedule.
func NewSweeper(controller *Controller, schedule string) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return &Sweeper{
		controller: controller,
		schedule:   schedule,
		logger:     controller.logger.WithField("component", "sweeper"),
	}, nil
}

// StartSweeper starts a sweeper owned by the controller; Shutdown stops it
func (c *Controller) StartSweeper(schedule string) (*Sweeper, error) {
	s, err := NewSweeper(c, schedule)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("access controller is shut down")
	}
	if c.sweeper != nil {
		return nil, errors.New("sweeper already running")
	}
	if err := s.Start(); err != nil {
		return nil, err
	}
	c.sweeper = s
	return s, nil
}

// Start schedules the sweep. Overlapping runs are skipped and panics are
// recovered and logged.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("sweeper already running")
	}

	logger := cronLogger{s.logger}
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(s.schedule, s.run); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	c.Start()

	s.cron = c
	s.running = true
	s.logger.WithField("schedule", s.schedule).Info("Expiration sweeper started")
	return nil
}

// Stop unschedules the sweep and waits for a run in progress, or for ctx
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	done := s.cron.Stop()
	s.mu.Unlock()

	select {
	case <-done.Done():
		s.logger.Info("Expiration sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run() {
	defer observability.RecoverPanic(s.logger, "expiration sweep")

	if _, err := s.RunOnce(context.Background()); err != nil {
		s.logger.WithError(err).Error("Expiration sweep failed")
	}
}

// RunOnce performs one sweep and returns the number of assignments expired
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	ctx, span := s.controller.tracer.Start(ctx, "access.Sweep")
	defer span.End()

	n, err := s.controller.CleanupExpiredAssignments(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep failed")
		return n, err
	}

	span.SetAttributes(attribute.Int64("rolegate.swept", n))
	if n > 0 {
		s.logger.WithField("expired", n).Info("Expired user role assignments")
	} else {
		s.logger.Debug("No expired assignments")
	}
	return n, nil
}

// cronLogger adapts the structured logger to cron's logging interface
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(pairs(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(pairs(keysAndValues)).Error(msg)
}

func pairs(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
