// Package janitor runs scheduled maintenance: pruning expired session
// records from the external store and logging a stats heartbeat.
package janitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "notifyd/pkg/logx"
)

const defaultSchedule = "@every 1m"

// Config controls the maintenance schedule. Schedule accepts standard cron
// specs and the @every form.
type Config struct {
	Enabled  bool
	Schedule string
}

// Pruner removes expired records and reports how many it removed.
type Pruner interface {
	Prune(ctx context.Context) (int, error)
}

// Stats supplies the heartbeat numbers.
type Stats interface {
	QueueLen() int
	ActiveSessions() int
}

type Service struct {
	mu       sync.Mutex
	c        *cron.Cron
	enabled  bool
	schedule string

	pruner Pruner
	stats  Stats
	log    logx.Logger
}

func New(pruner Pruner, stats Stats, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{pruner: pruner, stats: stats, log: log}
}

// Apply starts, stops, or reschedules the maintenance job to match cfg.
// It is the single entry point for both startup and config reload.
func (s *Service) Apply(cfg Config) error {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = defaultSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.Enabled == s.enabled && schedule == s.schedule {
		return nil
	}

	s.stopLocked()
	s.enabled = cfg.Enabled
	s.schedule = schedule
	if !cfg.Enabled {
		s.log.Info("janitor disabled")
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, s.run); err != nil {
		return fmt.Errorf("janitor schedule %q: %w", schedule, err)
	}
	c.Start()
	s.c = c
	s.log.Info("janitor started", logx.String("schedule", schedule))
	return nil
}

// Stop halts the schedule and waits for a running pass, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.enabled = false
	s.schedule = ""
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Service) stopLocked() {
	if s.c == nil {
		return
	}
	s.c.Stop()
	s.c = nil
}

func (s *Service) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pruned, err := s.pruner.Prune(ctx)
	if err != nil {
		s.log.Warn("session prune failed", logx.Err(err))
	}

	fields := []logx.Field{logx.Int("pruned", pruned)}
	if s.stats != nil {
		fields = append(fields,
			logx.Int("pending", s.stats.QueueLen()),
			logx.Int("sessions", s.stats.ActiveSessions()),
		)
	}
	s.log.Info("janitor pass", fields...)
}
