// Package scheduler runs the gateway's periodic background jobs: nightly
// low-importance memory purge and the session idle-reaper sweep. Adapted
// from the teacher's internal/scheduler.Scheduler (cron-driven nightly
// CortexBrain sleep cycle) — same cron.New/AddFunc/Start/Stop shape —
// retargeted from the deleted brain client to the local memory store (C9's
// sibling, the short/long-term memory store) and the session registry (C5).
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cortexhub/streamgateway/internal/logging"
	"github.com/cortexhub/streamgateway/internal/memory"
	"github.com/cortexhub/streamgateway/internal/session"
)

// Config tunes the scheduler's periodic jobs.
type Config struct {
	// PurgeSchedule is a cron expression for the nightly memory purge;
	// default "0 3 * * *" (3 AM), matching the teacher's sleep-cycle cadence.
	PurgeSchedule string
	// MinImportance and MaxAge bound what memory.Store.Purge removes.
	MinImportance int
	MaxAge        time.Duration
	// ReapInterval is how often idle sessions are swept from the registry;
	// default 5 minutes.
	ReapInterval time.Duration
	// MaxIdle is how long a session may sit idle before being reaped;
	// default matches app.system.sessionTimeout (30 minutes).
	MaxIdle time.Duration
}

// Scheduler runs the gateway's cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	memory   *memory.Store
	sessions *session.Manager
	cfg      Config
	log      *logging.Logger

	reapDone chan struct{}
}

// New builds a Scheduler wired to the memory store and session registry.
func New(mem *memory.Store, sessions *session.Manager, cfg Config) *Scheduler {
	if cfg.PurgeSchedule == "" {
		cfg.PurgeSchedule = "0 3 * * *"
	}
	if cfg.MinImportance <= 0 {
		cfg.MinImportance = 2
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * 24 * time.Hour
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 5 * time.Minute
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 30 * time.Minute
	}
	s := &Scheduler{
		cron:     cron.New(),
		memory:   mem,
		sessions: sessions,
		cfg:      cfg,
		log:      logging.WithComponent("scheduler"),
		reapDone: make(chan struct{}),
	}
	s.schedulePurge()
	return s
}

// Start launches the cron scheduler and the idle-reaper sweep goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	go s.reapLoop()
}

// Stop halts both the cron scheduler and the idle-reaper sweep, waiting for
// in-flight jobs to finish.
func (s *Scheduler) Stop() {
	close(s.reapDone)
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) schedulePurge() {
	_, err := s.cron.AddFunc(s.cfg.PurgeSchedule, func() {
		n, err := s.memory.Purge(s.cfg.MinImportance, s.cfg.MaxAge)
		if err != nil {
			s.log.Warn("memory purge failed", "err", err)
			return
		}
		s.log.Info("memory purge complete", "removed", n)
	})
	if err != nil {
		s.log.Warn("failed to schedule memory purge", "err", err)
	}
}

func (s *Scheduler) reapLoop() {
	ticker := time.NewTicker(s.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.reapDone:
			return
		case <-ticker.C:
			reaped := s.sessions.ReapIdle(s.cfg.MaxIdle)
			if len(reaped) > 0 {
				s.log.Info("reaped idle sessions", "count", len(reaped))
			}
		}
	}
}
