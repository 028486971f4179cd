package session

import (
	"fmt"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule polls validity once a minute.
const DefaultSweepSchedule = "@every 1m"

// Sweeper periodically force-ends a session that outlived its timeout or
// whose user was deactivated.
type Sweeper struct {
	manager  *Manager
	schedule cron.Schedule

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper parses schedule, a standard cron expression or descriptor such
// as "@every 30s". An empty schedule uses DefaultSweepSchedule.
func NewSweeper(m *Manager, schedule string) (*Sweeper, error) {
	if m == nil {
		return nil, fmt.Errorf("session: manager is required")
	}
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("session: parse sweep schedule %q: %w", schedule, err)
	}
	return &Sweeper{manager: m, schedule: sched}, nil
}

// Sweep runs one check now and reports whether a session was ended.
func (s *Sweeper) Sweep() bool {
	return s.manager.expireIfInvalid()
}

// Start begins periodic sweeping. Calling Start twice is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return
	}
	c := cron.New()
	c.Schedule(s.schedule, cron.FuncJob(func() { s.Sweep() }))
	c.Start()
	s.cron = c
	s.manager.log.Debug().Msg("session sweeper started")
}

// Stop halts sweeping and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}
