package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Schedule defines a recurring job
type Schedule struct {
	Name     string
	Queue    string
	Type     string
	Payload  interface{}
	Interval time.Duration
	NextRun  time.Time
}

// Scheduler enqueues recurring jobs on their interval
type Scheduler struct {
	queue     Enqueuer
	logger    *zap.Logger
	tick      time.Duration
	now       func() time.Time
	schedules map[string]*Schedule
	mu        sync.Mutex
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewScheduler creates a scheduler that checks for due schedules every tick
func NewScheduler(queue Enqueuer, tick time.Duration, logger *zap.Logger) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		queue:     queue,
		logger:    logger,
		tick:      tick,
		now:       time.Now,
		schedules: make(map[string]*Schedule),
		stopChan:  make(chan struct{}),
	}
}

// Add registers a schedule. The first run happens one interval from now.
func (s *Scheduler) Add(schedule *Schedule) error {
	switch {
	case schedule.Name == "":
		return errors.New("schedule name is required")
	case schedule.Interval <= 0:
		return errors.New("interval must be positive")
	case schedule.Queue == "":
		return errors.New("queue name is required")
	case schedule.Type == "":
		return errors.New("job type is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schedules[schedule.Name]; exists {
		return errors.New("schedule already exists: " + schedule.Name)
	}
	if schedule.NextRun.IsZero() {
		schedule.NextRun = s.now().Add(schedule.Interval)
	}
	s.schedules[schedule.Name] = schedule
	return nil
}

// Start runs the scheduler loop until Stop or ctx cancellation
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunDue(ctx)
			}
		}
	}()
}

// Stop stops the scheduler loop and waits for it to exit
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

// RunDue enqueues every schedule whose NextRun has passed and returns how many were enqueued
func (s *Scheduler) RunDue(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	enqueued := 0
	for _, schedule := range s.schedules {
		if now.Before(schedule.NextRun) {
			continue
		}

		job, err := NewJob(schedule.Queue, schedule.Type, schedule.Payload)
		if err == nil {
			err = s.queue.Enqueue(ctx, job)
		}
		if err != nil {
			s.logger.Error("failed to enqueue scheduled job", zap.String("schedule", schedule.Name), zap.Error(err))
			continue
		}

		schedule.NextRun = now.Add(schedule.Interval)
		enqueued++
		s.logger.Debug("enqueued scheduled job",
			zap.String("schedule", schedule.Name),
			zap.Time("next_run", schedule.NextRun))
	}
	return enqueued
}
