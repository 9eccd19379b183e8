package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Scheduler owns the periodic ingestion trigger. The timer handle lives on
// the instance; Start and Stop manage its lifecycle explicitly. A tick that
// arrives while a run is still executing is skipped, not queued.
type Scheduler struct {
	mu       sync.Mutex
	pipeline *Pipeline
	interval time.Duration
	log      *slog.Logger
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewScheduler(p *Pipeline, interval time.Duration, log *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{pipeline: p, interval: interval, log: log}
}

// Start launches the scheduling loop. The first run fires immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	s.log.Info("ingestion scheduler starting", "interval", s.interval.String())

	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// Stop gracefully stops the scheduling loop, waiting for an in-flight run.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not running")
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("ingestion scheduler stopped")
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	_, err := s.pipeline.Run(ctx)
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			s.log.Debug("skipping tick, previous run still in flight")
			return
		}
		s.log.Error("ingestion run failed", "error", err)
	}
}
