package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/securestor/securestor/internal/logger"
)

// Scheduler runs the RecoveryService once immediately, then repeatedly on
// a fixed interval, until stopped. It is the long-lived background job
// cmd/api starts alongside the HTTP server.
type Scheduler struct {
	service  *Service
	interval time.Duration
	logger   *logger.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

func NewScheduler(service *Service, interval time.Duration, log *logger.Logger) *Scheduler {
	return &Scheduler{
		service:  service,
		interval: interval,
		logger:   log,
		stopChan: make(chan struct{}),
	}
}

// Start runs an immediate sweep, then spawns the ticking background job.
// The startup sweep runs synchronously, so it has finished before Start
// returns; its result or error is logged, not returned. Start returns an
// error only when the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("recovery scheduler is already running")
	}
	s.running = true
	s.mu.Unlock()

	counts, err := s.service.RunOnce(ctx)
	if err != nil {
		s.logger.Error("startup recovery sweep failed", err)
	} else {
		s.logger.Info("startup recovery sweep completed", counts)
	}

	s.wg.Add(1)
	go s.loop()
	return nil
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			counts, err := s.service.RunOnce(ctx)
			cancel()
			if err != nil {
				s.logger.Error("periodic recovery sweep failed", err)
				continue
			}
			s.logger.Debug("periodic recovery sweep completed", counts)
		case <-s.stopChan:
			return
		}
	}
}

// Stop signals the background job to exit and waits for it to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stopChan)
	s.wg.Wait()
	s.running = false
}
