package resync

import (
	"context"
	"sync"
	"time"

	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
)

// Scheduler runs a GitHub sync for one owner on a fixed interval.
type Scheduler struct {
	syncer   *GitHubSyncer
	ownerID  string
	interval time.Duration
	log      logger.ILogger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(syncer *GitHubSyncer, ownerID string, interval time.Duration, log logger.ILogger) *Scheduler {
	return &Scheduler{syncer: syncer, ownerID: ownerID, interval: interval, log: log}
}

// Start launches the loop in the background. A zero interval disables it.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.run(ctx, s.stopCh)
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if _, err := s.syncer.Sync(ctx, s.ownerID); err != nil {
				s.log.Error("resync", "scheduled sync failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}
