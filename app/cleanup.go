package app

import (
	"context"
	"sync"
	"time"

	"github.com/thoka/discourse-login-helper/services/logging"
	"go.uber.org/zap"
)

// CleanupTask deletes expired rows and reports how many went.
type CleanupTask struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// Sweeper runs cleanup tasks on a fixed interval until stopped.
type Sweeper struct {
	interval time.Duration
	tasks    []CleanupTask
	logger   *logging.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSweeper(interval time.Duration, logger *logging.Service, tasks ...CleanupTask) *Sweeper {
	return &Sweeper{
		interval: interval,
		tasks:    tasks,
		logger:   logger,
	}
}

func (s *Sweeper) Add(task CleanupTask) {
	s.tasks = append(s.tasks, task)
}

// RunOnce runs every task; a failing task does not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) map[string]int64 {
	removed := make(map[string]int64, len(s.tasks))
	for _, task := range s.tasks {
		n, err := task.Run(ctx)
		if err != nil {
			if s.logger != nil {
				s.logger.Error("cleanup failed", zap.String("task", task.Name), zap.Error(err))
			}
			continue
		}
		removed[task.Name] = n
		if n > 0 && s.logger != nil {
			s.logger.Debug("expired rows removed", zap.String("task", task.Name), zap.Int64("rows", n))
		}
	}
	return removed
}

func (s *Sweeper) Start() {
	if s.interval <= 0 || len(s.tasks) == 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
