package scheduler

import (
	"context"
	"sync"
	"time"

	"voldash/logger"
)

// Task is one periodic job. Execute runs immediately on start and then on
// every interval tick; a returned error is logged, never fatal.
type Task struct {
	Name     string
	Interval time.Duration
	Execute  func(context.Context) error
}

// Scheduler owns a set of periodic tasks with an explicit start/stop
// lifecycle. It is constructed and supervised by the caller rather than
// running as ambient process state.
type Scheduler struct {
	tasks    []*Task
	stopChan chan struct{}
	wg       sync.WaitGroup
	log      *logger.Logger
	mu       sync.Mutex
	started  bool
}

func New() *Scheduler {
	return &Scheduler{
		stopChan: make(chan struct{}),
		log:      logger.L(),
	}
}

// AddTask registers a task. Must be called before Start.
func (s *Scheduler) AddTask(task *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	s.log.Info("Registered scheduled task", map[string]interface{}{
		"task_name": task.Name,
		"interval":  task.Interval.String(),
	})
}

// Start launches every registered task on its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	tasks := make([]*Task, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	for _, task := range tasks {
		s.wg.Add(1)
		go s.runTask(ctx, task)
	}

	s.log.Info("Scheduler started", map[string]interface{}{
		"tasks_count": len(tasks),
	})
}

// Stop halts all tasks and waits for them to exit. Safe to call more than
// once; only the first call closes the stop channel.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	s.log.Info("Scheduler stopped")
}

func (s *Scheduler) runTask(ctx context.Context, task *Task) {
	defer s.wg.Done()
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	if err := task.Execute(ctx); err != nil {
		s.log.Error("Task execution failed", map[string]interface{}{
			"task_name": task.Name,
			"error":     err.Error(),
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			if err := task.Execute(ctx); err != nil {
				s.log.Error("Task execution failed", map[string]interface{}{
					"task_name": task.Name,
					"error":     err.Error(),
				})
			}
		}
	}
}
