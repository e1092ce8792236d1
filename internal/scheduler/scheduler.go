// scheduler runs tasks one at a time on a single goroutine. Everything that
// touches a document view goes through it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("taglight.scheduler")

// ErrStopped is returned when scheduling on a stopped scheduler.
var ErrStopped = errors.New("scheduler stopped")

type Task struct {
	Name    string
	Execute func() error
}

type job struct {
	task Task
	done chan error
}

type Scheduler struct {
	taskQueue       chan job
	lowPriorityLock sync.Mutex
	mu              sync.RWMutex
	stopped         bool
	stopChan        chan struct{}
	loopDone        chan struct{}
	wg              sync.WaitGroup
}

// NewScheduler creates a new Scheduler with the specified queue size
func NewScheduler(queueSize int) *Scheduler {
	return &Scheduler{
		taskQueue: make(chan job, queueSize),
		stopChan:  make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
}

// RunScheduler starts the scheduler loop
func (s *Scheduler) RunScheduler() {
	go func() {
		defer close(s.loopDone)
		for j := range s.taskQueue {
			s.execute(j)
		}
	}()
}

func (s *Scheduler) execute(j job) {
	defer s.wg.Done()
	log.Debugf("executing %s task", j.task.Name)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task %s panicked: %v", j.task.Name, r)
			}
		}()
		return j.task.Execute()
	}()

	if err != nil {
		log.Errorf("%s: %s", j.task.Name, err.Error())
	}
	if j.done != nil {
		j.done <- err
	}
}

func (s *Scheduler) enqueue(j job, wait bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrStopped
	}

	s.wg.Add(1)
	if wait {
		s.taskQueue <- j
		return nil
	}
	select {
	case s.taskQueue <- j:
		return nil
	default:
		s.wg.Done()
		return fmt.Errorf("queue full, skipped %s", j.task.Name)
	}
}

// ScheduleHighPriorityTask queues a task, blocking while the queue is full.
func (s *Scheduler) ScheduleHighPriorityTask(task Task) error {
	return s.enqueue(job{task: task}, true)
}

// Do runs a task on the loop and waits for its result. It must not be
// called from a task.
func (s *Scheduler) Do(ctx context.Context, task Task) error {
	done := make(chan error, 1)
	if err := s.enqueue(job{task: task, done: done}, true); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SchedulePeriodicTask queues lowTask every interval, skipping a round when
// the queue is full.
func (s *Scheduler) SchedulePeriodicTask(interval time.Duration, lowTask Task) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.lowPriorityLock.Lock()
				if err := s.enqueue(job{task: lowTask}, false); err != nil {
					log.Debugf("%s", err.Error())
				}
				s.lowPriorityLock.Unlock()
			case <-s.stopChan:
				return
			}
		}
	}()
}

// StopScheduler runs the queued tasks and stops the scheduler.
func (s *Scheduler) StopScheduler() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	log.Info("stopping scheduler")
	s.stopped = true
	close(s.stopChan)
	close(s.taskQueue)
	s.mu.Unlock()

	s.wg.Wait()
	<-s.loopDone
	log.Info("scheduler stopped")
}
