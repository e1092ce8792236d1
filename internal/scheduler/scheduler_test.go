package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/remram44/taguette/internal/scheduler"
)

func TestSchedulerStop(t *testing.T) {
	s := scheduler.NewScheduler(10)
	s.RunScheduler()

	var executed atomic.Int32
	testTask := scheduler.Task{
		Name: "TestTask",
		Execute: func() error {
			time.Sleep(10 * time.Millisecond)
			executed.Add(1)
			return nil
		},
	}

	for i := 0; i < 5; i++ {
		if err := s.ScheduleHighPriorityTask(testTask); err != nil {
			t.Fatal(err)
		}
	}
	s.StopScheduler()

	if n := executed.Load(); n != 5 {
		t.Errorf("executed %d tasks, want 5", n)
	}
	if err := s.ScheduleHighPriorityTask(testTask); !errors.Is(err, scheduler.ErrStopped) {
		t.Errorf("schedule after stop: err = %v", err)
	}
	// stopping twice is harmless
	s.StopScheduler()
}

func TestDo(t *testing.T) {
	s := scheduler.NewScheduler(1)
	s.RunScheduler()
	defer s.StopScheduler()

	order := make([]int, 0, 3)
	for i := 1; i <= 3; i++ {
		i := i
		err := s.Do(context.Background(), scheduler.Task{Name: "append", Execute: func() error {
			order = append(order, i)
			return nil
		}})
		if err != nil {
			t.Fatal(err)
		}
	}
	if len(order) != 3 || order[0] != 1 || order[2] != 3 {
		t.Errorf("order = %v", order)
	}

	want := errors.New("boom")
	if err := s.Do(context.Background(), scheduler.Task{Name: "fail", Execute: func() error { return want }}); err != want {
		t.Errorf("Do() = %v, want %v", err, want)
	}

	err := s.Do(context.Background(), scheduler.Task{Name: "panic", Execute: func() error { panic("oops") }})
	if err == nil {
		t.Errorf("panicking task returned nil")
	}
}

func TestDoCancelled(t *testing.T) {
	s := scheduler.NewScheduler(1)
	s.RunScheduler()
	defer s.StopScheduler()

	release := make(chan struct{})
	s.ScheduleHighPriorityTask(scheduler.Task{Name: "block", Execute: func() error {
		<-release
		return nil
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Do(ctx, scheduler.Task{Name: "late", Execute: func() error { return nil }})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() = %v, want deadline exceeded", err)
	}
	close(release)
}

func TestSchedulePeriodicTask(t *testing.T) {
	s := scheduler.NewScheduler(4)
	s.RunScheduler()

	ticks := make(chan struct{}, 16)
	s.SchedulePeriodicTask(5*time.Millisecond, scheduler.Task{Name: "tick", Execute: func() error {
		select {
		case ticks <- struct{}{}:
		default:
		}
		return nil
	}})

	timeout := time.After(2 * time.Second)
	for n := 0; n < 2; n++ {
		select {
		case <-ticks:
		case <-timeout:
			t.Fatalf("periodic task ran %d times", n)
		}
	}
	s.StopScheduler()
}
