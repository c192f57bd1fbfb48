// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package parallel

import (
	"errors"
	"fmt"
	"sync"
)

// ErrSchedulerClosed is returned by Go after Close.
var ErrSchedulerClosed = errors.New("parallel: scheduler is closed")

// Scheduler runs independent background tasks on a WorkerPool and
// collects their errors.
//
// A task owns everything it captures; the submitter must not touch data
// handed to a task after Go returns.
type Scheduler struct {
	pool *WorkerPool

	mu     sync.Mutex
	errs   []error
	closed bool

	pending sync.WaitGroup
}

// NewScheduler creates a scheduler backed by a new pool of workers.
func NewScheduler(workers int) *Scheduler {
	return &Scheduler{pool: NewWorkerPool(workers)}
}

// Go schedules fn. The error it returns, if any, is reported by Wait.
func (s *Scheduler) Go(name string, fn func() error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	s.pending.Add(1)
	s.mu.Unlock()

	task := func() {
		defer s.pending.Done()
		if err := runTask(fn); err != nil {
			s.record(fmt.Errorf("task %s: %w", name, err))
		}
	}
	if !s.pool.Submit(task) {
		s.pending.Done()
		return ErrSchedulerClosed
	}
	return nil
}

// runTask turns a panicking task into an error.
func runTask(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (s *Scheduler) record(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

// Wait blocks until every scheduled task has finished and returns the
// joined errors collected since the previous Wait.
func (s *Scheduler) Wait() error {
	s.pending.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	err := errors.Join(s.errs...)
	s.errs = nil
	return err
}

// Close waits for all tasks, stops the workers and returns the remaining
// task errors. Close is safe to call multiple times.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	err := s.Wait()
	s.pool.Close()
	return err
}
