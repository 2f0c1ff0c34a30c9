/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"errors"
	"time"
)

// ErrWorkerUnitStopTimeoutExceeded is an error that occurs when WorkerUnit's gracefully stop timeout is exceeded.
var ErrWorkerUnitStopTimeoutExceeded = errors.New("worker unit stop timeout exceeded")

// Worker performs some (usually long-running) work until ctx is done.
type Worker interface {
	Run(ctx context.Context) error
}

// WorkerFunc is an adapter to allow the use of ordinary functions as Worker.
type WorkerFunc func(ctx context.Context) error

// Run is a part of Worker interface.
func (f WorkerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// WorkerUnitOpts contains optional parameters for constructing WorkerUnit.
type WorkerUnitOpts struct {
	GracefulStopTimeout time.Duration
}

// WorkerUnit allows presenting Worker as Unit.
type WorkerUnit struct {
	worker    Worker
	opts      WorkerUnitOpts
	ctx       context.Context
	ctxCancel context.CancelFunc
	stopDone  chan struct{}
}

var _ Unit = (*WorkerUnit)(nil)

// NewWorkerUnit creates a new instance of WorkerUnit.
func NewWorkerUnit(worker Worker) *WorkerUnit {
	return NewWorkerUnitWithOpts(worker, WorkerUnitOpts{})
}

// NewWorkerUnitWithOpts creates a new instance of WorkerUnit with optional parameters.
func NewWorkerUnitWithOpts(worker Worker, opts WorkerUnitOpts) *WorkerUnit {
	ctx, ctxCancel := context.WithCancel(context.Background())
	return &WorkerUnit{worker: worker, opts: opts, ctx: ctx, ctxCancel: ctxCancel, stopDone: make(chan struct{}, 1)}
}

// Start runs underlying Worker and blocks until it returns.
func (u *WorkerUnit) Start(fatalError chan<- error) {
	if err := u.worker.Run(u.ctx); err != nil {
		fatalError <- err
	}
	u.stopDone <- struct{}{}
}

// Stop cancels underlying Worker's context. If gracefully is true, it waits until Worker returns.
func (u *WorkerUnit) Stop(gracefully bool) error {
	u.ctxCancel()
	if !gracefully {
		return nil
	}
	if u.opts.GracefulStopTimeout == 0 {
		<-u.stopDone
		return nil
	}
	select {
	case <-u.stopDone:
		return nil
	case <-time.After(u.opts.GracefulStopTimeout):
		return ErrWorkerUnitStopTimeoutExceeded
	}
}
