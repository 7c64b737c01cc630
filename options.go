// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package forkjoin

import (
	"errors"
	"runtime"
	"time"

	"github.com/joeycumines/logiface"
)

// poolOptions holds configuration options for Pool creation.
type poolOptions struct {
	workerCount    int
	dequeCapacity  int
	stealBackoff   time.Duration
	eagerCancel    bool
	metricsEnabled bool
	logger         *logiface.Logger[logiface.Event]
}

// Option configures a Pool instance.
type Option interface {
	applyPool(*poolOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyPoolFunc func(*poolOptions) error
}

func (o *optionImpl) applyPool(opts *poolOptions) error {
	return o.applyPoolFunc(opts)
}

// WithWorkerCount sets the number of workers. Each worker owns one deque and
// one goroutine. Defaults to runtime.GOMAXPROCS(0).
func WithWorkerCount(n int) Option {
	return &optionImpl{func(opts *poolOptions) error {
		if n <= 0 {
			return errors.New(`forkjoin: worker count must be positive`)
		}
		opts.workerCount = n
		return nil
	}}
}

// WithDequeCapacity sets the initial capacity of each worker's deque,
// rounded up to a power of two. Deques grow as needed; this only tunes the
// initial allocation. Defaults to 256.
func WithDequeCapacity(n int) Option {
	return &optionImpl{func(opts *poolOptions) error {
		if n <= 0 {
			return errors.New(`forkjoin: deque capacity must be positive`)
		}
		opts.dequeCapacity = n
		return nil
	}}
}

// WithStealBackoff caps the sleep between steal rounds for an idle worker.
// Backoff grows exponentially from 50µs up to this cap; it bounds both idle
// CPU burn and the latency of noticing new work. Defaults to 1ms.
func WithStealBackoff(d time.Duration) Option {
	return &optionImpl{func(opts *poolOptions) error {
		if d <= 0 {
			return errors.New(`forkjoin: steal backoff must be positive`)
		}
		opts.stealBackoff = d
		return nil
	}}
}

// WithEagerCancellation sets whether a failing task cancels its forked,
// not-yet-started children. When disabled (default), children of a failed
// task keep running and are reaped on join, their results discarded.
func WithEagerCancellation(enabled bool) Option {
	return &optionImpl{func(opts *poolOptions) error {
		opts.eagerCancel = enabled
		return nil
	}}
}

// WithLogger attaches a structured logger. The logger may be nil (the
// default), which disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *poolOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithMetrics enables latency metrics collection, accessed via
// Pool.Metrics. Adds a timestamp read and a sample record per task; leave
// disabled for zero-overhead hot paths.
func WithMetrics(enabled bool) Option {
	return &optionImpl{func(opts *poolOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// resolveOptions applies Option instances to poolOptions.
func resolveOptions(opts []Option) (*poolOptions, error) {
	cfg := &poolOptions{
		workerCount:   runtime.GOMAXPROCS(0),
		dequeCapacity: 256,
		stealBackoff:  time.Millisecond,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // skip nil options gracefully
		}
		if err := opt.applyPool(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
