package forkjoin

import (
	"context"
)

// Worker identity and the currently executing task travel in the
// context.Context passed to compute functions. Fork and Join recover them to
// reach the calling worker's deque; external contexts carry neither, which
// is what distinguishes the external submission path from internal forking.

type (
	workerContextKey struct{}
	taskContextKey   struct{}
)

func contextWithWorker(ctx context.Context, w *worker) context.Context {
	return context.WithValue(ctx, workerContextKey{}, w)
}

func workerFromContext(ctx context.Context) *worker {
	if v := ctx.Value(workerContextKey{}); v != nil {
		return v.(*worker)
	}
	return nil
}

func contextWithTask(ctx context.Context, t *task) context.Context {
	return context.WithValue(ctx, taskContextKey{}, t)
}

func taskFromContext(ctx context.Context) *task {
	if v := ctx.Value(taskContextKey{}); v != nil {
		return v.(*task)
	}
	return nil
}

// Cancelled reports whether the compute function owning ctx should stop:
// either its task was cancelled after it started running, or the pool is
// closing. Long-running compute bodies should check this at loop back-edges;
// cancellation of a running task is strictly cooperative.
func Cancelled(ctx context.Context) bool {
	if t := taskFromContext(ctx); t != nil && t.cancelRequested.Load() {
		return true
	}
	return ctx.Err() != nil
}
