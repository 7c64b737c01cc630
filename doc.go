// Package forkjoin implements a work-stealing fork/join scheduler, for
// recursively-decomposable computations.
//
// A [Pool] owns a fixed set of workers, each an OS-scheduled goroutine with
// its own work-stealing deque. Tasks are data, not goroutines: forking a
// subtask pushes it onto the forking worker's deque, and idle workers steal
// pending tasks from busy peers, oldest first. Joining a subtask never idles
// a worker - while the target is incomplete, the joining worker keeps
// executing other available work, from its own deque, then by stealing.
//
// External callers submit root tasks via [Submit], which uses a separate,
// explicitly-synchronized injection queue (only workers may fork). Joining
// from outside the pool blocks the calling goroutine, which has no other
// work to do.
//
// Typical divide-and-conquer usage compares the problem size against a
// threshold: at or below it, solve directly; above it, split into subtasks,
// fork all but one, compute one inline, then join. The threshold is a tuning
// parameter, not a correctness requirement. See the package example.
package forkjoin
