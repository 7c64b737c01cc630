package forkjoin

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_nilComputePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error(`should have panicked`)
		}
	}()
	New[int](nil)
}

func TestTaskState_String(t *testing.T) {
	for _, tc := range [...]struct {
		state TaskState
		want  string
	}{
		{TaskUnscheduled, `Unscheduled`},
		{TaskPending, `Pending`},
		{TaskForked, `Forked`},
		{TaskRunning, `Running`},
		{TaskCompleted, `Completed`},
		{TaskFailed, `Failed`},
		{TaskCancelled, `Cancelled`},
		{TaskState(99), `Unknown`},
	} {
		if got := tc.state.String(); got != tc.want {
			t.Errorf(`TaskState(%d).String(): want %q, got %q`, tc.state, tc.want, got)
		}
	}
}

func TestTaskState_Terminal(t *testing.T) {
	for state, want := range map[TaskState]bool{
		TaskUnscheduled: false,
		TaskPending:     false,
		TaskForked:      false,
		TaskRunning:     false,
		TaskCompleted:   true,
		TaskFailed:      true,
		TaskCancelled:   true,
	} {
		if got := state.Terminal(); got != want {
			t.Errorf(`%v.Terminal(): want %v, got %v`, state, want, got)
		}
	}
}

// Joining a task that was never scheduled computes it inline, on the
// calling goroutine.
func TestTask_JoinUnscheduledComputesInline(t *testing.T) {
	task := New(func(ctx context.Context) (int, error) {
		return 42, nil
	})
	got, err := task.Join(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, TaskCompleted, task.State())
}

// Join surfaces the compute function's original error value, not a wrapper.
func TestTask_JoinSurfacesOriginalError(t *testing.T) {
	errBoom := errors.New(`boom`)
	task := New(func(ctx context.Context) (int, error) {
		return 0, errBoom
	})
	_, err := task.Join(context.Background())
	if err != errBoom { //nolint:errorlint // identity is the contract
		t.Fatalf(`want the original error value, got %v`, err)
	}
	assert.Equal(t, TaskFailed, task.State())
}

func TestTask_JoinRecoversPanic(t *testing.T) {
	task := New(func(ctx context.Context) (int, error) {
		panic(`kaboom`)
	})
	_, err := task.Join(context.Background())
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, `kaboom`, pe.Value)
	assert.Equal(t, TaskFailed, task.State())
}

func TestPanicError_Unwrap(t *testing.T) {
	assert.ErrorIs(t, &PanicError{Value: io.EOF}, io.EOF)
}

func TestPanicError_UnwrapNonError(t *testing.T) {
	e := &PanicError{Value: `not an error`}
	assert.Nil(t, e.Unwrap())
	assert.NotEmpty(t, e.Error())
}

func TestTask_CancelBeforeRun(t *testing.T) {
	task := New(func(ctx context.Context) (int, error) {
		t.Error(`compute should never run`)
		return 0, nil
	})
	require.True(t, task.Cancel())
	assert.Equal(t, TaskCancelled, task.State())

	// Cancelled is terminal: joining returns immediately.
	_, err := task.Join(context.Background())
	assert.ErrorIs(t, err, ErrTaskCancelled)

	// Idempotent.
	assert.False(t, task.Cancel())
}

func TestTask_TryResult(t *testing.T) {
	task := New(func(ctx context.Context) (string, error) {
		return `ok`, nil
	})
	if _, _, ok := task.TryResult(); ok {
		t.Fatal(`TryResult before terminal should report !ok`)
	}
	_, err := task.Join(context.Background())
	require.NoError(t, err)
	res, err, ok := task.TryResult()
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, `ok`, res)
}

func TestTask_Done(t *testing.T) {
	task := New(func(ctx context.Context) (int, error) { return 1, nil })
	select {
	case <-task.Done():
		t.Fatal(`done before terminal`)
	default:
	}
	_, _ = task.Join(context.Background())
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal(`done not closed after terminal`)
	}
}

func TestTask_ForkOutsidePool(t *testing.T) {
	task := New(func(ctx context.Context) (int, error) { return 1, nil })
	assert.ErrorIs(t, task.Fork(context.Background()), ErrNotWorker)
}

func TestInvokeAll_outsidePool(t *testing.T) {
	task := New(func(ctx context.Context) (int, error) { return 1, nil })
	assert.ErrorIs(t, InvokeAll(context.Background(), task), ErrNotWorker)
}

// External Join honours ctx cancellation without affecting the task.
func TestTask_JoinContextCancelled(t *testing.T) {
	release := make(chan struct{})
	p, err := NewPool(WithWorkerCount(1))
	require.NoError(t, err)
	defer p.Close()

	task := New(func(ctx context.Context) (int, error) {
		<-release
		return 7, nil
	})
	_, err = Submit(p, task)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = task.Join(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	got, err := task.Join(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

// Cancellation of a running task is cooperative: the compute body observes
// Cancelled and decides how to stop.
func TestTask_CancelWhileRunningIsCooperative(t *testing.T) {
	p, err := NewPool(WithWorkerCount(1))
	require.NoError(t, err)
	defer p.Close()

	started := make(chan struct{})
	task := New(func(ctx context.Context) (int, error) {
		close(started)
		for !Cancelled(ctx) {
			time.Sleep(time.Millisecond)
		}
		return 0, ErrTaskCancelled
	})
	_, err = Submit(p, task)
	require.NoError(t, err)

	<-started
	assert.False(t, task.Cancel(), `running task must not transition to Cancelled`)

	_, err = task.Join(context.Background())
	assert.ErrorIs(t, err, ErrTaskCancelled)
	assert.Equal(t, TaskFailed, task.State(), `a running task stops via its own return, not Cancelled`)
}
