package assignment_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/delegation/internal/assignment"
	assignmentrepo "github.com/taskmesh/delegation/internal/assignment/repositoryimpl"
	"github.com/taskmesh/delegation/internal/worker"
	workerrepo "github.com/taskmesh/delegation/internal/worker/repositoryimpl"
	"github.com/taskmesh/delegation/pkg/cerr"
	"github.com/taskmesh/delegation/pkg/storage"
)

func newTestStore(t *testing.T) (*assignment.Store, *worker.Registry) {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	registry := worker.NewRegistry(workerrepo.NewYAMLRepository(s), nil)
	store := assignment.NewStore(assignmentrepo.NewYAMLRepository(s), registry, nil)
	return store, registry
}

func registerWorker(t *testing.T, r *worker.Registry, id string, max int) {
	t.Helper()
	_, err := r.Register(context.Background(), &worker.RegisterRequest{
		WorkerID:                 id,
		WorkerType:               worker.TypeAgent,
		MaxConcurrentAssignments: max,
	})
	require.NoError(t, err)
}

func workerLoad(t *testing.T, r *worker.Registry, id string) int {
	t.Helper()
	c, err := r.Get(context.Background(), id)
	require.NoError(t, err)
	return c.CurrentLoad
}

func TestStore_Lifecycle(t *testing.T) {
	store, registry := newTestStore(t)
	ctx := context.Background()
	registerWorker(t, registry, "bot-1", 1)

	a, err := store.Create(ctx, &assignment.CreateRequest{
		TaskID:          "task-42",
		WorkerID:        "bot-1",
		EstimatedEffort: 90 * time.Minute,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, assignment.StatusPending, a.Status)
	assert.False(t, a.AssignedAt.IsZero())
	assert.Nil(t, a.AcceptedAt)
	assert.Equal(t, 1, workerLoad(t, registry, "bot-1"))

	a, err = store.Accept(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, assignment.StatusInProgress, a.Status)
	require.NotNil(t, a.AcceptedAt)
	// Accepting does not free or take capacity.
	assert.Equal(t, 1, workerLoad(t, registry, "bot-1"))

	a, err = store.Complete(ctx, a.ID, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, assignment.StatusCompleted, a.Status)
	require.NotNil(t, a.CompletedAt)
	require.NotNil(t, a.ActualEffort)
	assert.Equal(t, 2*time.Hour, *a.ActualEffort)
	assert.Equal(t, 0, workerLoad(t, registry, "bot-1"))

	// The record survives completion.
	got, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, assignment.StatusCompleted, got.Status)
}

func TestStore_Create_UnknownWorker(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Create(context.Background(), &assignment.CreateRequest{
		TaskID:   "task-1",
		WorkerID: "ghost",
	})
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestStore_Create_Validation(t *testing.T) {
	store, registry := newTestStore(t)
	ctx := context.Background()
	registerWorker(t, registry, "bot-1", 1)

	tests := []struct {
		name string
		req  assignment.CreateRequest
	}{
		{"missing task", assignment.CreateRequest{WorkerID: "bot-1"}},
		{"missing worker", assignment.CreateRequest{TaskID: "task-1"}},
		{"negative effort", assignment.CreateRequest{TaskID: "task-1", WorkerID: "bot-1", EstimatedEffort: -time.Hour}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Create(ctx, &tt.req)
			require.Error(t, err)
			assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
		})
	}

	// Rejected requests never reserved a slot.
	assert.Equal(t, 0, workerLoad(t, registry, "bot-1"))
}

func TestStore_Create_CapacityExceeded(t *testing.T) {
	store, registry := newTestStore(t)
	ctx := context.Background()
	registerWorker(t, registry, "bot-1", 1)

	first, err := store.Create(ctx, &assignment.CreateRequest{TaskID: "task-1", WorkerID: "bot-1"})
	require.NoError(t, err)

	_, err = store.Create(ctx, &assignment.CreateRequest{TaskID: "task-2", WorkerID: "bot-1"})
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.ResourceExhausted))

	// Completing the first assignment frees the slot again.
	_, err = store.Accept(ctx, first.ID)
	require.NoError(t, err)
	_, err = store.Complete(ctx, first.ID, time.Hour)
	require.NoError(t, err)

	_, err = store.Create(ctx, &assignment.CreateRequest{TaskID: "task-2", WorkerID: "bot-1"})
	require.NoError(t, err)
}

func TestStore_InvalidTransitions(t *testing.T) {
	store, registry := newTestStore(t)
	ctx := context.Background()
	registerWorker(t, registry, "bot-1", 4)

	pending, err := store.Create(ctx, &assignment.CreateRequest{TaskID: "task-1", WorkerID: "bot-1"})
	require.NoError(t, err)

	// pending cannot complete without accept.
	_, err = store.Complete(ctx, pending.ID, time.Hour)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

	_, err = store.Accept(ctx, pending.ID)
	require.NoError(t, err)

	// accept is not idempotent.
	_, err = store.Accept(ctx, pending.ID)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

	done, err := store.Complete(ctx, pending.ID, time.Hour)
	require.NoError(t, err)

	// Terminal states admit nothing.
	_, err = store.Accept(ctx, done.ID)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
	_, err = store.Complete(ctx, done.ID, time.Hour)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
	_, err = store.Cancel(ctx, done.ID)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

	// A failed transition releases nothing twice.
	assert.Equal(t, 0, workerLoad(t, registry, "bot-1"))
}

func TestStore_Complete_NegativeEffort(t *testing.T) {
	store, registry := newTestStore(t)
	ctx := context.Background()
	registerWorker(t, registry, "bot-1", 1)

	a, err := store.Create(ctx, &assignment.CreateRequest{TaskID: "task-1", WorkerID: "bot-1"})
	require.NoError(t, err)
	_, err = store.Accept(ctx, a.ID)
	require.NoError(t, err)

	_, err = store.Complete(ctx, a.ID, -time.Minute)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))

	// The assignment is still in progress and still holds its slot.
	got, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, assignment.StatusInProgress, got.Status)
	assert.Equal(t, 1, workerLoad(t, registry, "bot-1"))
}

func TestStore_Cancel(t *testing.T) {
	store, registry := newTestStore(t)
	ctx := context.Background()
	registerWorker(t, registry, "bot-1", 2)

	pending, err := store.Create(ctx, &assignment.CreateRequest{TaskID: "task-1", WorkerID: "bot-1"})
	require.NoError(t, err)
	inProgress, err := store.Create(ctx, &assignment.CreateRequest{TaskID: "task-2", WorkerID: "bot-1"})
	require.NoError(t, err)
	_, err = store.Accept(ctx, inProgress.ID)
	require.NoError(t, err)
	require.Equal(t, 2, workerLoad(t, registry, "bot-1"))

	// Cancel works from both active states and frees the slot each time.
	a, err := store.Cancel(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, assignment.StatusCancelled, a.Status)
	require.NotNil(t, a.CancelledAt)
	assert.Equal(t, 1, workerLoad(t, registry, "bot-1"))

	_, err = store.Cancel(ctx, inProgress.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, workerLoad(t, registry, "bot-1"))

	// Cancelling twice must not release a second slot.
	_, err = store.Cancel(ctx, pending.ID)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
	assert.Equal(t, 0, workerLoad(t, registry, "bot-1"))
}

func TestStore_Get_NotFound(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestStore_Query(t *testing.T) {
	store, registry := newTestStore(t)
	ctx := context.Background()
	registerWorker(t, registry, "bot-1", 4)
	registerWorker(t, registry, "bot-2", 4)

	a1, err := store.Create(ctx, &assignment.CreateRequest{TaskID: "task-1", WorkerID: "bot-1"})
	require.NoError(t, err)
	_, err = store.Create(ctx, &assignment.CreateRequest{TaskID: "task-2", WorkerID: "bot-1"})
	require.NoError(t, err)
	_, err = store.Create(ctx, &assignment.CreateRequest{TaskID: "task-1", WorkerID: "bot-2"})
	require.NoError(t, err)
	_, err = store.Accept(ctx, a1.ID)
	require.NoError(t, err)

	all, err := store.Query(ctx, assignment.QueryFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byWorker, err := store.Query(ctx, assignment.QueryFilter{WorkerID: "bot-1"})
	require.NoError(t, err)
	assert.Len(t, byWorker, 2)

	byTask, err := store.Query(ctx, assignment.QueryFilter{TaskID: "task-1"})
	require.NoError(t, err)
	assert.Len(t, byTask, 2)

	inProgress, err := store.Query(ctx, assignment.QueryFilter{Status: assignment.StatusInProgress})
	require.NoError(t, err)
	require.Len(t, inProgress, 1)
	assert.Equal(t, a1.ID, inProgress[0].ID)

	_, err = store.Query(ctx, assignment.QueryFilter{Status: "done"})
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

func TestStore_LoadSymmetry(t *testing.T) {
	store, registry := newTestStore(t)
	ctx := context.Background()
	registerWorker(t, registry, "bot-1", 2)

	// Many full cycles leave the counter exactly where it started.
	for i := 0; i < 10; i++ {
		a, err := store.Create(ctx, &assignment.CreateRequest{TaskID: "task", WorkerID: "bot-1"})
		require.NoError(t, err)
		_, err = store.Accept(ctx, a.ID)
		require.NoError(t, err)
		_, err = store.Complete(ctx, a.ID, time.Minute)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, workerLoad(t, registry, "bot-1"))
}

func TestStore_CountActiveByWorker(t *testing.T) {
	store, registry := newTestStore(t)
	ctx := context.Background()
	registerWorker(t, registry, "bot-1", 4)
	registerWorker(t, registry, "bot-2", 4)

	a1, err := store.Create(ctx, &assignment.CreateRequest{TaskID: "task-1", WorkerID: "bot-1"})
	require.NoError(t, err)
	_, err = store.Create(ctx, &assignment.CreateRequest{TaskID: "task-2", WorkerID: "bot-1"})
	require.NoError(t, err)
	done, err := store.Create(ctx, &assignment.CreateRequest{TaskID: "task-3", WorkerID: "bot-2"})
	require.NoError(t, err)

	_, err = store.Accept(ctx, a1.ID)
	require.NoError(t, err)
	_, err = store.Accept(ctx, done.ID)
	require.NoError(t, err)
	_, err = store.Complete(ctx, done.ID, time.Minute)
	require.NoError(t, err)

	counts, err := store.CountActiveByWorker(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"bot-1": 2}, counts)
}
