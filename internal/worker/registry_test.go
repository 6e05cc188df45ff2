package worker_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/delegation/internal/worker"
	"github.com/taskmesh/delegation/internal/worker/repositoryimpl"
	"github.com/taskmesh/delegation/pkg/cerr"
	"github.com/taskmesh/delegation/pkg/storage"
)

func newTestRegistry(t *testing.T) *worker.Registry {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return worker.NewRegistry(repositoryimpl.NewYAMLRepository(s), nil)
}

func register(t *testing.T, r *worker.Registry, id string, max int, skills ...string) *worker.Capability {
	t.Helper()
	c, err := r.Register(context.Background(), &worker.RegisterRequest{
		WorkerID:                 id,
		DisplayName:              id,
		WorkerType:               worker.TypeHuman,
		Skills:                   skills,
		MaxConcurrentAssignments: max,
	})
	require.NoError(t, err)
	return c
}

func TestRegistry_Register(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	c := register(t, r, "alice", 3, "go", "terraform")
	assert.Equal(t, "alice", c.ID)
	assert.Equal(t, 0, c.CurrentLoad)
	assert.Equal(t, 3, c.MaxConcurrentAssignments)
	assert.False(t, c.RegisteredAt.IsZero())

	got, err := r.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, c.Skills, got.Skills)
}

func TestRegistry_Register_Validation(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  worker.RegisterRequest
	}{
		{"missing id", worker.RegisterRequest{WorkerType: worker.TypeHuman, MaxConcurrentAssignments: 1}},
		{"zero capacity", worker.RegisterRequest{WorkerID: "w", WorkerType: worker.TypeHuman, MaxConcurrentAssignments: 0}},
		{"negative capacity", worker.RegisterRequest{WorkerID: "w", WorkerType: worker.TypeHuman, MaxConcurrentAssignments: -1}},
		{"unknown type", worker.RegisterRequest{WorkerID: "w", WorkerType: "robot", MaxConcurrentAssignments: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Register(ctx, &tt.req)
			require.Error(t, err)
			assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
		})
	}

	// Nothing was persisted by the rejected requests.
	_, err := r.Get(ctx, "w")
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestRegistry_Register_PathLikeID(t *testing.T) {
	base := t.TempDir()
	s, err := storage.NewLocalStorage(filepath.Join(base, "data"))
	require.NoError(t, err)
	r := worker.NewRegistry(repositoryimpl.NewYAMLRepository(s), nil)
	ctx := context.Background()

	for _, id := range []string{"../../escaped", "..", "a/b", `a\b`, "workers/../alice"} {
		t.Run(id, func(t *testing.T) {
			_, err := r.Register(ctx, &worker.RegisterRequest{
				WorkerID:                 id,
				WorkerType:               worker.TypeHuman,
				MaxConcurrentAssignments: 1,
			})
			require.Error(t, err)
			assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
		})
	}

	// Nothing escaped the data directory and nothing was registered.
	_, err = os.Stat(filepath.Join(base, "escaped.yaml"))
	assert.True(t, os.IsNotExist(err))
	all, err := r.Query(ctx, worker.QueryFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	r := newTestRegistry(t)
	register(t, r, "alice", 2)

	_, err := r.Register(context.Background(), &worker.RegisterRequest{
		WorkerID:                 "alice",
		WorkerType:               worker.TypeAgent,
		MaxConcurrentAssignments: 5,
	})
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.AlreadyExists))

	// The original registration is untouched.
	got, err := r.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, worker.TypeHuman, got.Type)
	assert.Equal(t, 2, got.MaxConcurrentAssignments)
}

func TestRegistry_ReserveSlot(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	register(t, r, "alice", 2)

	require.NoError(t, r.ReserveSlot(ctx, "alice"))
	require.NoError(t, r.ReserveSlot(ctx, "alice"))

	err := r.ReserveSlot(ctx, "alice")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.ResourceExhausted))

	// A failed reservation leaves the counter untouched.
	got, err := r.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentLoad)

	require.NoError(t, r.ReleaseSlot(ctx, "alice"))
	require.NoError(t, r.ReserveSlot(ctx, "alice"))
}

func TestRegistry_ReserveSlot_UnknownWorker(t *testing.T) {
	r := newTestRegistry(t)
	err := r.ReserveSlot(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestRegistry_ReserveSlot_Disabled(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	register(t, r, "alice", 2)

	_, err := r.SetDisabled(ctx, "alice", true)
	require.NoError(t, err)

	err = r.ReserveSlot(ctx, "alice")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.ResourceExhausted))

	_, err = r.SetDisabled(ctx, "alice", false)
	require.NoError(t, err)
	require.NoError(t, r.ReserveSlot(ctx, "alice"))
}

func TestRegistry_ReleaseSlot_FlooredAtZero(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	register(t, r, "alice", 1)

	require.NoError(t, r.ReleaseSlot(ctx, "alice"))
	got, err := r.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentLoad)
}

func TestRegistry_ConcurrentReserve(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	register(t, r, "alice", 3)

	const attempts = 16
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- r.ReserveSlot(ctx, "alice")
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, exhausted int
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		require.True(t, cerr.IsCode(err, cerr.ResourceExhausted), "unexpected error: %v", err)
		exhausted++
	}
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, attempts-3, exhausted)

	got, err := r.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentLoad)
}

func TestRegistry_Query(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	register(t, r, "alice", 1, "go")
	register(t, r, "bob", 2, "go", "sql")
	_, err := r.Register(ctx, &worker.RegisterRequest{
		WorkerID:                 "bot-1",
		WorkerType:               worker.TypeAgent,
		Skills:                   []string{"go"},
		MaxConcurrentAssignments: 4,
	})
	require.NoError(t, err)

	// alice is at capacity.
	require.NoError(t, r.ReserveSlot(ctx, "alice"))

	all, err := r.Query(ctx, worker.QueryFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	humans, err := r.Query(ctx, worker.QueryFilter{WorkerType: worker.TypeHuman})
	require.NoError(t, err)
	assert.Len(t, humans, 2)

	available, err := r.Query(ctx, worker.QueryFilter{AvailableOnly: true})
	require.NoError(t, err)
	require.Len(t, available, 2)
	for _, c := range available {
		assert.NotEqual(t, "alice", c.ID)
	}

	sql, err := r.Query(ctx, worker.QueryFilter{RequiredSkill: "sql"})
	require.NoError(t, err)
	require.Len(t, sql, 1)
	assert.Equal(t, "bob", sql[0].ID)

	none, err := r.Query(ctx, worker.QueryFilter{RequiredSkill: "rust"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRegistry_ResetLoads(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	register(t, r, "alice", 3)
	register(t, r, "bob", 3)

	require.NoError(t, r.ReserveSlot(ctx, "alice"))
	require.NoError(t, r.ReserveSlot(ctx, "alice"))
	require.NoError(t, r.ReserveSlot(ctx, "bob"))

	require.NoError(t, r.ResetLoads(ctx, map[string]int{"alice": 1}))

	alice, err := r.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, alice.CurrentLoad)

	bob, err := r.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, bob.CurrentLoad)
}
