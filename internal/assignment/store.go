package assignment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskmesh/delegation/internal/eventbus"
	"github.com/taskmesh/delegation/internal/worker"
	"github.com/taskmesh/delegation/pkg/cerr"
)

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	return l
}

type CreateRequest struct {
	TaskID          string        `json:"task_id"`
	WorkerID        string        `json:"worker_id"`
	EstimatedEffort time.Duration `json:"estimated_effort"`
}

type QueryFilter struct {
	WorkerID string
	TaskID   string
	Status   Status
}

// Store owns the assignment state machine. Transitions for a given
// assignment id are serialized through a per-assignment mutex;
// capacity bookkeeping goes through the worker registry.
type Store struct {
	repo     Repository
	registry *worker.Registry
	bus      *eventbus.Bus
	locks    keyedMutex
}

func NewStore(repo Repository, registry *worker.Registry, bus *eventbus.Bus) *Store {
	return &Store{
		repo:     repo,
		registry: registry,
		bus:      bus,
	}
}

// Create reserves a slot on the worker first; only on success is the
// assignment written. If the write fails the reservation is rolled
// back, so callers never observe partial state.
func (s *Store) Create(ctx context.Context, req *CreateRequest) (*Assignment, error) {
	if req.TaskID == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "task_id is required", nil)
	}
	if req.WorkerID == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "worker_id is required", nil)
	}
	if req.EstimatedEffort < 0 {
		return nil, cerr.NewError(cerr.InvalidArgument, "estimated_effort must not be negative", nil)
	}

	if err := s.registry.ReserveSlot(ctx, req.WorkerID); err != nil {
		return nil, err
	}

	a := &Assignment{
		ID:              ulid.Make().String(),
		TaskID:          req.TaskID,
		WorkerID:        req.WorkerID,
		Status:          StatusPending,
		AssignedAt:      time.Now().UTC(),
		EstimatedEffort: req.EstimatedEffort,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		// Roll the reservation back; the slot must not leak.
		if relErr := s.registry.ReleaseSlot(ctx, req.WorkerID); relErr != nil {
			return nil, cerr.NewError(cerr.Internal, "failed to roll back slot reservation", relErr)
		}
		return nil, err
	}
	if s.bus != nil {
		s.bus.PublishNew(eventbus.EventAssignmentCreated, a.ID, map[string]string{
			"task_id":   a.TaskID,
			"worker_id": a.WorkerID,
		})
	}
	return a, nil
}

// Accept moves pending → in_progress and stamps accepted_at.
func (s *Store) Accept(ctx context.Context, id string) (*Assignment, error) {
	lock := s.locks.get(id)
	lock.Lock()
	defer lock.Unlock()

	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.Status.CanTransitionTo(StatusInProgress) {
		return nil, invalidTransition(a.Status, StatusInProgress)
	}
	now := time.Now().UTC()
	a.Status = StatusInProgress
	a.AcceptedAt = &now
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	if s.bus != nil {
		s.bus.PublishNew(eventbus.EventAssignmentAccepted, a.ID, map[string]string{
			"task_id":   a.TaskID,
			"worker_id": a.WorkerID,
		})
	}
	return a, nil
}

// Complete moves in_progress to completed, records the actual effort and
// releases the worker slot. The release happens exactly once: only the
// single legal transition into a terminal state reaches it. If the
// release fails after the terminal status is persisted the slot stays
// held until startup reconciliation recounts it from storage.
func (s *Store) Complete(ctx context.Context, id string, actualEffort time.Duration) (*Assignment, error) {
	if actualEffort < 0 {
		return nil, cerr.NewError(cerr.InvalidArgument, "actual_effort must not be negative", nil)
	}

	lock := s.locks.get(id)
	lock.Lock()
	defer lock.Unlock()

	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.Status.CanTransitionTo(StatusCompleted) {
		return nil, invalidTransition(a.Status, StatusCompleted)
	}
	now := time.Now().UTC()
	a.Status = StatusCompleted
	a.CompletedAt = &now
	a.ActualEffort = &actualEffort
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	if err := s.registry.ReleaseSlot(ctx, a.WorkerID); err != nil {
		return nil, err
	}
	if s.bus != nil {
		s.bus.PublishNew(eventbus.EventAssignmentCompleted, a.ID, map[string]string{
			"task_id":   a.TaskID,
			"worker_id": a.WorkerID,
		})
	}
	return a, nil
}

// Cancel moves an active assignment into the cancelled terminal state
// and releases the worker slot. Completed assignments cannot be
// cancelled; records are never deleted. As with Complete, a release
// failure after the status is persisted leaves the slot held until
// startup reconciliation.
func (s *Store) Cancel(ctx context.Context, id string) (*Assignment, error) {
	lock := s.locks.get(id)
	lock.Lock()
	defer lock.Unlock()

	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.Status.CanTransitionTo(StatusCancelled) {
		return nil, invalidTransition(a.Status, StatusCancelled)
	}
	now := time.Now().UTC()
	a.Status = StatusCancelled
	a.CancelledAt = &now
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	if err := s.registry.ReleaseSlot(ctx, a.WorkerID); err != nil {
		return nil, err
	}
	if s.bus != nil {
		s.bus.PublishNew(eventbus.EventAssignmentCancelled, a.ID, map[string]string{
			"task_id":   a.TaskID,
			"worker_id": a.WorkerID,
		})
	}
	return a, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Assignment, error) {
	return s.repo.Get(ctx, id)
}

// Query is read-only and returns a stable snapshot ordered by id.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]*Assignment, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, cerr.NewError(cerr.InvalidArgument,
			fmt.Sprintf("unknown status %q", filter.Status), nil)
	}
	return s.repo.List(ctx, filter.WorkerID, filter.TaskID, filter.Status)
}

// CountActiveByWorker counts pending and in_progress assignments per
// worker. Load counters are re-derived from this at startup.
func (s *Store) CountActiveByWorker(ctx context.Context) (map[string]int, error) {
	all, err := s.repo.List(ctx, "", "", "")
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, a := range all {
		if a.Status.Active() {
			counts[a.WorkerID]++
		}
	}
	return counts, nil
}

func invalidTransition(from, to Status) error {
	return cerr.NewError(cerr.FailedPrecondition,
		fmt.Sprintf("cannot transition assignment from %s to %s", from, to), nil)
}
