package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/taskmesh/delegation/internal/eventbus"
	"github.com/taskmesh/delegation/pkg/cerr"
)

// keyedMutex hands out one mutex per worker id so that slot accounting
// for different workers never serializes against each other.
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

type RegisterRequest struct {
	WorkerID                 string   `json:"worker_id"`
	DisplayName              string   `json:"display_name"`
	WorkerType               Type     `json:"worker_type"`
	Skills                   []string `json:"skills"`
	MaxConcurrentAssignments int      `json:"max_concurrent_assignments"`
}

type QueryFilter struct {
	WorkerType    Type
	AvailableOnly bool
	RequiredSkill string
}

// Registry owns worker capability state. ReserveSlot and ReleaseSlot
// for the same worker are serialized through a per-worker mutex; the
// worker record is the single source of the load counter.
type Registry struct {
	repo  Repository
	bus   *eventbus.Bus
	locks keyedMutex
}

func NewRegistry(repo Repository, bus *eventbus.Bus) *Registry {
	return &Registry{
		repo: repo,
		bus:  bus,
	}
}

func (r *Registry) Register(ctx context.Context, req *RegisterRequest) (*Capability, error) {
	if req.WorkerID == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "worker_id is required", nil)
	}
	// Ids become storage keys; path metacharacters must never reach them.
	if strings.ContainsAny(req.WorkerID, `/\`) || strings.Contains(req.WorkerID, "..") {
		return nil, cerr.NewError(cerr.InvalidArgument,
			fmt.Sprintf("worker_id %q must not contain path separators or '..'", req.WorkerID), nil)
	}
	if req.MaxConcurrentAssignments < 1 {
		return nil, cerr.NewError(cerr.InvalidArgument, "max_concurrent_assignments must be at least 1", nil)
	}
	switch req.WorkerType {
	case TypeHuman, TypeAgent:
	default:
		return nil, cerr.NewError(cerr.InvalidArgument,
			fmt.Sprintf("unknown worker type %q", req.WorkerType), nil)
	}

	exists, err := r.repo.Exists(ctx, req.WorkerID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, cerr.NewError(cerr.AlreadyExists, "worker already exists", nil)
	}

	now := time.Now().UTC()
	c := &Capability{
		ID:                       req.WorkerID,
		DisplayName:              req.DisplayName,
		Type:                     req.WorkerType,
		Skills:                   req.Skills,
		MaxConcurrentAssignments: req.MaxConcurrentAssignments,
		CurrentLoad:              0,
		RegisteredAt:             now,
		UpdatedAt:                now,
	}
	if err := r.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	if r.bus != nil {
		r.bus.PublishNew(eventbus.EventWorkerRegistered, c.ID, map[string]string{
			"worker_type": string(c.Type),
		})
	}
	return c, nil
}

func (r *Registry) Get(ctx context.Context, workerID string) (*Capability, error) {
	return r.repo.Get(ctx, workerID)
}

// ReserveSlot is the admission-control primitive: it atomically checks
// CurrentLoad < MaxConcurrentAssignments and increments on success.
// On failure nothing changes.
func (r *Registry) ReserveSlot(ctx context.Context, workerID string) error {
	lock := r.locks.get(workerID)
	lock.Lock()
	defer lock.Unlock()

	c, err := r.repo.Get(ctx, workerID)
	if err != nil {
		return err
	}
	if c.Disabled {
		return cerr.NewError(cerr.ResourceExhausted,
			fmt.Sprintf("worker %s is disabled", workerID), nil)
	}
	if c.CurrentLoad >= c.MaxConcurrentAssignments {
		return cerr.NewError(cerr.ResourceExhausted,
			fmt.Sprintf("worker %s is at capacity (%d/%d)", workerID, c.CurrentLoad, c.MaxConcurrentAssignments), nil)
	}
	c.CurrentLoad++
	c.UpdatedAt = time.Now().UTC()
	return r.repo.Update(ctx, c)
}

// ReleaseSlot decrements the worker's load counter, floored at zero.
// Callers must invoke it exactly once per assignment reaching a
// terminal decrement point.
func (r *Registry) ReleaseSlot(ctx context.Context, workerID string) error {
	lock := r.locks.get(workerID)
	lock.Lock()
	defer lock.Unlock()

	c, err := r.repo.Get(ctx, workerID)
	if err != nil {
		return err
	}
	if c.CurrentLoad > 0 {
		c.CurrentLoad--
	}
	c.UpdatedAt = time.Now().UTC()
	return r.repo.Update(ctx, c)
}

// SetDisabled flips the administrative disable flag. A disabled worker
// keeps its current load but admits nothing new.
func (r *Registry) SetDisabled(ctx context.Context, workerID string, disabled bool) (*Capability, error) {
	lock := r.locks.get(workerID)
	lock.Lock()
	defer lock.Unlock()

	c, err := r.repo.Get(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if c.Disabled == disabled {
		return c, nil
	}
	c.Disabled = disabled
	c.UpdatedAt = time.Now().UTC()
	if err := r.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	if r.bus != nil {
		evt := eventbus.EventWorkerEnabled
		if disabled {
			evt = eventbus.EventWorkerDisabled
		}
		r.bus.PublishNew(evt, c.ID, nil)
	}
	return c, nil
}

// Query returns the workers matching the filter. Read-only; results are
// a stable snapshot ordered by worker id.
func (r *Registry) Query(ctx context.Context, filter QueryFilter) ([]*Capability, error) {
	all, err := r.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	var matched []*Capability
	for _, c := range all {
		if filter.WorkerType != "" && c.Type != filter.WorkerType {
			continue
		}
		if filter.AvailableOnly && !c.Available() {
			continue
		}
		if filter.RequiredSkill != "" && !c.HasSkill(filter.RequiredSkill) {
			continue
		}
		matched = append(matched, c)
	}
	return matched, nil
}

// ResetLoads rewrites load counters that diverged from the given active
// assignment counts. Used at startup to re-derive capacity state from
// storage alone.
func (r *Registry) ResetLoads(ctx context.Context, activeCounts map[string]int) error {
	all, err := r.repo.List(ctx)
	if err != nil {
		return err
	}
	for _, c := range all {
		want := activeCounts[c.ID]
		if c.CurrentLoad == want {
			continue
		}
		lock := r.locks.get(c.ID)
		lock.Lock()
		cur, err := r.repo.Get(ctx, c.ID)
		if err != nil {
			lock.Unlock()
			return err
		}
		cur.CurrentLoad = want
		cur.UpdatedAt = time.Now().UTC()
		if err := r.repo.Update(ctx, cur); err != nil {
			lock.Unlock()
			return err
		}
		lock.Unlock()
	}
	return nil
}
