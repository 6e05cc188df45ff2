package engine

import (
	"context"
	"time"

	"github.com/taskmesh/delegation/internal/assignment"
	"github.com/taskmesh/delegation/internal/worker"
)

// Engine is the façade external callers use. It composes the worker
// registry and the assignment lifecycle store; capacity reservation and
// assignment creation are observed as one atomic unit. It adds no state
// of its own.
type Engine struct {
	registry *worker.Registry
	store    *assignment.Store
}

func New(registry *worker.Registry, store *assignment.Store) *Engine {
	return &Engine{
		registry: registry,
		store:    store,
	}
}

// DelegateTask assigns the task to the worker, reserving one slot of
// the worker's capacity. Either the assignment exists with its
// reservation, or neither does.
func (e *Engine) DelegateTask(ctx context.Context, taskID, workerID string, estimatedEffort time.Duration) (*assignment.Assignment, error) {
	return e.store.Create(ctx, &assignment.CreateRequest{
		TaskID:          taskID,
		WorkerID:        workerID,
		EstimatedEffort: estimatedEffort,
	})
}

func (e *Engine) AcceptAssignment(ctx context.Context, assignmentID string) (*assignment.Assignment, error) {
	return e.store.Accept(ctx, assignmentID)
}

func (e *Engine) CompleteAssignment(ctx context.Context, assignmentID string, actualEffort time.Duration) (*assignment.Assignment, error) {
	return e.store.Complete(ctx, assignmentID, actualEffort)
}

func (e *Engine) CancelAssignment(ctx context.Context, assignmentID string) (*assignment.Assignment, error) {
	return e.store.Cancel(ctx, assignmentID)
}

func (e *Engine) GetAssignment(ctx context.Context, assignmentID string) (*assignment.Assignment, error) {
	return e.store.Get(ctx, assignmentID)
}

func (e *Engine) ListAssignmentsForWorker(ctx context.Context, workerID string, status assignment.Status) ([]*assignment.Assignment, error) {
	return e.store.Query(ctx, assignment.QueryFilter{
		WorkerID: workerID,
		Status:   status,
	})
}

func (e *Engine) ListAssignments(ctx context.Context, filter assignment.QueryFilter) ([]*assignment.Assignment, error) {
	return e.store.Query(ctx, filter)
}

// ListAvailableWorkers returns workers that can admit another
// assignment right now, optionally narrowed by type and skill.
func (e *Engine) ListAvailableWorkers(ctx context.Context, workerType worker.Type, requiredSkill string) ([]*worker.Capability, error) {
	return e.registry.Query(ctx, worker.QueryFilter{
		WorkerType:    workerType,
		AvailableOnly: true,
		RequiredSkill: requiredSkill,
	})
}

// SuggestWorkers ranks available workers for the given skills. Purely
// advisory: nothing is reserved, the caller still delegates explicitly.
func (e *Engine) SuggestWorkers(ctx context.Context, workerType worker.Type, skills []string) ([]*Suggestion, error) {
	candidates, err := e.registry.Query(ctx, worker.QueryFilter{
		WorkerType:    workerType,
		AvailableOnly: true,
	})
	if err != nil {
		return nil, err
	}
	return rankWorkers(candidates, skills), nil
}

// ReconcileLoads re-derives every worker's load counter from the
// active assignments in storage. Run at startup before serving.
func (e *Engine) ReconcileLoads(ctx context.Context) error {
	counts, err := e.store.CountActiveByWorker(ctx)
	if err != nil {
		return err
	}
	return e.registry.ResetLoads(ctx, counts)
}
