package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/taskmesh/delegation/internal/assignment"
	"github.com/taskmesh/delegation/pkg/cerr"
	"github.com/taskmesh/delegation/pkg/storage"
)

const assignmentsPrefix = "assignments"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", assignmentsPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, a *assignment.Assignment) error {
	exists, err := r.storage.Exists(ctx, path(a.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("assignment", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "assignment already exists", nil)
	}
	data, err := yaml.Marshal(a)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal assignment: %w", err))
	}
	if err := r.storage.Write(ctx, path(a.ID), data); err != nil {
		return cerr.WrapStorageWriteError("assignment", err)
	}
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*assignment.Assignment, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("assignment", err)
	}
	var a assignment.Assignment
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal assignment: %w", err))
	}
	return &a, nil
}

func (r *YAMLRepository) List(ctx context.Context, workerID, taskID string, status assignment.Status) ([]*assignment.Assignment, error) {
	paths, err := r.storage.List(ctx, assignmentsPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("assignments", err)
	}

	sort.Strings(paths)

	var all []*assignment.Assignment
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var a assignment.Assignment
		if err := yaml.Unmarshal(data, &a); err != nil {
			continue
		}
		if workerID != "" && a.WorkerID != workerID {
			continue
		}
		if taskID != "" && a.TaskID != taskID {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		all = append(all, &a)
	}
	return all, nil
}

func (r *YAMLRepository) Update(ctx context.Context, a *assignment.Assignment) error {
	exists, err := r.storage.Exists(ctx, path(a.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("assignment", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "assignment not found", nil)
	}
	data, err := yaml.Marshal(a)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal assignment: %w", err))
	}
	if err := r.storage.Write(ctx, path(a.ID), data); err != nil {
		return cerr.WrapStorageWriteError("assignment", err)
	}
	return nil
}
