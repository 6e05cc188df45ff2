package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/taskmesh/delegation/internal/worker"
	"github.com/taskmesh/delegation/pkg/cerr"
	"github.com/taskmesh/delegation/pkg/storage"
)

const workersPrefix = "workers"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", workersPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, c *worker.Capability) error {
	exists, err := r.storage.Exists(ctx, path(c.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("worker", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "worker already exists", nil)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal worker: %w", err))
	}
	if err := r.storage.Write(ctx, path(c.ID), data); err != nil {
		return cerr.WrapStorageWriteError("worker", err)
	}
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*worker.Capability, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("worker", err)
	}
	var c worker.Capability
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal worker: %w", err))
	}
	return &c, nil
}

func (r *YAMLRepository) List(ctx context.Context) ([]*worker.Capability, error) {
	paths, err := r.storage.List(ctx, workersPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("workers", err)
	}

	sort.Strings(paths)

	var all []*worker.Capability
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var c worker.Capability
		if err := yaml.Unmarshal(data, &c); err != nil {
			continue
		}
		all = append(all, &c)
	}
	return all, nil
}

func (r *YAMLRepository) Update(ctx context.Context, c *worker.Capability) error {
	exists, err := r.storage.Exists(ctx, path(c.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("worker", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "worker not found", nil)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal worker: %w", err))
	}
	if err := r.storage.Write(ctx, path(c.ID), data); err != nil {
		return cerr.WrapStorageWriteError("worker", err)
	}
	return nil
}

func (r *YAMLRepository) Exists(ctx context.Context, id string) (bool, error) {
	exists, err := r.storage.Exists(ctx, path(id))
	if err != nil {
		return false, cerr.WrapStorageReadError("worker", err)
	}
	return exists, nil
}
