package cerr

import (
	"errors"
	"fmt"

	"github.com/taskmesh/delegation/pkg/storage"
)

// Storage wrappers. A missing record is NotFound; any other storage
// failure means the operation's effect is unknown, which callers must
// see as Unavailable rather than a confirmed failure.

func WrapStorageReadError(target string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return NewError(NotFound, fmt.Sprintf("%s not found", target), err)
	}
	return NewError(Unavailable, "storage unavailable", fmt.Errorf("failed to read %s: %w", target, err))
}

func WrapStorageWriteError(target string, err error) error {
	return NewError(Unavailable, "storage unavailable", fmt.Errorf("failed to write %s: %w", target, err))
}
