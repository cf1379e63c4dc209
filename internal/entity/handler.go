package entity

import (
	"context"

	"github.com/xtxerr/cfgsync/internal/document"
	"github.com/xtxerr/cfgsync/internal/errors"
)

// Writer is the subset of storage the default handler applies imports to.
type Writer interface {
	Write(ctx context.Context, collection, name string, data map[string]any) error
	Delete(ctx context.Context, collection, name string) error
}

// StorageHandler applies imports by writing documents to the target store.
type StorageHandler struct {
	entityType string
	target     Writer
}

// NewStorageHandler creates the default handler for entityType.
func NewStorageHandler(entityType string, target Writer) *StorageHandler {
	return &StorageHandler{entityType: entityType, target: target}
}

// EntityType implements Storage.
func (h *StorageHandler) EntityType() string {
	return h.entityType
}

// ImportCreate implements ImportableStorage.
func (h *StorageHandler) ImportCreate(ctx context.Context, collection, name string, newData, _ document.Data) error {
	if newData == nil {
		return errors.NewMissingField("new document for " + name)
	}
	return h.target.Write(ctx, collection, name, newData)
}

// ImportUpdate implements ImportableStorage.
func (h *StorageHandler) ImportUpdate(ctx context.Context, collection, name string, newData, _ document.Data) error {
	if newData == nil {
		return errors.NewMissingField("new document for " + name)
	}
	return h.target.Write(ctx, collection, name, newData)
}

// ImportDelete implements ImportableStorage.
func (h *StorageHandler) ImportDelete(ctx context.Context, collection, name string, _, _ document.Data) error {
	return h.target.Delete(ctx, collection, name)
}

// ImportRename implements ImportableStorage. The new document is written
// before the old one is removed.
func (h *StorageHandler) ImportRename(ctx context.Context, collection, oldName, newName string, newData, _ document.Data) error {
	if newData == nil {
		return errors.NewMissingField("new document for " + newName)
	}
	if err := h.target.Write(ctx, collection, newName, newData); err != nil {
		return err
	}
	return h.target.Delete(ctx, collection, oldName)
}

// RegisterDefaults registers a StorageHandler writing to target for every
// prefix -> entity type pair.
func RegisterDefaults(r *Registry, types map[string]string, target Writer) error {
	errs := errors.NewValidationErrors()
	for prefix, entityType := range types {
		errs.Add(r.Register(prefix, entityType, NewStorageHandler(entityType, target)))
	}
	return errs.Err()
}
