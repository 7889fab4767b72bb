package annotations

import (
	"context"

	"github.com/killallgit/marginalia/internal/models"
)

// Remote is the persistence collaborator the store synchronizes with.
// Implementations return AppErrors; transport failures should carry
// ErrCodeTransport so the UI can offer a retry.
type Remote interface {
	Create(ctx context.Context, annotation models.Annotation) (models.Annotation, error)
	Update(ctx context.Context, annotation models.Annotation) (models.Annotation, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, documentID string) ([]models.Annotation, error)
}

// Service is the annotation store for one document
type Service interface {
	// Single record operations
	Create(ctx context.Context, draft Draft) (models.Annotation, error)
	Update(ctx context.Context, id string, patch Patch) (models.Annotation, error)
	Delete(ctx context.Context, id string) error

	// Read operations
	Get(id string) (models.Annotation, error)
	List() []models.Annotation
	DocumentID() string

	// Bulk operations
	BulkDelete(ctx context.Context, ids []string) (BulkResult, error)
	BulkUpdateTags(ctx context.Context, ids []string, tags []string) (BulkResult, error)
	BulkUpdateColor(ctx context.Context, ids []string, color string) (BulkResult, error)
	BulkSetPrivate(ctx context.Context, ids []string, private bool) (BulkResult, error)

	// Synchronization
	Load(ctx context.Context) error
	Unsynced() map[string]SyncOp
	Retry(ctx context.Context, id string) error

	Subscribe(fn func(Change)) (cancel func())
	Close()
}

// Draft holds the caller-supplied fields of a new annotation. The store
// assigns id, document and timestamps.
type Draft struct {
	Kind         models.Kind
	Locator      models.DocumentLocator
	SelectedText string
	Content      string
	Color        string
	Tags         []string
	// IsPrivate defaults to true when nil
	IsPrivate *bool
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Content   *string
	Color     *string
	Tags      *[]string
	IsPrivate *bool
}

// Empty reports whether the patch changes nothing
func (p Patch) Empty() bool {
	return p.Content == nil && p.Color == nil && p.Tags == nil && p.IsPrivate == nil
}

// ChangeType identifies a store notification
type ChangeType string

const (
	ChangeCreated   ChangeType = "created"
	ChangeUpdated   ChangeType = "updated"
	ChangeRemoved   ChangeType = "removed"
	ChangeConfirmed ChangeType = "confirmed"
	ChangeReset     ChangeType = "reset"
)

// Change is delivered to subscribers after every state change.
// Annotation is nil for removals and resets. PreviousID is set when a
// confirmation re-keyed the record to a server-issued id.
type Change struct {
	Type       ChangeType
	ID         string
	PreviousID string
	Annotation *models.Annotation
}

// SyncOp is the kind of local change the remote has not accepted yet
type SyncOp string

const (
	SyncUpdate SyncOp = "update"
	SyncDelete SyncOp = "delete"
)

// BulkResult aggregates the per-record outcomes of a bulk operation
type BulkResult struct {
	Requested int
	Succeeded int
	Failed    int
	Errors    map[string]error
}

// OK reports whether every record succeeded
func (r BulkResult) OK() bool {
	return r.Failed == 0
}
