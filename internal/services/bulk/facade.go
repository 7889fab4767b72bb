package bulk

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/killallgit/marginalia/internal/models"
	"github.com/killallgit/marginalia/internal/services/annotations"
	apperrors "github.com/killallgit/marginalia/pkg/errors"
)

// DefaultMaxBatch caps how many annotations one action may touch
const DefaultMaxBatch = 100

// Action names a bulk action
type Action string

const (
	ActionDelete     Action = "delete"
	ActionTag        Action = "update_tags"
	ActionColor      Action = "update_color"
	ActionSetPrivate Action = "toggle_private"
)

// Store is the part of the annotation store the facade drives
type Store interface {
	List() []models.Annotation
	BulkDelete(ctx context.Context, ids []string) (annotations.BulkResult, error)
	BulkUpdateTags(ctx context.Context, ids []string, tags []string) (annotations.BulkResult, error)
	BulkUpdateColor(ctx context.Context, ids []string, color string) (annotations.BulkResult, error)
	BulkSetPrivate(ctx context.Context, ids []string, private bool) (annotations.BulkResult, error)
}

// Prompt describes an action awaiting the user's confirmation
type Prompt struct {
	Action  Action
	Count   int
	Message string
}

// ConfirmFunc asks the user to confirm a destructive action. It returns
// false when the user declined.
type ConfirmFunc func(ctx context.Context, prompt Prompt) (bool, error)

// Outcome summarizes one bulk action for display
type Outcome struct {
	Action    Action
	Requested int
	Succeeded int
	Failed    int
	Errors    map[string]error
	Cancelled bool
	Message   string
}

// Facade tracks the user's multi-selection and applies bulk actions to it
type Facade struct {
	mu       sync.Mutex
	store    Store
	confirm  ConfirmFunc
	maxBatch int
	selected map[string]struct{}
}

// NewFacade creates a facade over store. A non-positive maxBatch uses
// DefaultMaxBatch.
func NewFacade(store Store, confirm ConfirmFunc, maxBatch int) *Facade {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return &Facade{
		store:    store,
		confirm:  confirm,
		maxBatch: maxBatch,
		selected: make(map[string]struct{}),
	}
}

// Select adds ids to the selection
func (f *Facade) Select(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if id != "" {
			f.selected[id] = struct{}{}
		}
	}
}

// Deselect removes ids from the selection
func (f *Facade) Deselect(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.selected, id)
	}
}

// Toggle flips one id and reports whether it is now selected
func (f *Facade) Toggle(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.selected[id]; ok {
		delete(f.selected, id)
		return false
	}
	f.selected[id] = struct{}{}
	return true
}

// SelectAll selects the given visible annotations, or every annotation in
// the store when visible is nil
func (f *Facade) SelectAll(visible []models.Annotation) {
	if visible == nil {
		visible = f.store.List()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range visible {
		f.selected[a.ID] = struct{}{}
	}
}

// Clear empties the selection
func (f *Facade) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = make(map[string]struct{})
}

// IsSelected reports whether id is selected
func (f *Facade) IsSelected(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.selected[id]
	return ok
}

// Selected returns the selected ids in lexical order
func (f *Facade) Selected() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selectedLocked()
}

// Count returns the number of selected ids
func (f *Facade) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.selected)
}

func (f *Facade) selectedLocked() []string {
	ids := make([]string, 0, len(f.selected))
	for id := range f.selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Delete removes every selected annotation after the user confirms
func (f *Facade) Delete(ctx context.Context) (Outcome, error) {
	ids, err := f.batch()
	if err != nil {
		return Outcome{Action: ActionDelete}, err
	}
	if f.confirm == nil {
		return Outcome{Action: ActionDelete}, apperrors.New(apperrors.ErrCodeInvalidInput, "delete requires a confirmation callback")
	}

	prompt := Prompt{
		Action:  ActionDelete,
		Count:   len(ids),
		Message: fmt.Sprintf("Delete %s? This cannot be undone.", plural(len(ids))),
	}
	ok, err := f.confirm(ctx, prompt)
	if err != nil {
		return Outcome{Action: ActionDelete}, fmt.Errorf("confirming delete: %w", err)
	}
	if !ok {
		return Outcome{Action: ActionDelete, Requested: len(ids), Cancelled: true, Message: "Delete cancelled"}, nil
	}

	result, err := f.store.BulkDelete(ctx, ids)
	if err != nil {
		return Outcome{Action: ActionDelete}, err
	}
	// Deleted records are gone locally whether or not the remote accepted
	f.Deselect(ids...)
	return f.outcome(ActionDelete, "Deleted", result), nil
}

// Tag replaces the tag set of every selected annotation
func (f *Facade) Tag(ctx context.Context, tags []string) (Outcome, error) {
	ids, err := f.batch()
	if err != nil {
		return Outcome{Action: ActionTag}, err
	}
	result, err := f.store.BulkUpdateTags(ctx, ids, tags)
	if err != nil {
		return Outcome{Action: ActionTag}, err
	}
	return f.outcome(ActionTag, "Tagged", result), nil
}

// Color recolors every selected annotation
func (f *Facade) Color(ctx context.Context, color string) (Outcome, error) {
	ids, err := f.batch()
	if err != nil {
		return Outcome{Action: ActionColor}, err
	}
	result, err := f.store.BulkUpdateColor(ctx, ids, color)
	if err != nil {
		return Outcome{Action: ActionColor}, err
	}
	return f.outcome(ActionColor, "Recolored", result), nil
}

// SetPrivate sets the privacy flag of every selected annotation
func (f *Facade) SetPrivate(ctx context.Context, private bool) (Outcome, error) {
	ids, err := f.batch()
	if err != nil {
		return Outcome{Action: ActionSetPrivate}, err
	}
	result, err := f.store.BulkSetPrivate(ctx, ids, private)
	if err != nil {
		return Outcome{Action: ActionSetPrivate}, err
	}
	verb := "Made public"
	if private {
		verb = "Made private"
	}
	return f.outcome(ActionSetPrivate, verb, result), nil
}

func (f *Facade) batch() ([]string, error) {
	f.mu.Lock()
	ids := f.selectedLocked()
	f.mu.Unlock()

	if len(ids) == 0 {
		return nil, apperrors.ValidationError("selection", "no annotations selected")
	}
	if len(ids) > f.maxBatch {
		return nil, apperrors.ValidationError("selection",
			fmt.Sprintf("%d annotations selected, at most %d per action", len(ids), f.maxBatch))
	}
	return ids, nil
}

func (f *Facade) outcome(action Action, verb string, result annotations.BulkResult) Outcome {
	out := Outcome{
		Action:    action,
		Requested: result.Requested,
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
		Errors:    result.Errors,
	}
	if result.Failed == 0 {
		out.Message = fmt.Sprintf("%s %s", verb, plural(result.Succeeded))
	} else {
		out.Message = fmt.Sprintf("%s %d of %s, %d failed", verb, result.Succeeded, plural(result.Requested), result.Failed)
		log.Printf("[WARN] Bulk %s: %d of %d failed", action, result.Failed, result.Requested)
	}
	return out
}

func plural(n int) string {
	if n == 1 {
		return "1 annotation"
	}
	return fmt.Sprintf("%d annotations", n)
}
