package annotations

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/killallgit/marginalia/internal/models"
	apperrors "github.com/killallgit/marginalia/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// bulkItem is one record touched by a bulk operation, captured at the
// moment the local effect was applied
type bulkItem struct {
	annotation models.Annotation
	revision   uint64
	pending    bool
}

// BulkDelete removes every known id locally in one step and then deletes
// each remotely. Records are never restored on remote failure.
func (s *ServiceImpl) BulkDelete(ctx context.Context, ids []string) (BulkResult, error) {
	ids = dedupe(ids)
	result := newBulkResult(len(ids))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return result, errStoreClosed()
	}
	var items []bulkItem
	var changes []Change
	for _, id := range ids {
		e, ok := s.entries[id]
		if !ok {
			result.Errors[id] = apperrors.NotFound("annotation", id)
			continue
		}
		items = append(items, bulkItem{annotation: e.annotation, pending: e.pending})
		s.removeLocked(id)
		changes = append(changes, Change{Type: ChangeRemoved, ID: id})
	}
	s.mu.Unlock()
	s.emit(changes...)

	s.fanOut(ctx, items, &result, func(ctx context.Context, item bulkItem) error {
		if item.pending {
			return nil
		}
		return s.pushDelete(ctx, item.annotation.ID)
	})

	s.logBulk("delete", result)
	return result, nil
}

// BulkUpdateTags replaces the tag set of every id
func (s *ServiceImpl) BulkUpdateTags(ctx context.Context, ids []string, tags []string) (BulkResult, error) {
	normalized := models.NewTags(tags...)
	return s.bulkPatch(ctx, "update_tags", ids, func(a *models.Annotation) {
		a.Tags = append(models.Tags(nil), normalized...)
	})
}

// BulkUpdateColor sets the color of every id
func (s *ServiceImpl) BulkUpdateColor(ctx context.Context, ids []string, color string) (BulkResult, error) {
	hex, ok := models.NormalizeColor(color)
	if !ok {
		return newBulkResult(len(dedupe(ids))), apperrors.ValidationError("color", fmt.Sprintf("%q is not in the palette", color))
	}
	return s.bulkPatch(ctx, "update_color", ids, func(a *models.Annotation) {
		a.Color = hex
	})
}

// BulkSetPrivate sets the privacy flag of every id
func (s *ServiceImpl) BulkSetPrivate(ctx context.Context, ids []string, private bool) (BulkResult, error) {
	return s.bulkPatch(ctx, "set_private", ids, func(a *models.Annotation) {
		a.IsPrivate = private
	})
}

// bulkPatch applies mutate to every known id under one lock, so observers
// never see a partially applied batch, and then pushes each record
func (s *ServiceImpl) bulkPatch(ctx context.Context, action string, ids []string, mutate func(*models.Annotation)) (BulkResult, error) {
	ids = dedupe(ids)
	result := newBulkResult(len(ids))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return result, errStoreClosed()
	}
	var items []bulkItem
	var changes []Change
	for _, id := range ids {
		e, ok := s.entries[id]
		if !ok {
			result.Errors[id] = apperrors.NotFound("annotation", id)
			continue
		}
		updated := e.annotation.Clone()
		mutate(&updated)
		updated.UpdatedAt = s.tick(e.annotation.UpdatedAt)
		e.annotation = updated
		e.revision++
		items = append(items, bulkItem{annotation: updated.Clone(), revision: e.revision, pending: e.pending})
		changes = append(changes, changeOf(ChangeUpdated, updated))
	}
	s.mu.Unlock()
	s.emit(changes...)

	s.fanOut(ctx, items, &result, func(ctx context.Context, item bulkItem) error {
		if item.pending {
			return nil
		}
		_, err := s.pushUpdate(ctx, item.annotation, item.revision)
		return err
	})

	s.logBulk(action, result)
	return result, nil
}

// fanOut runs one independent remote call per item with bounded
// concurrency. A failing call never cancels the others.
func (s *ServiceImpl) fanOut(ctx context.Context, items []bulkItem, result *BulkResult, call func(context.Context, bulkItem) error) {
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.bulkConcurrency)

	for _, item := range items {
		item := item
		g.Go(func() error {
			err := call(ctx, item)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[item.annotation.ID] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Failed = len(result.Errors)
	result.Succeeded = result.Requested - result.Failed
}

func (s *ServiceImpl) logBulk(action string, result BulkResult) {
	if result.Failed > 0 {
		log.Printf("[WARN] Bulk %s on document %s: %d of %d failed", action, s.documentID, result.Failed, result.Requested)
		return
	}
	log.Printf("[INFO] Bulk %s on document %s: %d succeeded", action, s.documentID, result.Succeeded)
}

func newBulkResult(requested int) BulkResult {
	return BulkResult{Requested: requested, Errors: make(map[string]error)}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
