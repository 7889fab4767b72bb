package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/killallgit/marginalia/internal/models"
	"github.com/killallgit/marginalia/internal/services/annotations"
	"github.com/killallgit/marginalia/internal/services/bulk"
	"github.com/killallgit/marginalia/internal/services/export"
	"github.com/killallgit/marginalia/internal/services/overlay"
	"github.com/killallgit/marginalia/internal/services/query"
	"github.com/killallgit/marginalia/internal/services/selection"
	apperrors "github.com/killallgit/marginalia/pkg/errors"
	"github.com/killallgit/marginalia/pkg/config"
)

// Config holds everything a Session needs for one document view
type Config struct {
	DocumentID string
	Renderer   models.RendererKind
	Remote     annotations.Remote

	// Toolbar may be nil when the caller has no selection chrome
	Toolbar selection.Toolbar
	// Confirm is asked before destructive bulk actions
	Confirm bulk.ConfirmFunc

	SettleDelay     time.Duration
	MaxBatch        int
	BulkConcurrency int

	// FragmentOrder is the reading order of reflow fragments. It is
	// replaced by the layout of every reflow viewport event.
	FragmentOrder []string

	// StoreOptions are passed through to the annotation store
	StoreOptions []annotations.Option
}

// ConfigFrom fills the tunables of cfg from the application config
func ConfigFrom(app *config.Config, cfg Config) Config {
	cfg.SettleDelay = app.Selection.SettleDelay
	cfg.MaxBatch = app.Bulk.MaxBatch
	cfg.BulkConcurrency = app.Store.BulkConcurrency
	return cfg
}

// ImportResult reports what an import added to the store
type ImportResult struct {
	Requested int
	Imported  []models.Annotation
	Failed    map[int]error
}

// Session wires the components of one open document: selections flow
// through the controller into the store, and every store change rebuilds
// the overlay and the tag index.
type Session struct {
	documentID string
	renderer   models.RendererKind

	store      annotations.Service
	controller *selection.Controller
	tracker    *overlay.Tracker
	bulk       *bulk.Facade
	tags       *query.TagIndex

	mu            sync.RWMutex
	fragmentOrder []string

	unsubscribe func()
	closeOnce   sync.Once
}

// NewSession creates a session with an empty store. Call Load to fetch
// the document's annotations.
func NewSession(cfg Config) (*Session, error) {
	if cfg.DocumentID == "" {
		return nil, apperrors.MissingFieldError("document_id")
	}
	if !cfg.Renderer.Valid() {
		return nil, apperrors.ValidationError("renderer", fmt.Sprintf("unknown renderer %q", cfg.Renderer))
	}
	if cfg.Remote == nil {
		return nil, apperrors.MissingFieldError("remote")
	}
	if cfg.Toolbar == nil {
		cfg.Toolbar = noopToolbar{}
	}

	opts := append([]annotations.Option{annotations.WithBulkConcurrency(cfg.BulkConcurrency)}, cfg.StoreOptions...)
	store := annotations.NewService(cfg.DocumentID, cfg.Remote, opts...)

	s := &Session{
		documentID:    cfg.DocumentID,
		renderer:      cfg.Renderer,
		store:         store,
		tracker:       overlay.NewTracker(store.List),
		tags:          query.NewTagIndex(nil),
		fragmentOrder: append([]string(nil), cfg.FragmentOrder...),
	}
	s.controller = selection.NewController(cfg.Renderer, store, cfg.Toolbar, cfg.SettleDelay)
	s.bulk = bulk.NewFacade(store, cfg.Confirm, cfg.MaxBatch)
	s.unsubscribe = store.Subscribe(s.onChange)

	return s, nil
}

func (s *Session) onChange(c annotations.Change) {
	if c.Type == annotations.ChangeRemoved {
		s.bulk.Deselect(c.ID)
	}
	if c.PreviousID != "" && s.bulk.IsSelected(c.PreviousID) {
		s.bulk.Deselect(c.PreviousID)
		s.bulk.Select(c.ID)
	}
	s.tracker.Refresh()
	s.tags.Rebuild(s.store.List())
}

// DocumentID returns the open document
func (s *Session) DocumentID() string { return s.documentID }

// Store exposes the annotation store for single-record edits
func (s *Session) Store() annotations.Service { return s.store }

// Bulk returns the multi-select façade
func (s *Session) Bulk() *bulk.Facade { return s.bulk }

// Load replaces the local annotations with the remote ones
func (s *Session) Load(ctx context.Context) error {
	return s.store.Load(ctx)
}

// OnSelectionChanged forwards a renderer selection event to the controller
func (s *Session) OnSelectionChanged(ev selection.Event) {
	s.controller.OnSelectionChanged(ev)
}

// Classify persists the pending selection with the user's choice
func (s *Session) Classify(ctx context.Context, choice selection.Choice) (models.Annotation, error) {
	return s.controller.Classify(ctx, choice)
}

// Dismiss abandons the pending selection
func (s *Session) Dismiss(reason selection.DismissReason) bool {
	return s.controller.Dismiss(reason)
}

// SelectionState returns the controller state
func (s *Session) SelectionState() selection.State {
	return s.controller.State()
}

// OnViewportChanged rebuilds the overlay for a new layout. The viewport
// must come from the session's renderer.
func (s *Session) OnViewportChanged(event overlay.LayoutEvent, vp overlay.Viewport) error {
	if vp == nil || vp.Layout() == nil {
		return apperrors.MissingFieldError("viewport")
	}
	if got := vp.Layout().Renderer(); got != s.renderer {
		return apperrors.ValidationError("viewport", fmt.Sprintf("renderer %s does not match session renderer %s", got, s.renderer))
	}
	if rv, ok := vp.(overlay.ReflowViewport); ok && len(rv.Book.Fragments) > 0 {
		s.mu.Lock()
		s.fragmentOrder = append([]string(nil), rv.Book.Fragments...)
		s.mu.Unlock()
	}
	s.tracker.OnLayoutEvent(event, vp)
	return nil
}

// Overlay returns the current marker geometry keyed by annotation id
func (s *Session) Overlay() map[string][]models.Rect {
	return s.tracker.Snapshot()
}

// View returns the annotations matching f in the order f requests
func (s *Session) View(f query.Filter) []models.Annotation {
	s.mu.RLock()
	order := s.fragmentOrder
	s.mu.RUnlock()
	return query.Apply(s.store.List(), f, query.WithFragmentOrder(order))
}

// Stats summarizes the document's annotations
func (s *Session) Stats() query.Stats {
	return query.ComputeStats(s.store.List())
}

// AvailableFilters lists the kinds, tags and colors in use
func (s *Session) AvailableFilters() query.Facets {
	return query.AvailableFilters(s.store.List())
}

// SuggestTags completes a tag prefix from the tags already in use
func (s *Session) SuggestTags(prefix string, limit int) []string {
	return s.tags.Suggest(prefix, limit)
}

// Export writes the annotations matching f
func (s *Session) Export(w io.Writer, format export.Format, f query.Filter) error {
	return export.Write(w, format, export.NewDocument(s.documentID, s.View(f), time.Now()))
}

// Import reads an export and creates every annotation in it as a new
// record of this document. Records are created in file order; failures
// are collected by position and do not stop the import.
func (s *Session) Import(ctx context.Context, r io.Reader, format export.Format) (ImportResult, error) {
	doc, err := export.Read(r, format)
	if err != nil {
		return ImportResult{}, err
	}

	result := ImportResult{Requested: len(doc.Annotations), Failed: make(map[int]error)}
	for i, a := range doc.Annotations {
		if a.Locator != nil && a.Locator.Renderer() != s.renderer {
			result.Failed[i] = apperrors.ValidationError("locator",
				fmt.Sprintf("%s locator cannot be used with renderer %s", a.Locator.Kind(), s.renderer))
			continue
		}
		created, err := s.store.Create(ctx, export.ToDraft(a))
		if err != nil {
			result.Failed[i] = err
			continue
		}
		result.Imported = append(result.Imported, created)
	}

	if len(result.Failed) > 0 {
		log.Printf("[WARN] Imported %d of %d annotations into %s", len(result.Imported), result.Requested, s.documentID)
	} else {
		log.Printf("[INFO] Imported %d annotations into %s", len(result.Imported), s.documentID)
	}
	return result, nil
}

// Close tears the session down. Late remote results are discarded.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.controller.Close()
		s.unsubscribe()
		s.store.Close()
	})
}

type noopToolbar struct{}

func (noopToolbar) Show(models.Point) {}
func (noopToolbar) Hide()             {}
func (noopToolbar) ClearSelection()   {}
