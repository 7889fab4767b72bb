package overlay

import (
	"log"
	"sync"

	"github.com/killallgit/marginalia/internal/models"
)

// LayoutEvent is a renderer event that invalidates all on-screen geometry
type LayoutEvent string

const (
	EventScroll   LayoutEvent = "scroll"
	EventResize   LayoutEvent = "resize"
	EventPageTurn LayoutEvent = "page_turn"
	EventZoom     LayoutEvent = "zoom"
	EventTheme    LayoutEvent = "theme"
)

// Tracker holds the overlay geometry cache for one document view. The
// cache is rebuilt from scratch on every layout event and every store
// change; it is never patched.
type Tracker struct {
	mu         sync.RWMutex
	source     func() []models.Annotation
	viewport   Viewport
	cache      map[string][]models.Rect
	generation uint64
}

// NewTracker creates a tracker reading annotations from source
func NewTracker(source func() []models.Annotation) *Tracker {
	return &Tracker{
		source: source,
		cache:  make(map[string][]models.Rect),
	}
}

// OnLayoutEvent records the renderer's new viewport and rebuilds the cache
func (t *Tracker) OnLayoutEvent(event LayoutEvent, vp Viewport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.viewport = vp
	t.rebuildLocked()
	log.Printf("[DEBUG] Overlay rebuilt after %s: %d markers", event, len(t.cache))
}

// Refresh rebuilds the cache against the current viewport
func (t *Tracker) Refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rebuildLocked()
}

func (t *Tracker) rebuildLocked() {
	var all []models.Annotation
	if t.source != nil {
		all = t.source()
	}
	t.cache = Project(all, t.viewport)
	t.generation++
}

// Rects returns the screen rects of one annotation
func (t *Tracker) Rects(id string) ([]models.Rect, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rects, ok := t.cache[id]
	if !ok {
		return nil, false
	}
	return append([]models.Rect(nil), rects...), true
}

// Snapshot returns a copy of the whole cache
func (t *Tracker) Snapshot() map[string][]models.Rect {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string][]models.Rect, len(t.cache))
	for id, rects := range t.cache {
		out[id] = append([]models.Rect(nil), rects...)
	}
	return out
}

// Generation counts rebuilds
func (t *Tracker) Generation() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.generation
}
