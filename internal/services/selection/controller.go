package selection

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/killallgit/marginalia/internal/models"
	"github.com/killallgit/marginalia/internal/services/annotations"
	"github.com/killallgit/marginalia/internal/services/locator"
	apperrors "github.com/killallgit/marginalia/pkg/errors"
)

// State of the capture state machine
type State string

const (
	StateIdle                  State = "idle"
	StatePendingClassification State = "pending_classification"
	StatePersisting            State = "persisting"
)

// DismissReason says why a pending selection was discarded
type DismissReason string

const (
	DismissClickAway    DismissReason = "click_away"
	DismissEscape       DismissReason = "escape"
	DismissNewSelection DismissReason = "new_selection"
	DismissEmpty        DismissReason = "empty_selection"
)

// Toolbar is the classification toolbar shown next to a selection
type Toolbar interface {
	Show(anchor models.Point)
	Hide()
	ClearSelection()
}

// Creator persists a classified selection
type Creator interface {
	Create(ctx context.Context, draft annotations.Draft) (models.Annotation, error)
}

// Event is one selection change reported by the renderer
type Event struct {
	Selection locator.RawSelection
	Anchor    models.Point
}

// Choice is what the user picked on the toolbar
type Choice struct {
	Kind      models.Kind
	Color     string
	Content   string
	Tags      []string
	IsPrivate *bool
}

// Controller turns renderer selection events into persisted annotations.
// Selection events are coalesced: only the latest event settles, after
// the settle delay has passed without a newer one.
type Controller struct {
	mu       sync.Mutex
	renderer models.RendererKind
	creator  Creator
	toolbar  Toolbar
	settle   time.Duration

	state   State
	latest  Event
	pending *Event
	seq     uint64
	timer   *time.Timer
	persist uint64
	closed  bool
}

// NewController creates a controller in the Idle state. A settle delay of
// zero settles every event immediately.
func NewController(renderer models.RendererKind, creator Creator, toolbar Toolbar, settle time.Duration) *Controller {
	if settle < 0 {
		settle = 0
	}
	return &Controller{
		renderer: renderer,
		creator:  creator,
		toolbar:  toolbar,
		settle:   settle,
		state:    StateIdle,
	}
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the selection awaiting classification
func (c *Controller) Pending() (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return Event{}, false
	}
	return *c.pending, true
}

// OnSelectionChanged records a selection change. Events arriving while a
// classification is being persisted are ignored.
func (c *Controller) OnSelectionChanged(ev Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.state == StatePersisting {
		c.mu.Unlock()
		log.Printf("[DEBUG] Ignoring selection change while persisting")
		return
	}

	c.seq++
	seq := c.seq
	c.latest = ev
	c.stopTimerLocked()

	if c.settle == 0 {
		actions := c.settleLocked(seq)
		c.mu.Unlock()
		run(actions)
		return
	}
	c.timer = time.AfterFunc(c.settle, func() {
		c.mu.Lock()
		actions := c.settleLocked(seq)
		c.mu.Unlock()
		run(actions)
	})
	c.mu.Unlock()
}

// settleLocked promotes the latest event if seq is still the newest one
func (c *Controller) settleLocked(seq uint64) []func() {
	if c.closed || seq != c.seq || c.state == StatePersisting {
		return nil
	}
	c.timer = nil
	ev := c.latest

	if ev.Selection.Empty() {
		if c.state != StatePendingClassification {
			return nil
		}
		c.state = StateIdle
		c.pending = nil
		log.Printf("[DEBUG] Pending selection dismissed: %s", DismissEmpty)
		return []func(){c.toolbar.Hide}
	}

	if c.state == StatePendingClassification {
		log.Printf("[DEBUG] Pending selection replaced: %s", DismissNewSelection)
	}
	c.state = StatePendingClassification
	c.pending = &ev
	anchor := ev.Anchor
	return []func(){func() { c.toolbar.Show(anchor) }}
}

// Classify encodes the pending selection as the chosen kind and persists
// it. Encode and validation errors are returned before any store mutation
// and keep the selection pending. A remote failure returns the controller
// to Idle with the error.
func (c *Controller) Classify(ctx context.Context, choice Choice) (models.Annotation, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.Annotation{}, apperrors.New(apperrors.ErrCodeStoreClosed, "selection controller is closed")
	}
	if c.state != StatePendingClassification || c.pending == nil {
		c.mu.Unlock()
		return models.Annotation{}, apperrors.ValidationError("selection", "no pending selection")
	}

	sel := c.pending.Selection
	loc, err := locator.Encode(c.renderer, sel, choice.Kind)
	if err != nil {
		c.mu.Unlock()
		return models.Annotation{}, err
	}

	text := sel.Text
	if choice.Kind == models.KindBookmark {
		text = ""
	}
	draft := annotations.Draft{
		Kind:         choice.Kind,
		Locator:      loc,
		SelectedText: text,
		Content:      choice.Content,
		Color:        choice.Color,
		Tags:         choice.Tags,
		IsPrivate:    choice.IsPrivate,
	}

	c.stopTimerLocked()
	c.state = StatePersisting
	c.persist++
	token := c.persist
	c.mu.Unlock()

	created, err := c.creator.Create(ctx, draft)

	c.mu.Lock()
	if c.closed || token != c.persist {
		c.mu.Unlock()
		log.Printf("[DEBUG] Discarding persist result: selection abandoned")
		return created, err
	}
	if err != nil && isInputError(err) {
		c.state = StatePendingClassification
		c.mu.Unlock()
		return models.Annotation{}, err
	}
	c.state = StateIdle
	c.pending = nil
	c.mu.Unlock()

	c.toolbar.Hide()
	c.toolbar.ClearSelection()
	if err != nil {
		log.Printf("[ERROR] Failed to persist %s: %v", choice.Kind, err)
		return models.Annotation{}, err
	}
	return created, nil
}

// Dismiss discards the pending selection without persisting it. It
// reports whether there was anything to dismiss.
func (c *Controller) Dismiss(reason DismissReason) bool {
	c.mu.Lock()
	c.seq++
	c.stopTimerLocked()
	if c.state != StatePendingClassification {
		c.mu.Unlock()
		return false
	}
	c.state = StateIdle
	c.pending = nil
	c.mu.Unlock()

	log.Printf("[DEBUG] Pending selection dismissed: %s", reason)
	c.toolbar.Hide()
	if reason == DismissEscape {
		c.toolbar.ClearSelection()
	}
	return true
}

// Close abandons any pending or in-flight classification. A persist that
// is already running completes, but its result no longer affects the
// controller.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopTimerLocked()
	wasActive := c.state != StateIdle
	c.state = StateIdle
	c.pending = nil
	c.persist++
	c.mu.Unlock()

	if wasActive {
		c.toolbar.Hide()
	}
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// isInputError reports whether the draft itself was refused. Only the
// outermost code counts.
func isInputError(err error) bool {
	appErr, ok := apperrors.As(err)
	if !ok {
		return false
	}
	switch appErr.Code {
	case apperrors.ErrCodeValidation, apperrors.ErrCodeMissingField,
		apperrors.ErrCodeInvalidInput, apperrors.ErrCodeEncodeFailure:
		return true
	}
	return false
}

func run(actions []func()) {
	for _, fn := range actions {
		fn()
	}
}
