package annotations

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/killallgit/marginalia/internal/models"
	apperrors "github.com/killallgit/marginalia/pkg/errors"
)

const defaultBulkConcurrency = 8

type entry struct {
	annotation models.Annotation
	// revision increments on every local mutation; a remote result is
	// applied only if the revision it was issued for is still current
	revision uint64
	// pending is set until the remote has acknowledged the create
	pending bool
}

type subscriber struct {
	id int
	fn func(Change)
}

// ServiceImpl implements Service with optimistic local writes
type ServiceImpl struct {
	mu          sync.Mutex
	documentID  string
	remote      Remote
	order       []string
	entries     map[string]*entry
	unsynced    map[string]SyncOp
	// ids deleted locally while their create was still in flight
	abandoned   map[string]struct{}
	subscribers []subscriber
	nextSubID   int
	closed      bool

	now             func() time.Time
	newID           func() string
	bulkConcurrency int
}

// Option configures a ServiceImpl
type Option func(*ServiceImpl)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *ServiceImpl) { s.now = now }
}

// WithIDGenerator overrides client-side id generation
func WithIDGenerator(gen func() string) Option {
	return func(s *ServiceImpl) { s.newID = gen }
}

// WithBulkConcurrency bounds the number of in-flight remote calls during
// bulk operations
func WithBulkConcurrency(n int) Option {
	return func(s *ServiceImpl) {
		if n > 0 {
			s.bulkConcurrency = n
		}
	}
}

// NewService creates an empty store for one document
func NewService(documentID string, remote Remote, opts ...Option) Service {
	s := &ServiceImpl{
		documentID:      documentID,
		remote:          remote,
		entries:         make(map[string]*entry),
		unsynced:        make(map[string]SyncOp),
		abandoned:       make(map[string]struct{}),
		now:             time.Now,
		newID:           func() string { return uuid.New().String() },
		bulkConcurrency: defaultBulkConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func errStoreClosed() error {
	return apperrors.New(apperrors.ErrCodeStoreClosed, "annotation store is closed")
}

// DocumentID returns the document this store belongs to
func (s *ServiceImpl) DocumentID() string {
	return s.documentID
}

// Create validates the draft, inserts it optimistically and persists it.
// A create the remote rejects is rolled back and reported as CREATE_FAILED.
func (s *ServiceImpl) Create(ctx context.Context, draft Draft) (models.Annotation, error) {
	a, err := s.build(draft)
	if err != nil {
		return models.Annotation{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.Annotation{}, errStoreClosed()
	}
	s.entries[a.ID] = &entry{annotation: a, revision: 1, pending: true}
	s.order = append(s.order, a.ID)
	s.mu.Unlock()
	s.emit(changeOf(ChangeCreated, a))

	saved, remoteErr := s.remote.Create(ctx, a.Clone())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		log.Printf("[DEBUG] Discarding create result for %s: store closed", a.ID)
		return models.Annotation{}, errStoreClosed()
	}

	e, exists := s.entries[a.ID]
	if remoteErr != nil {
		var changes []Change
		delete(s.abandoned, a.ID)
		if exists {
			s.removeLocked(a.ID)
			changes = append(changes, Change{Type: ChangeRemoved, ID: a.ID})
		}
		s.mu.Unlock()
		s.emit(changes...)
		log.Printf("[WARN] Rolled back annotation %s after remote create failed: %v", a.ID, remoteErr)
		return models.Annotation{}, apperrors.RemoteFailure(apperrors.ErrCodeCreateFailed, a.ID, remoteErr)
	}

	serverID := saved.ID
	if serverID == "" {
		serverID = a.ID
	}

	if !exists {
		// Deleted locally while the create was in flight
		delete(s.abandoned, a.ID)
		s.mu.Unlock()
		if err := s.pushDelete(ctx, serverID); err != nil {
			log.Printf("[WARN] Annotation %s deleted before confirmation could not be removed remotely: %v", serverID, err)
		}
		return s.reconcile(a, saved), nil
	}

	e.pending = false
	stale := e.revision != 1
	if stale {
		// A newer local edit exists; adopt only the server identity
		if !saved.CreatedAt.IsZero() {
			e.annotation.CreatedAt = saved.CreatedAt
		}
	} else {
		e.annotation = s.reconcile(e.annotation, saved)
	}
	if serverID != a.ID {
		s.rekeyLocked(a.ID, serverID)
	}
	result := e.annotation.Clone()
	rev := e.revision
	s.mu.Unlock()

	change := changeOf(ChangeConfirmed, result)
	change.PreviousID = a.ID
	s.emit(change)

	if stale {
		if _, err := s.pushUpdate(ctx, result, rev); err != nil {
			log.Printf("[WARN] Edits made before confirmation of %s are not synced: %v", serverID, err)
		}
	}
	return result, nil
}

// Update merges the patch into the full record, applies it locally and
// then persists it. A remote failure keeps the local state and marks the
// record unsynced.
func (s *ServiceImpl) Update(ctx context.Context, id string, patch Patch) (models.Annotation, error) {
	if patch.Empty() {
		return models.Annotation{}, apperrors.ValidationError("patch", "no updates provided")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.Annotation{}, errStoreClosed()
	}
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return models.Annotation{}, apperrors.NotFound("annotation", id)
	}

	merged, err := applyPatch(e.annotation, patch)
	if err != nil {
		s.mu.Unlock()
		return models.Annotation{}, err
	}
	merged.UpdatedAt = s.tick(e.annotation.UpdatedAt)
	e.annotation = merged
	e.revision++
	rev, pending := e.revision, e.pending
	result := merged.Clone()
	s.mu.Unlock()
	s.emit(changeOf(ChangeUpdated, result))

	if pending {
		// Pushed once the create is acknowledged
		return result, nil
	}
	return s.pushUpdate(ctx, result, rev)
}

// Delete removes the record locally and then remotely. A remote failure
// does not restore the record; the id is kept as unsynced.
func (s *ServiceImpl) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errStoreClosed()
	}
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return apperrors.NotFound("annotation", id)
	}
	pending := e.pending
	s.removeLocked(id)
	if pending {
		s.abandoned[id] = struct{}{}
	}
	s.mu.Unlock()
	s.emit(Change{Type: ChangeRemoved, ID: id})

	if pending {
		// The create flow removes it remotely once acknowledged
		return nil
	}
	return s.pushDelete(ctx, id)
}

// Get returns a copy of one record
func (s *ServiceImpl) Get(id string) (models.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return models.Annotation{}, apperrors.NotFound("annotation", id)
	}
	return e.annotation.Clone(), nil
}

// List returns copies of all records in insertion order
func (s *ServiceImpl) List() []models.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Annotation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id].annotation.Clone())
	}
	return out
}

// Load replaces the local collection with the remote one. Local changes
// the remote has not accepted yet are kept over the server copy.
func (s *ServiceImpl) Load(ctx context.Context) error {
	list, err := s.remote.List(ctx, s.documentID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errStoreClosed()
	}
	entries := make(map[string]*entry, len(list))
	order := make([]string, 0, len(list))
	unsynced := make(map[string]SyncOp)
	kept := 0
	for _, a := range list {
		if a.ID == "" {
			continue
		}
		if _, dup := entries[a.ID]; dup {
			continue
		}
		if _, gone := s.abandoned[a.ID]; gone {
			continue
		}
		op, dirty := s.unsynced[a.ID]
		if dirty && op == SyncDelete {
			unsynced[a.ID] = op
			continue
		}
		local, had := s.entries[a.ID]
		if had && (dirty || local.pending) {
			entries[a.ID] = local
			order = append(order, a.ID)
			if dirty {
				unsynced[a.ID] = op
			}
			kept++
			continue
		}
		a = a.Clone()
		a.DocumentID = s.documentID
		a.Tags = a.Tags.Normalize()
		e := &entry{annotation: a, revision: 1}
		if had {
			// Results of pushes issued before the reload no longer apply
			e.revision = local.revision + 1
		}
		entries[a.ID] = e
		order = append(order, a.ID)
	}
	for _, id := range s.order {
		e := s.entries[id]
		if _, known := entries[id]; e.pending && !known {
			entries[id] = e
			order = append(order, id)
			kept++
		}
	}
	for id, op := range s.unsynced {
		if _, known := entries[id]; !known && op == SyncUpdate {
			log.Printf("[WARN] Dropping unsynced edit to %s: removed remotely", id)
		}
	}
	s.entries = entries
	s.order = order
	s.unsynced = unsynced
	s.mu.Unlock()

	log.Printf("[INFO] Loaded %d annotations for document %s (%d local changes kept)", len(list), s.documentID, kept)
	s.emit(Change{Type: ChangeReset})
	return nil
}

// Unsynced returns the records whose last local change the remote has
// not accepted
func (s *ServiceImpl) Unsynced() map[string]SyncOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]SyncOp, len(s.unsynced))
	for id, op := range s.unsynced {
		out[id] = op
	}
	return out
}

// Retry re-sends the pending remote change for one record. The store
// never retries on its own.
func (s *ServiceImpl) Retry(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errStoreClosed()
	}
	op, ok := s.unsynced[id]
	if !ok {
		s.mu.Unlock()
		return apperrors.NotFound("unsynced change", id)
	}

	switch op {
	case SyncDelete:
		s.mu.Unlock()
		return s.pushDelete(ctx, id)
	case SyncUpdate:
		e, exists := s.entries[id]
		if !exists {
			delete(s.unsynced, id)
			s.mu.Unlock()
			return nil
		}
		a, rev := e.annotation.Clone(), e.revision
		s.mu.Unlock()
		_, err := s.pushUpdate(ctx, a, rev)
		return err
	default:
		s.mu.Unlock()
		return fmt.Errorf("unknown sync operation %q", op)
	}
}

// Subscribe registers fn for change notifications. Notifications are
// delivered outside the store lock, so fn may call back into the store.
func (s *ServiceImpl) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subscribers = append(s.subscribers, subscriber{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subscribers {
			if sub.id == id {
				s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Close tears the store down. Remote calls still in flight complete but
// their results are discarded.
func (s *ServiceImpl) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subscribers = nil
}

func (s *ServiceImpl) build(d Draft) (models.Annotation, error) {
	color, ok := models.NormalizeColor(d.Color)
	if !ok {
		return models.Annotation{}, apperrors.ValidationError("color", fmt.Sprintf("%q is not in the palette", d.Color))
	}
	if color == "" && d.Kind == models.KindHighlight {
		color = models.DefaultHighlightColor
	}

	private := true
	if d.IsPrivate != nil {
		private = *d.IsPrivate
	}

	now := s.now()
	a := models.Annotation{
		ID:           s.newID(),
		DocumentID:   s.documentID,
		Kind:         d.Kind,
		Locator:      models.CloneLocator(d.Locator),
		SelectedText: d.SelectedText,
		Content:      d.Content,
		Color:        color,
		Tags:         models.NewTags(d.Tags...),
		IsPrivate:    private,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.Validate(); err != nil {
		return models.Annotation{}, err
	}
	return a, nil
}

func applyPatch(a models.Annotation, p Patch) (models.Annotation, error) {
	out := a.Clone()
	if p.Content != nil {
		out.Content = *p.Content
	}
	if p.Color != nil {
		color, ok := models.NormalizeColor(*p.Color)
		if !ok {
			return models.Annotation{}, apperrors.ValidationError("color", fmt.Sprintf("%q is not in the palette", *p.Color))
		}
		out.Color = color
	}
	if p.Tags != nil {
		out.Tags = models.NewTags(*p.Tags...)
	}
	if p.IsPrivate != nil {
		out.IsPrivate = *p.IsPrivate
	}
	if err := out.Validate(); err != nil {
		return models.Annotation{}, err
	}
	return out, nil
}

// tick returns the next UpdatedAt for a record, strictly after prev
func (s *ServiceImpl) tick(prev time.Time) time.Time {
	t := s.now()
	if !t.After(prev) {
		t = prev.Add(time.Nanosecond)
	}
	return t
}

// reconcile overwrites local fields with the server's response
func (s *ServiceImpl) reconcile(local, server models.Annotation) models.Annotation {
	if server.ID == "" && server.Kind == "" {
		return local
	}
	out := server.Clone()
	if out.ID == "" {
		out.ID = local.ID
	}
	if !out.Kind.Valid() {
		out.Kind = local.Kind
	}
	if out.Locator == nil {
		out.Locator = models.CloneLocator(local.Locator)
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = local.CreatedAt
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = local.UpdatedAt
	}
	out.DocumentID = s.documentID
	out.Tags = out.Tags.Normalize()
	return out
}

// pushUpdate sends a record to the remote and reconciles the response if
// no newer local edit was made in the meantime
func (s *ServiceImpl) pushUpdate(ctx context.Context, a models.Annotation, rev uint64) (models.Annotation, error) {
	saved, remoteErr := s.remote.Update(ctx, a.Clone())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return a, errStoreClosed()
	}
	e, exists := s.entries[a.ID]
	if remoteErr != nil {
		if exists {
			s.unsynced[a.ID] = SyncUpdate
		}
		s.mu.Unlock()
		log.Printf("[WARN] Remote update failed for annotation %s: %v", a.ID, remoteErr)
		return a, apperrors.RemoteFailure(apperrors.ErrCodeUpdateFailed, a.ID, remoteErr)
	}
	if !exists {
		s.mu.Unlock()
		return a, nil
	}
	if e.revision != rev {
		// The newer edit's own push reconciles
		current := e.annotation.Clone()
		s.mu.Unlock()
		return current, nil
	}
	delete(s.unsynced, a.ID)
	e.annotation = s.reconcile(e.annotation, saved)
	result := e.annotation.Clone()
	s.mu.Unlock()

	s.emit(changeOf(ChangeConfirmed, result))
	return result, nil
}

// pushDelete removes a record remotely. A record the remote no longer has
// counts as deleted.
func (s *ServiceImpl) pushDelete(ctx context.Context, id string) error {
	remoteErr := s.remote.Delete(ctx, id)
	if apperrors.Is(remoteErr, apperrors.ErrCodeNotFound) {
		remoteErr = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed()
	}
	if remoteErr != nil {
		s.unsynced[id] = SyncDelete
		log.Printf("[WARN] Remote delete failed for annotation %s: %v", id, remoteErr)
		return apperrors.RemoteFailure(apperrors.ErrCodeDeleteFailed, id, remoteErr)
	}
	delete(s.unsynced, id)
	return nil
}

func (s *ServiceImpl) removeLocked(id string) {
	delete(s.entries, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *ServiceImpl) rekeyLocked(oldID, newID string) {
	e := s.entries[oldID]
	if _, clash := s.entries[newID]; clash {
		s.removeLocked(newID)
	}
	delete(s.entries, oldID)
	e.annotation.ID = newID
	s.entries[newID] = e
	for i, existing := range s.order {
		if existing == oldID {
			s.order[i] = newID
			break
		}
	}
	if op, ok := s.unsynced[oldID]; ok {
		delete(s.unsynced, oldID)
		s.unsynced[newID] = op
	}
}

func (s *ServiceImpl) emit(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	s.mu.Lock()
	subs := make([]func(Change), 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub.fn)
	}
	s.mu.Unlock()

	for _, c := range changes {
		for _, fn := range subs {
			fn(c)
		}
	}
}

func changeOf(t ChangeType, a models.Annotation) Change {
	c := a.Clone()
	return Change{Type: t, ID: a.ID, Annotation: &c}
}
