package annotations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/killallgit/marginalia/internal/models"
	apperrors "github.com/killallgit/marginalia/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// MockRemote is a mock implementation of the Remote interface. Return
// values may be given as func(models.Annotation) models.Annotation to
// echo the request.
type MockRemote struct {
	mock.Mock
}

func (m *MockRemote) Create(ctx context.Context, a models.Annotation) (models.Annotation, error) {
	args := m.Called(ctx, a)
	if fn, ok := args.Get(0).(func(models.Annotation) models.Annotation); ok {
		return fn(a), args.Error(1)
	}
	return args.Get(0).(models.Annotation), args.Error(1)
}

func (m *MockRemote) Update(ctx context.Context, a models.Annotation) (models.Annotation, error) {
	args := m.Called(ctx, a)
	if fn, ok := args.Get(0).(func(models.Annotation) models.Annotation); ok {
		return fn(a), args.Error(1)
	}
	return args.Get(0).(models.Annotation), args.Error(1)
}

func (m *MockRemote) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRemote) List(ctx context.Context, documentID string) ([]models.Annotation, error) {
	args := m.Called(ctx, documentID)
	return args.Get(0).([]models.Annotation), args.Error(1)
}

func echo(a models.Annotation) models.Annotation { return a }

var fixedNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestStore(remote Remote, opts ...Option) *ServiceImpl {
	var mu sync.Mutex
	n := 0
	defaults := []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("local-%d", n)
		}),
	}
	return NewService("doc-1", remote, append(defaults, opts...)...).(*ServiceImpl)
}

func highlightDraft(start, end int, text string) Draft {
	return Draft{
		Kind:         models.KindHighlight,
		Locator:      models.TextOffsetLocator{StartOffset: start, EndOffset: end},
		SelectedText: text,
	}
}

type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) record(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) types() []ChangeType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChangeType, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.Type)
	}
	return out
}

func TestServiceImpl_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts optimistically and reconciles with the server record", func(t *testing.T) {
		remote := new(MockRemote)
		store := newTestStore(remote)
		rec := &recorder{}
		store.Subscribe(rec.record)

		serverTime := fixedNow.Add(2 * time.Second)
		remote.On("Create", mock.Anything, mock.AnythingOfType("models.Annotation")).
			Run(func(args mock.Arguments) {
				sent := args.Get(1).(models.Annotation)
				assert.Equal(t, "local-1", sent.ID)
				assert.Len(t, store.List(), 1, "record must be visible before the remote answers")
			}).
			Return(func(a models.Annotation) models.Annotation {
				a.CreatedAt = serverTime
				a.UpdatedAt = serverTime
				return a
			}, nil)

		created, err := store.Create(ctx, highlightDraft(120, 150, "the unexamined life is not"))
		require.NoError(t, err)

		assert.Equal(t, "local-1", created.ID)
		assert.Equal(t, "doc-1", created.DocumentID)
		assert.Equal(t, serverTime, created.CreatedAt)
		assert.Equal(t, []ChangeType{ChangeCreated, ChangeConfirmed}, rec.types())
		remote.AssertExpectations(t)
	})

	t.Run("applies defaults", func(t *testing.T) {
		remote := new(MockRemote)
		store := newTestStore(remote)
		remote.On("Create", mock.Anything, mock.Anything).Return(echo, nil)

		draft := highlightDraft(0, 4, "Know")
		draft.Tags = []string{" ethics ", "logic", "ethics", ""}
		created, err := store.Create(ctx, draft)
		require.NoError(t, err)

		assert.True(t, created.IsPrivate)
		assert.Equal(t, models.DefaultHighlightColor, created.Color)
		assert.Equal(t, models.Tags{"ethics", "logic"}, created.Tags)
		assert.Equal(t, fixedNow, created.CreatedAt)
	})

	t.Run("normalizes color names and honors explicit privacy", func(t *testing.T) {
		remote := new(MockRemote)
		store := newTestStore(remote)
		remote.On("Create", mock.Anything, mock.Anything).Return(echo, nil)

		public := false
		draft := highlightDraft(0, 4, "Know")
		draft.Color = "Blue"
		draft.IsPrivate = &public
		created, err := store.Create(ctx, draft)
		require.NoError(t, err)
		assert.Equal(t, "#dbeafe", created.Color)
		assert.False(t, created.IsPrivate)
	})

	t.Run("rejects invalid drafts before any mutation", func(t *testing.T) {
		tests := []struct {
			name  string
			draft Draft
			code  apperrors.ErrorCode
		}{
			{
				name:  "note without content",
				draft: Draft{Kind: models.KindNote, Locator: models.TextOffsetLocator{StartOffset: 1, EndOffset: 5}, SelectedText: "soul", Content: "  "},
				code:  apperrors.ErrCodeMissingField,
			},
			{
				name:  "highlight without span",
				draft: highlightDraft(5, 5, "x"),
				code:  apperrors.ErrCodeValidation,
			},
			{
				name:  "color outside palette",
				draft: Draft{Kind: models.KindHighlight, Locator: models.TextOffsetLocator{StartOffset: 1, EndOffset: 5}, SelectedText: "soul", Color: "#123456"},
				code:  apperrors.ErrCodeValidation,
			},
			{
				name:  "missing locator",
				draft: Draft{Kind: models.KindBookmark},
				code:  apperrors.ErrCodeMissingField,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				remote := new(MockRemote)
				store := newTestStore(remote)
				rec := &recorder{}
				store.Subscribe(rec.record)

				_, err := store.Create(ctx, tt.draft)
				require.Error(t, err)
				assert.True(t, apperrors.Is(err, tt.code), "got %v", err)
				assert.Empty(t, store.List())
				assert.Empty(t, rec.types())
				remote.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
			})
		}
	})

	t.Run("rolls back when the remote rejects the create", func(t *testing.T) {
		remote := new(MockRemote)
		store := newTestStore(remote)
		rec := &recorder{}
		store.Subscribe(rec.record)

		remote.On("Create", mock.Anything, mock.Anything).
			Return(models.Annotation{}, apperrors.TransportError("create", errors.New("connection reset")))

		_, err := store.Create(ctx, highlightDraft(120, 150, "the unexamined life is not"))
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeCreateFailed))
		assert.True(t, apperrors.IsRetryable(err))
		assert.Empty(t, store.List())
		assert.Equal(t, []ChangeType{ChangeCreated, ChangeRemoved}, rec.types())
	})

	t.Run("re-keys the record to a server issued id", func(t *testing.T) {
		remote := new(MockRemote)
		store := newTestStore(remote)
		rec := &recorder{}
		store.Subscribe(rec.record)

		remote.On("Create", mock.Anything, mock.Anything).Return(func(a models.Annotation) models.Annotation {
			a.ID = "srv-7"
			return a
		}, nil)

		created, err := store.Create(ctx, highlightDraft(0, 4, "Know"))
		require.NoError(t, err)
		assert.Equal(t, "srv-7", created.ID)

		_, err = store.Get("local-1")
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))
		got, err := store.Get("srv-7")
		require.NoError(t, err)
		assert.Equal(t, "Know", got.SelectedText)

		require.Len(t, rec.changes, 2)
		assert.Equal(t, "local-1", rec.changes[1].PreviousID)
		assert.Equal(t, "srv-7", rec.changes[1].ID)
	})
}

// blockingCreate holds every remote create until release is closed and
// answers with a server copy whose content differs from the draft
func blockingCreate(remote *MockRemote) (started, release chan struct{}) {
	started = make(chan struct{})
	release = make(chan struct{})
	remote.On("Create", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(func(a models.Annotation) models.Annotation {
			a.Content = "server copy"
			return a
		}, nil)
	return started, release
}

func TestServiceImpl_CreateInterleaving(t *testing.T) {
	ctx := context.Background()

	t.Run("an edit made before confirmation wins over the server response", func(t *testing.T) {
		remote := new(MockRemote)
		store := newTestStore(remote)
		started, release := blockingCreate(remote)
		remote.On("Update", mock.Anything, mock.MatchedBy(func(a models.Annotation) bool {
			return a.Content == "my edit"
		})).Return(echo, nil).Once()

		done := make(chan error, 1)
		go func() {
			_, err := store.Create(ctx, highlightDraft(0, 4, "Know"))
			done <- err
		}()
		<-started

		edit := "my edit"
		updated, err := store.Update(ctx, "local-1", Patch{Content: &edit})
		require.NoError(t, err)
		assert.Equal(t, "my edit", updated.Content)
		remote.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)

		close(release)
		require.NoError(t, <-done)

		got, err := store.Get("local-1")
		require.NoError(t, err)
		assert.Equal(t, "my edit", got.Content)
		remote.AssertExpectations(t)
	})

	t.Run("a record deleted before confirmation is removed remotely", func(t *testing.T) {
		remote := new(MockRemote)
		store := newTestStore(remote)
		started, release := blockingCreate(remote)
		remote.On("Delete", mock.Anything, "local-1").Return(nil).Once()

		done := make(chan error, 1)
		go func() {
			_, err := store.Create(ctx, highlightDraft(0, 4, "Know"))
			done <- err
		}()
		<-started

		require.NoError(t, store.Delete(ctx, "local-1"))
		remote.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)

		close(release)
		require.NoError(t, <-done)
		assert.Empty(t, store.List())
		remote.AssertExpectations(t)
	})

	t.Run("results arriving after teardown are discarded", func(t *testing.T) {
		remote := new(MockRemote)
		store := newTestStore(remote)
		rec := &recorder{}
		store.Subscribe(rec.record)
		started, release := blockingCreate(remote)

		done := make(chan error, 1)
		go func() {
			_, err := store.Create(ctx, highlightDraft(0, 4, "Know"))
			done <- err
		}()
		<-started

		store.Close()
		close(release)

		err := <-done
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeStoreClosed))
		assert.Equal(t, []ChangeType{ChangeCreated}, rec.types())

		_, err = store.Create(ctx, highlightDraft(0, 4, "Know"))
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeStoreClosed))
	})
}

func seeded(t *testing.T, remote *MockRemote, n int) (*ServiceImpl, []models.Annotation) {
	t.Helper()
	store := newTestStore(remote)
	remote.On("Create", mock.Anything, mock.Anything).Return(echo, nil)

	created := make([]models.Annotation, 0, n)
	for i := 0; i < n; i++ {
		a, err := store.Create(context.Background(), highlightDraft(i*10, i*10+5, fmt.Sprintf("text %d", i)))
		require.NoError(t, err)
		created = append(created, a)
	}
	return store, created
}

func TestServiceImpl_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("merges the patch into the full record", func(t *testing.T) {
		remote := new(MockRemote)
		store, created := seeded(t, remote, 1)
		remote.On("Update", mock.Anything, mock.Anything).Return(echo, nil)

		color := "green"
		tags := []string{"stoicism"}
		updated, err := store.Update(ctx, created[0].ID, Patch{Color: &color, Tags: &tags})
		require.NoError(t, err)

		assert.Equal(t, "#d1fae5", updated.Color)
		assert.Equal(t, models.Tags{"stoicism"}, updated.Tags)
		assert.Equal(t, created[0].SelectedText, updated.SelectedText)
		assert.Equal(t, created[0].Locator, updated.Locator)
	})

	t.Run("updatedAt strictly advances even when the clock does not", func(t *testing.T) {
		remote := new(MockRemote)
		store, created := seeded(t, remote, 1)
		remote.On("Update", mock.Anything, mock.Anything).Return(echo, nil)

		private := false
		first, err := store.Update(ctx, created[0].ID, Patch{IsPrivate: &private})
		require.NoError(t, err)
		private = true
		second, err := store.Update(ctx, created[0].ID, Patch{IsPrivate: &private})
		require.NoError(t, err)

		assert.True(t, first.UpdatedAt.After(created[0].UpdatedAt))
		assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	})

	t.Run("validation errors leave the record untouched", func(t *testing.T) {
		remote := new(MockRemote)
		store := newTestStore(remote)
		remote.On("Create", mock.Anything, mock.Anything).Return(echo, nil)
		note, err := store.Create(ctx, Draft{
			Kind:         models.KindNote,
			Locator:      models.TextOffsetLocator{StartOffset: 3, EndOffset: 9},
			SelectedText: "virtue",
			Content:      "first thoughts",
		})
		require.NoError(t, err)

		empty := " "
		badColor := "teal"
		tests := []struct {
			name  string
			id    string
			patch Patch
			code  apperrors.ErrorCode
		}{
			{"empty patch", note.ID, Patch{}, apperrors.ErrCodeValidation},
			{"note content cleared", note.ID, Patch{Content: &empty}, apperrors.ErrCodeMissingField},
			{"unknown color", note.ID, Patch{Color: &badColor}, apperrors.ErrCodeValidation},
			{"unknown id", "missing", Patch{Content: &empty}, apperrors.ErrCodeNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := store.Update(ctx, tt.id, tt.patch)
				require.Error(t, err)
				assert.True(t, apperrors.Is(err, tt.code), "got %v", err)
			})
		}

		got, err := store.Get(note.ID)
		require.NoError(t, err)
		assert.Equal(t, "first thoughts", got.Content)
		remote.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("remote failure keeps local state and allows an explicit retry", func(t *testing.T) {
		remote := new(MockRemote)
		store, created := seeded(t, remote, 1)
		id := created[0].ID

		remote.On("Update", mock.Anything, mock.Anything).
			Return(models.Annotation{}, apperrors.TransportError("update", errors.New("timeout"))).Once()

		content := "revised"
		_, err := store.Update(ctx, id, Patch{Content: &content})
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeUpdateFailed))
		assert.True(t, apperrors.IsRetryable(err))

		got, _ := store.Get(id)
		assert.Equal(t, "revised", got.Content)
		assert.Equal(t, map[string]SyncOp{id: SyncUpdate}, store.Unsynced())

		remote.On("Update", mock.Anything, mock.MatchedBy(func(a models.Annotation) bool {
			return a.Content == "revised"
		})).Return(echo, nil).Once()

		require.NoError(t, store.Retry(ctx, id))
		assert.Empty(t, store.Unsynced())
		remote.AssertExpectations(t)
	})

	t.Run("an older response arriving last does not overwrite a newer edit", func(t *testing.T) {
		remote := new(MockRemote)
		store, created := seeded(t, remote, 1)
		id := created[0].ID

		started := make(chan struct{})
		release := make(chan struct{})
		remote.On("Update", mock.Anything, mock.MatchedBy(func(a models.Annotation) bool {
			return a.Content == "first"
		})).
			Run(func(mock.Arguments) {
				close(started)
				<-release
			}).
			Return(echo, nil).Once()
		remote.On("Update", mock.Anything, mock.MatchedBy(func(a models.Annotation) bool {
			return a.Content == "second"
		})).Return(echo, nil).Once()

		type result struct {
			a   models.Annotation
			err error
		}
		older := make(chan result, 1)
		go func() {
			first := "first"
			a, err := store.Update(ctx, id, Patch{Content: &first})
			older <- result{a, err}
		}()
		<-started

		second := "second"
		newer, err := store.Update(ctx, id, Patch{Content: &second})
		require.NoError(t, err)
		assert.Equal(t, "second", newer.Content)

		close(release)
		res := <-older
		require.NoError(t, res.err)
		assert.Equal(t, "second", res.a.Content)

		got, err := store.Get(id)
		require.NoError(t, err)
		assert.Equal(t, "second", got.Content)
		assert.Empty(t, store.Unsynced())
		remote.AssertExpectations(t)
	})

	t.Run("retry without a pending change", func(t *testing.T) {
		store := newTestStore(new(MockRemote))
		err := store.Retry(ctx, "nothing")
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))
	})
}

func TestServiceImpl_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes locally and remotely", func(t *testing.T) {
		remote := new(MockRemote)
		store, created := seeded(t, remote, 2)
		remote.On("Delete", mock.Anything, created[0].ID).Return(nil)

		require.NoError(t, store.Delete(ctx, created[0].ID))
		list := store.List()
		require.Len(t, list, 1)
		assert.Equal(t, created[1].ID, list[0].ID)
	})

	t.Run("remote failure does not restore the record", func(t *testing.T) {
		remote := new(MockRemote)
		store, created := seeded(t, remote, 1)
		id := created[0].ID
		remote.On("Delete", mock.Anything, id).Return(apperrors.TransportError("delete", errors.New("refused"))).Once()

		err := store.Delete(ctx, id)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeDeleteFailed))
		assert.Empty(t, store.List())
		assert.Equal(t, map[string]SyncOp{id: SyncDelete}, store.Unsynced())

		remote.On("Delete", mock.Anything, id).Return(nil).Once()
		require.NoError(t, store.Retry(ctx, id))
		assert.Empty(t, store.Unsynced())
	})

	t.Run("a record already gone remotely counts as deleted", func(t *testing.T) {
		remote := new(MockRemote)
		store, created := seeded(t, remote, 1)
		remote.On("Delete", mock.Anything, created[0].ID).Return(apperrors.NotFound("annotation", created[0].ID))

		require.NoError(t, store.Delete(ctx, created[0].ID))
		assert.Empty(t, store.Unsynced())
	})

	t.Run("unknown id", func(t *testing.T) {
		store := newTestStore(new(MockRemote))
		err := store.Delete(ctx, "missing")
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))
	})
}

func TestServiceImpl_Load(t *testing.T) {
	remote := new(MockRemote)
	store := newTestStore(remote)
	rec := &recorder{}
	store.Subscribe(rec.record)

	remote.On("List", mock.Anything, "doc-1").Return([]models.Annotation{
		{ID: "a", Kind: models.KindBookmark, Locator: models.PageRegionLocator{PageNumber: 2, Rects: []models.Rect{{X: 0.5, Y: 0.5}}}, Tags: models.Tags{"b", "a", "b"}},
		{ID: "b", Kind: models.KindHighlight, Locator: models.TextOffsetLocator{StartOffset: 1, EndOffset: 3}, SelectedText: "xy"},
		{ID: "a", Kind: models.KindBookmark},
	}, nil)

	require.NoError(t, store.Load(context.Background()))

	list := store.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "doc-1", list[0].DocumentID)
	assert.Equal(t, models.Tags{"a", "b"}, list[0].Tags)
	assert.Equal(t, []ChangeType{ChangeReset}, rec.types())
}

func TestServiceImpl_LoadKeepsLocalIntent(t *testing.T) {
	ctx := context.Background()

	t.Run("an edit the remote refused survives a reload", func(t *testing.T) {
		remote := new(MockRemote)
		store, created := seeded(t, remote, 1)
		id := created[0].ID

		remote.On("Update", mock.Anything, mock.Anything).
			Return(models.Annotation{}, apperrors.TransportError("update", errors.New("timeout"))).Once()
		tags := []string{"edited"}
		_, err := store.Update(ctx, id, Patch{Tags: &tags})
		require.Error(t, err)
		require.Equal(t, map[string]SyncOp{id: SyncUpdate}, store.Unsynced())

		remote.On("List", mock.Anything, "doc-1").Return([]models.Annotation{created[0]}, nil)
		require.NoError(t, store.Load(ctx))

		got, err := store.Get(id)
		require.NoError(t, err)
		assert.Equal(t, models.Tags{"edited"}, got.Tags)
		assert.Equal(t, map[string]SyncOp{id: SyncUpdate}, store.Unsynced())
	})

	t.Run("a delete the remote refused is not resurrected", func(t *testing.T) {
		remote := new(MockRemote)
		store, created := seeded(t, remote, 2)
		id := created[0].ID

		remote.On("Delete", mock.Anything, id).Return(apperrors.TransportError("delete", errors.New("refused"))).Once()
		require.Error(t, store.Delete(ctx, id))

		remote.On("List", mock.Anything, "doc-1").Return(created, nil)
		require.NoError(t, store.Load(ctx))

		list := store.List()
		require.Len(t, list, 1)
		assert.Equal(t, created[1].ID, list[0].ID)
		assert.Equal(t, map[string]SyncOp{id: SyncDelete}, store.Unsynced())
	})

	t.Run("a delete already applied remotely is forgotten", func(t *testing.T) {
		remote := new(MockRemote)
		store, created := seeded(t, remote, 1)
		id := created[0].ID

		remote.On("Delete", mock.Anything, id).Return(apperrors.TransportError("delete", errors.New("refused"))).Once()
		require.Error(t, store.Delete(ctx, id))

		remote.On("List", mock.Anything, "doc-1").Return([]models.Annotation{}, nil)
		require.NoError(t, store.Load(ctx))
		assert.Empty(t, store.Unsynced())
	})

	t.Run("an edit made before confirmation survives a reload", func(t *testing.T) {
		remote := new(MockRemote)
		store := newTestStore(remote)
		started, release := blockingCreate(remote)

		done := make(chan error, 1)
		go func() {
			_, err := store.Create(ctx, highlightDraft(0, 4, "Know"))
			done <- err
		}()
		<-started

		edit := "my edit"
		_, err := store.Update(ctx, "local-1", Patch{Content: &edit})
		require.NoError(t, err)

		serverCopy := models.Annotation{
			ID:           "local-1",
			Kind:         models.KindHighlight,
			Locator:      models.TextOffsetLocator{StartOffset: 0, EndOffset: 4},
			SelectedText: "Know",
			Content:      "server copy",
		}
		remote.On("List", mock.Anything, "doc-1").Return([]models.Annotation{serverCopy}, nil)
		require.NoError(t, store.Load(ctx))

		got, err := store.Get("local-1")
		require.NoError(t, err)
		assert.Equal(t, "my edit", got.Content)

		remote.On("Update", mock.Anything, mock.MatchedBy(func(a models.Annotation) bool {
			return a.Content == "my edit"
		})).Return(echo, nil).Once()
		close(release)
		require.NoError(t, <-done)

		got, err = store.Get("local-1")
		require.NoError(t, err)
		assert.Equal(t, "my edit", got.Content)
		remote.AssertExpectations(t)
	})

	t.Run("a record deleted before confirmation stays deleted", func(t *testing.T) {
		remote := new(MockRemote)
		store := newTestStore(remote)
		started, release := blockingCreate(remote)
		remote.On("Delete", mock.Anything, "local-1").Return(nil).Once()

		done := make(chan error, 1)
		go func() {
			_, err := store.Create(ctx, highlightDraft(0, 4, "Know"))
			done <- err
		}()
		<-started

		require.NoError(t, store.Delete(ctx, "local-1"))

		remote.On("List", mock.Anything, "doc-1").Return([]models.Annotation{
			{ID: "local-1", Kind: models.KindHighlight, Locator: models.TextOffsetLocator{StartOffset: 0, EndOffset: 4}, SelectedText: "Know"},
		}, nil)
		require.NoError(t, store.Load(ctx))
		assert.Empty(t, store.List())

		close(release)
		require.NoError(t, <-done)
		assert.Empty(t, store.List())
		remote.AssertExpectations(t)
	})
}

func TestServiceImpl_Subscribe(t *testing.T) {
	remote := new(MockRemote)
	store := newTestStore(remote)
	remote.On("Create", mock.Anything, mock.Anything).Return(echo, nil)

	rec := &recorder{}
	cancel := store.Subscribe(rec.record)
	_, err := store.Create(context.Background(), highlightDraft(0, 4, "Know"))
	require.NoError(t, err)
	assert.Len(t, rec.types(), 2)

	cancel()
	_, err = store.Create(context.Background(), highlightDraft(5, 9, "thou"))
	require.NoError(t, err)
	assert.Len(t, rec.types(), 2)
}

func TestServiceImpl_ListReturnsCopies(t *testing.T) {
	remote := new(MockRemote)
	store, _ := seeded(t, remote, 1)

	list := store.List()
	list[0].Tags = append(list[0].Tags, "mutated")
	list[0].Content = "mutated"

	again := store.List()
	assert.Empty(t, again[0].Tags)
	assert.Empty(t, again[0].Content)
}
