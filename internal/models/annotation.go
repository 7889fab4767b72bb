package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/killallgit/marginalia/pkg/errors"
)

// Kind distinguishes highlights, notes and bookmarks
type Kind string

const (
	KindHighlight Kind = "highlight"
	KindNote      Kind = "note"
	KindBookmark  Kind = "bookmark"
)

// Kinds lists every annotation kind in display order
var Kinds = []Kind{KindHighlight, KindNote, KindBookmark}

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	switch k {
	case KindHighlight, KindNote, KindBookmark:
		return true
	}
	return false
}

// ParseKind converts a wire value into a Kind
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown annotation kind %q", s)
	}
	return k, nil
}

// Annotation is a highlight, note or bookmark attached to one document
type Annotation struct {
	ID           string
	DocumentID   string
	Kind         Kind
	Locator      DocumentLocator
	SelectedText string
	Content      string
	Color        string
	Tags         Tags
	IsPrivate    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Clone returns a deep copy
func (a Annotation) Clone() Annotation {
	a.Locator = CloneLocator(a.Locator)
	a.Tags = append(Tags(nil), a.Tags...)
	return a
}

// Validate checks the fields that must hold before an annotation is
// handed to the store
func (a Annotation) Validate() error {
	if !a.Kind.Valid() {
		return apperrors.ValidationError("kind", fmt.Sprintf("unknown kind %q", a.Kind))
	}
	if a.Locator == nil {
		return apperrors.MissingFieldError("locator")
	}
	if err := a.Locator.Validate(); err != nil {
		return apperrors.ValidationError("locator", err.Error())
	}

	switch a.Kind {
	case KindBookmark:
		if a.SelectedText != "" {
			return apperrors.ValidationError("selected_text", "bookmarks carry no selected text")
		}
	case KindHighlight, KindNote:
		if !a.Locator.HasSpan() {
			return apperrors.ValidationError("locator", "selection is empty")
		}
		if strings.TrimSpace(a.SelectedText) == "" {
			return apperrors.MissingFieldError("selected_text")
		}
	}

	if a.Kind == KindNote && strings.TrimSpace(a.Content) == "" {
		return apperrors.MissingFieldError("content")
	}

	if _, ok := NormalizeColor(a.Color); !ok {
		return apperrors.ValidationError("color", fmt.Sprintf("%q is not in the palette", a.Color))
	}
	return nil
}

// annotationJSON is the serialized form used by exports and JSON APIs
type annotationJSON struct {
	ID           string           `json:"id"`
	DocumentID   string           `json:"document_id"`
	Kind         Kind             `json:"kind"`
	Locator      *LocatorEnvelope `json:"locator"`
	SelectedText string           `json:"selected_text,omitempty"`
	Content      string           `json:"content,omitempty"`
	Color        string           `json:"color,omitempty"`
	Tags         Tags             `json:"tags"`
	IsPrivate    bool             `json:"is_private"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// MarshalJSON writes the locator as a tagged envelope
func (a Annotation) MarshalJSON() ([]byte, error) {
	tags := a.Tags
	if tags == nil {
		tags = Tags{}
	}
	return json.Marshal(annotationJSON{
		ID:           a.ID,
		DocumentID:   a.DocumentID,
		Kind:         a.Kind,
		Locator:      EnvelopeOf(a.Locator),
		SelectedText: a.SelectedText,
		Content:      a.Content,
		Color:        a.Color,
		Tags:         tags,
		IsPrivate:    a.IsPrivate,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	})
}

// UnmarshalJSON restores the locator variant from its envelope
func (a *Annotation) UnmarshalJSON(data []byte) error {
	var raw annotationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Locator == nil {
		return fmt.Errorf("annotation %s has no locator", raw.ID)
	}
	loc, err := raw.Locator.Locator()
	if err != nil {
		return fmt.Errorf("annotation %s: %w", raw.ID, err)
	}
	*a = Annotation{
		ID:           raw.ID,
		DocumentID:   raw.DocumentID,
		Kind:         raw.Kind,
		Locator:      loc,
		SelectedText: raw.SelectedText,
		Content:      raw.Content,
		Color:        raw.Color,
		Tags:         raw.Tags.Normalize(),
		IsPrivate:    raw.IsPrivate,
		CreatedAt:    raw.CreatedAt,
		UpdatedAt:    raw.UpdatedAt,
	}
	return nil
}
