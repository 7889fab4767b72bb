package models

import (
	"encoding/json"
	"fmt"
)

// RendererKind identifies which viewer produced a selection
type RendererKind string

const (
	RendererFlatText    RendererKind = "flat_text"
	RendererFixedLayout RendererKind = "fixed_layout"
	RendererReflow      RendererKind = "reflow"
)

// Valid reports whether k names a known renderer
func (k RendererKind) Valid() bool {
	switch k {
	case RendererFlatText, RendererFixedLayout, RendererReflow:
		return true
	}
	return false
}

// LocatorKind is the discriminator of the DocumentLocator union
type LocatorKind string

const (
	LocatorTextOffset LocatorKind = "text_offset"
	LocatorPageRegion LocatorKind = "page_region"
	LocatorFragment   LocatorKind = "fragment"
)

// LocatorKindFor maps a renderer to the only locator variant it produces
func LocatorKindFor(r RendererKind) LocatorKind {
	switch r {
	case RendererFlatText:
		return LocatorTextOffset
	case RendererFixedLayout:
		return LocatorPageRegion
	case RendererReflow:
		return LocatorFragment
	}
	return ""
}

// DocumentLocator addresses a position or span inside one document.
// The set of implementations is closed: TextOffsetLocator,
// PageRegionLocator and FragmentLocator.
type DocumentLocator interface {
	Kind() LocatorKind
	Renderer() RendererKind
	// HasSpan reports whether the locator covers text rather than a point
	HasSpan() bool
	Validate() error

	cloneLocator() DocumentLocator
}

// TextOffsetLocator addresses [StartOffset, EndOffset) in the flattened
// text stream, counted in characters (runes)
type TextOffsetLocator struct {
	StartOffset int
	EndOffset   int
}

func (TextOffsetLocator) Kind() LocatorKind { return LocatorTextOffset }
func (TextOffsetLocator) Renderer() RendererKind { return RendererFlatText }
func (l TextOffsetLocator) HasSpan() bool { return l.EndOffset > l.StartOffset }
func (l TextOffsetLocator) Len() int { return l.EndOffset - l.StartOffset }
func (l TextOffsetLocator) cloneLocator() DocumentLocator { return l }

// Validate checks offset ordering
func (l TextOffsetLocator) Validate() error {
	if l.StartOffset < 0 || l.EndOffset < l.StartOffset {
		return fmt.Errorf("invalid text offsets [%d,%d)", l.StartOffset, l.EndOffset)
	}
	return nil
}

// PageRegionLocator addresses one or more normalized rectangles on a page.
// A selection that wraps lines yields several rects on the same page.
type PageRegionLocator struct {
	PageNumber int
	Rects      []Rect
}

func (PageRegionLocator) Kind() LocatorKind { return LocatorPageRegion }
func (PageRegionLocator) Renderer() RendererKind { return RendererFixedLayout }

// Bounds returns the union of all rects
func (l PageRegionLocator) Bounds() Rect { return UnionAll(l.Rects) }

// HasSpan reports whether any rect covers area
func (l PageRegionLocator) HasSpan() bool {
	for _, r := range l.Rects {
		if !r.Empty() {
			return true
		}
	}
	return false
}

func (l PageRegionLocator) cloneLocator() DocumentLocator {
	l.Rects = append([]Rect(nil), l.Rects...)
	return l
}

// Validate checks the page number and that every rect is normalized
func (l PageRegionLocator) Validate() error {
	if l.PageNumber < 1 {
		return fmt.Errorf("invalid page number %d", l.PageNumber)
	}
	if len(l.Rects) == 0 {
		return fmt.Errorf("page region has no rects")
	}
	for i, r := range l.Rects {
		if !r.Normalized() {
			return fmt.Errorf("rect %d is not normalized: %+v", i, r)
		}
	}
	return nil
}

// FragmentLocator addresses a renderer-issued fragment id plus an optional
// character offset within that fragment
type FragmentLocator struct {
	FragmentID string
	CharOffset *int
}

func (FragmentLocator) Kind() LocatorKind { return LocatorFragment }
func (FragmentLocator) Renderer() RendererKind { return RendererReflow }

// HasSpan is always true: the span length travels with the selected text
func (FragmentLocator) HasSpan() bool { return true }

// Offset returns the character offset or 0 when the renderer supplied none
func (l FragmentLocator) Offset() int {
	if l.CharOffset == nil {
		return 0
	}
	return *l.CharOffset
}

func (l FragmentLocator) cloneLocator() DocumentLocator {
	if l.CharOffset != nil {
		off := *l.CharOffset
		l.CharOffset = &off
	}
	return l
}

// Validate checks the fragment id and offset
func (l FragmentLocator) Validate() error {
	if l.FragmentID == "" {
		return fmt.Errorf("fragment id is empty")
	}
	if l.CharOffset != nil && *l.CharOffset < 0 {
		return fmt.Errorf("invalid fragment offset %d", *l.CharOffset)
	}
	return nil
}

// CloneLocator returns a deep copy of loc
func CloneLocator(loc DocumentLocator) DocumentLocator {
	if loc == nil {
		return nil
	}
	return loc.cloneLocator()
}

// IntPtr is a small helper for optional offsets
func IntPtr(v int) *int { return &v }

// LocatorEnvelope is the tagged JSON form of a DocumentLocator
type LocatorEnvelope struct {
	Kind        LocatorKind `json:"kind"`
	StartOffset int         `json:"start_offset,omitempty"`
	EndOffset   int         `json:"end_offset,omitempty"`
	PageNumber  int         `json:"page_number,omitempty"`
	Rects       []Rect      `json:"rects,omitempty"`
	FragmentID  string      `json:"fragment_id,omitempty"`
	CharOffset  *int        `json:"char_offset,omitempty"`
}

// EnvelopeOf wraps a locator in its tagged form
func EnvelopeOf(loc DocumentLocator) *LocatorEnvelope {
	switch l := loc.(type) {
	case TextOffsetLocator:
		return &LocatorEnvelope{Kind: LocatorTextOffset, StartOffset: l.StartOffset, EndOffset: l.EndOffset}
	case PageRegionLocator:
		return &LocatorEnvelope{Kind: LocatorPageRegion, PageNumber: l.PageNumber, Rects: append([]Rect(nil), l.Rects...)}
	case FragmentLocator:
		c := l.cloneLocator().(FragmentLocator)
		return &LocatorEnvelope{Kind: LocatorFragment, FragmentID: c.FragmentID, CharOffset: c.CharOffset}
	}
	return nil
}

// Locator unwraps the envelope into its concrete variant
func (e LocatorEnvelope) Locator() (DocumentLocator, error) {
	var loc DocumentLocator
	switch e.Kind {
	case LocatorTextOffset:
		loc = TextOffsetLocator{StartOffset: e.StartOffset, EndOffset: e.EndOffset}
	case LocatorPageRegion:
		loc = PageRegionLocator{PageNumber: e.PageNumber, Rects: append([]Rect(nil), e.Rects...)}
	case LocatorFragment:
		loc = FragmentLocator{FragmentID: e.FragmentID, CharOffset: e.CharOffset}.cloneLocator()
	default:
		return nil, fmt.Errorf("unknown locator kind %q", e.Kind)
	}
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	return loc, nil
}

// MarshalLocator encodes a locator as its tagged JSON envelope
func MarshalLocator(loc DocumentLocator) ([]byte, error) {
	env := EnvelopeOf(loc)
	if env == nil {
		return nil, fmt.Errorf("cannot marshal locator of type %T", loc)
	}
	return json.Marshal(env)
}

// UnmarshalLocator decodes a tagged JSON envelope
func UnmarshalLocator(data []byte) (DocumentLocator, error) {
	var env LocatorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding locator: %w", err)
	}
	return env.Locator()
}
