package locator

import (
	"github.com/killallgit/marginalia/internal/models"
)

// RawSelection is what a renderer reports for a settled selection. Exactly
// one of Flat, Fixed or Reflow is set, matching the renderer that produced it.
type RawSelection struct {
	Text   string
	Flat   *FlatTextSelection
	Fixed  *FixedLayoutSelection
	Reflow *ReflowSelection
}

// Empty reports whether the selection holds no text
func (s RawSelection) Empty() bool {
	return s.Text == ""
}

// TextBoundary is a selection endpoint inside the flat text model: a
// segment index and a rune offset within that segment
type TextBoundary struct {
	Segment int
	Offset  int
}

// FlatTextSelection describes a selection in the flat text renderer. The
// segments are the document's text nodes in reading order, starting at
// the top of the document.
type FlatTextSelection struct {
	Segments []string
	Anchor   TextBoundary
	Focus    TextBoundary
}

// FixedLayoutSelection describes a selection on one rendered page. Client
// rects and the anchor point are page-relative pixels at the current zoom.
type FixedLayoutSelection struct {
	PageNumber  int
	PageWidth   float64
	PageHeight  float64
	ClientRects []models.Rect
	Anchor      models.Point
}

// ReflowSelection carries the fragment id issued by the reflow renderer
// for the start of the selection
type ReflowSelection struct {
	FragmentID string
	CharOffset *int
}

// LayoutState is the renderer's current layout, used to resolve locators
type LayoutState interface {
	Renderer() models.RendererKind
}

// FlatTextLayout is the layout of the flat text renderer
type FlatTextLayout struct {
	TextLength int
	runes      []rune
}

// NewFlatTextLayout builds a layout that can also re-anchor by text
func NewFlatTextLayout(text string) FlatTextLayout {
	r := []rune(text)
	return FlatTextLayout{TextLength: len(r), runes: r}
}

func (FlatTextLayout) Renderer() models.RendererKind { return models.RendererFlatText }

// FixedLayout is the layout of the paginated renderer
type FixedLayout struct {
	PageCount int
}

func (FixedLayout) Renderer() models.RendererKind { return models.RendererFixedLayout }

// ReflowLayout is the layout of the reflow renderer. Fragments lists the
// fragment ids in reading order. FragmentTexts is optional and enables
// re-anchoring by selected text.
type ReflowLayout struct {
	Fragments     []string
	FragmentTexts map[string]string
}

func (ReflowLayout) Renderer() models.RendererKind { return models.RendererReflow }

// Index returns the reading-order position of a fragment, or -1
func (l ReflowLayout) Index(fragmentID string) int {
	for i, id := range l.Fragments {
		if id == fragmentID {
			return i
		}
	}
	return -1
}

// Target is a resolved locator: what the renderer needs to navigate to or
// draw an annotation
type Target struct {
	Renderer models.RendererKind

	// Flat text: [Offset, End) in the text stream.
	// Reflow: Offset is the char offset within FragmentID.
	Offset int
	End    int

	PageNumber int
	Rects      []models.Rect

	FragmentID string

	// Reanchored is set when the stored locator did not match and the
	// selected text was used to find the span again
	Reanchored bool
}
