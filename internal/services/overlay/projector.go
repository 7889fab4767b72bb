package overlay

import (
	"unicode/utf8"

	"github.com/killallgit/marginalia/internal/models"
	"github.com/killallgit/marginalia/internal/services/locator"
)

// Viewport is the active renderer's layout at one instant, together with
// the geometry queries needed to place markers on screen
type Viewport interface {
	Layout() locator.LayoutState
}

// TextGeometry answers screen-rect queries for the flat text renderer.
// Implementations return one rect per rendered line fragment of the range,
// or a caret rect for an empty range.
type TextGeometry interface {
	RangeRects(start, end int) []models.Rect
}

// FlatTextViewport is the visible window of the flat text renderer.
// [VisibleStart, VisibleEnd) is the range of offsets currently on screen.
type FlatTextViewport struct {
	Text         locator.FlatTextLayout
	VisibleStart int
	VisibleEnd   int
	Geometry     TextGeometry
}

func (v FlatTextViewport) Layout() locator.LayoutState { return v.Text }

// PageBox is where one displayed page currently sits on screen
type PageBox struct {
	PageNumber int
	Screen     models.Rect
}

// FixedLayoutViewport lists the pages of the paginated renderer that are
// currently displayed. Page boxes are supplied fresh on every event.
type FixedLayoutViewport struct {
	Document locator.FixedLayout
	Pages    []PageBox
}

func (v FixedLayoutViewport) Layout() locator.LayoutState { return v.Document }

// FragmentGeometry answers screen-rect queries for the reflow renderer.
// ok is false when the fragment is not displayed.
type FragmentGeometry interface {
	Rects(fragmentID string, offset, length int) (rects []models.Rect, ok bool)
}

// ReflowViewport is the reflow renderer's current layout
type ReflowViewport struct {
	Book     locator.ReflowLayout
	Geometry FragmentGeometry
}

func (v ReflowViewport) Layout() locator.LayoutState { return v.Book }

// Project computes the screen rects of every annotation that resolves and
// is on screen in vp. Annotations that do not resolve or are off screen are
// omitted. The result depends only on the arguments.
func Project(annotations []models.Annotation, vp Viewport) map[string][]models.Rect {
	out := make(map[string][]models.Rect)
	if vp == nil {
		return out
	}
	layout := vp.Layout()

	for _, a := range annotations {
		target, err := locator.Resolve(a, layout)
		if err != nil {
			continue
		}

		var rects []models.Rect
		switch v := vp.(type) {
		case FlatTextViewport:
			rects = projectFlat(v, target)
		case FixedLayoutViewport:
			rects = projectFixed(v, target)
		case ReflowViewport:
			rects = projectReflow(v, target, a)
		}
		if len(rects) > 0 {
			out[a.ID] = rects
		}
	}
	return out
}

func projectFlat(v FlatTextViewport, t locator.Target) []models.Rect {
	if v.Geometry == nil {
		return nil
	}
	// Anchored at the start offset: scrolled out once the start leaves
	// the visible range
	if t.Offset < v.VisibleStart || t.Offset >= v.VisibleEnd {
		return nil
	}
	end := t.End
	if end > v.VisibleEnd {
		end = v.VisibleEnd
	}
	return copyRects(v.Geometry.RangeRects(t.Offset, end))
}

func projectFixed(v FixedLayoutViewport, t locator.Target) []models.Rect {
	for _, page := range v.Pages {
		if page.PageNumber != t.PageNumber {
			continue
		}
		rects := make([]models.Rect, 0, len(t.Rects))
		for _, r := range t.Rects {
			rects = append(rects, toScreen(r, page.Screen))
		}
		return rects
	}
	return nil
}

// toScreen maps a normalized page rect into a page box on screen
func toScreen(r models.Rect, box models.Rect) models.Rect {
	return models.Rect{
		X:      box.X + r.X*box.Width,
		Y:      box.Y + r.Y*box.Height,
		Width:  r.Width * box.Width,
		Height: r.Height * box.Height,
	}
}

func projectReflow(v ReflowViewport, t locator.Target, a models.Annotation) []models.Rect {
	if v.Geometry == nil {
		return nil
	}
	rects, ok := v.Geometry.Rects(t.FragmentID, t.Offset, utf8.RuneCountInString(a.SelectedText))
	if !ok {
		return nil
	}
	return copyRects(rects)
}

func copyRects(rects []models.Rect) []models.Rect {
	if len(rects) == 0 {
		return nil
	}
	return append([]models.Rect(nil), rects...)
}
