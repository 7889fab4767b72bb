package locator

import (
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/killallgit/marginalia/internal/models"
)

// Page-region bounds are packed as fixed point: each coordinate becomes
// round(v*coordScale), and two of them share one integer field.
const (
	coordScale = 10000
	coordShift = 1 << 14
)

// NoFragmentOffset marks a fragment locator packed without an offset
const NoFragmentOffset = -1

// FragmentProxy is the numeric stand-in for a fragment id in the wire
// format's end_position field. Different ids may collide; the tagged
// payload is authoritative whenever it is present.
func FragmentProxy(fragmentID string) int {
	return int(xxhash.Sum64String(fragmentID) & 0x7fffffff)
}

// Pack converts an annotation into the remote wire record. The numeric
// fields always carry the best available projection of the locator and
// the tagged payload carries the locator itself.
func Pack(a models.Annotation) models.WireAnnotation {
	tags := []string(a.Tags.Normalize())
	w := models.WireAnnotation{
		ID:           a.ID,
		BookID:       a.DocumentID,
		Type:         string(a.Kind),
		SelectedText: a.SelectedText,
		Content:      a.Content,
		Color:        a.Color,
		Tags:         tags,
		IsPrivate:    a.IsPrivate,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
		Locator:      models.EnvelopeOf(a.Locator),
	}

	switch l := a.Locator.(type) {
	case models.TextOffsetLocator:
		w.StartPosition = l.StartOffset
		w.EndPosition = l.EndOffset
	case models.PageRegionLocator:
		b := l.Bounds()
		w.PageNumber = l.PageNumber
		w.StartPosition = quantize(b.X)*coordShift + quantize(b.Y)
		w.EndPosition = quantize(b.Width)*coordShift + quantize(b.Height)
	case models.FragmentLocator:
		w.StartPosition = NoFragmentOffset
		if l.CharOffset != nil {
			w.StartPosition = *l.CharOffset
		}
		w.EndPosition = FragmentProxy(l.FragmentID)
	}
	return w
}

// Unpack converts a wire record back into an annotation. The tagged
// payload wins when present; otherwise the numeric fields are read
// according to the document's renderer. Fragment ids can only be recovered
// from the numeric proxy by matching against catalog.
func Unpack(w models.WireAnnotation, renderer models.RendererKind, catalog []string) (models.Annotation, error) {
	kind, err := models.ParseKind(w.Type)
	if err != nil {
		return models.Annotation{}, err
	}

	a := models.Annotation{
		ID:           w.ID,
		DocumentID:   w.BookID,
		Kind:         kind,
		SelectedText: w.SelectedText,
		Content:      w.Content,
		Color:        w.Color,
		Tags:         models.NewTags(w.Tags...),
		IsPrivate:    w.IsPrivate,
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
	}

	if w.Locator != nil {
		loc, err := w.Locator.Locator()
		if err != nil {
			return models.Annotation{}, fmt.Errorf("annotation %s: %w", w.ID, err)
		}
		a.Locator = loc
		return a, nil
	}

	switch renderer {
	case models.RendererFlatText:
		a.Locator = models.TextOffsetLocator{StartOffset: w.StartPosition, EndOffset: w.EndPosition}
	case models.RendererFixedLayout:
		x := dequantize(w.StartPosition / coordShift)
		y := dequantize(w.StartPosition % coordShift)
		a.Locator = models.PageRegionLocator{
			PageNumber: w.PageNumber,
			Rects: []models.Rect{{
				X:      x,
				Y:      y,
				Width:  math.Min(dequantize(w.EndPosition/coordShift), 1-x),
				Height: math.Min(dequantize(w.EndPosition%coordShift), 1-y),
			}},
		}
	case models.RendererReflow:
		id, ok := matchFragment(w.EndPosition, catalog)
		if !ok {
			return models.Annotation{}, fmt.Errorf("annotation %s: fragment proxy %d matches no known fragment", w.ID, w.EndPosition)
		}
		loc := models.FragmentLocator{FragmentID: id}
		if w.StartPosition >= 0 {
			loc.CharOffset = models.IntPtr(w.StartPosition)
		}
		a.Locator = loc
	default:
		return models.Annotation{}, fmt.Errorf("annotation %s: unknown renderer %q", w.ID, renderer)
	}

	if err := a.Locator.Validate(); err != nil {
		return models.Annotation{}, fmt.Errorf("annotation %s: %w", w.ID, err)
	}
	return a, nil
}

func matchFragment(proxy int, catalog []string) (string, bool) {
	for _, id := range catalog {
		if FragmentProxy(id) == proxy {
			return id, true
		}
	}
	return "", false
}

func quantize(v float64) int {
	return int(math.Round(clamp01(v) * coordScale))
}

func dequantize(q int) float64 {
	return float64(q) / coordScale
}
