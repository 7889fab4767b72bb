package locator

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/killallgit/marginalia/internal/models"
	apperrors "github.com/killallgit/marginalia/pkg/errors"
)

// Encode turns a raw selection into a locator of the variant that belongs
// to renderer. Bookmarks collapse to a point; every other kind needs a
// non-empty selection.
func Encode(renderer models.RendererKind, sel RawSelection, kind models.Kind) (models.DocumentLocator, error) {
	if !kind.Valid() {
		return nil, apperrors.ValidationError("kind", fmt.Sprintf("unknown kind %q", kind))
	}

	switch renderer {
	case models.RendererFlatText:
		if sel.Flat == nil {
			return nil, apperrors.EncodeFailure(string(renderer), "selection was not reported by the flat text renderer")
		}
		return encodeFlat(*sel.Flat, kind)
	case models.RendererFixedLayout:
		if sel.Fixed == nil {
			return nil, apperrors.EncodeFailure(string(renderer), "selection was not reported by the fixed layout renderer")
		}
		return encodeFixed(*sel.Fixed, kind)
	case models.RendererReflow:
		if sel.Reflow == nil {
			return nil, apperrors.EncodeFailure(string(renderer), "selection was not reported by the reflow renderer")
		}
		return encodeReflow(*sel.Reflow, kind, sel.Text)
	default:
		return nil, apperrors.EncodeFailure(string(renderer), "unknown renderer")
	}
}

func encodeFlat(sel FlatTextSelection, kind models.Kind) (models.DocumentLocator, error) {
	anchor, err := absoluteOffset(sel.Segments, sel.Anchor)
	if err != nil {
		return nil, err
	}
	focus, err := absoluteOffset(sel.Segments, sel.Focus)
	if err != nil {
		return nil, err
	}

	// Backward drags report the focus before the anchor
	start, end := anchor, focus
	if start > end {
		start, end = end, start
	}

	if kind == models.KindBookmark {
		return models.TextOffsetLocator{StartOffset: start, EndOffset: start}, nil
	}
	if start == end {
		return nil, apperrors.EncodeFailure(string(models.RendererFlatText), "selection is empty")
	}
	return models.TextOffsetLocator{StartOffset: start, EndOffset: end}, nil
}

// absoluteOffset walks the text model from the document start to b
func absoluteOffset(segments []string, b TextBoundary) (int, error) {
	if b.Segment < 0 || b.Segment >= len(segments) {
		return 0, apperrors.EncodeFailure(string(models.RendererFlatText),
			fmt.Sprintf("segment %d outside text model of %d segments", b.Segment, len(segments)))
	}
	segLen := utf8.RuneCountInString(segments[b.Segment])
	if b.Offset < 0 || b.Offset > segLen {
		return 0, apperrors.EncodeFailure(string(models.RendererFlatText),
			fmt.Sprintf("offset %d outside segment %d of length %d", b.Offset, b.Segment, segLen))
	}

	offset := 0
	for _, seg := range segments[:b.Segment] {
		offset += utf8.RuneCountInString(seg)
	}
	return offset + b.Offset, nil
}

func encodeFixed(sel FixedLayoutSelection, kind models.Kind) (models.DocumentLocator, error) {
	renderer := string(models.RendererFixedLayout)
	if sel.PageNumber < 1 {
		return nil, apperrors.EncodeFailure(renderer, fmt.Sprintf("invalid page number %d", sel.PageNumber))
	}
	if sel.PageWidth <= 0 || sel.PageHeight <= 0 {
		return nil, apperrors.EncodeFailure(renderer, "page has no rendered size")
	}

	if kind == models.KindBookmark {
		point := models.Rect{
			X: clamp01(sel.Anchor.X / sel.PageWidth),
			Y: clamp01(sel.Anchor.Y / sel.PageHeight),
		}
		return models.PageRegionLocator{PageNumber: sel.PageNumber, Rects: []models.Rect{point}}, nil
	}

	rects := make([]models.Rect, 0, len(sel.ClientRects))
	for _, r := range sel.ClientRects {
		n := normalizeRect(r, sel.PageWidth, sel.PageHeight)
		if n.Empty() {
			continue
		}
		rects = append(rects, n)
	}
	if len(rects) == 0 {
		return nil, apperrors.EncodeFailure(renderer, "selection is empty")
	}

	// Reading order: top to bottom, then left to right
	sort.SliceStable(rects, func(i, j int) bool {
		if rects[i].Y != rects[j].Y {
			return rects[i].Y < rects[j].Y
		}
		return rects[i].X < rects[j].X
	})

	return models.PageRegionLocator{PageNumber: sel.PageNumber, Rects: rects}, nil
}

// normalizeRect maps a page-relative pixel rect into the unit square,
// clipping whatever falls outside the page
func normalizeRect(r models.Rect, width, height float64) models.Rect {
	x0 := clamp01(r.X / width)
	y0 := clamp01(r.Y / height)
	x1 := clamp01(r.Right() / width)
	y1 := clamp01(r.Bottom() / height)
	return models.Rect{X: x0, Y: y0, Width: math.Max(0, x1-x0), Height: math.Max(0, y1-y0)}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func encodeReflow(sel ReflowSelection, kind models.Kind, text string) (models.DocumentLocator, error) {
	renderer := string(models.RendererReflow)
	id := strings.TrimSpace(sel.FragmentID)
	if id == "" {
		return nil, apperrors.EncodeFailure(renderer, "renderer did not supply a fragment id")
	}
	if sel.CharOffset != nil && *sel.CharOffset < 0 {
		return nil, apperrors.EncodeFailure(renderer, fmt.Sprintf("invalid fragment offset %d", *sel.CharOffset))
	}
	if kind != models.KindBookmark && text == "" {
		return nil, apperrors.EncodeFailure(renderer, "selection is empty")
	}

	loc := models.FragmentLocator{FragmentID: id}
	if sel.CharOffset != nil {
		loc.CharOffset = models.IntPtr(*sel.CharOffset)
	}
	return loc, nil
}
