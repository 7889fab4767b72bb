package locator

import (
	"fmt"
	"strings"

	"github.com/killallgit/marginalia/internal/models"
	apperrors "github.com/killallgit/marginalia/pkg/errors"
)

// ErrUnresolvable is returned, wrapped, when a stored locator cannot be
// addressed in the current layout. Callers show the annotation in list
// form only.
var ErrUnresolvable = apperrors.New(apperrors.ErrCodeDecodeUnresolvable, "locator cannot be resolved in the current layout")

func unresolvable(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnresolvable, fmt.Sprintf(format, args...))
}

// Decode resolves a locator against the current layout. It never panics;
// anything that cannot be addressed yields ErrUnresolvable.
func Decode(loc models.DocumentLocator, layout LayoutState) (Target, error) {
	if loc == nil {
		return Target{}, unresolvable("no locator")
	}
	if layout == nil {
		return Target{}, unresolvable("no layout")
	}
	if loc.Renderer() != layout.Renderer() {
		return Target{}, unresolvable("%s locator in %s layout", loc.Kind(), layout.Renderer())
	}

	switch l := loc.(type) {
	case models.TextOffsetLocator:
		fl, ok := layout.(FlatTextLayout)
		if !ok {
			return Target{}, unresolvable("unexpected layout %T", layout)
		}
		if l.StartOffset < 0 || l.EndOffset < l.StartOffset || l.EndOffset > fl.TextLength {
			return Target{}, unresolvable("offsets [%d,%d) outside text of length %d", l.StartOffset, l.EndOffset, fl.TextLength)
		}
		return Target{Renderer: models.RendererFlatText, Offset: l.StartOffset, End: l.EndOffset}, nil

	case models.PageRegionLocator:
		fl, ok := layout.(FixedLayout)
		if !ok {
			return Target{}, unresolvable("unexpected layout %T", layout)
		}
		if l.PageNumber < 1 || l.PageNumber > fl.PageCount {
			return Target{}, unresolvable("page %d outside document of %d pages", l.PageNumber, fl.PageCount)
		}
		return Target{
			Renderer:   models.RendererFixedLayout,
			PageNumber: l.PageNumber,
			Rects:      append([]models.Rect(nil), l.Rects...),
		}, nil

	case models.FragmentLocator:
		rl, ok := layout.(ReflowLayout)
		if !ok {
			return Target{}, unresolvable("unexpected layout %T", layout)
		}
		if rl.Index(l.FragmentID) < 0 {
			return Target{}, unresolvable("fragment %q no longer exists", l.FragmentID)
		}
		return Target{Renderer: models.RendererReflow, FragmentID: l.FragmentID, Offset: l.Offset()}, nil
	}

	return Target{}, unresolvable("unsupported locator %T", loc)
}

// Resolve decodes an annotation's locator and falls back to searching for
// its selected text when the stored position no longer matches the content
func Resolve(a models.Annotation, layout LayoutState) (Target, error) {
	target, err := Decode(a.Locator, layout)

	switch l := layout.(type) {
	case FlatTextLayout:
		if l.runes == nil || a.SelectedText == "" {
			return target, err
		}
		if err == nil && string(l.runes[target.Offset:target.End]) == a.SelectedText {
			return target, nil
		}
		hint := 0
		if tl, ok := a.Locator.(models.TextOffsetLocator); ok {
			hint = tl.StartOffset
		}
		if pos, ok := nearestOccurrence(l.runes, []rune(a.SelectedText), hint); ok {
			return Target{
				Renderer:   models.RendererFlatText,
				Offset:     pos,
				End:        pos + len([]rune(a.SelectedText)),
				Reanchored: true,
			}, nil
		}
		if err == nil {
			return Target{}, unresolvable("text at [%d,%d) no longer matches the annotation", target.Offset, target.End)
		}
		return Target{}, err

	case ReflowLayout:
		if err == nil || a.SelectedText == "" || len(l.FragmentTexts) == 0 {
			return target, err
		}
		for _, id := range l.Fragments {
			text, ok := l.FragmentTexts[id]
			if !ok {
				continue
			}
			if idx := strings.Index(text, a.SelectedText); idx >= 0 {
				return Target{
					Renderer:   models.RendererReflow,
					FragmentID: id,
					Offset:     len([]rune(text[:idx])),
					Reanchored: true,
				}, nil
			}
		}
		return target, err
	}

	return target, err
}

// nearestOccurrence finds the occurrence of needle closest to hint
func nearestOccurrence(haystack, needle []rune, hint int) (int, bool) {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return 0, false
	}
	best, found := 0, false
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if !runesEqual(haystack[i:i+len(needle)], needle) {
			continue
		}
		if !found || abs(i-hint) < abs(best-hint) {
			best, found = i, true
		}
		if i > hint {
			// Later matches are only further away
			break
		}
	}
	return best, found
}

func runesEqual(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
