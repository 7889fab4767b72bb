package query

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/killallgit/marginalia/internal/models"
)

// SortField selects the ordering of a view
type SortField string

const (
	SortCreated  SortField = "created"
	SortKind     SortField = "kind"
	SortPosition SortField = "position"
)

// KindAll disables the kind filter
const KindAll = "all"

// ParseSortField accepts the sort names used by the panel and the API
func ParseSortField(s string) (SortField, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "created", "date", "created_at":
		return SortCreated, true
	case "kind", "type":
		return SortKind, true
	case "position", "page":
		return SortPosition, true
	}
	return "", false
}

// Filter is a transient view definition. The zero value matches
// everything, sorted by creation date ascending.
type Filter struct {
	Query      string
	Kind       string
	Color      string
	Tags       []string
	DateFrom   *time.Time
	DateTo     *time.Time
	IsPrivate  *bool
	SortBy     SortField
	Descending bool
}

// Option adjusts how a view is derived
type Option func(*options)

type options struct {
	fragmentOrder map[string]int
}

// WithFragmentOrder supplies the reading order of reflow fragments so that
// fragment locators can be sorted by position
func WithFragmentOrder(fragments []string) Option {
	return func(o *options) {
		o.fragmentOrder = make(map[string]int, len(fragments))
		for i, id := range fragments {
			if _, ok := o.fragmentOrder[id]; !ok {
				o.fragmentOrder[id] = i
			}
		}
	}
}

// Apply returns the annotations matching f, ordered as f requests. The
// input is not modified.
func Apply(all []models.Annotation, f Filter, opts ...Option) []models.Annotation {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	m := newMatcher(f)
	out := make([]models.Annotation, 0, len(all))
	for _, a := range all {
		if m.match(a) {
			out = append(out, a.Clone())
		}
	}

	sortAnnotations(out, f.SortBy, f.Descending, o.fragmentOrder)
	return out
}

// Search returns the annotations whose selected text, content or any tag
// contains q, case-insensitively, newest first
func Search(all []models.Annotation, q string) []models.Annotation {
	return Apply(all, Filter{Query: q, SortBy: SortCreated, Descending: true})
}

type matcher struct {
	f     Filter
	query string
	color string
	tags  []string
}

func newMatcher(f Filter) matcher {
	m := matcher{f: f, query: strings.ToLower(strings.TrimSpace(f.Query))}
	if hex, ok := models.NormalizeColor(f.Color); ok {
		m.color = hex
	} else {
		// Unknown colors match nothing rather than everything
		m.color = strings.ToLower(strings.TrimSpace(f.Color))
	}
	m.tags = models.NewTags(f.Tags...)
	return m
}

func (m matcher) match(a models.Annotation) bool {
	if m.query != "" && !matchesText(a, m.query) {
		return false
	}
	if m.f.Kind != "" && m.f.Kind != KindAll && string(a.Kind) != m.f.Kind {
		return false
	}
	if m.color != "" && strings.ToLower(a.Color) != m.color {
		return false
	}
	if len(m.tags) > 0 && !a.Tags.HasAll(m.tags) {
		return false
	}
	if m.f.DateFrom != nil && a.CreatedAt.Before(*m.f.DateFrom) {
		return false
	}
	if m.f.DateTo != nil && a.CreatedAt.After(*m.f.DateTo) {
		return false
	}
	if m.f.IsPrivate != nil && a.IsPrivate != *m.f.IsPrivate {
		return false
	}
	return true
}

func matchesText(a models.Annotation, q string) bool {
	if strings.Contains(strings.ToLower(a.SelectedText), q) {
		return true
	}
	if strings.Contains(strings.ToLower(a.Content), q) {
		return true
	}
	for _, tag := range a.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

// position is the sortable form of a locator. Variants sort in a fixed
// order relative to each other.
type position struct {
	variant int
	major   int
	minorY  float64
	minorX  float64
}

func positionOf(loc models.DocumentLocator, fragmentOrder map[string]int) position {
	switch l := loc.(type) {
	case models.TextOffsetLocator:
		return position{variant: 0, major: l.StartOffset}
	case models.PageRegionLocator:
		b := l.Bounds()
		return position{variant: 1, major: l.PageNumber, minorY: b.Y, minorX: b.X}
	case models.FragmentLocator:
		idx, ok := fragmentOrder[l.FragmentID]
		if !ok {
			idx = math.MaxInt32
		}
		return position{variant: 2, major: idx, minorY: float64(l.Offset())}
	}
	return position{variant: 3}
}

func (p position) compare(o position) int {
	switch {
	case p.variant != o.variant:
		return cmpInt(p.variant, o.variant)
	case p.major != o.major:
		return cmpInt(p.major, o.major)
	case p.minorY != o.minorY:
		return cmpFloat(p.minorY, o.minorY)
	default:
		return cmpFloat(p.minorX, o.minorX)
	}
}

func sortAnnotations(list []models.Annotation, by SortField, desc bool, fragmentOrder map[string]int) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		c := 0
		switch by {
		case SortKind:
			c = strings.Compare(string(a.Kind), string(b.Kind))
		case SortPosition:
			c = positionOf(a.Locator, fragmentOrder).compare(positionOf(b.Locator, fragmentOrder))
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if desc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		// Ties: oldest first, then id, regardless of direction
		if t := a.CreatedAt.Compare(b.CreatedAt); t != 0 {
			return t < 0
		}
		return a.ID < b.ID
	})
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
