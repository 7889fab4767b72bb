package query

import (
	"sort"

	"github.com/killallgit/marginalia/internal/models"
)

// DefaultColorKey counts annotations without a color
const DefaultColorKey = "default"

// TagCount is one entry of the tag ranking
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Stats summarizes an annotation collection
type Stats struct {
	Total      int            `json:"total"`
	Highlights int            `json:"highlights"`
	Notes      int            `json:"notes"`
	Bookmarks  int            `json:"bookmarks"`
	ByColor    map[string]int `json:"by_color"`
	ByMonth    map[string]int `json:"by_month"`
	TopTags    []TagCount     `json:"top_tags"`
}

const maxTopTags = 10

// ComputeStats counts annotations by kind, color, creation month (UTC,
// YYYY-MM) and tag
func ComputeStats(all []models.Annotation) Stats {
	s := Stats{
		Total:   len(all),
		ByColor: make(map[string]int),
		ByMonth: make(map[string]int),
	}
	tagCounts := make(map[string]int)

	for _, a := range all {
		switch a.Kind {
		case models.KindHighlight:
			s.Highlights++
		case models.KindNote:
			s.Notes++
		case models.KindBookmark:
			s.Bookmarks++
		}

		color := a.Color
		if color == "" {
			color = DefaultColorKey
		}
		s.ByColor[color]++
		s.ByMonth[a.CreatedAt.UTC().Format("2006-01")]++

		for _, tag := range a.Tags.Normalize() {
			tagCounts[tag]++
		}
	}

	s.TopTags = make([]TagCount, 0, len(tagCounts))
	for tag, n := range tagCounts {
		s.TopTags = append(s.TopTags, TagCount{Tag: tag, Count: n})
	}
	sort.Slice(s.TopTags, func(i, j int) bool {
		if s.TopTags[i].Count != s.TopTags[j].Count {
			return s.TopTags[i].Count > s.TopTags[j].Count
		}
		return s.TopTags[i].Tag < s.TopTags[j].Tag
	})
	if len(s.TopTags) > maxTopTags {
		s.TopTags = s.TopTags[:maxTopTags]
	}
	return s
}

// Facets lists the filter values present in a collection
type Facets struct {
	Kinds  []string `json:"types"`
	Tags   []string `json:"tags"`
	Colors []string `json:"colors"`
}

// AvailableFilters returns the kinds, tags and colors in use, sorted
func AvailableFilters(all []models.Annotation) Facets {
	kinds := make(map[string]struct{})
	colors := make(map[string]struct{})
	var tags []string
	for _, a := range all {
		kinds[string(a.Kind)] = struct{}{}
		if a.Color != "" {
			colors[a.Color] = struct{}{}
		}
		tags = append(tags, a.Tags...)
	}
	return Facets{
		Kinds:  sortedKeys(kinds),
		Tags:   []string(models.NewTags(tags...)),
		Colors: sortedKeys(colors),
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
