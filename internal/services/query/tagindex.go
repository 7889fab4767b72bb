package query

import (
	"sort"
	"strings"
	"sync"

	"github.com/armon/go-radix"
	"github.com/killallgit/marginalia/internal/models"
)

// TagIndex is a prefix tree over the tags of a collection, used for tag
// suggestions while typing. Keys are lowercased; each key keeps the
// spellings seen for it and how often the tag occurs.
type TagIndex struct {
	mu   sync.RWMutex
	tree *radix.Tree
}

type tagEntry struct {
	spelling string
	count    int
}

// NewTagIndex builds an index over the tags of all
func NewTagIndex(all []models.Annotation) *TagIndex {
	idx := &TagIndex{tree: radix.New()}
	idx.Rebuild(all)
	return idx
}

// Rebuild replaces the index contents
func (x *TagIndex) Rebuild(all []models.Annotation) {
	tree := radix.New()
	for _, a := range all {
		for _, tag := range a.Tags.Normalize() {
			key := strings.ToLower(tag)
			if v, ok := tree.Get(key); ok {
				e := v.(*tagEntry)
				e.count++
				continue
			}
			tree.Insert(key, &tagEntry{spelling: tag, count: 1})
		}
	}

	x.mu.Lock()
	x.tree = tree
	x.mu.Unlock()
}

// Len returns the number of distinct tags
func (x *TagIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.tree.Len()
}

// Suggest returns up to limit tags starting with prefix, most used first.
// A limit of zero or less returns every match.
func (x *TagIndex) Suggest(prefix string, limit int) []string {
	prefix = strings.ToLower(strings.TrimSpace(prefix))

	x.mu.RLock()
	var matches []tagEntry
	x.tree.WalkPrefix(prefix, func(_ string, v interface{}) bool {
		matches = append(matches, *v.(*tagEntry))
		return false
	})
	x.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].count > matches[j].count
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.spelling)
	}
	return out
}
