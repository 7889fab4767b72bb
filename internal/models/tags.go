package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"sort"
	"strings"
)

// Tags is a set of free-form labels. NewTags trims, drops blanks,
// deduplicates and sorts, so two Tags values holding the same set compare
// equal element by element.
type Tags []string

// NewTags builds a normalized tag set
func NewTags(values ...string) Tags {
	seen := make(map[string]struct{}, len(values))
	out := make(Tags, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Normalize returns the normalized form of t
func (t Tags) Normalize() Tags {
	return NewTags(t...)
}

// Contains reports whether tag is in the set
func (t Tags) Contains(tag string) bool {
	tag = strings.TrimSpace(tag)
	for _, v := range t {
		if v == tag {
			return true
		}
	}
	return false
}

// HasAll reports whether t is a superset of required
func (t Tags) HasAll(required []string) bool {
	for _, r := range required {
		if strings.TrimSpace(r) == "" {
			continue
		}
		if !t.Contains(r) {
			return false
		}
	}
	return true
}

// Equal compares two tag sets ignoring order and duplicates
func (t Tags) Equal(o Tags) bool {
	a, b := t.Normalize(), o.Normalize()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Value implements driver.Valuer so Tags can be stored as a JSON column
func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for Tags
func (t *Tags) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*t = Tags{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	if len(raw) == 0 {
		*t = Tags{}
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return err
	}
	*t = NewTags(values...)
	return nil
}
