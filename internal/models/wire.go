package models

import "time"

// WireAnnotation is the record exchanged with the remote persistence API.
// start_position and end_position carry the numeric form of the locator;
// Locator carries the full tagged payload when the peer supports it.
type WireAnnotation struct {
	ID            string           `json:"id"`
	BookID        string           `json:"book_id"`
	Type          string           `json:"type"`
	PageNumber    int              `json:"page_number"`
	StartPosition int              `json:"start_position"`
	EndPosition   int              `json:"end_position"`
	SelectedText  string           `json:"selected_text"`
	Content       string           `json:"content"`
	Color         string           `json:"color"`
	Tags          []string         `json:"tags"`
	IsPrivate     bool             `json:"is_private"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	Locator       *LocatorEnvelope `json:"locator,omitempty"`
}

// WireList is the list response of the remote API
type WireList struct {
	Annotations []WireAnnotation `json:"annotations"`
	Count       int              `json:"count"`
}
