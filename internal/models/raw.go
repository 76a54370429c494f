package models

import (
	"fmt"
	"strings"
)

// RawEntry is the wire shape of an entry record before validation.
// Snapshot rows and stream payloads are decoded into this and checked
// here so that nothing malformed ever reaches the feed.
type RawEntry struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Likes     int    `json:"likes"`
}

// Validate checks the minimal shape and returns the typed entry.
// Malformed records are dropped by the caller, never merged.
func (r RawEntry) Validate(p Provenance) (Entry, error) {
	switch {
	case r.ID == "":
		return Entry{}, fmt.Errorf("%w: missing id", ErrMalformedEntry)
	case strings.TrimSpace(r.Author) == "":
		return Entry{}, fmt.Errorf("%w: missing author", ErrMalformedEntry)
	case r.Content == "":
		return Entry{}, fmt.Errorf("%w: missing content", ErrMalformedEntry)
	case r.Timestamp <= 0:
		return Entry{}, fmt.Errorf("%w: invalid timestamp %d", ErrMalformedEntry, r.Timestamp)
	case r.Likes < 0:
		return Entry{}, fmt.Errorf("%w: negative like count %d", ErrMalformedEntry, r.Likes)
	}

	return Entry{
		ID:         r.ID,
		Author:     r.Author,
		Content:    r.Content,
		CreatedAt:  r.Timestamp,
		Likes:      r.Likes,
		Provenance: p,
	}, nil
}
