package models

import "strings"

// Provenance records which source an entry came from.
type Provenance string

const (
	// Optimistic entries were created locally and are not yet confirmed.
	Optimistic Provenance = "optimistic"
	// Authoritative entries come from a snapshot read of the ledger index.
	Authoritative Provenance = "authoritative"
	// Pushed entries arrived through the real-time event stream.
	Pushed Provenance = "pushed"
)

// Entry is a single post as held by the feed.
// ID is either the ledger-assigned id or a locally generated provisional id
// that is superseded once the ledger confirms the entry.
type Entry struct {
	ID         string     `json:"id"`
	Author     string     `json:"author"`
	Content    string     `json:"content"`
	CreatedAt  int64      `json:"created_at"`
	Likes      int        `json:"likes"`
	Provenance Provenance `json:"provenance"`
}

// AuthorIs reports whether the entry was written by addr.
// Author addresses compare case-insensitively everywhere.
func (e Entry) AuthorIs(addr string) bool {
	return strings.EqualFold(e.Author, addr)
}

// Confirmed reports whether the entry carries ledger-assigned fields.
func (e Entry) Confirmed() bool {
	return e.Provenance != Optimistic
}

// LikeUpdate is a like-count change for one confirmed entry,
// matched by exact (id, author).
type LikeUpdate struct {
	ID     string `json:"id"`
	Author string `json:"author"`
	Likes  int    `json:"likes"`
}

// Profile is the on-chain profile for one address, read-only for the feed.
type Profile struct {
	Address     string `json:"address"`
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio"`
	Registered  bool   `json:"registered"`
}
