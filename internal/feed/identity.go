package feed

import "example.com/chainfeed/internal/models"

// Entry identity has two levels. An optimistic entry is matched against a
// confirmed one by author and content only: the local timestamp comes from
// the client clock and the confirmed timestamp from the chain, so they are
// expected to differ. Among confirmed entries the timestamp is stable, so
// it is part of the duplicate key.
//
// Known limitation: two genuinely
// distinct posts with identical text from the same author will be merged
// during the optimistic window. The chain does not give us a better key
// until the authoritative id arrives.

// sameLogicalEntry reports whether a and b denote the same logical entry
// for the optimistic-to-confirmed match.
func sameLogicalEntry(a, b models.Entry) bool {
	return a.AuthorIs(b.Author) && a.Content == b.Content
}

// sameConfirmedEntry is the duplicate key among confirmed entries.
func sameConfirmedEntry(a, b models.Entry) bool {
	return a.AuthorIs(b.Author) && a.Content == b.Content && a.CreatedAt == b.CreatedAt
}

// mergeOptimistic supersedes a local optimistic entry with its confirmed
// counterpart. The confirmed record wins every field except the like count,
// which keeps the local value when it is higher: a like registered just
// before confirmation must not be visually lost.
func mergeOptimistic(confirmed, local models.Entry) models.Entry {
	merged := confirmed
	if local.Likes > merged.Likes {
		merged.Likes = local.Likes
	}
	return merged
}
