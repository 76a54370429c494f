package feed

import (
	"testing"

	"example.com/chainfeed/internal/models"
)

func TestSameLogicalEntry_CaseInsensitiveAuthor(t *testing.T) {
	local := models.Entry{ID: "tmp-1", Author: "0xAbC", Content: "hello", CreatedAt: 100, Provenance: models.Optimistic}
	confirmed := models.Entry{ID: "42", Author: "0xabc", Content: "hello", CreatedAt: 250, Provenance: models.Authoritative}

	if !sameLogicalEntry(local, confirmed) {
		t.Fatalf("expected match despite differing author case and timestamps")
	}
}

func TestSameLogicalEntry_DifferentContent(t *testing.T) {
	a := models.Entry{Author: "0xabc", Content: "hello"}
	b := models.Entry{Author: "0xabc", Content: "goodbye"}

	if sameLogicalEntry(a, b) {
		t.Fatalf("expected no match for differing content")
	}
}

func TestSameConfirmedEntry_TimestampIsPartOfKey(t *testing.T) {
	a := models.Entry{Author: "0xabc", Content: "hello", CreatedAt: 100}
	b := models.Entry{Author: "0xABC", Content: "hello", CreatedAt: 100}
	c := models.Entry{Author: "0xabc", Content: "hello", CreatedAt: 200}

	if !sameConfirmedEntry(a, b) {
		t.Fatalf("expected match for equal (author, content, timestamp)")
	}
	if sameConfirmedEntry(a, c) {
		t.Fatalf("expected no match for differing timestamps")
	}
}

func TestMergeOptimistic_ConfirmedWinsExceptLikes(t *testing.T) {
	local := models.Entry{ID: "tmp-1", Author: "0xabc", Content: "hello", CreatedAt: 100, Likes: 3, Provenance: models.Optimistic}
	confirmed := models.Entry{ID: "42", Author: "0xabc", Content: "hello", CreatedAt: 250, Likes: 1, Provenance: models.Authoritative}

	merged := mergeOptimistic(confirmed, local)

	if merged.ID != "42" || merged.CreatedAt != 250 || merged.Provenance != models.Authoritative {
		t.Fatalf("expected confirmed fields to win, got %+v", merged)
	}
	if merged.Likes != 3 {
		t.Fatalf("expected local like count 3 to be kept, got %d", merged.Likes)
	}
}

func TestMergeOptimistic_ConfirmedLikesKeptWhenHigher(t *testing.T) {
	local := models.Entry{ID: "tmp-1", Author: "0xabc", Content: "hello", Likes: 0, Provenance: models.Optimistic}
	confirmed := models.Entry{ID: "42", Author: "0xabc", Content: "hello", Likes: 7, Provenance: models.Authoritative}

	if merged := mergeOptimistic(confirmed, local); merged.Likes != 7 {
		t.Fatalf("expected confirmed like count 7, got %d", merged.Likes)
	}
}
