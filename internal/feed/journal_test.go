package feed

import (
	"testing"

	"example.com/chainfeed/internal/models"
)

func optimisticEntry(id, content string) models.Entry {
	return models.Entry{
		ID:         id,
		Author:     "0xabc",
		Content:    content,
		CreatedAt:  100,
		Provenance: models.Optimistic,
	}
}

func TestJournal_RecordAndRemove(t *testing.T) {
	j := NewJournal(nil)

	j.RecordNewEntry(optimisticEntry("tmp-1", "hello"))
	if j.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", j.Len())
	}

	if !j.Remove("tmp-1") {
		t.Fatalf("expected Remove to find the entry")
	}
	if j.Len() != 0 {
		t.Fatalf("expected empty journal after Remove, got %d", j.Len())
	}
	if j.Remove("tmp-1") {
		t.Fatalf("expected Remove of unknown id to report false")
	}
}

func TestJournal_RecordLikeDelta_FloorsAtZero(t *testing.T) {
	j := NewJournal(nil)
	j.RecordNewEntry(optimisticEntry("tmp-1", "hello"))

	if !j.RecordLikeDelta("0xABC", "tmp-1", -1) {
		t.Fatalf("expected delta to match the held entry")
	}
	if likes := j.items()[0].entry.Likes; likes != 0 {
		t.Fatalf("expected like count floored at 0, got %d", likes)
	}

	j.RecordLikeDelta("0xabc", "tmp-1", 1)
	j.RecordLikeDelta("0xabc", "tmp-1", 1)
	if likes := j.items()[0].entry.Likes; likes != 2 {
		t.Fatalf("expected like count 2, got %d", likes)
	}

	if j.RecordLikeDelta("0xabc", "unknown", 1) {
		t.Fatalf("expected delta for unknown id to report false")
	}
}

func TestJournal_SetLikes_ExactMatch(t *testing.T) {
	j := NewJournal(nil)
	j.RecordNewEntry(optimisticEntry("tmp-1", "hello"))

	if !j.SetLikes("0xABC", "tmp-1", 9) {
		t.Fatalf("expected SetLikes to match the held entry")
	}
	if likes := j.items()[0].entry.Likes; likes != 9 {
		t.Fatalf("expected like count 9, got %d", likes)
	}
}

func TestJournal_ReconcileSupersedesOptimistic(t *testing.T) {
	j := NewJournal(nil)
	j.RecordNewEntry(optimisticEntry("tmp-1", "hello"))
	j.RecordLikeDelta("0xabc", "tmp-1", 1)

	confirmed := models.Entry{
		ID:         "42",
		Author:     "0xABC",
		Content:    "hello",
		CreatedAt:  250,
		Likes:      0,
		Provenance: models.Authoritative,
	}
	j.ReconcileAgainst([]models.Entry{confirmed})

	items := j.items()
	if len(items) != 1 {
		t.Fatalf("expected 1 entry after reconcile, got %d", len(items))
	}
	got := items[0].entry
	if got.ID != "42" || got.CreatedAt != 250 || got.Provenance != models.Authoritative {
		t.Fatalf("expected confirmed representative, got %+v", got)
	}
	if got.Likes != 1 {
		t.Fatalf("expected pre-confirmation like to survive, got %d likes", got.Likes)
	}
}

func TestJournal_ReconcileConfirmedKeepsHigherLikes(t *testing.T) {
	j := NewJournal(nil)
	confirmed := models.Entry{
		ID: "42", Author: "0xabc", Content: "hello", CreatedAt: 250, Likes: 2,
		Provenance: models.Authoritative,
	}
	j.RecordNewEntry(confirmed)

	update := confirmed
	update.Likes = 5
	j.ReconcileAgainst([]models.Entry{update})

	if likes := j.items()[0].entry.Likes; likes != 5 {
		t.Fatalf("expected like count raised to 5, got %d", likes)
	}

	stale := confirmed
	stale.Likes = 1
	j.ReconcileAgainst([]models.Entry{stale})

	if likes := j.items()[0].entry.Likes; likes != 5 {
		t.Fatalf("expected stale lower count to be ignored, got %d", likes)
	}
}

func TestJournal_ReconcileLeavesUnrelatedEntries(t *testing.T) {
	j := NewJournal(nil)
	j.RecordNewEntry(optimisticEntry("tmp-1", "hello"))
	j.RecordNewEntry(optimisticEntry("tmp-2", "something else"))

	confirmed := models.Entry{
		ID: "42", Author: "0xabc", Content: "hello", CreatedAt: 250,
		Provenance: models.Authoritative,
	}
	j.ReconcileAgainst([]models.Entry{confirmed})

	items := j.items()
	if len(items) != 2 {
		t.Fatalf("expected both entries retained, got %d", len(items))
	}
	if items[1].entry.ID != "tmp-2" || items[1].entry.Provenance != models.Optimistic {
		t.Fatalf("expected unrelated optimistic entry untouched, got %+v", items[1].entry)
	}
}
