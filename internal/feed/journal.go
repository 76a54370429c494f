package feed

import (
	"strings"
	"sync"
	"sync/atomic"

	"example.com/chainfeed/internal/models"
)

// item pairs an entry with its merge sequence number. The sequence breaks
// ordering ties between entries with equal timestamps: most recently merged
// first, so the displayed order is deterministic.
type item struct {
	entry models.Entry
	seq   uint64
}

// Journal records viewer-originated actions before the chain confirms them.
// It stores what it is told and knows nothing about submission failures;
// a caller whose submission fails rolls its entry back with Remove.
//
// Storage is process-local memory, single writer (the viewer's own client).
type Journal struct {
	mu      sync.Mutex
	entries []item
	next    func() uint64
}

// NewJournal creates a journal. next supplies merge sequence numbers; when
// nil the journal keeps its own counter.
func NewJournal(next func() uint64) *Journal {
	if next == nil {
		var c uint64
		next = func() uint64 { return atomic.AddUint64(&c, 1) }
	}
	return &Journal{next: next}
}

// RecordNewEntry appends an optimistic entry. Returns immediately, no
// network wait.
func (j *Journal) RecordNewEntry(e models.Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, item{entry: e, seq: j.next()})
}

// RecordLikeDelta adjusts a held entry's like count by delta, floored at
// zero. Reports whether a matching entry was held.
func (j *Journal) RecordLikeDelta(author, id string, delta int) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.entries {
		e := &j.entries[i].entry
		if e.ID == id && strings.EqualFold(e.Author, author) {
			e.Likes += delta
			if e.Likes < 0 {
				e.Likes = 0
			}
			return true
		}
	}
	return false
}

// SetLikes overwrites a held entry's like count, matched by exact
// (id, author). Used for authoritative like-changed pushes.
func (j *Journal) SetLikes(author, id string, likes int) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.entries {
		e := &j.entries[i].entry
		if e.ID == id && strings.EqualFold(e.Author, author) {
			e.Likes = likes
			return true
		}
	}
	return false
}

// ReconcileAgainst applies confirmed entries to the journal. An optimistic
// entry matching a confirmed one is replaced by the merged representative,
// never silently dropped. Already confirmed journal entries matching the
// same record keep the higher like count.
func (j *Journal) ReconcileAgainst(confirmed []models.Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range confirmed {
		for i := range j.entries {
			cur := j.entries[i].entry
			switch {
			case !cur.Confirmed() && sameLogicalEntry(cur, c):
				j.entries[i].entry = mergeOptimistic(c, cur)
				j.entries[i].seq = j.next()
			case cur.Confirmed() && sameConfirmedEntry(cur, c):
				if c.Likes > cur.Likes {
					j.entries[i].entry.Likes = c.Likes
				}
			}
		}
	}
}

// Remove drops the entry with the given id. Used to roll back an optimistic
// entry whose submission failed.
func (j *Journal) Remove(id string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.entries {
		if j.entries[i].entry.ID == id {
			j.entries = append(j.entries[:i], j.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of held entries.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// items returns a copy of the journal contents.
func (j *Journal) items() []item {
	j.mu.Lock()
	defer j.mu.Unlock()
	res := make([]item, len(j.entries))
	copy(res, j.entries)
	return res
}
