package feed

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"example.com/chainfeed/internal/logger"
	"example.com/chainfeed/internal/models"
	"github.com/google/uuid"
)

var logg = logger.New()

// Fetcher retrieves the full known set of confirmed entries for one
// identity from the authoritative source.
type Fetcher interface {
	ListEntries(ctx context.Context, identity string) ([]models.Entry, error)
}

// EventStream delivers confirmed events pushed by the authoritative source.
// Both subscriptions return an unsubscribe handle.
type EventStream interface {
	SubscribeNewEntry(func(models.Entry)) func()
	SubscribeLikeChanged(func(models.LikeUpdate)) func()
}

// FollowSet is the viewer's followed-address set, consulted on every
// recompute and watched for mutations.
type FollowSet interface {
	Contains(addr string) bool
	List() []string
	OnChange(func())
}

// Options tunes engine behavior.
type Options struct {
	// RefreshDelay is how long to wait after the viewer's own submission
	// before re-fetching their snapshot, giving the chain time to catch up
	// without discarding optimistic state in the interim.
	RefreshDelay time.Duration
}

// DefaultRefreshDelay gives the chain enough time to confirm a submission
// before the snapshot is re-fetched.
const DefaultRefreshDelay = 5 * time.Second

// Engine is the single source of the feed shown to the viewer. It merges
// on-demand snapshots, stream-pushed events and the viewer's optimistic
// journal into one deduplicated, stably ordered feed.
//
// Every published feed is a complete, self-consistent replacement; readers
// never observe a feed mid-merge. Snapshot fetches are the only suspending
// operations and happen outside the merge step.
type Engine struct {
	viewer  string
	fetcher Fetcher
	follows FollowSet
	journal *Journal

	mu           sync.Mutex
	registered   bool
	snapshots    map[string][]item // per lowercased identity
	pushed       []item
	feed         []models.Entry
	subs         map[int]func([]models.Entry)
	nextSub      int
	refreshDelay time.Duration
	refreshTimer *time.Timer
	unsubs       []func()
	closed       bool

	seq uint64
}

// NewEngine builds an engine for one viewer. Follow graph mutations trigger
// a refresh synchronously, so a newly followed identity's entries appear on
// the next computed feed.
func NewEngine(viewer string, fetcher Fetcher, follows FollowSet, opts Options) *Engine {
	if opts.RefreshDelay <= 0 {
		opts.RefreshDelay = DefaultRefreshDelay
	}
	e := &Engine{
		viewer:       viewer,
		fetcher:      fetcher,
		follows:      follows,
		snapshots:    make(map[string][]item),
		subs:         make(map[int]func([]models.Entry)),
		refreshDelay: opts.RefreshDelay,
	}
	e.journal = NewJournal(e.nextSeq)

	follows.OnChange(func() {
		e.Refresh(context.Background())
	})
	return e
}

func (e *Engine) nextSeq() uint64 {
	return atomic.AddUint64(&e.seq, 1)
}

// AttachStream subscribes the engine to push notifications. The handles are
// released on Close so a torn-down engine is never mutated by a leaked
// callback.
func (e *Engine) AttachStream(es EventStream) {
	unsubNew := es.SubscribeNewEntry(e.handlePushedEntry)
	unsubLike := es.SubscribeLikeChanged(e.handleLikeChanged)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		unsubNew()
		unsubLike()
		return
	}
	e.unsubs = append(e.unsubs, unsubNew, unsubLike)
	e.mu.Unlock()
}

// SetRegistered records the viewer's registration status. Registration
// becoming true triggers a refresh.
func (e *Engine) SetRegistered(ctx context.Context, registered bool) {
	e.mu.Lock()
	turnedOn := registered && !e.registered
	e.registered = registered
	e.mu.Unlock()

	if turnedOn {
		e.Refresh(ctx)
	}
}

// Refresh fetches a snapshot for the viewer and every followed identity and
// merges them in. Fetches are best-effort: a failure for one identity is
// logged and that identity contributes zero entries this round.
func (e *Engine) Refresh(ctx context.Context) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	ids := e.identitiesLocked()
	e.mu.Unlock()

	fetched := make(map[string][]models.Entry)
	for _, id := range ids {
		entries, err := e.fetcher.ListEntries(ctx, id)
		if err != nil {
			logg.Error("feed", "Snapshot fetch failed, identity skipped this round",
				&models.FetchError{Identity: id, Err: err})
			continue
		}
		for i := range entries {
			entries[i].Provenance = models.Authoritative
		}
		fetched[id] = entries
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	var confirmed []models.Entry
	for _, id := range ids {
		entries, ok := fetched[id]
		if !ok {
			continue
		}
		e.installSnapshotLocked(id, entries)
		confirmed = append(confirmed, entries...)
	}
	e.pruneLocked()
	e.journal.ReconcileAgainst(confirmed)

	feed := e.recomputeLocked()
	e.mu.Unlock()
	e.publish(feed)
}

// installSnapshotLocked replaces one identity's snapshot, carrying over the
// merge sequence of entries already present so that re-fetching unchanged
// data yields an identical ordering.
func (e *Engine) installSnapshotLocked(id string, entries []models.Entry) {
	prev := make(map[string]uint64, len(e.snapshots[id]))
	for _, it := range e.snapshots[id] {
		prev[it.entry.ID] = it.seq
	}

	items := make([]item, 0, len(entries))
	for _, entry := range entries {
		seq, ok := prev[entry.ID]
		if !ok {
			seq = e.nextSeq()
		}
		items = append(items, item{entry: entry, seq: seq})
	}
	e.snapshots[id] = items
}

// pruneLocked drops snapshots for identities no longer in view and pushed
// entries that a snapshot has since caught up with.
func (e *Engine) pruneLocked() {
	allowed := e.allowedLocked()
	for id := range e.snapshots {
		if _, ok := allowed[id]; !ok {
			delete(e.snapshots, id)
		}
	}

	kept := e.pushed[:0]
	for _, p := range e.pushed {
		covered := false
		for _, snap := range e.snapshots[strings.ToLower(p.entry.Author)] {
			if sameConfirmedEntry(snap.entry, p.entry) {
				covered = true
				break
			}
		}
		if !covered {
			kept = append(kept, p)
		}
	}
	e.pushed = kept
}

// SubmitNewLocalEntry records a new optimistic entry for the viewer and
// schedules the delayed re-fetch that lets the chain catch up. The created
// entry is returned so a failed submission can be rolled back by id.
func (e *Engine) SubmitNewLocalEntry(content string) models.Entry {
	entry := models.Entry{
		ID:         uuid.NewString(),
		Author:     e.viewer,
		Content:    content,
		CreatedAt:  time.Now().Unix(),
		Likes:      0,
		Provenance: models.Optimistic,
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return entry
	}
	e.journal.RecordNewEntry(entry)
	e.scheduleRefreshLocked()
	feed := e.recomputeLocked()
	e.mu.Unlock()

	e.publish(feed)
	return entry
}

// RollbackEntry removes an optimistic entry whose submission failed, leaving
// the viewer free to retry.
func (e *Engine) RollbackEntry(id string) {
	e.mu.Lock()
	if !e.journal.Remove(id) {
		e.mu.Unlock()
		return
	}
	feed := e.recomputeLocked()
	e.mu.Unlock()
	e.publish(feed)
}

// SubmitLikeDelta applies an optimistic like adjustment to the entry with
// the given id and author, wherever it is currently held.
func (e *Engine) SubmitLikeDelta(author, id string, delta int) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	found := e.adjustLikesLocked(author, id, delta)
	if e.journal.RecordLikeDelta(author, id, delta) {
		found = true
	}
	if !found {
		e.mu.Unlock()
		logg.Info("feed", "Like delta for unknown entry id="+id)
		return
	}
	feed := e.recomputeLocked()
	e.mu.Unlock()
	e.publish(feed)
}

// handlePushedEntry admits a stream-pushed entry when its author is the
// viewer or a followed identity. Authorization is at display time; the
// write already happened on the chain.
func (e *Engine) handlePushedEntry(entry models.Entry) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if !entry.AuthorIs(e.viewer) && !e.follows.Contains(entry.Author) {
		e.mu.Unlock()
		return
	}
	entry.Provenance = models.Pushed

	// A re-delivered event updates the held copy instead of duplicating it.
	absorbed := false
	for i := range e.pushed {
		if sameConfirmedEntry(e.pushed[i].entry, entry) {
			if entry.Likes > e.pushed[i].entry.Likes {
				e.pushed[i].entry.Likes = entry.Likes
			}
			absorbed = true
			break
		}
	}
	if !absorbed {
		e.pushed = append(e.pushed, item{entry: entry, seq: e.nextSeq()})
	}

	e.journal.ReconcileAgainst([]models.Entry{entry})
	feed := e.recomputeLocked()
	e.mu.Unlock()
	e.publish(feed)
}

// handleLikeChanged overwrites the like count of the entry matching the
// update's exact (id, author). Push events carry authoritative ids, so no
// fuzzy matching here.
func (e *Engine) handleLikeChanged(u models.LikeUpdate) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	found := e.overwriteLikesLocked(u.Author, u.ID, u.Likes)
	if e.journal.SetLikes(u.Author, u.ID, u.Likes) {
		found = true
	}
	if !found {
		e.mu.Unlock()
		return
	}
	feed := e.recomputeLocked()
	e.mu.Unlock()
	e.publish(feed)
}

// CurrentFeed returns the latest published feed.
func (e *Engine) CurrentFeed() []models.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	res := make([]models.Entry, len(e.feed))
	copy(res, e.feed)
	return res
}

// Subscribe registers a callback invoked with every newly published feed.
// The feed passed to callbacks must be treated as read-only.
func (e *Engine) Subscribe(fn func([]models.Entry)) func() {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Close tears the engine down: the pending delayed refresh is cancelled and
// stream subscriptions are released.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.refreshTimer != nil {
		e.refreshTimer.Stop()
		e.refreshTimer = nil
	}
	unsubs := e.unsubs
	e.unsubs = nil
	e.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
}

// --- internals ---

func (e *Engine) scheduleRefreshLocked() {
	if e.refreshTimer != nil {
		e.refreshTimer.Stop()
	}
	e.refreshTimer = time.AfterFunc(e.refreshDelay, func() {
		e.Refresh(context.Background())
	})
}

// identitiesLocked returns the viewer plus followed identities, lowercased,
// deduplicated, in deterministic order.
func (e *Engine) identitiesLocked() []string {
	seen := map[string]struct{}{}
	ids := make([]string, 0, 1)
	for _, id := range append([]string{strings.ToLower(e.viewer)}, e.follows.List()...) {
		id = strings.ToLower(id)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) allowedLocked() map[string]struct{} {
	allowed := map[string]struct{}{strings.ToLower(e.viewer): {}}
	for _, a := range e.follows.List() {
		allowed[strings.ToLower(a)] = struct{}{}
	}
	return allowed
}

func (e *Engine) adjustLikesLocked(author, id string, delta int) bool {
	return e.eachHeldLocked(author, id, func(entry *models.Entry) {
		entry.Likes += delta
		if entry.Likes < 0 {
			entry.Likes = 0
		}
	})
}

func (e *Engine) overwriteLikesLocked(author, id string, likes int) bool {
	return e.eachHeldLocked(author, id, func(entry *models.Entry) {
		entry.Likes = likes
	})
}

// eachHeldLocked applies fn to every snapshot or pushed copy of the entry
// with the given exact (id, author).
func (e *Engine) eachHeldLocked(author, id string, fn func(*models.Entry)) bool {
	found := false
	for _, items := range e.snapshots {
		for i := range items {
			if items[i].entry.ID == id && items[i].entry.AuthorIs(author) {
				fn(&items[i].entry)
				found = true
			}
		}
	}
	for i := range e.pushed {
		if e.pushed[i].entry.ID == id && e.pushed[i].entry.AuthorIs(author) {
			fn(&e.pushed[i].entry)
			found = true
		}
	}
	return found
}

// recomputeLocked runs the aggregation: collect, dedup, merge the journal,
// sort, publish. It is synchronous and never suspends, so no reader ever
// observes a feed mid-merge. Re-running it on the same inputs yields an
// identical feed.
func (e *Engine) recomputeLocked() []models.Entry {
	allowed := e.allowedLocked()

	// Collect confirmed entries from snapshots (deterministic identity
	// order) and the pushed set, restricted to visible authors.
	keys := make([]string, 0, len(e.snapshots))
	for k := range e.snapshots {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var confirmed []item
	for _, k := range keys {
		if _, ok := allowed[k]; !ok {
			continue
		}
		confirmed = append(confirmed, e.snapshots[k]...)
	}
	for _, p := range e.pushed {
		if _, ok := allowed[strings.ToLower(p.entry.Author)]; ok {
			confirmed = append(confirmed, p)
		}
	}

	merged := dedupConfirmed(confirmed)

	// Merge the journal: optimistic entries are superseded by a confirmed
	// counterpart, confirmed mirrors dedup against it, anything unmatched
	// is retained as-is.
	for _, j := range e.journal.items() {
		if !j.entry.Confirmed() {
			if idx := findMatch(merged, j.entry, sameLogicalEntry); idx >= 0 {
				m := mergeOptimistic(merged[idx].entry, j.entry)
				seq := merged[idx].seq
				if j.seq > seq {
					seq = j.seq
				}
				merged[idx] = item{entry: m, seq: seq}
			} else {
				merged = append(merged, j)
			}
			continue
		}
		if idx := findMatch(merged, j.entry, sameConfirmedEntry); idx >= 0 {
			if j.entry.Likes > merged[idx].entry.Likes {
				merged[idx].entry.Likes = j.entry.Likes
			}
		} else {
			merged = append(merged, j)
		}
	}

	// Newest first; equal timestamps break toward the most recently merged.
	sort.SliceStable(merged, func(a, b int) bool {
		if merged[a].entry.CreatedAt != merged[b].entry.CreatedAt {
			return merged[a].entry.CreatedAt > merged[b].entry.CreatedAt
		}
		return merged[a].seq > merged[b].seq
	})

	feed := make([]models.Entry, len(merged))
	for i := range merged {
		feed[i] = merged[i].entry
	}
	e.feed = feed
	return feed
}

// dedupConfirmed collapses confirmed duplicates, keeping the copy with the
// higher like count (a later push may carry a more current number).
func dedupConfirmed(items []item) []item {
	res := make([]item, 0, len(items))
	for _, it := range items {
		idx := findMatch(res, it.entry, sameConfirmedEntry)
		if idx < 0 {
			res = append(res, it)
			continue
		}
		if it.entry.Likes > res[idx].entry.Likes {
			res[idx].entry.Likes = it.entry.Likes
		}
		if it.seq > res[idx].seq {
			res[idx].seq = it.seq
		}
	}
	return res
}

func findMatch(items []item, e models.Entry, same func(a, b models.Entry) bool) int {
	for i := range items {
		if same(items[i].entry, e) {
			return i
		}
	}
	return -1
}

// publish hands the new feed to subscribers, outside the engine lock so a
// subscriber may call back in.
func (e *Engine) publish(feed []models.Entry) {
	e.mu.Lock()
	subs := make([]func([]models.Entry), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		fn(feed)
	}
}
