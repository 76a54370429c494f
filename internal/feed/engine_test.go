package feed

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"example.com/chainfeed/internal/follow"
	"example.com/chainfeed/internal/models"
	"example.com/chainfeed/internal/stream"
	"github.com/segmentio/kafka-go"
)

const testViewer = "0xAAA0000000000000000000000000000000000aaa"

//
// --- Helpers ---
//

// fakeFetcher is a mutex-guarded snapshot source. The engine's delayed
// refresh fires from a timer goroutine, so the test's writes must not race
// with the engine's reads.
type fakeFetcher struct {
	mu      sync.Mutex
	entries map[string][]models.Entry
	fail    map[string]bool
	calls   map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		entries: make(map[string][]models.Entry),
		fail:    make(map[string]bool),
		calls:   make(map[string]int),
	}
}

func (f *fakeFetcher) ListEntries(ctx context.Context, identity string) ([]models.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := strings.ToLower(identity)
	f.calls[id]++
	if f.fail[id] {
		return nil, context.DeadlineExceeded
	}
	res := make([]models.Entry, len(f.entries[id]))
	copy(res, f.entries[id])
	return res, nil
}

func (f *fakeFetcher) set(author string, entries ...models.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[strings.ToLower(author)] = entries
}

func (f *fakeFetcher) setFail(author string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[strings.ToLower(author)] = fail
}

func (f *fakeFetcher) callCount(author string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[strings.ToLower(author)]
}

func confirmed(id, author, content string, createdAt int64, likes int) models.Entry {
	return models.Entry{
		ID: id, Author: author, Content: content, CreatedAt: createdAt, Likes: likes,
	}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func setupEngine(t *testing.T) (*Engine, *fakeFetcher, *follow.Graph) {
	t.Helper()
	fetcher := newFakeFetcher()
	follows := follow.New()
	e := NewEngine(testViewer, fetcher, follows, Options{})
	t.Cleanup(e.Close)
	return e, fetcher, follows
}

//
// --- Snapshot merge and ordering ---
//

func TestRefresh_MergesViewerAndFollowedSnapshots(t *testing.T) {
	e, fetcher, follows := setupEngine(t)

	fetcher.set(testViewer, confirmed("1", testViewer, "mine", 100, 0))
	fetcher.set("0xbbb", confirmed("2", "0xbbb", "theirs", 300, 0))
	follows.Add("0xBBB")

	feed := e.CurrentFeed()
	if len(feed) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(feed))
	}
	if feed[0].ID != "2" || feed[1].ID != "1" {
		t.Fatalf("expected newest-first order [2 1], got [%s %s]", feed[0].ID, feed[1].ID)
	}
	for _, entry := range feed {
		if entry.Provenance != models.Authoritative {
			t.Fatalf("expected authoritative provenance, got %s", entry.Provenance)
		}
	}
}

func TestRefresh_NewestFirstOrdering(t *testing.T) {
	e, fetcher, _ := setupEngine(t)

	fetcher.set(testViewer,
		confirmed("a", testViewer, "oldest", 100, 0),
		confirmed("b", testViewer, "middle", 200, 0),
		confirmed("c", testViewer, "newest", 300, 0),
	)
	e.Refresh(context.Background())

	feed := e.CurrentFeed()
	if len(feed) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(feed))
	}
	if feed[0].ID != "c" || feed[1].ID != "b" || feed[2].ID != "a" {
		t.Fatalf("expected order [c b a], got [%s %s %s]", feed[0].ID, feed[1].ID, feed[2].ID)
	}
}

func TestRefresh_EqualTimestampsBreakTowardMostRecentlyMerged(t *testing.T) {
	e, fetcher, follows := setupEngine(t)

	// The viewer's snapshot is merged before the followed identity's, so on
	// an equal timestamp the followed entry is the more recently merged one.
	fetcher.set(testViewer, confirmed("1", testViewer, "mine", 100, 0))
	fetcher.set("0xbbb", confirmed("2", "0xbbb", "theirs", 100, 0))
	follows.Add("0xbbb")

	feed := e.CurrentFeed()
	if len(feed) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(feed))
	}
	if feed[0].ID != "2" || feed[1].ID != "1" {
		t.Fatalf("expected tie broken toward most recently merged [2 1], got [%s %s]", feed[0].ID, feed[1].ID)
	}
}

func TestRefresh_RepeatedIsIdempotent(t *testing.T) {
	e, fetcher, follows := setupEngine(t)

	fetcher.set(testViewer, confirmed("1", testViewer, "mine", 100, 2))
	fetcher.set("0xbbb",
		confirmed("2", "0xbbb", "theirs", 100, 0),
		confirmed("3", "0xbbb", "more", 300, 1),
	)
	follows.Add("0xbbb")

	first := e.CurrentFeed()
	e.Refresh(context.Background())
	e.Refresh(context.Background())
	second := e.CurrentFeed()

	if len(first) != len(second) {
		t.Fatalf("expected stable feed length, got %d then %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("feed changed on re-refresh at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestRefresh_PartialFailureKeepsOtherIdentities(t *testing.T) {
	e, fetcher, follows := setupEngine(t)

	fetcher.set(testViewer, confirmed("1", testViewer, "mine", 100, 0))
	fetcher.set("0xbbb", confirmed("2", "0xbbb", "theirs", 300, 0))
	fetcher.setFail("0xbbb", true)
	follows.Add("0xbbb")

	feed := e.CurrentFeed()
	if len(feed) != 1 || feed[0].ID != "1" {
		t.Fatalf("expected only the viewer's entry, got %+v", feed)
	}
}

func TestRefresh_FailureRetainsPreviousSnapshot(t *testing.T) {
	e, fetcher, follows := setupEngine(t)

	fetcher.set(testViewer, confirmed("1", testViewer, "mine", 100, 0))
	fetcher.set("0xbbb", confirmed("2", "0xbbb", "theirs", 300, 0))
	follows.Add("0xbbb")

	if len(e.CurrentFeed()) != 2 {
		t.Fatalf("expected both entries before the failure")
	}

	// The identity contributes nothing new this round; what was already
	// merged stays on display.
	fetcher.setFail("0xbbb", true)
	e.Refresh(context.Background())

	feed := e.CurrentFeed()
	if len(feed) != 2 {
		t.Fatalf("expected previous snapshot retained, got %+v", feed)
	}
}

//
// --- Follow graph triggers ---

func TestFollowMutation_TriggersRefreshSynchronously(t *testing.T) {
	e, fetcher, follows := setupEngine(t)
	fetcher.set("0xbbb", confirmed("2", "0xbbb", "theirs", 300, 0))

	if len(e.CurrentFeed()) != 0 {
		t.Fatalf("expected empty feed before follow")
	}

	follows.Add("0xBBB")

	feed := e.CurrentFeed()
	if len(feed) != 1 || feed[0].ID != "2" {
		t.Fatalf("expected followed entry after Add, got %+v", feed)
	}
}

func TestUnfollow_PrunesEntriesFromFeed(t *testing.T) {
	e, fetcher, follows := setupEngine(t)

	fetcher.set(testViewer, confirmed("1", testViewer, "mine", 100, 0))
	fetcher.set("0xbbb", confirmed("2", "0xbbb", "theirs", 300, 0))
	follows.Add("0xbbb")

	if len(e.CurrentFeed()) != 2 {
		t.Fatalf("expected both entries while following")
	}

	follows.Remove("0xbbb")

	feed := e.CurrentFeed()
	if len(feed) != 1 || feed[0].ID != "1" {
		t.Fatalf("expected followed entries pruned, got %+v", feed)
	}
}

func TestSetRegistered_TriggersRefreshOnlyOnTransition(t *testing.T) {
	e, fetcher, _ := setupEngine(t)

	e.SetRegistered(context.Background(), true)
	if fetcher.callCount(testViewer) != 1 {
		t.Fatalf("expected one fetch after registration, got %d", fetcher.callCount(testViewer))
	}

	e.SetRegistered(context.Background(), true)
	if fetcher.callCount(testViewer) != 1 {
		t.Fatalf("expected no fetch on repeated true, got %d", fetcher.callCount(testViewer))
	}

	e.SetRegistered(context.Background(), false)
	e.SetRegistered(context.Background(), true)
	if fetcher.callCount(testViewer) != 2 {
		t.Fatalf("expected fetch on false-to-true transition, got %d", fetcher.callCount(testViewer))
	}
}

//
// --- Optimistic entries ---

func TestSubmitNewLocalEntry_AppearsImmediately(t *testing.T) {
	e, _, _ := setupEngine(t)

	entry := e.SubmitNewLocalEntry("hello world")
	if entry.ID == "" || entry.Provenance != models.Optimistic {
		t.Fatalf("expected optimistic entry with provisional id, got %+v", entry)
	}
	if !entry.AuthorIs(testViewer) {
		t.Fatalf("expected viewer as author, got %s", entry.Author)
	}

	feed := e.CurrentFeed()
	if len(feed) != 1 || feed[0].ID != entry.ID {
		t.Fatalf("expected optimistic entry on the feed, got %+v", feed)
	}
}

func TestRollbackEntry_RemovesOptimisticEntry(t *testing.T) {
	e, _, _ := setupEngine(t)

	entry := e.SubmitNewLocalEntry("hello world")
	e.RollbackEntry(entry.ID)

	if feed := e.CurrentFeed(); len(feed) != 0 {
		t.Fatalf("expected empty feed after rollback, got %+v", feed)
	}
}

func TestSubmit_DelayedRefreshSupersedesOptimisticEntry(t *testing.T) {
	fetcher := newFakeFetcher()
	follows := follow.New()
	e := NewEngine(testViewer, fetcher, follows, Options{RefreshDelay: 20 * time.Millisecond})
	defer e.Close()

	entry := e.SubmitNewLocalEntry("hello world")

	// A like registered before confirmation must survive the supersession.
	e.SubmitLikeDelta(testViewer, entry.ID, 1)

	// The chain confirms the entry under its own id and timestamp.
	fetcher.set(testViewer, confirmed("42", testViewer, "hello world", 250, 0))

	waitFor(t, func() bool {
		feed := e.CurrentFeed()
		return len(feed) == 1 && feed[0].ID == "42"
	}, "optimistic entry to be superseded by id 42")

	feed := e.CurrentFeed()
	if feed[0].Provenance != models.Authoritative {
		t.Fatalf("expected authoritative provenance, got %s", feed[0].Provenance)
	}
	if feed[0].CreatedAt != 250 {
		t.Fatalf("expected chain timestamp 250, got %d", feed[0].CreatedAt)
	}
	if feed[0].Likes != 1 {
		t.Fatalf("expected pre-confirmation like kept, got %d likes", feed[0].Likes)
	}
}

func TestClose_CancelsPendingDelayedRefresh(t *testing.T) {
	fetcher := newFakeFetcher()
	e := NewEngine(testViewer, fetcher, follow.New(), Options{RefreshDelay: 20 * time.Millisecond})

	e.SubmitNewLocalEntry("hello world")
	e.Close()

	time.Sleep(80 * time.Millisecond)
	if n := fetcher.callCount(testViewer); n != 0 {
		t.Fatalf("expected no fetch after Close, got %d", n)
	}
}

//
// --- Likes ---

func TestSubmitLikeDelta_AdjustsHeldEntry(t *testing.T) {
	e, fetcher, _ := setupEngine(t)

	fetcher.set(testViewer, confirmed("1", testViewer, "mine", 100, 0))
	e.Refresh(context.Background())

	e.SubmitLikeDelta(testViewer, "1", 1)
	if feed := e.CurrentFeed(); feed[0].Likes != 1 {
		t.Fatalf("expected 1 like, got %d", feed[0].Likes)
	}

	e.SubmitLikeDelta(testViewer, "1", -1)
	e.SubmitLikeDelta(testViewer, "1", -1)
	if feed := e.CurrentFeed(); feed[0].Likes != 0 {
		t.Fatalf("expected like count floored at 0, got %d", feed[0].Likes)
	}
}

func TestHandleLikeChanged_OverwritesLikeCount(t *testing.T) {
	e, fetcher, _ := setupEngine(t)

	fetcher.set(testViewer, confirmed("1", testViewer, "mine", 100, 2))
	e.Refresh(context.Background())

	e.handleLikeChanged(models.LikeUpdate{ID: "1", Author: strings.ToUpper(testViewer), Likes: 7})

	if feed := e.CurrentFeed(); feed[0].Likes != 7 {
		t.Fatalf("expected like count overwritten to 7, got %d", feed[0].Likes)
	}
}

//
// --- Pushed events ---

func TestHandlePushedEntry_UnfollowedAuthorIgnored(t *testing.T) {
	e, _, _ := setupEngine(t)

	e.handlePushedEntry(confirmed("2", "0xbbb", "theirs", 300, 0))

	if feed := e.CurrentFeed(); len(feed) != 0 {
		t.Fatalf("expected entry from unfollowed author ignored, got %+v", feed)
	}
}

func TestHandlePushedEntry_FollowedAuthorAdmitted(t *testing.T) {
	e, _, follows := setupEngine(t)
	follows.Add("0xbbb")

	e.handlePushedEntry(confirmed("2", "0xBBB", "theirs", 300, 0))

	feed := e.CurrentFeed()
	if len(feed) != 1 || feed[0].ID != "2" {
		t.Fatalf("expected pushed entry on the feed, got %+v", feed)
	}
	if feed[0].Provenance != models.Pushed {
		t.Fatalf("expected pushed provenance, got %s", feed[0].Provenance)
	}
}

func TestHandlePushedEntry_RedeliveryKeepsHigherLikes(t *testing.T) {
	e, _, follows := setupEngine(t)
	follows.Add("0xbbb")

	e.handlePushedEntry(confirmed("2", "0xbbb", "theirs", 300, 2))
	e.handlePushedEntry(confirmed("2", "0xbbb", "theirs", 300, 5))
	e.handlePushedEntry(confirmed("2", "0xbbb", "theirs", 300, 1))

	feed := e.CurrentFeed()
	if len(feed) != 1 {
		t.Fatalf("expected redelivered event absorbed, got %d entries", len(feed))
	}
	if feed[0].Likes != 5 {
		t.Fatalf("expected higher like count kept, got %d", feed[0].Likes)
	}
}

func TestHandlePushedEntry_SnapshotCatchesUpWithoutDuplicate(t *testing.T) {
	e, fetcher, follows := setupEngine(t)
	follows.Add("0xbbb")

	e.handlePushedEntry(confirmed("2", "0xbbb", "theirs", 300, 3))

	// The next snapshot round includes the same confirmed record.
	fetcher.set("0xbbb", confirmed("2", "0xbbb", "theirs", 300, 1))
	e.Refresh(context.Background())

	feed := e.CurrentFeed()
	if len(feed) != 1 {
		t.Fatalf("expected single copy after snapshot caught up, got %d entries", len(feed))
	}
	if feed[0].Likes != 3 {
		t.Fatalf("expected higher like count kept across dedup, got %d", feed[0].Likes)
	}
}

func TestAttachStream_DeliversPushedEntries(t *testing.T) {
	e, _, follows := setupEngine(t)
	follows.Add("0xbbb")

	value := []byte(`{"id":"2","author":"0xbbb","content":"theirs","timestamp":300,"likes":0}`)
	mockKafka := &stream.MockKafka{
		ReadMessages: []kafka.Message{{Key: []byte("entry_created"), Value: value}},
	}
	strm := stream.NewStream(mockKafka)
	e.AttachStream(strm)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	go strm.Run(ctx)

	waitFor(t, func() bool {
		feed := e.CurrentFeed()
		return len(feed) == 1 && feed[0].ID == "2"
	}, "stream-pushed entry to reach the feed")
}

//
// --- Subscriptions ---

func TestSubscribe_NotifiedOnPublish(t *testing.T) {
	e, _, _ := setupEngine(t)

	var mu sync.Mutex
	var got [][]models.Entry
	unsub := e.Subscribe(func(feed []models.Entry) {
		mu.Lock()
		got = append(got, feed)
		mu.Unlock()
	})

	e.SubmitNewLocalEntry("hello world")

	mu.Lock()
	n := len(got)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("expected one publication, got %d", n)
	}

	unsub()
	e.SubmitNewLocalEntry("another")

	mu.Lock()
	n = len(got)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("expected no publication after unsubscribe, got %d", n)
	}
}
