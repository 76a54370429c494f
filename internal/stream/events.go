package stream

// Message keys on the chain-events topic. The indexer and the gateway's
// push subscription both dispatch on these.
const (
	KeyEntryCreated   = "entry_created"
	KeyEntryLiked     = "entry_liked"
	KeyProfileCreated = "profile_created"
)

// Message keys on the submissions topic, written by the gateway and picked
// up by the transaction submission pipeline.
const (
	KeySubmitEntry = "submit_entry"
	KeySubmitLike  = "submit_like"
)

// EntrySubmission asks the submission pipeline to create an entry on chain.
type EntrySubmission struct {
	Author  string `json:"author"`
	Content string `json:"content"`
}

// LikeSubmission asks the submission pipeline to like or unlike an entry.
type LikeSubmission struct {
	Author  string `json:"author"`
	EntryID string `json:"entry_id"`
	Delta   int    `json:"delta"`
}
