package stream

import (
	"encoding/json"

	"example.com/chainfeed/internal/models"
	"github.com/segmentio/kafka-go"
)

// Submitter hands viewer actions to the transaction submission pipeline via
// the submissions topic. It is the thin stand-in for the contract-call
// path: confirmation comes back later through the event stream.
type Submitter struct {
	writer KafkaWriter
}

// NewSubmitter creates a submitter over a pre-initialized Kafka writer.
func NewSubmitter(writer KafkaWriter) *Submitter {
	return &Submitter{writer: writer}
}

// SubmitEntry queues an entry creation. A returned error means the action
// never left the client; the caller rolls back its optimistic entry.
func (s *Submitter) SubmitEntry(author, content string) error {
	return s.write(KeySubmitEntry, EntrySubmission{Author: author, Content: content}, "entry")
}

// SubmitLike queues a like or unlike for one confirmed entry.
func (s *Submitter) SubmitLike(author, entryID string, delta int) error {
	return s.write(KeySubmitLike, LikeSubmission{Author: author, EntryID: entryID, Delta: delta}, "like")
}

func (s *Submitter) write(key string, payload any, op string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return &models.SubmissionError{Op: op, Err: err}
	}
	if err := s.writer.WriteMessages(kafka.Message{Key: []byte(key), Value: data}); err != nil {
		logg.Error("stream", "Failed to write submission", err)
		return &models.SubmissionError{Op: op, Err: err}
	}
	return nil
}
