package stream

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"example.com/chainfeed/internal/logger"
	"example.com/chainfeed/internal/models"
	"github.com/segmentio/kafka-go"
)

var logg = logger.New()

// Stream turns the chain-events Kafka topic into push subscriptions.
// Handlers receive already-validated records; malformed payloads are logged
// and dropped at this boundary. Every subscription returns an unsubscribe
// handle so a torn-down consumer leaks no callbacks.
type Stream struct {
	reader KafkaReader

	mu            sync.Mutex
	nextID        int
	entryHandlers map[int]func(models.Entry)
	likeHandlers  map[int]func(models.LikeUpdate)
}

// NewStream creates a stream over a pre-initialized Kafka reader.
func NewStream(reader KafkaReader) *Stream {
	return &Stream{
		reader:        reader,
		entryHandlers: make(map[int]func(models.Entry)),
		likeHandlers:  make(map[int]func(models.LikeUpdate)),
	}
}

// SubscribeNewEntry registers a handler for entry-created events.
func (s *Stream) SubscribeNewEntry(h func(models.Entry)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.entryHandlers[id] = h
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.entryHandlers, id)
		s.mu.Unlock()
	}
}

// SubscribeLikeChanged registers a handler for like-changed events.
func (s *Stream) SubscribeLikeChanged(h func(models.LikeUpdate)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.likeHandlers[id] = h
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.likeHandlers, id)
		s.mu.Unlock()
	}
}

// Run reads events until the context is cancelled, backing off on read
// errors. Dispatch is sequential: one event is fully handled before the
// next is read.
func (s *Stream) Run(ctx context.Context) {
	var retry int
	for {
		select {
		case <-ctx.Done():
			return
		default:
			msg, err := s.reader.ReadMessage(ctx)
			if err != nil {
				backoff := time.Duration(math.Min(1000, math.Pow(2, float64(retry)))) * time.Millisecond
				logg.Error("stream", "Kafka read error, backing off", err)
				if !waitWithContext(ctx, backoff) {
					return
				}
				retry++
				continue
			}
			retry = 0

			if len(msg.Value) == 0 {
				continue
			}
			s.Dispatch(msg)
		}
	}
}

// Dispatch decodes one event message and fans it out to subscribers.
func (s *Stream) Dispatch(msg kafka.Message) {
	switch string(msg.Key) {
	case KeyEntryCreated:
		var raw models.RawEntry
		if err := json.Unmarshal(msg.Value, &raw); err != nil {
			logg.Error("stream", "Invalid JSON in entry-created event", err)
			return
		}
		entry, err := raw.Validate(models.Pushed)
		if err != nil {
			logg.Error("stream", "Dropping malformed entry-created event", err)
			return
		}
		for _, h := range s.snapshotEntryHandlers() {
			h(entry)
		}

	case KeyEntryLiked:
		var u models.LikeUpdate
		if err := json.Unmarshal(msg.Value, &u); err != nil {
			logg.Error("stream", "Invalid JSON in like-changed event", err)
			return
		}
		if u.ID == "" || u.Author == "" || u.Likes < 0 {
			logg.Error("stream", "Dropping malformed like-changed event", models.ErrMalformedEntry)
			return
		}
		for _, h := range s.snapshotLikeHandlers() {
			h(u)
		}

	default:
		logg.Debug("stream", "Ignoring event with key "+string(msg.Key))
	}
}

// Close shuts down the underlying reader.
func (s *Stream) Close() error {
	return s.reader.Close()
}

func (s *Stream) snapshotEntryHandlers() []func(models.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]func(models.Entry), 0, len(s.entryHandlers))
	for _, h := range s.entryHandlers {
		res = append(res, h)
	}
	return res
}

func (s *Stream) snapshotLikeHandlers() []func(models.LikeUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]func(models.LikeUpdate), 0, len(s.likeHandlers))
	for _, h := range s.likeHandlers {
		res = append(res, h)
	}
	return res
}

// waitWithContext waits for duration or context cancellation.
func waitWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
