package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"runtime"
	"strings"
	"sync"
	"time"

	"example.com/chainfeed/internal/logger"
	"example.com/chainfeed/internal/models"
	"example.com/chainfeed/internal/store"
	"example.com/chainfeed/internal/stream"
	"github.com/segmentio/kafka-go"
)

var logg = logger.New()

// Indexer consumes finalized chain events and maintains the Cassandra read
// model that snapshot fetches are served from.
type Indexer struct {
	store        store.StoreInterface
	reader       stream.KafkaReader
	workerCount  int
	jobQueueSize int
}

// New creates a new concurrent Indexer using pre-initialized dependencies.
func New(store store.StoreInterface, reader stream.KafkaReader, workerCount, jobQueueSize int) *Indexer {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	if jobQueueSize <= 0 {
		jobQueueSize = workerCount * 10
	}
	return &Indexer{
		store:        store,
		reader:       reader,
		workerCount:  workerCount,
		jobQueueSize: jobQueueSize,
	}
}

// Run starts message reading and concurrent processing.
func (ix *Indexer) Run(ctx context.Context) {
	if ix.workerCount <= 0 {
		ix.workerCount = 1
	}
	if ix.jobQueueSize <= 0 {
		ix.jobQueueSize = 10
	}

	logg.Info("indexer", "Starting "+fmt.Sprint(ix.workerCount)+" workers with queue size "+fmt.Sprint(ix.jobQueueSize))

	jobs := make(chan kafka.Message, ix.jobQueueSize)
	var wg sync.WaitGroup

	for i := 0; i < ix.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ix.processLoop(ctx, jobs)
		}()
	}

	ix.readLoop(ctx, jobs)

	close(jobs)
	wg.Wait()
	logg.Info("indexer", "All workers stopped gracefully")
}

// readLoop reads Kafka messages and pushes them into a job queue.
func (ix *Indexer) readLoop(ctx context.Context, jobs chan<- kafka.Message) {
	var retry int
	for {
		select {
		case <-ctx.Done():
			return
		default:
			msg, err := ix.reader.ReadMessage(ctx)
			if err != nil {
				backoff := time.Duration(math.Min(1000, math.Pow(2, float64(retry)))) * time.Millisecond
				logg.Error("indexer", "Kafka read error, backing off", err)
				if !waitWithContext(ctx, backoff) {
					return
				}
				retry++
				continue
			}
			retry = 0

			if len(msg.Value) == 0 {
				if !waitWithContext(ctx, 50*time.Millisecond) {
					return
				}
				continue
			}

			select {
			case jobs <- msg:
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
				logg.Info("indexer", "Queue full, waiting to enqueue Kafka message")
			}
		}
	}
}

// processLoop handles JSON decoding and read model updates concurrently.
func (ix *Indexer) processLoop(ctx context.Context, jobs <-chan kafka.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-jobs:
			if !ok {
				return
			}
			if err := ix.Apply(ctx, msg); err != nil {
				logg.Error("indexer", "Failed to apply chain event", err)
			}
		}
	}
}

// Apply dispatches one chain event into the read model.
func (ix *Indexer) Apply(ctx context.Context, msg kafka.Message) error {
	switch string(msg.Key) {
	case stream.KeyEntryCreated:
		var raw models.RawEntry
		if err := json.Unmarshal(msg.Value, &raw); err != nil {
			return fmt.Errorf("invalid entry-created payload: %w", err)
		}
		entry, err := raw.Validate(models.Authoritative)
		if err != nil {
			return err
		}
		return ix.store.UpsertEntry(ctx, entry)

	case stream.KeyEntryLiked:
		var u models.LikeUpdate
		if err := json.Unmarshal(msg.Value, &u); err != nil {
			return fmt.Errorf("invalid like-changed payload: %w", err)
		}
		if u.ID == "" || u.Author == "" || u.Likes < 0 {
			return fmt.Errorf("%w: incomplete like update", models.ErrMalformedEntry)
		}
		return ix.store.ApplyLike(ctx, u.Author, u.ID, u.Likes)

	case stream.KeyProfileCreated:
		var p models.Profile
		if err := json.Unmarshal(msg.Value, &p); err != nil {
			return fmt.Errorf("invalid profile-created payload: %w", err)
		}
		if strings.TrimSpace(p.Address) == "" {
			return fmt.Errorf("%w: profile without address", models.ErrMalformedEntry)
		}
		return ix.store.UpsertProfile(ctx, p)

	default:
		logg.Debug("indexer", "Ignoring event with key "+string(msg.Key))
		return nil
	}
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

// Close shuts down Kafka reader and Cassandra session.
func (ix *Indexer) Close() error {
	logg.Info("indexer", "Closing Kafka reader")
	if err := ix.reader.Close(); err != nil {
		logg.Error("indexer", "Error closing Kafka reader", err)
		return err
	}

	logg.Info("indexer", "Closing Cassandra session")
	ix.store.Close()
	return nil
}
