package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocql/gocql"
	"github.com/segmentio/kafka-go"
)

// RawEntry mirrors the wire shape of an entry_created payload.
type RawEntry struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Likes     int    `json:"likes"`
}

func main() {
	const (
		total       = 100000 // total number of chain events to publish
		batchSize   = 100    // batch size for sending messages
		numWorkers  = 4      // number of parallel goroutines
		kafkaBroker = "localhost:9092"
		topic       = "chain-events"
		numAuthors  = 8 // synthetic author addresses to spread entries across
	)

	// Kafka writer with asynchronous sending enabled
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers: []string{kafkaBroker},
		Topic:   topic,
		Async:   true,
	})
	defer w.Close()

	// Generate synthetic author addresses for this benchmark run
	authors := make([]string, numAuthors)
	for i := range authors {
		authors[i] = fmt.Sprintf("0x%040x", i+1)
	}
	start := time.Now()

	var successCount uint64
	var failCount uint64

	// Channel for feeding message indexes to worker goroutines
	jobs := make(chan int, total)
	var wg sync.WaitGroup

	// --- Start worker goroutines ---
	for wID := 0; wID < numWorkers; wID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch := make([]kafka.Message, 0, batchSize)

			for i := range jobs {
				// Build a confirmed entry event
				entry := RawEntry{
					ID:        gocql.TimeUUID().String(),
					Author:    authors[i%numAuthors],
					Content:   "benchmark entry " + strconv.Itoa(i),
					Timestamp: time.Now().UnixMilli(),
					Likes:     0,
				}

				value, err := json.Marshal(entry)
				if err != nil {
					atomic.AddUint64(&failCount, 1)
					continue
				}

				batch = append(batch, kafka.Message{
					Key:   []byte("entry_created"),
					Value: value,
				})

				// Send batch when full
				if len(batch) == batchSize {
					if err := w.WriteMessages(context.Background(), batch...); err != nil {
						atomic.AddUint64(&failCount, uint64(len(batch)))
					} else {
						atomic.AddUint64(&successCount, uint64(len(batch)))
					}
					batch = batch[:0]
				}
			}

			// Send any remaining messages in the final batch
			if len(batch) > 0 {
				if err := w.WriteMessages(context.Background(), batch...); err != nil {
					atomic.AddUint64(&failCount, uint64(len(batch)))
				} else {
					atomic.AddUint64(&successCount, uint64(len(batch)))
				}
			}
		}()
	}

	// --- Feed jobs to workers ---
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Printf("Published %d entry_created events in %v\n", successCount, elapsed)
	fmt.Printf("Failed: %d\n", failCount)
	fmt.Printf("Throughput: %.2f msg/sec\n", float64(successCount)/elapsed.Seconds())
}
