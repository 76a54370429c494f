package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"github.com/segmentio/kafka-go"
)

// SessionResp represents the gateway's response to a session request.
type SessionResp struct {
	Address    string `json:"address"`
	Registered bool   `json:"registered"`
	Token      string `json:"token"`
}

// RawEntry mirrors the wire shape of an entry_created payload.
type RawEntry struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Likes     int    `json:"likes"`
}

// FeedEntry is the reconciled entry shape the gateway serves.
type FeedEntry struct {
	ID     string `json:"id"`
	Author string `json:"author"`
	Likes  int    `json:"likes"`
}

func main() {
	// CLI flags
	var serverAddr, viewer, broker, topic, author string
	var N, pollTimeout int

	flag.StringVar(&serverAddr, "server", "https://localhost:8080", "gateway base URL")
	flag.StringVar(&viewer, "viewer", "", "viewer address the gateway is configured for")
	flag.StringVar(&broker, "broker", "localhost:9092", "Kafka broker address")
	flag.StringVar(&topic, "topic", "chain-events", "chain events topic")
	flag.StringVar(&author, "author", "0x00000000000000000000000000000000000000e2", "author address for published events")
	flag.IntVar(&N, "events", 100, "number of chain events to publish")
	flag.IntVar(&pollTimeout, "timeout", 10, "seconds to wait for feed delivery")
	flag.Parse()

	if viewer == "" {
		panic("-viewer is required and must match the gateway's VIEWER_ADDRESS")
	}

	ctx := context.Background()

	// Self-signed benchmark certs, skip verification
	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
		},
		Timeout: 10 * time.Second,
	}

	// --- 1) Open a session for the viewer ---
	fmt.Printf("Opening session for viewer %s...\n", viewer)
	b, _ := json.Marshal(map[string]string{"address": viewer})
	resp, err := client.Post(serverAddr+"/session", "application/json", bytes.NewReader(b))
	if err != nil {
		panic(fmt.Sprintf("failed to open session: %v", err))
	}
	var session SessionResp
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		resp.Body.Close()
		panic(fmt.Sprintf("failed to decode session response: %v", err))
	}
	resp.Body.Close()

	// --- 2) Follow the benchmark author so pushed entries are admitted ---
	fmt.Printf("Following benchmark author %s...\n", author)
	b, _ = json.Marshal(map[string]string{"address": author})
	req, _ := http.NewRequestWithContext(ctx, "POST", serverAddr+"/follow", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+session.Token)
	resp, err = client.Do(req)
	if err != nil {
		panic(fmt.Sprintf("follow error: %v", err))
	}
	resp.Body.Close()

	// --- 3) Publish confirmed entry events to the chain topic ---
	fmt.Printf("Publishing %d entry_created events to %s...\n", N, topic)
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers: []string{broker},
		Topic:   topic,
	})
	defer w.Close()

	type eventRecord struct {
		EntryID   string
		Published time.Time
	}
	events := make([]eventRecord, 0, N)

	for i := 0; i < N; i++ {
		entry := RawEntry{
			ID:        gocql.TimeUUID().String(),
			Author:    author,
			Content:   fmt.Sprintf("e2e entry %d", i),
			Timestamp: time.Now().UnixMilli(),
			Likes:     0,
		}
		value, _ := json.Marshal(entry)
		msg := kafka.Message{
			Key:   []byte("entry_created"),
			Value: value,
		}
		if err := w.WriteMessages(ctx, msg); err != nil {
			fmt.Printf("publish error: %v\n", err)
			os.Exit(1)
		}
		events = append(events, eventRecord{EntryID: entry.ID, Published: time.Now()})
	}
	fmt.Println("Events published.")

	// --- 4) Poll the feed until each event shows up ---
	fmt.Println("Checking feed delivery...")
	var latencies []float64
	var latMu sync.Mutex
	var failCount int64
	var checksWg sync.WaitGroup

	for _, ev := range events {
		checksWg.Add(1)
		go func(ev eventRecord) {
			defer checksWg.Done()
			deadline := time.Now().Add(time.Duration(pollTimeout) * time.Second)

			// Poll the feed until the entry appears or timeout
			for time.Now().Before(deadline) {
				req, _ := http.NewRequestWithContext(ctx, "GET", serverAddr+"/feed", nil)
				req.Header.Set("Authorization", "Bearer "+session.Token)
				resp, err := client.Do(req)
				if err != nil {
					time.Sleep(200 * time.Millisecond)
					continue
				}

				var feed []FeedEntry
				if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
					resp.Body.Close()
					time.Sleep(200 * time.Millisecond)
					continue
				}
				resp.Body.Close()

				for _, fe := range feed {
					if fe.ID == ev.EntryID {
						lat := time.Since(ev.Published).Seconds() * 1000
						latMu.Lock()
						latencies = append(latencies, lat)
						latMu.Unlock()
						return
					}
				}
				time.Sleep(200 * time.Millisecond)
			}

			latMu.Lock()
			failCount++
			latMu.Unlock()
		}(ev)
	}

	checksWg.Wait()

	// --- 5) Compute latency statistics and export to CSV ---
	if len(latencies) == 0 {
		fmt.Println("No successful deliveries recorded.")
	} else {
		trimPercent := 1.0
		meanVal := trimmedMean(latencies, trimPercent)
		p50 := trimmedPercentile(latencies, 50, trimPercent)
		p90 := trimmedPercentile(latencies, 90, trimPercent)
		p99 := trimmedPercentile(latencies, 99, trimPercent)
		fmt.Printf("Delivery stats (ms): count=%d mean=%.2f p50=%.2f p90=%.2f p99=%.2f fails=%d\n",
			len(latencies), meanVal, p50, p90, p99, failCount)

		// Export latencies to CSV
		f, _ := os.Create("e2e_latencies.csv")
		w := csv.NewWriter(f)
		w.Write([]string{"latency_ms"})
		for _, v := range latencies {
			w.Write([]string{fmt.Sprintf("%.3f", v)})
		}
		w.Flush()
		f.Close()
		fmt.Println("Saved e2e_latencies.csv")
	}
}

// trimmedMean calculates the mean of a dataset excluding extreme values.
func trimmedMean(data []float64, trimPercent float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sort.Float64s(data)
	trim := int(float64(len(data)) * trimPercent / 100.0)
	if trim*2 >= len(data) {
		trim = len(data) / 2
	}
	data = data[trim : len(data)-trim]
	var sum float64
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

// trimmedPercentile returns a percentile value after trimming extremes.
func trimmedPercentile(data []float64, p float64, trimPercent float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sort.Float64s(data)
	trim := int(float64(len(data)) * trimPercent / 100.0)
	if trim*2 >= len(data) {
		trim = len(data) / 2
	}
	data = data[trim : len(data)-trim]
	return percentile(data, p)
}

// percentile calculates the requested percentile using linear interpolation.
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	k := (p / 100.0) * float64(len(data)-1)
	f := int(k)
	c := f + 1
	if c >= len(data) {
		return data[len(data)-1]
	}
	d0 := data[f] * (float64(c) - k)
	d1 := data[c] * (k - float64(f))
	return d0 + d1
}
