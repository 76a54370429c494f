package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SessionResp represents the gateway's response to a session request.
type SessionResp struct {
	Address    string `json:"address"`
	Registered bool   `json:"registered"`
	Token      string `json:"token"`
}

// EntryReq represents the JSON payload for creating an entry.
type EntryReq struct {
	Content string `json:"content"`
}

func main() {
	// --- Command-line flags ---
	var server string
	var viewer string
	var duration int
	var concurrency int
	var csvFile string
	var trimPercent float64

	flag.StringVar(&server, "server", "https://localhost:8080", "gateway base URL")
	flag.StringVar(&viewer, "viewer", "", "viewer address the gateway is configured for")
	flag.IntVar(&duration, "duration", 30, "duration in seconds")
	flag.IntVar(&concurrency, "c", 50, "number of concurrent goroutines")
	flag.StringVar(&csvFile, "csv", "latencies.csv", "CSV file to save latencies")
	flag.Float64Var(&trimPercent, "trim", 1.0, "percent of latency to trim from top and bottom for trimmed mean")
	flag.Parse()

	if viewer == "" {
		panic("-viewer is required and must match the gateway's VIEWER_ADDRESS")
	}

	// The benchmark gateway runs with self-signed certs, so skip verification
	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
		},
		Timeout: 10 * time.Second,
	}

	// --- Obtain a session token for the viewer ---
	fmt.Printf("Opening session for viewer %s...\n", viewer)
	payload := map[string]string{"address": viewer}
	b, _ := json.Marshal(payload)

	resp, err := client.Post(server+"/session", "application/json", bytes.NewReader(b))
	if err != nil {
		panic(fmt.Sprintf("failed to open session: %v", err))
	}
	var session SessionResp
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		resp.Body.Close()
		panic(fmt.Sprintf("failed to decode session response: %v", err))
	}
	resp.Body.Close()
	fmt.Printf("Session opened (registered=%v).\n", session.Registered)

	// --- Run load for the configured duration ---
	fmt.Printf("Running load for %d seconds with concurrency %d...\n", duration, concurrency)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(duration)*time.Second)
	defer cancel()

	var successCount uint64
	var failCount uint64
	var latencies []float64
	var latMu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			n := 0
			for ctx.Err() == nil {
				var req *http.Request
				if n%5 == 0 {
					// Every fifth request posts a new entry, the rest read the feed
					body := EntryReq{Content: fmt.Sprintf("load entry %d-%d", id, n)}
					eb, _ := json.Marshal(body)
					req, _ = http.NewRequestWithContext(ctx, "POST", server+"/entries", bytes.NewReader(eb))
					req.Header.Set("Content-Type", "application/json")
				} else {
					req, _ = http.NewRequestWithContext(ctx, "GET", server+"/feed", nil)
				}
				req.Header.Set("Authorization", "Bearer "+session.Token)

				start := time.Now()
				resp, err := client.Do(req)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					atomic.AddUint64(&failCount, 1)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				if resp.StatusCode >= 400 {
					atomic.AddUint64(&failCount, 1)
				} else {
					atomic.AddUint64(&successCount, 1)
					lat := time.Since(start).Seconds() * 1000
					latMu.Lock()
					latencies = append(latencies, lat)
					latMu.Unlock()
				}
				n++
			}
		}(i)
	}
	wg.Wait()

	// --- Compute and print statistics ---
	fmt.Printf("Requests: success=%d fail=%d\n", successCount, failCount)
	if len(latencies) == 0 {
		fmt.Println("No successful requests recorded.")
		return
	}

	meanVal := trimmedMean(latencies, trimPercent)
	p50 := trimmedPercentile(latencies, 50, trimPercent)
	p90 := trimmedPercentile(latencies, 90, trimPercent)
	p99 := trimmedPercentile(latencies, 99, trimPercent)
	fmt.Printf("Latency (ms): mean=%.2f p50=%.2f p90=%.2f p99=%.2f\n", meanVal, p50, p90, p99)
	fmt.Printf("Throughput: %.2f req/sec\n", float64(successCount)/float64(duration))

	// --- Export latencies to CSV ---
	f, err := os.Create(csvFile)
	if err != nil {
		fmt.Printf("failed to create CSV file: %v\n", err)
		return
	}
	w := csv.NewWriter(f)
	w.Write([]string{"latency_ms"})
	for _, v := range latencies {
		w.Write([]string{fmt.Sprintf("%.3f", v)})
	}
	w.Flush()
	f.Close()
	fmt.Printf("Saved %s\n", csvFile)
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
