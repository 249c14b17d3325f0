package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimasrn/smpp-transport/pkg/worker"
	"github.com/valyala/fasthttp"
)

type submitPayload struct {
	Phone    string `json:"phone"`
	Text     string `json:"text"`
	Priority string `json:"priority"`
}

type LoadConfig struct {
	URL               string
	RequestsPerSecond int
	DurationSeconds   int
	ConcurrentWorkers int
	// MultipartShare is the fraction of requests whose text needs two segments.
	MultipartShare float64
}

type Stats struct {
	accepted      atomic.Int64
	rejected      atomic.Int64
	errored       atomic.Int64
	mu            sync.Mutex
	responseTimes []time.Duration
}

func (s *Stats) add(d time.Duration) {
	s.mu.Lock()
	s.responseTimes = append(s.responseTimes, d)
	s.mu.Unlock()
}

func (s *Stats) sorted() []time.Duration {
	s.mu.Lock()
	out := make([]time.Duration, len(s.responseTimes))
	copy(out, s.responseTimes)
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(float64(len(sorted)) * p)
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

var priorities = []string{"high", "normal", "normal", "normal", "low"}

func payloads(cfg LoadConfig) [][]byte {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	out := make([][]byte, 0, 64)
	for i := 0; i < 64; i++ {
		text := "Your code is " + strconv.Itoa(100000+rng.Intn(900000))
		if rng.Float64() < cfg.MultipartShare {
			text = strings.Repeat("Load test multipart message. ", 7)
		}
		b, _ := json.Marshal(submitPayload{
			Phone:    fmt.Sprintf("+4915%09d", rng.Intn(1_000_000_000)),
			Text:     text,
			Priority: priorities[rng.Intn(len(priorities))],
		})
		out = append(out, b)
	}
	return out
}

func send(client *fasthttp.Client, url string, body []byte, stats *Stats) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBodyRaw(body)

	start := time.Now()
	err := client.DoTimeout(req, resp, 30*time.Second)
	stats.add(time.Since(start))
	switch {
	case err != nil:
		stats.errored.Add(1)
	case resp.StatusCode() == fasthttp.StatusAccepted:
		stats.accepted.Add(1)
	default:
		stats.rejected.Add(1)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func main() {
	cfg := LoadConfig{
		URL:               getEnvOrDefault("TARGET_URL", "http://localhost:8080/api/v1/sms"),
		RequestsPerSecond: getEnvIntOrDefault("REQUESTS_PER_SECOND", 500),
		DurationSeconds:   getEnvIntOrDefault("DURATION_SECONDS", 30),
		ConcurrentWorkers: getEnvIntOrDefault("CONCURRENT_WORKERS", 100),
		MultipartShare:    float64(getEnvIntOrDefault("MULTIPART_PERCENT", 10)) / 100,
	}

	fmt.Println("Starting load test...")
	fmt.Printf("Target: %s\n", cfg.URL)
	fmt.Printf("Target RPS: %d for %ds with %d workers\n", cfg.RequestsPerSecond, cfg.DurationSeconds, cfg.ConcurrentWorkers)
	fmt.Println(strings.Repeat("-", 50))

	client := &fasthttp.Client{MaxConnsPerHost: cfg.ConcurrentWorkers}
	stats := &Stats{}
	bodies := payloads(cfg)

	pool := worker.NewWorkerManager(cfg.RequestsPerSecond, cfg.ConcurrentWorkers, nil)
	pool.SetWorker(func(_ int, job interface{}) {
		send(client, cfg.URL, job.([]byte), stats)
	})
	go func() { _ = pool.Start() }()

	start := time.Now()
	sent := 0
	for sec := 0; sec < cfg.DurationSeconds; sec++ {
		batchStart := time.Now()
		for j := 0; j < cfg.RequestsPerSecond; j++ {
			pool.Enqueue(bodies[sent%len(bodies)])
			sent++
		}
		fmt.Printf("[%ds] accepted: %d | rejected: %d | errors: %d | backlog: %d\n",
			sec+1, stats.accepted.Load(), stats.rejected.Load(), stats.errored.Load(), pool.Busy())
		if elapsed := time.Since(batchStart); elapsed < time.Second {
			time.Sleep(time.Second - elapsed)
		}
	}
	for pool.Busy() > 0 {
		time.Sleep(50 * time.Millisecond)
	}
	pool.Exit()

	duration := time.Since(start)
	total := stats.accepted.Load() + stats.rejected.Load() + stats.errored.Load()
	times := stats.sorted()

	fmt.Println("\n" + strings.Repeat("=", 50))
	fmt.Println("LOAD TEST RESULTS")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Duration: %.2f seconds\n", duration.Seconds())
	fmt.Printf("Total requests: %d\n", total)
	fmt.Printf("Accepted (202): %d\n", stats.accepted.Load())
	fmt.Printf("Rejected: %d\n", stats.rejected.Load())
	fmt.Printf("Errors: %d\n", stats.errored.Load())
	fmt.Printf("Actual RPS: %.2f\n", float64(total)/duration.Seconds())
	if len(times) > 0 {
		fmt.Printf("\nResponse times:\n")
		fmt.Printf("  P50: %v\n", percentile(times, 0.50))
		fmt.Printf("  P95: %v\n", percentile(times, 0.95))
		fmt.Printf("  P99: %v\n", percentile(times, 0.99))
		fmt.Printf("  Min: %v\n", times[0])
		fmt.Printf("  Max: %v\n", times[len(times)-1])
	}
}
