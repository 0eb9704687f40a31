package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// The simulator plays whole conversations against the webhook: each worker is
// a distinct chat that registers and then repeatedly books the first slot it
// is offered. With every worker chasing the first slot, most attempts collide
// on the same (doctor, date, time) and the engine must resolve the race:
// exactly one confirmation per slot, conflicts redirected back to the time
// picker.

type SimConfig struct {
	APIBaseURL string
	Duration   time.Duration
	Workers    int
}

type Metrics struct {
	Booked    int64
	Conflicts int64
	Errors    int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) Record(latency time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, latency)
	m.mu.Unlock()
}

func (m *Metrics) Stats() (avg, p50, p95 time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.latencies) == 0 {
		return 0, 0, 0
	}
	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	avg = sum / time.Duration(len(sorted))
	p50 = sorted[len(sorted)*50/100]
	p95 = sorted[len(sorted)*95/100]
	return avg, p50, p95
}

type reply struct {
	Text   string   `json:"text"`
	Menu   []string `json:"menu,omitempty"`
	Inline []struct {
		Label    string `json:"label"`
		Callback string `json:"callback"`
	} `json:"inline,omitempty"`
}

type webhookResponse struct {
	Replies []reply `json:"replies"`
}

type Simulator struct {
	cfg     SimConfig
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := SimConfig{
		APIBaseURL: getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:   getDuration("SIM_DURATION", 30*time.Second),
		Workers:    getInt("SIM_WORKERS", 10),
	}
	if cfg.Workers <= 0 {
		log.Fatal("SIM_WORKERS must be > 0")
	}

	log.Printf("config: base_url=%s duration=%s workers=%d", cfg.APIBaseURL, cfg.Duration, cfg.Workers)

	gofakeit.Seed(time.Now().UnixNano())

	sim := &Simulator{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	sim.Run()
	sim.PrintReport()
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	// Distinct chat per worker; high base keeps clear of real chat IDs.
	chatID := int64(9_000_000_000) + int64(workerID)*1000 + rand.Int63n(1000)

	if err := s.register(ctx, chatID); err != nil {
		if ctx.Err() == nil {
			log.Printf("worker %d: registration failed: %v", workerID, err)
		}
		return
	}

	for ctx.Err() == nil {
		s.bookOnce(ctx, chatID)
	}
}

func (s *Simulator) register(ctx context.Context, chatID int64) error {
	steps := []map[string]any{
		{"chat_id": chatID, "text": "/start"},
		{"chat_id": chatID, "contact_phone": gofakeit.Phone()},
		{"chat_id": chatID, "text": gofakeit.Name()},
	}
	for _, ev := range steps {
		if _, err := s.send(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// bookOnce walks the wizard start to finish, always taking the first offered
// option so that workers pile onto the same slot.
func (s *Simulator) bookOnce(ctx context.Context, chatID int64) {
	resp, err := s.send(ctx, map[string]any{"chat_id": chatID, "text": "Book appointment"})
	if err != nil {
		s.fail(ctx, err)
		return
	}

	// Clinic, specialization, doctor, day, time: five first-option picks.
	for i := 0; i < 5; i++ {
		choice, ok := firstOption(resp)
		if !ok {
			// Nothing bookable (all slots taken); back off briefly.
			s.sendQuiet(ctx, chatID, "Main menu")
			sleepCtx(ctx, 500*time.Millisecond)
			return
		}
		resp, err = s.send(ctx, map[string]any{"chat_id": chatID, "text": choice})
		if err != nil {
			s.fail(ctx, err)
			return
		}
	}

	// Complaint prompt, then confirmation.
	resp, err = s.send(ctx, map[string]any{"chat_id": chatID, "text": "Skip"})
	if err != nil {
		s.fail(ctx, err)
		return
	}

	start := time.Now()
	resp, err = s.send(ctx, map[string]any{"chat_id": chatID, "text": "Confirm"})
	latency := time.Since(start)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	s.metrics.Record(latency)

	switch {
	case responseContains(resp, "Booked!"):
		atomic.AddInt64(&s.metrics.Booked, 1)
	case responseContains(resp, "Someone just took"):
		atomic.AddInt64(&s.metrics.Conflicts, 1)
		s.sendQuiet(ctx, chatID, "Main menu")
	default:
		atomic.AddInt64(&s.metrics.Errors, 1)
		s.sendQuiet(ctx, chatID, "Main menu")
	}
}

func (s *Simulator) send(ctx context.Context, event map[string]any) (*webhookResponse, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIBaseURL+"/webhook", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	var out webhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Simulator) sendQuiet(ctx context.Context, chatID int64, text string) {
	_, _ = s.send(ctx, map[string]any{"chat_id": chatID, "text": text})
}

func (s *Simulator) fail(ctx context.Context, err error) {
	if ctx.Err() == nil {
		atomic.AddInt64(&s.metrics.Errors, 1)
	}
}

// firstOption returns the first menu label that is an actual choice, skipping
// navigation entries and fully booked specializations.
func firstOption(resp *webhookResponse) (string, bool) {
	for _, r := range resp.Replies {
		for _, opt := range r.Menu {
			if opt == "Main menu" || opt == "Back to calendar" || opt == "Confirm" || opt == "Skip" {
				continue
			}
			if strings.HasSuffix(opt, "(fully booked)") {
				continue
			}
			return opt, true
		}
	}
	return "", false
}

func responseContains(resp *webhookResponse, substr string) bool {
	for _, r := range resp.Replies {
		if strings.Contains(r.Text, substr) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (s *Simulator) PrintReport() {
	booked := atomic.LoadInt64(&s.metrics.Booked)
	conflicts := atomic.LoadInt64(&s.metrics.Conflicts)
	errors := atomic.LoadInt64(&s.metrics.Errors)
	total := booked + conflicts + errors

	avg, p50, p95 := s.metrics.Stats()

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Duration: %s  Workers: %d\n\n", s.cfg.Duration, s.cfg.Workers)
	fmt.Printf("Booking attempts: %d\n", total)
	if total > 0 {
		fmt.Printf("  Booked:    %d (%.1f%%)\n", booked, float64(booked)/float64(total)*100)
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflicts, float64(conflicts)/float64(total)*100)
		fmt.Printf("  Errors:    %d (%.1f%%)\n", errors, float64(errors)/float64(total)*100)
	}
	fmt.Printf("Confirm latency: avg=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
