// simulate drives concurrent propose/confirm traffic against a running
// api-server to observe contention behavior: overlapping proposals must end
// with exactly one confirmed booking per window.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	ConfirmRatio float64
	TargetDate   string
}

type pendingRef struct {
	ID      string
	ActorID string
}

type DataPool struct {
	mu      sync.Mutex
	pending []pendingRef
}

func (dp *DataPool) Add(ref pendingRef) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.pending = append(dp.pending, ref)
}

func (dp *DataPool) Take(rng *rand.Rand) (pendingRef, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.pending) == 0 {
		return pendingRef{}, false
	}
	idx := rng.Intn(len(dp.pending))
	ref := dp.pending[idx]
	dp.pending = append(dp.pending[:idx], dp.pending[idx+1:]...)
	return ref, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, p50, p95
}

type Simulator struct {
	cfg     SimConfig
	client  *http.Client
	pool    *DataPool
	propose OperationMetrics
	confirm OperationMetrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := loadConfig()
	log.Printf("simulate starting: url=%s workers=%d duration=%s", cfg.APIBaseURL, cfg.Workers, cfg.Duration)

	gofakeit.Seed(time.Now().UnixNano())

	sim := &Simulator{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		pool:   &DataPool{},
	}
	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	return SimConfig{
		APIBaseURL:   getEnv("SIM_API_URL", "http://127.0.0.1:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 8),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.7),
		TargetDate:   getEnv("SIM_TARGET_DATE", time.Now().AddDate(0, 0, 7).Format("2006-01-02")),
	}
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
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if rng.Float64() < s.cfg.ConfirmRatio {
			if ref, ok := s.pool.Take(rng); ok {
				s.doConfirm(ctx, ref)
				continue
			}
		}
		s.doPropose(ctx, rng, workerID)
	}
}

// doPropose books deliberately overlapping windows: a small slot range on
// one date so that confirms collide.
func (s *Simulator) doPropose(ctx context.Context, rng *rand.Rand, workerID int) {
	actorID := fmt.Sprintf("sim-worker-%d", workerID)
	startSlots := []string{"09:00", "09:30", "10:00", "10:30", "11:00"}

	body := map[string]any{
		"action_type": "create_appointment",
		"actor_id":    actorID,
		"args": map[string]any{
			"patient_name":  gofakeit.Name(),
			"birth_date":    gofakeit.DateRange(time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)).Format("2006-01-02"),
			"resource_kind": "doctor",
			"date":          s.cfg.TargetDate,
			"time":          startSlots[rng.Intn(len(startSlots))],
			"duration_min":  30,
			"buffer_min":    10,
		},
	}

	start := time.Now()
	status, resp := s.post(ctx, "/assistant/intents", body)
	latency := time.Since(start)

	switch status {
	case http.StatusCreated:
		s.propose.Record(latency, true, false)
		var outcome struct {
			PendingActionID string `json:"pending_action_id"`
		}
		if err := json.Unmarshal(resp, &outcome); err == nil && outcome.PendingActionID != "" {
			s.pool.Add(pendingRef{ID: outcome.PendingActionID, ActorID: actorID})
		}
	case http.StatusConflict, http.StatusOK:
		s.propose.Record(latency, false, true)
	default:
		s.propose.Record(latency, false, false)
	}
}

func (s *Simulator) doConfirm(ctx context.Context, ref pendingRef) {
	start := time.Now()
	status, _ := s.post(ctx, "/pending-actions/"+ref.ID+"/confirm", map[string]any{"actor_id": ref.ActorID})
	latency := time.Since(start)

	switch status {
	case http.StatusOK:
		s.confirm.Record(latency, true, false)
	case http.StatusConflict, http.StatusGone:
		s.confirm.Record(latency, false, true)
	default:
		s.confirm.Record(latency, false, false)
	}
}

func (s *Simulator) post(ctx context.Context, path string, body any) (int, []byte) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIBaseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, payload
}

func (s *Simulator) PrintReport() {
	printOperationReport("propose", &s.propose)
	printOperationReport("confirm", &s.confirm)
}

func printOperationReport(name string, om *OperationMetrics) {
	avg, p50, p95 := om.Stats()
	log.Printf("%s: total=%d success=%d conflict=%d error=%d avg=%s p50=%s p95=%s",
		name,
		atomic.LoadInt64(&om.Total),
		atomic.LoadInt64(&om.Success),
		atomic.LoadInt64(&om.Conflict),
		atomic.LoadInt64(&om.Error),
		avg, p50, p95,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
