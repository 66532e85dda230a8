package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Contention simulator: fires many concurrent booking requests at the same
// slot through the HTTP API and verifies that successes never exceed the
// slot's capacity. Everything beyond capacity must come back as slot_full,
// slot_being_booked or slot_unavailable.
type SimConfig struct {
	APIBaseURL string
	TenantID   string
	DoctorID   string
	Date       string
	Time       string
	Duration   int
	Capacity   int
	Workers    int
	PatientIDs []string
}

type Metrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&m.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&m.Success, 1)
	case conflict:
		atomic.AddInt64(&m.Conflict, 1)
	default:
		atomic.AddInt64(&m.Error, 1)
	}

	m.mu.Lock()
	m.latencies = append(m.latencies, latency)
	m.mu.Unlock()
}

func (m *Metrics) Report() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.latencies) == 0 {
		return "no requests recorded"
	}

	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	p := func(q int) time.Duration {
		idx := len(sorted) * q / 100
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}

	return fmt.Sprintf(
		"total=%d success=%d conflict=%d error=%d avg=%s min=%s max=%s p50=%s p95=%s",
		m.Total, m.Success, m.Conflict, m.Error,
		sum/time.Duration(len(sorted)), sorted[0], sorted[len(sorted)-1], p(50), p(95),
	)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := loadSimConfig()
	log.Printf("simulating %d concurrent bookings for doctor=%s slot=%s %s (capacity %d)",
		cfg.Workers, cfg.DoctorID, cfg.Date, cfg.Time, cfg.Capacity)

	metrics := &Metrics{}
	client := &http.Client{Timeout: 10 * time.Second}

	start := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		patientID := cfg.PatientIDs[i%len(cfg.PatientIDs)]
		go func() {
			defer wg.Done()
			<-start
			bookOnce(client, cfg, patientID, metrics)
		}()
	}

	close(start)
	wg.Wait()

	log.Println(metrics.Report())

	if metrics.Success > int64(cfg.Capacity) {
		log.Fatalf("INVARIANT VIOLATED: %d bookings succeeded for capacity %d", metrics.Success, cfg.Capacity)
	}
	log.Printf("capacity invariant held: %d/%d seats filled", metrics.Success, cfg.Capacity)
}

func bookOnce(client *http.Client, cfg SimConfig, patientID string, metrics *Metrics) {
	payload, _ := json.Marshal(map[string]any{
		"action":           "create_appointment",
		"patient_id":       patientID,
		"doctor_id":        cfg.DoctorID,
		"appointment_date": cfg.Date,
		"appointment_time": cfg.Time,
		"duration_minutes": cfg.Duration,
		"appointment_type": "consultation",
	})

	req, err := http.NewRequest(http.MethodPost, cfg.APIBaseURL+"/api/scheduling", bytes.NewReader(payload))
	if err != nil {
		metrics.Record(0, false, false)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", cfg.TenantID)

	begin := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(begin)
	if err != nil {
		metrics.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusCreated:
		metrics.Record(latency, true, false)
	case http.StatusConflict:
		metrics.Record(latency, false, true)
	default:
		metrics.Record(latency, false, false)
	}
}

func loadSimConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL: getenv("SIM_API_URL", "http://127.0.0.1:8080"),
		TenantID:   os.Getenv("SIM_TENANT_ID"),
		DoctorID:   os.Getenv("SIM_DOCTOR_ID"),
		Date:       os.Getenv("SIM_DATE"),
		Time:       getenv("SIM_TIME", "09:00"),
		Duration:   geti("SIM_DURATION_MIN", 30),
		Capacity:   geti("SIM_CAPACITY", 1),
		Workers:    geti("SIM_WORKERS", 20),
	}
	if cfg.TenantID == "" || cfg.DoctorID == "" || cfg.Date == "" {
		log.Fatal("SIM_TENANT_ID, SIM_DOCTOR_ID and SIM_DATE are required")
	}

	raw := os.Getenv("SIM_PATIENT_IDS")
	if raw == "" {
		log.Fatal("SIM_PATIENT_IDS is required (comma separated UUIDs)")
	}
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			cfg.PatientIDs = append(cfg.PatientIDs, id)
		}
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func geti(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
