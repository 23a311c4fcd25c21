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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caremesh/scheduling/internal/config"
	"github.com/caremesh/scheduling/internal/db"
)

// Load generator: concurrent workers race to book the same
// practitioner's slots for tomorrow, a fraction of them validating
// pending appointments. Afterwards the appointments table is audited
// for overlapping confirmed windows, which must never exist.

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	ValidateRatio float64
	Patients      int
	PostgresDSN   string
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
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
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
	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]
	return avg, p50, p95
}

type appointmentList struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (l *appointmentList) Add(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = append(l.ids, id)
}

func (l *appointmentList) Random() (uuid.UUID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.ids) == 0 {
		return uuid.Nil, false
	}
	return l.ids[rand.Intn(len(l.ids))], true
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadSimConfig()

	practitionerID := os.Getenv("SIM_PRACTITIONER_ID")
	if practitionerID == "" {
		log.Fatal("SIM_PRACTITIONER_ID is required (seed first, then pick one)")
	}
	if _, err := uuid.Parse(practitionerID); err != nil {
		log.Fatalf("invalid SIM_PRACTITIONER_ID: %v", err)
	}

	patients := make([]uuid.UUID, cfg.Patients)
	for i := range patients {
		patients[i] = uuid.New()
	}

	// Everyone fights over tomorrow morning's slots.
	tomorrow := time.Now().AddDate(0, 0, 1)
	slots := make([]time.Time, 0, 8)
	base := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 9, 0, 0, 0, time.Local)
	for i := 0; i < 8; i++ {
		slots = append(slots, base.Add(time.Duration(i*30)*time.Minute))
	}

	var bookings, validations OperationMetrics
	created := &appointmentList{}

	client := &http.Client{Timeout: 10 * time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				if rand.Float64() < cfg.ValidateRatio {
					validateOne(ctx, client, cfg.APIBaseURL, practitionerID, created, &validations)
				} else {
					bookOne(ctx, client, cfg.APIBaseURL, practitionerID, patients, slots, created, &bookings)
				}
			}
		}()
	}
	wg.Wait()

	printReport("booking", &bookings)
	printReport("validate", &validations)

	auditConfirmedOverlaps(cfg.PostgresDSN)
}

func loadSimConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	return SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		ValidateRatio: getFloat("SIM_VALIDATE_RATIO", 0.3),
		Patients:      getInt("SIM_PATIENTS", 50),
		PostgresDSN:   baseCfg.PostgresDSN,
	}
}

func bookOne(ctx context.Context, client *http.Client, baseURL, practitionerID string, patients []uuid.UUID, slots []time.Time, created *appointmentList, m *OperationMetrics) {
	body, _ := json.Marshal(map[string]any{
		"patient_id":       patients[rand.Intn(len(patients))].String(),
		"practitioner_id":  practitionerID,
		"start":            slots[rand.Intn(len(slots))].Format(time.RFC3339),
		"duration_minutes": 30,
		"reason":           "load test",
	})

	start := time.Now()
	resp, err := post(ctx, client, baseURL+"/appointments", body)
	latency := time.Since(start)
	if err != nil {
		m.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		var out struct {
			ID uuid.UUID `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err == nil {
			created.Add(out.ID)
		}
		m.Record(latency, true, false)
	case http.StatusConflict, http.StatusUnprocessableEntity:
		io.Copy(io.Discard, resp.Body)
		m.Record(latency, false, true)
	default:
		io.Copy(io.Discard, resp.Body)
		m.Record(latency, false, false)
	}
}

func validateOne(ctx context.Context, client *http.Client, baseURL, practitionerID string, created *appointmentList, m *OperationMetrics) {
	id, ok := created.Random()
	if !ok {
		return
	}

	body, _ := json.Marshal(map[string]any{"practitioner_id": practitionerID})

	start := time.Now()
	resp, err := post(ctx, client, fmt.Sprintf("%s/appointments/%s/validate", baseURL, id), body)
	latency := time.Since(start)
	if err != nil {
		m.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		m.Record(latency, true, false)
	case http.StatusConflict:
		m.Record(latency, false, true)
	default:
		m.Record(latency, false, false)
	}
}

func post(ctx context.Context, client *http.Client, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return client.Do(req)
}

func printReport(name string, m *OperationMetrics) {
	avg, p50, p95 := m.Stats()
	log.Printf("%s: total=%d success=%d conflict=%d error=%d avg=%s p50=%s p95=%s",
		name,
		atomic.LoadInt64(&m.Total),
		atomic.LoadInt64(&m.Success),
		atomic.LoadInt64(&m.Conflict),
		atomic.LoadInt64(&m.Error),
		avg, p50, p95,
	)
}

// auditConfirmedOverlaps verifies the core invariant after the run: no
// two confirmed appointments for one practitioner overlap.
func auditConfirmedOverlaps(dsn string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 0)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	count, err := countConfirmedOverlaps(ctx, pool)
	if err != nil {
		log.Fatalf("audit query: %v", err)
	}

	if count > 0 {
		log.Fatalf("AUDIT FAILED: %d overlapping confirmed appointment pairs", count)
	}
	log.Println("audit passed: no overlapping confirmed appointments")
}

func countConfirmedOverlaps(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var count int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b
		  ON a.practitioner_id = b.practitioner_id
		 AND a.id < b.id
		 AND a.status = 'confirmed'
		 AND b.status = 'confirmed'
		 AND a.start_time < b.start_time + make_interval(mins => b.duration_minutes)
		 AND b.start_time < a.start_time + make_interval(mins => a.duration_minutes)
	`).Scan(&count)
	return count, err
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

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
