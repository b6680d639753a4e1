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

	"github.com/clinicore/token-scheduling/internal/db"
)

// The simulator hammers the booking API with concurrent workers that all
// target a small set of doctors on the same date, so most bookings race for
// the same slots. A correct engine produces exactly one success per slot and
// conflicts for everyone else, never a double booking.

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	DoctorLimit  int
	PatientLimit int
	PostgresDSN  string
}

type DataPool struct {
	Doctors  []uuid.UUID
	Patients []uuid.UUID
	Date     string

	mu    sync.RWMutex
	slots map[uuid.UUID][]string // doctor -> slot times
}

func (dp *DataPool) SetSlots(doctorID uuid.UUID, times []string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.slots[doctorID] = times
}

func (dp *DataPool) RandomSlot(doctorID uuid.UUID) (string, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	times := dp.slots[doctorID]
	if len(times) == 0 {
		return "", false
	}
	return times[rand.Intn(len(times))], true
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
	p95idx := len(latencies) * 95 / 100
	if p95idx >= len(latencies) {
		p95idx = len(latencies) - 1
	}
	p95 = latencies[p95idx]
	return avg, p50, p95
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	pool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	log.Printf("loaded %d doctors and %d patients, booking date %s",
		len(pool.Doctors), len(pool.Patients), pool.Date)

	client := &http.Client{Timeout: 10 * time.Second}

	// Prime the slot cache per doctor from the API.
	for _, doctorID := range pool.Doctors {
		times, err := fetchSlots(client, cfg.APIBaseURL, doctorID, pool.Date)
		if err != nil {
			log.Printf("fetch slots for %s: %v", doctorID, err)
			continue
		}
		pool.SetSlots(doctorID, times)
	}

	var metrics OperationMetrics
	runCtx, stop := context.WithTimeout(context.Background(), cfg.Duration)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(runCtx, client, cfg, pool, &metrics)
		}()
	}
	wg.Wait()

	avg, p50, p95 := metrics.Stats()
	log.Printf("bookings: total=%d success=%d conflict=%d error=%d",
		metrics.Total, metrics.Success, metrics.Conflict, metrics.Error)
	log.Printf("latency: avg=%s p50=%s p95=%s", avg, p50, p95)
}

func worker(ctx context.Context, client *http.Client, cfg SimConfig, pool *DataPool, metrics *OperationMetrics) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		doctorID := pool.Doctors[rand.Intn(len(pool.Doctors))]
		patientID := pool.Patients[rand.Intn(len(pool.Patients))]
		slotTime, ok := pool.RandomSlot(doctorID)
		if !ok {
			continue
		}

		body, _ := json.Marshal(map[string]any{
			"doctor_id":  doctorID.String(),
			"patient_id": patientID.String(),
			"date":       pool.Date,
			"time":       slotTime,
			"confirmed":  true,
		})

		start := time.Now()
		resp, err := client.Post(cfg.APIBaseURL+"/appointments", "application/json", bytes.NewReader(body))
		latency := time.Since(start)
		if err != nil {
			metrics.Record(latency, false, false)
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		metrics.Record(latency,
			resp.StatusCode == http.StatusCreated,
			resp.StatusCode == http.StatusConflict)
	}
}

func fetchSlots(client *http.Client, baseURL string, doctorID uuid.UUID, date string) ([]string, error) {
	url := fmt.Sprintf("%s/doctors/%s/slots?date=%s", baseURL, doctorID, date)
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var slots []struct {
		Time  string `json:"time"`
		Token int    `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&slots); err != nil {
		return nil, err
	}

	times := make([]string, len(slots))
	for i, s := range slots {
		times[i] = s.Time
	}
	return times, nil
}

func loadDataPool(ctx context.Context, pgPool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	pool := &DataPool{
		Date:  nextWeekday().Format("2006-01-02"),
		slots: make(map[uuid.UUID][]string),
	}

	rows, err := pgPool.Query(ctx, `SELECT id FROM doctors LIMIT $1`, cfg.DoctorLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		pool.Doctors = append(pool.Doctors, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	prows, err := pgPool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, err
	}
	defer prows.Close()
	for prows.Next() {
		var id uuid.UUID
		if err := prows.Scan(&id); err != nil {
			return nil, err
		}
		pool.Patients = append(pool.Patients, id)
	}
	if err := prows.Err(); err != nil {
		return nil, err
	}

	if len(pool.Doctors) == 0 || len(pool.Patients) == 0 {
		return nil, fmt.Errorf("no doctors or patients seeded, run cmd/seed first")
	}
	return pool, nil
}

// nextWeekday returns the next Mon-Fri date, matching the seeded schedules.
func nextWeekday() time.Time {
	d := time.Now().AddDate(0, 0, 1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("API_BASE_URL", "http://127.0.0.1:8080"),
		Duration:     getDurationEnv("SIM_DURATION", 30*time.Second),
		Workers:      getIntEnv("SIM_WORKERS", 20),
		DoctorLimit:  getIntEnv("SIM_DOCTORS", 5),
		PatientLimit: getIntEnv("SIM_PATIENTS", 500),
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
