// README: Bench checks: environment, migrations, the ride lifecycle over HTTP, the single-accept race, and queue load.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"trigo/internal/infra"
	"trigo/internal/modules/driver"
	"trigo/internal/types"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

// Bench drivers use fixed ids so a memory-store API can pre-approve them via TRIGO_SEED_DRIVERS.
const benchDriverPrefix = "bench-d"

var benchPickup = map[string]any{"lat": 12.6714, "lng": 123.8750}

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	runID   string
	drivers []string
	rideID  string
	winner  string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	drivers := make([]string, cfg.Concurrency)
	for i := range drivers {
		drivers[i] = fmt.Sprintf("%s%d", benchDriverPrefix, i)
	}
	return &Runner{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		runID:   uuid.NewString()[:8],
		drivers: drivers,
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: checkPostgres},
		{Name: "Env: Redis connect", Run: checkRedis},
		{Name: "Migration: apply (optional)", Run: applyMigrations},
		{Name: "Migration: tables exist", Run: checkTables},
		{Name: "HTTP: health", Run: checkHealth},
		{Name: "HTTP: missing token is rejected", Run: checkUnauthenticated},
		{Name: "Setup: bench drivers online", Run: prepareDrivers},
		{Name: "Flow: passenger requests a ride", Run: requestRide},
		{Name: "Flow: ride shows in driver queue", Run: checkQueue},
		{Name: "Race: concurrent accept has one winner", Run: raceAccept},
		{Name: "Flow: winner picks up and completes", Run: finishRide},
		{Name: "Race: accept vs cancel", Run: raceAcceptCancel},
		{Name: "Race: double create keeps one active ride", Run: raceCreate},
		{Name: "Perf: driver queue load", Run: perfQueue},
	}
}

func checkPostgres(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "dsn not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
}

func checkRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: statusSkip, Note: "redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
}

func applyMigrations(ctx context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: statusSkip, Note: "apply-migration=false"}
	}
	if r.db == nil {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	if err := infra.ApplyMigrations(ctx, r.db, r.cfg.MigrationsDir); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
}

func checkTables(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "db not configured"}
	}
	tables, err := extractTables(filepath.Join(r.cfg.MigrationsDir, "0001_init.sql"))
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, t).Scan(&exists); err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: statusFail, Note: "missing table " + t}
		}
	}
	return Result{Status: statusPass, Note: fmt.Sprintf("%d tables", len(tables))}
}

func checkHealth(ctx context.Context, r *Runner) Result {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/health", nil)
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return expect(resp.StatusCode, time.Since(start), http.StatusOK)
}

func checkUnauthenticated(ctx context.Context, r *Runner) Result {
	status, _, latency, err := r.call(ctx, http.MethodGet, "/api/passenger/rides/current", "", "", nil)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return expect(status, latency, http.StatusUnauthorized)
}

func prepareDrivers(ctx context.Context, r *Runner) Result {
	if r.cfg.JWTSecret == "" {
		return Result{Status: statusFail, Note: "jwt-secret is required"}
	}
	if r.db != nil {
		store := driver.NewStore(r.db)
		for _, id := range r.drivers {
			if err := store.Upsert(ctx, driver.Profile{UserID: types.ID(id), Approval: driver.ApprovalApproved}); err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
		}
	}
	for _, id := range r.drivers {
		status, body, _, err := r.call(ctx, http.MethodPost, "/api/driver/location", "driver", id, benchPickup)
		if err != nil || status != http.StatusOK {
			return Result{Status: statusFail, Note: fmt.Sprintf("%s location: status=%d err=%v %v", id, status, err, body["error"])}
		}
		status, _, _, err = r.call(ctx, http.MethodPost, "/api/driver/availability", "driver", id, map[string]any{"online": true})
		if err != nil || status != http.StatusOK {
			return Result{Status: statusFail, Note: fmt.Sprintf("%s availability: status=%d err=%v", id, status, err)}
		}
	}
	return Result{Status: statusPass, Note: fmt.Sprintf("%d drivers", len(r.drivers))}
}

func requestRide(ctx context.Context, r *Runner) Result {
	id, latency, err := r.createRide(ctx, r.passenger("flow"))
	if err != nil {
		return Result{Status: statusFail, Latency: latency, Note: err.Error()}
	}
	r.rideID = id
	return Result{Status: statusPass, Latency: latency, Note: "ride=" + id}
}

func checkQueue(ctx context.Context, r *Runner) Result {
	if r.rideID == "" {
		return Result{Status: statusSkip, Note: "no ride"}
	}
	status, body, latency, err := r.call(ctx, http.MethodGet, "/api/driver/rides/queue", "driver", r.drivers[0], nil)
	if err != nil || status != http.StatusOK {
		return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("status=%d err=%v", status, err)}
	}
	rides, _ := body["rides"].([]any)
	for _, item := range rides {
		if m, ok := item.(map[string]any); ok && m["id"] == r.rideID {
			return Result{Status: statusPass, Latency: latency, Note: fmt.Sprintf("distance_km=%v", m["distance_km"])}
		}
	}
	return Result{Status: statusFail, Latency: latency, Note: "ride not in queue"}
}

func raceAccept(ctx context.Context, r *Runner) Result {
	if r.rideID == "" {
		return Result{Status: statusSkip, Note: "no ride"}
	}
	statuses := make([]int, len(r.drivers))
	var wg sync.WaitGroup
	for i, id := range r.drivers {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			statuses[i], _, _, _ = r.call(ctx, http.MethodPost, "/api/driver/rides/"+r.rideID+"/accept", "driver", id, nil)
		}(i, id)
	}
	wg.Wait()

	success, conflicts := 0, 0
	for i, st := range statuses {
		switch st {
		case http.StatusOK:
			success++
			r.winner = r.drivers[i]
		case http.StatusConflict:
			conflicts++
		}
	}
	note := fmt.Sprintf("success=%d conflict=%d", success, conflicts)
	if success == 1 && conflicts == len(r.drivers)-1 {
		return Result{Status: statusPass, Note: note}
	}
	return Result{Status: statusFail, Note: note}
}

func finishRide(ctx context.Context, r *Runner) Result {
	if r.winner == "" {
		return Result{Status: statusSkip, Note: "no accepted ride"}
	}
	for _, step := range []string{"pickup", "complete"} {
		status, body, _, err := r.call(ctx, http.MethodPost, "/api/driver/rides/"+r.rideID+"/"+step, "driver", r.winner, nil)
		if err != nil || status != http.StatusOK {
			return Result{Status: statusFail, Note: fmt.Sprintf("%s: status=%d err=%v %v", step, status, err, body["error"])}
		}
	}
	return Result{Status: statusPass}
}

func raceAcceptCancel(ctx context.Context, r *Runner) Result {
	passenger := r.passenger("cancel")
	id, _, err := r.createRide(ctx, passenger)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	drv := r.drivers[0]

	var acceptStatus, cancelStatus int
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		acceptStatus, _, _, _ = r.call(ctx, http.MethodPost, "/api/driver/rides/"+id+"/accept", "driver", drv, nil)
	}()
	go func() {
		defer wg.Done()
		cancelStatus, _, _, _ = r.call(ctx, http.MethodPost, "/api/passenger/rides/"+id+"/cancel", "passenger", passenger, map[string]any{"reason": "bench"})
	}()
	wg.Wait()

	_, body, _, err := r.call(ctx, http.MethodGet, "/api/rides/"+id, "passenger", passenger, nil)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	final, _ := body["ride"].(map[string]any)
	status, _ := final["status"].(string)
	if status == "accepted" {
		// Release the driver for later checks.
		_, _, _, _ = r.call(ctx, http.MethodPost, "/api/passenger/rides/"+id+"/cancel", "passenger", passenger, nil)
	}
	note := fmt.Sprintf("accept=%d cancel=%d final=%s", acceptStatus, cancelStatus, status)
	if status != "accepted" && status != "canceled" {
		return Result{Status: statusFail, Note: note}
	}
	return Result{Status: statusPass, Note: note}
}

func raceCreate(ctx context.Context, r *Runner) Result {
	passenger := r.passenger("double")
	created := make([]string, r.cfg.Concurrency)
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created[i], _, _ = r.createRide(ctx, passenger)
		}(i)
	}
	wg.Wait()

	success := 0
	for _, id := range created {
		if id != "" {
			success++
			_, _, _, _ = r.call(ctx, http.MethodPost, "/api/passenger/rides/"+id+"/cancel", "passenger", passenger, nil)
		}
	}
	if success != 1 {
		return Result{Status: statusFail, Note: fmt.Sprintf("created=%d", success)}
	}
	return Result{Status: statusPass, Note: "created=1"}
}

func perfQueue(ctx context.Context, r *Runner) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				status, _, _, err := r.call(ctx, http.MethodGet, "/api/driver/rides/queue", "driver", id, nil)
				mu.Lock()
				if err != nil || status != http.StatusOK {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}(r.drivers[i])
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: statusFail, Note: fmt.Sprintf("no requests completed, errors=%d", errCount)}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func (r *Runner) passenger(tag string) string {
	return fmt.Sprintf("bench-p-%s-%s", r.runID, tag)
}

func (r *Runner) createRide(ctx context.Context, passenger string) (string, time.Duration, error) {
	status, body, latency, err := r.call(ctx, http.MethodPost, "/api/passenger/rides", "passenger", passenger, map[string]any{
		"pickup_lat":  benchPickup["lat"],
		"pickup_lng":  benchPickup["lng"],
		"dropoff_lat": 12.6800,
		"dropoff_lng": 123.8850,
		"notes":       "bench",
	})
	if err != nil {
		return "", latency, err
	}
	if status != http.StatusCreated {
		return "", latency, fmt.Errorf("status=%d %v", status, body["error"])
	}
	ride, _ := body["ride"].(map[string]any)
	id, _ := ride["id"].(string)
	return id, latency, nil
}

// call sends an authenticated request; an empty uid sends none.
func (r *Runner) call(ctx context.Context, method, path, role, uid string, body any) (int, map[string]any, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		token, err := infra.SignToken(r.cfg.JWTSecret, uid, role, 10*time.Minute)
		if err != nil {
			return 0, nil, 0, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out == nil {
		out = map[string]any{}
	}
	return resp.StatusCode, out, latency, nil
}

func expect(status int, latency time.Duration, want int) Result {
	note := fmt.Sprintf("status=%d", status)
	if status == want {
		return Result{Status: statusPass, Latency: latency, Note: note}
	}
	return Result{Status: statusFail, Latency: latency, Note: note}
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}
