// README: Bench runner; executes environment, API flow and race checks against a running trigo-api and prints results.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

func main() {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	bench := NewRunner(cfg)
	results := bench.RunAll(ctx)

	fmt.Println("\n== Summary ==")
	pass, fail, skipped := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case statusPass:
			pass++
		case statusFail:
			fail++
		case statusSkip:
			skipped++
		}
	}
	fmt.Printf("PASS=%d FAIL=%d SKIP=%d\n", pass, fail, skipped)

	if fail > 0 || (cfg.Strict && skipped > 0) {
		os.Exit(1)
	}
}

type Config struct {
	BaseURL        string
	DSN            string
	RedisAddr      string
	MigrationsDir  string
	ApplyMigration bool
	JWTSecret      string
	Strict         bool
	Timeout        time.Duration
	Concurrency    int
	Duration       time.Duration
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.BaseURL, "base-url", envOrDefault("TRIGO_BENCH_BASE_URL", "http://localhost:8080"), "API base URL")
	flag.StringVar(&cfg.DSN, "dsn", os.Getenv("TRIGO_DB_DSN"), "Postgres DSN (optional; enables DB checks and driver seeding)")
	flag.StringVar(&cfg.RedisAddr, "redis", os.Getenv("TRIGO_REDIS_ADDR"), "Redis address (optional)")
	flag.StringVar(&cfg.MigrationsDir, "migrations", envOrDefault("TRIGO_MIGRATIONS_DIR", "migrations"), "Migrations directory")
	flag.BoolVar(&cfg.ApplyMigration, "apply-migration", envOrDefaultBool("TRIGO_BENCH_APPLY_MIGRATION", false), "Apply migrations before tests")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", os.Getenv("TRIGO_JWT_SECRET"), "HMAC secret shared with the API")
	flag.BoolVar(&cfg.Strict, "strict", envOrDefaultBool("TRIGO_BENCH_STRICT", false), "Fail on skipped checks")
	flag.DurationVar(&cfg.Timeout, "timeout", envOrDefaultDuration("TRIGO_BENCH_TIMEOUT", 60*time.Second), "Total timeout")
	flag.IntVar(&cfg.Concurrency, "concurrency", envOrDefaultInt("TRIGO_BENCH_CONCURRENCY", 8), "Drivers racing per ride and perf workers")
	flag.DurationVar(&cfg.Duration, "duration", envOrDefaultDuration("TRIGO_BENCH_DURATION", 10*time.Second), "Duration for perf tests")
	flag.Parse()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	// A race needs at least two drivers.
	if cfg.Concurrency < 2 {
		cfg.Concurrency = 2
	}
	return cfg
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "1" || v == "true" || v == "yes"
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		_, _ = fmt.Sscanf(v, "%d", &n)
		if n > 0 {
			return n
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
