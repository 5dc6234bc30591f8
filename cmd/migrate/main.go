// Command migrate applies the SQL migrations to the configured database.
//
// Usage:
//
//	migrate [-config configs/config.yaml] [up|down] [steps]
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/inboxly/mailvault/internal/config"
	migrations "github.com/inboxly/mailvault/migrations/postgres"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config (env-only when empty)")
		envFile    = flag.String("env-file", ".env", "path to .env (loaded if present)")
	)
	flag.Parse()

	_ = godotenv.Load(*envFile)

	action := "up"
	steps := 0
	args := flag.Args()
	if len(args) >= 1 && args[0] != "" {
		action = strings.ToLower(args[0])
	}
	if len(args) >= 2 {
		if n, err := strconv.Atoi(args[1]); err == nil && n > 0 {
			steps = n
		}
	}

	// the full config is only needed when a YAML path is given; otherwise
	// DATABASE_DSN alone is enough to migrate
	dsn := os.Getenv("DATABASE_DSN")
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		dsn = cfg.Storage.DSN
	}
	if dsn == "" {
		log.Fatal("migrate: DATABASE_DSN is required")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatalf("pgxpool: %v", err)
	}
	defer pool.Close()

	switch action {
	case "up":
		files := listSQL("_up.sql")
		sort.Strings(files)
		if steps > 0 && steps < len(files) {
			files = files[:steps]
		}
		apply(ctx, pool, files)
	case "down":
		files := listSQL("_down.sql")
		sort.Strings(files)
		reverseInPlace(files)
		if steps > 0 && steps < len(files) {
			files = files[:steps]
		}
		apply(ctx, pool, files)
	default:
		log.Fatalf("unknown action %q. Use: up | down [steps]", action)
	}
}

func listSQL(suffix string) []string {
	entries, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		log.Fatalf("list migrations: %v", err)
	}
	var out []string
	for _, name := range entries {
		if strings.HasSuffix(strings.ToLower(name), suffix) {
			out = append(out, name)
		}
	}
	return out
}

func apply(ctx context.Context, pool *pgxpool.Pool, files []string) {
	if len(files) == 0 {
		log.Println("nothing to do")
		return
	}
	log.Printf("applying %d migration(s)...", len(files))
	for _, name := range files {
		if err := execSQL(ctx, pool, name); err != nil {
			log.Fatalf("exec %s: %v", name, err)
		}
	}
	log.Println("done")
}

func execSQL(ctx context.Context, pool *pgxpool.Pool, name string) error {
	b, err := migrations.FS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	start := time.Now()
	if _, err := pool.Exec(ctx, string(b)); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	log.Printf("OK %s (%s)", name, time.Since(start).Truncate(time.Millisecond))
	return nil
}

func reverseInPlace(ss []string) {
	for i, j := 0, len(ss)-1; i < j; i, j = i+1, j-1 {
		ss[i], ss[j] = ss[j], ss[i]
	}
}
