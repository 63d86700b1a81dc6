package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"tickerdesk.io/internal/migrate"
	"tickerdesk.io/internal/store"
	"tickerdesk.io/internal/store/lite"
	"tickerdesk.io/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn        = flag.String("dsn", os.Getenv("TICKERDESK_DATABASE_URL"), "PostgreSQL DSN (empty selects the embedded backend)")
		sqlitePath = flag.String("sqlite", envOr("TICKERDESK_SQLITE_PATH", "var/tickerdesk.db"), "Embedded database path")
	)
	flag.Parse()

	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		db  store.DB
		err error
	)
	if *dsn != "" {
		db, err = pg.Open(ctx, *dsn)
	} else {
		db, err = lite.Open(ctx, *sqlitePath)
	}
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, migrate.All())

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
