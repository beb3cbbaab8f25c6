package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"alyanspace.org/adminauth/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn   = flag.String("dsn", os.Getenv("DATABASE_URL"), "PostgreSQL DSN")
		table = flag.String("table", "", "migrations bookkeeping table")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or DATABASE_URL")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|status|version]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	var opts []migrate.Option
	if *table != "" {
		opts = append(opts, migrate.WithMigrationsTable(*table))
	}
	mgr := migrate.NewManager(db, opts...)

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "status":
		var history []migrate.MigrationStatus
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				state := "pending"
				if item.Applied {
					state = "applied"
				}
				fmt.Printf("%05d %-8s %s\n", item.Version, state, item.Source)
			}
		}
	case "version":
		var v int64
		v, err = mgr.Version(ctx)
		if err == nil {
			fmt.Println(v)
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
