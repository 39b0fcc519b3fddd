// Command go-audit-migrations copies the embedded audit schema migrations to
// a directory, for projects that run migrations with their own tooling, or
// applies them directly with -apply.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/fanengagement/go-audit/pgxaudit"
)

func main() {
	outDir := flag.String("out", "./migrations", "destination directory for migration files")
	apply := flag.Bool("apply", false, "apply the migrations to -dsn instead of copying them")
	dsn := flag.String("dsn", "", "PostgreSQL connection string used with -apply")
	flag.Parse()

	if *apply {
		if *dsn == "" {
			log.Fatal("-apply requires -dsn")
		}
		pool, err := pgxaudit.NewPool(context.Background(), pgxaudit.PoolConfig{DSN: *dsn, MaxConns: 2})
		if err != nil {
			log.Fatalf("connecting: %v", err)
		}
		defer pool.Close()
		if err := pgxaudit.Migrate(pool); err != nil {
			log.Fatalf("applying migrations: %v", err)
		}
		version, dirty, err := pgxaudit.MigrationVersion(pool)
		if err != nil {
			log.Fatalf("reading schema version: %v", err)
		}
		fmt.Printf("audit schema at version %d (dirty=%t)\n", version, dirty)
		return
	}

	if err := pgxaudit.CopyMigrations(*outDir); err != nil {
		log.Fatalf("copying migrations: %v", err)
	}

	files, err := pgxaudit.MigrationFiles()
	if err != nil {
		log.Fatalf("listing migrations: %v", err)
	}

	fmt.Printf("copied %d migration files to %s\n", len(files), *outDir)
}
