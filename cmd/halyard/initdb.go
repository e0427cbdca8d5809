package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/halyard/pkg/api"
	"github.com/Mindburn-Labs/halyard/pkg/clientapps"
	"github.com/Mindburn-Labs/halyard/pkg/credentials"
	"github.com/Mindburn-Labs/halyard/pkg/store"

	_ "github.com/lib/pq" // Postgres Driver
)

// runInitDB creates every table the server needs in PostgreSQL. SQLite
// databases migrate themselves at server start, so init-db targets Postgres
// only.
func runInitDB(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("init-db", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var dbURL string
	cmd.StringVar(&dbURL, "db", "", "Postgres connection URL (defaults to DATABASE_URL)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		fmt.Fprintln(stderr, "Error: --db or DATABASE_URL is required")
		return 2
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open db: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		fmt.Fprintf(stderr, "DB Ping failed: %v\n", err)
		return 1
	}

	if err := store.InitPostgresSchema(ctx, db); err != nil {
		fmt.Fprintf(stderr, "Failed to init provisioning schema: %v\n", err)
		return 1
	}
	if err := clientapps.NewPostgresStore(db).Init(ctx); err != nil {
		fmt.Fprintf(stderr, "Failed to init client app schema: %v\n", err)
		return 1
	}
	// Init only creates the table; no cipher needed.
	if err := credentials.NewStore(db, nil).Init(ctx); err != nil {
		fmt.Fprintf(stderr, "Failed to init credential schema: %v\n", err)
		return 1
	}
	if err := api.NewPostgresIdempotencyStore(db, idempotencyTTL).Init(ctx); err != nil {
		fmt.Fprintf(stderr, "Failed to init idempotency schema: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "Schema initialized.")
	return 0
}
