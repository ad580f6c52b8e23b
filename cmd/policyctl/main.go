package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"policyengine.dev/core/core/config"
	"policyengine.dev/core/core/db"
	"policyengine.dev/core/internal/store"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx := context.Background()
	cfg := config.Load()

	switch os.Args[1] {
	case "describe-tools":
		runDescribeTools(os.Args[2:])
	case "inspect":
		runInspect(ctx, cfg, os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `policyctl - local inspection CLI for the policy engine

Usage:
  policyctl describe-tools [tool-name]
      Prints the JSON Schema for one known tool, or every known tool
      when no name is given.

  policyctl inspect <instance-id> [snapshot.json]
      Pretty-prints a task's snapshot. Reads from the given JSON file
      if provided, otherwise loads it from the snapshot store at
      DATABASE_URL.`)
}

func openStore(ctx context.Context, cfg config.Config) (*store.Store, func(), error) {
	if cfg.DB.DSN == "" {
		return nil, func() {}, fmt.Errorf("no snapshot file given and DATABASE_URL is not set")
	}
	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		return nil, func() {}, fmt.Errorf("connecting to database: %w", err)
	}
	return store.New(database.Pool()), database.Close, nil
}
