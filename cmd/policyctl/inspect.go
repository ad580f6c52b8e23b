package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"policyengine.dev/core/core/config"
	"policyengine.dev/core/internal/policy/task"
)

// runInspect pretty-prints a task Snapshot, loaded either from a local JSON
// file or from the snapshot store when DATABASE_URL is configured.
func runInspect(ctx context.Context, cfg config.Config, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "inspect requires an instance id")
		os.Exit(1)
	}
	instanceID := args[0]

	var snap task.Snapshot

	if len(args) > 1 {
		raw, err := os.ReadFile(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading %s: %v\n", args[1], err)
			os.Exit(1)
		}
		if err := json.Unmarshal(raw, &snap); err != nil {
			fmt.Fprintf(os.Stderr, "parsing %s: %v\n", args[1], err)
			os.Exit(1)
		}
		printJSON(snap)
		return
	}

	snapshots, closeDB, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer closeDB()

	row, err := snapshots.GetSnapshot(ctx, instanceID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading snapshot for %s: %v\n", instanceID, err)
		os.Exit(1)
	}
	if err := json.Unmarshal(row.Snapshot, &snap); err != nil {
		fmt.Fprintf(os.Stderr, "parsing stored snapshot for %s: %v\n", instanceID, err)
		os.Exit(1)
	}
	printJSON(snap)
}
