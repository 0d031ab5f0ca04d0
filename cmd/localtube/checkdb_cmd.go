// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/localtube/localtube/internal/catalog"
	"github.com/localtube/localtube/internal/config"
)

// runCheckDBCmd implements `localtube checkdb`: a maintenance command
// that runs sqlite's self-check against the catalog and reports any
// corruption, for use before restoring a backup or after an unclean
// shutdown. Exit code 0 means healthy.
func runCheckDBCmd(args []string) int {
	fs := flag.NewFlagSet("checkdb", flag.ExitOnError)
	env, _ := config.ReadEnv(os.Getenv)
	dbPath := fs.String("db", env.DBPath, "path to the catalog database")
	full := fs.Bool("full", false, "run the thorough integrity_check instead of quick_check")
	_ = fs.Parse(args)

	db, err := catalog.Open(*dbPath, 1)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open catalog: %v\n", err)
		return 1
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	problems, err := catalog.CheckIntegrity(ctx, db, *full)
	if err != nil {
		fmt.Fprintf(os.Stderr, "integrity check failed to run: %v\n", err)
		return 1
	}
	if len(problems) > 0 {
		fmt.Fprintf(os.Stderr, "catalog at %s reported %d problems:\n", *dbPath, len(problems))
		for _, p := range problems {
			fmt.Fprintf(os.Stderr, "  %s\n", p)
		}
		return 1
	}

	fmt.Printf("catalog at %s is healthy\n", *dbPath)
	return 0
}
