// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

// runStatusCmd implements `localtube status`: fetch the daemon's /status
// endpoint and print a human-readable summary for operators without a
// browser.
func runStatusCmd(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	addr := fs.String("addr", "http://127.0.0.1:8080", "base URL of the running daemon")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch status: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "daemon answered %s\n", resp.Status)
		return 1
	}

	var view struct {
		VPNEnabled bool `json:"vpn_enabled"`
		Tasks      []struct {
			Kind   string `json:"kind"`
			Title  string `json:"title"`
			State  string `json:"state"`
			Status string `json:"status"`
		} `json:"tasks"`
		Metrics []struct {
			Kind                string `json:"kind"`
			SuccessCount        int64  `json:"success_count"`
			FailureCount        int64  `json:"failure_count"`
			ConsecutiveFailures int64  `json:"consecutive_failures"`
			RestartCount        int64  `json:"restart_count"`
			RestartInProgress   bool   `json:"restart_in_progress"`
		} `json:"metrics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		fmt.Fprintf(os.Stderr, "decode status: %v\n", err)
		return 1
	}

	fmt.Printf("VPN supervision: %v\n", view.VPNEnabled)

	fmt.Printf("\nActive tasks (%d):\n", len(view.Tasks))
	for _, t := range view.Tasks {
		line := fmt.Sprintf("  [%s] %-12s %s", t.Kind, t.State, t.Title)
		if t.Status != "" {
			line += " — " + t.Status
		}
		fmt.Println(line)
	}

	fmt.Println("\nPer-kind metrics:")
	for _, m := range view.Metrics {
		kind := m.Kind
		if kind == "" {
			kind = "(manual restarts)"
		}
		fmt.Printf("  %-18s ok=%d failed=%d streak=%d restarts=%d",
			kind, m.SuccessCount, m.FailureCount, m.ConsecutiveFailures, m.RestartCount)
		if m.RestartInProgress {
			fmt.Print("  [restart in progress]")
		}
		fmt.Println()
	}
	return 0
}
