package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/aagudeloRN/RAGPruebas/api/handlers"
)

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	ready := fs.Bool("ready", false, "Probe dependencies instead of liveness")
	fs.Parse(args)

	client := &http.Client{Timeout: 10 * time.Second}
	if err := checkHealth(client, *addr, *ready, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
}

// checkHealth 请求 /health 或 /ready 并打印报告。degraded 视为通过。
func checkHealth(client *http.Client, addr string, ready bool, out io.Writer) error {
	path := "/health"
	if ready {
		path = "/ready"
	}
	resp, err := client.Get(addr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var report handlers.HealthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return fmt.Errorf("status %d: unreadable body: %w", resp.StatusCode, err)
	}

	names := make([]string, 0, len(report.Dependencies))
	for name := range report.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		res := report.Dependencies[name]
		mark := "ok"
		if !res.OK {
			mark = "FAIL " + res.Error
		}
		fmt.Fprintf(out, "  %-10s %4dms  %s\n", name, res.LatencyMS, mark)
	}
	fmt.Fprintln(out, report.Status)

	if resp.StatusCode != http.StatusOK || report.Status == handlers.StatusUnavailable {
		return errors.New("service unavailable")
	}
	return nil
}
