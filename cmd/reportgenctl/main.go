package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/reportgen/reportgen/internal/cli/reportgenctl"
)

func main() {
	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("REPORTGEN_CLI_TIMEOUT")), 2*time.Minute)
	options := reportgenctl.Options{
		BaseURL: envOr("REPORTGEN_API_URL", "http://localhost:5000"),
		APIKey:  strings.TrimSpace(os.Getenv("REPORTGEN_API_KEY")),
		Timeout: timeout,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}

	code := reportgenctl.Run(context.Background(), os.Args[1:], options)
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid REPORTGEN_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
