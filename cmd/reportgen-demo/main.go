package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/reportgen/reportgen/internal/config"
	"github.com/reportgen/reportgen/internal/database"
	"github.com/reportgen/reportgen/internal/demodata"
	"github.com/reportgen/reportgen/internal/secrets"
)

func main() {
	direction := flag.String("direction", "up", "demo data direction: up|down")
	steps := flag.Int("steps", 0, "number of script steps; 0 means all for up, 1 for down")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("reportgen-demo")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Secrets.Provider != config.SecretsProviderStatic {
		fmt.Fprintln(os.Stderr, "demo data can only be installed with REPORTGEN_SECRETS_PROVIDER=static")
		os.Exit(1)
	}

	dialer := &database.Dialer{
		Driver:      cfg.Database.Driver,
		SSLMode:     cfg.Database.SSLMode,
		Credentials: secrets.Static{DSN: cfg.Database.DSN},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	session, err := dialer.Acquire(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database connect error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = session.Close() }()

	runner := demodata.NewRunner()
	switch *direction {
	case "up":
		applied, err := runner.Up(ctx, session.Conn(), *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "demo data up failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("applied %d demo script(s)\n", applied)
	case "down":
		reverted, err := runner.Down(ctx, session.Conn(), *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "demo data down failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("reverted %d demo script(s)\n", reverted)
	default:
		fmt.Fprintf(os.Stderr, "unsupported direction %q\n", *direction)
		os.Exit(1)
	}
}
