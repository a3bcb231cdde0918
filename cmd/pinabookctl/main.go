package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"pinabook/internal/app"
	"pinabook/internal/config"
	"pinabook/internal/logger"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// connect opens the configured backends. Logging defaults to WARN so
// command output is not buried.
func connect(cmd *cobra.Command) (*app.App, error) {
	cfg := config.Load()
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.LogLevel = "warn"
	}
	logger.Init(cfg.LogLevel, "text")
	cfg.NATS.ClientID = fmt.Sprintf("pinabookctl-%d", os.Getpid())

	return app.New(cmd.Context(), cfg)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseTime(name, raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}

func runTick(cmd *cobra.Command, _ []string) error {
	a, err := connect(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	now := a.Services.Now()
	if tickAt != "" {
		if now, err = parseTime("at", tickAt); err != nil {
			return err
		}
	}

	results, err := a.Services.Subscriptions.Evaluate(cmd.Context(), now)
	if perr := printJSON(results); perr != nil {
		return perr
	}
	return err
}

func runPayment(cmd *cobra.Command, args []string) error {
	a, err := connect(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	state, err := a.Services.Subscriptions.ConfirmPayment(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	return printJSON(state)
}

func runRebuild(cmd *cobra.Command, args []string) error {
	a, err := connect(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	counters, err := a.Services.Projector.Rebuild(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(counters)
}

func runVerify(cmd *cobra.Command, args []string) error {
	a, err := connect(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 0 {
		repaired, err := a.Services.Projector.VerifyAll(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"repaired": repaired})
	}

	stored, expected, consistent, err := a.Services.Projector.Verify(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if err := printJSON(map[string]any{
		"stored":     stored,
		"expected":   expected,
		"consistent": consistent,
	}); err != nil {
		return err
	}
	if !consistent {
		return fmt.Errorf("counters for %s drifted; run counters rebuild", args[0])
	}
	return nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	a, err := connect(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var from *time.Time
	if auditFrom != "" {
		t, err := parseTime("from", auditFrom)
		if err != nil {
			return err
		}
		from = &t
	}

	entries, err := a.Services.Audit.ListEntries(cmd.Context(), args[0], from, auditLimit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(os.Stdout, "%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.ActorID, e.Message)
	}
	return nil
}
