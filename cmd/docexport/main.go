package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"docdigest/internal/common"
	"docdigest/internal/export"
	"docdigest/internal/redisx"
	"docdigest/internal/status"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		out          = flag.String("out", "documents.xlsx", "output XLSX file path")
		onlyTerminal = flag.Bool("terminal-only", false, "export only completed and errored documents")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()
	cfg := common.LoadConfig()

	client, err := redisx.Open(ctx, cfg.Redis, logger)
	if err != nil {
		printError("Error: redis connect failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = client.Close() }()

	store := status.NewRedisStore(client, logger)
	svc := export.NewService(store, logger)

	data, err := svc.ExportDocumentsXLSX(ctx, *onlyTerminal)
	if err != nil {
		printError("Error: export failed: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(*out, data, 0o644); err != nil {
		printError("Error: write %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s (%d bytes)\n", *out, len(data))
}
