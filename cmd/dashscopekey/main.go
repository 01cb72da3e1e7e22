package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"qwenstudio/internal/adapter/repo"
	"qwenstudio/internal/infra"
	"qwenstudio/internal/infra/credentials"
)

func main() {
	var (
		keyFlag    string
		regionFlag string
	)
	flag.StringVar(&keyFlag, "key", "", "DashScope API key (fallbacks to DASHSCOPE_API_KEY)")
	flag.StringVar(&regionFlag, "region", "", "Region the key was issued for (fallbacks to DASHSCOPE_REGION)")
	flag.Parse()

	key := strings.TrimSpace(keyFlag)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("DASHSCOPE_API_KEY"))
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "DashScope API key is required via -key or environment")
		os.Exit(1)
	}
	region := strings.TrimSpace(regionFlag)
	if region == "" {
		region = strings.TrimSpace(os.Getenv("DASHSCOPE_REGION"))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := infra.OpenDB(ctx, infra.DBOptions{URL: dbURL, MaxConns: 1})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli", os.Getenv("LOG_LEVEL")).With().Str("cmd", "dashscopekey").Logger()
	runner := infra.NewSQLRunner(pool, logger)
	if err := repo.NewCreationRepository(runner).EnsureSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to ensure schema: %v\n", err)
		os.Exit(1)
	}

	if err := credentials.NewStore(runner).SetDashScopeAPIKey(ctx, key, region); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist dashscope api key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("DASHSCOPE API key stored successfully")
}
