package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"qwenstudio/internal/imagegen"
	"qwenstudio/internal/infra"
	"qwenstudio/internal/providers/qwen"
	"qwenstudio/internal/storage"
)

func main() {
	var (
		promptFlag    string
		sizeFlag      string
		noExtendFlag  bool
		watermarkFlag bool
		outFlag       string
	)
	flag.StringVar(&promptFlag, "prompt", "", "Text description of the image to generate")
	flag.StringVar(&sizeFlag, "size", string(imagegen.DefaultSize), "Output size: 1024*1024, 1328*1328 or 1920*1080")
	flag.BoolVar(&noExtendFlag, "no-extend", false, "Disable server-side prompt extension")
	flag.BoolVar(&watermarkFlag, "watermark", false, "Ask for a watermarked image")
	flag.StringVar(&outFlag, "out", "", "Directory to save the generated image into")
	flag.Parse()

	prompt := strings.TrimSpace(promptFlag)
	if prompt == "" {
		fmt.Fprintln(os.Stderr, "-prompt is required")
		os.Exit(2)
	}
	size, err := imagegen.ParseSize(sizeFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := infra.NewLogger("cli", os.Getenv("LOG_LEVEL")).With().Str("cmd", "qwengen").Logger()

	client, err := qwen.NewClient(qwen.Options{
		APIKey:         cfg.DashScopeAPIKey,
		BaseURL:        cfg.DashScopeBaseURL,
		Model:          cfg.DashScopeModel,
		RequestTimeout: cfg.DashScopeTimeout,
		Logger:         &logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}

	policy := imagegen.RetryPolicy{
		MaxRetries:   cfg.RetryMax,
		InitialDelay: cfg.RetryInitialDelay,
		Multiplier:   cfg.RetryMultiplier,
	}
	ctrl, err := imagegen.NewController(imagegen.Options{
		Transport:    client,
		Sink:         imagegen.NewLogSink(logger),
		Policy:       &policy,
		PollInterval: cfg.PollInterval,
		Logger:       &logger,
		OnChange:     printState,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "controller: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		ctrl.Cleanup()
	}()

	opts := imagegen.GenerationOptions{Size: size, PromptExtend: !noExtendFlag, Watermark: watermarkFlag}
	_ = ctrl.Generate(ctx, prompt, &opts)
	state, _ := ctrl.Wait(ctx)

	switch state.Status {
	case imagegen.StatusSucceeded:
		fmt.Println(state.ImageURL)
	case imagegen.StatusFailed:
		reportFailure(state.Error)
		os.Exit(1)
	default:
		fmt.Fprintln(os.Stderr, "cancelled")
		os.Exit(130)
	}

	if outFlag == "" {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	path, err := save(saveCtx, client, outFlag, state.ImageURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "save image: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("saved %s\n", path)
}

func printState(s imagegen.State) {
	line := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), s.Status)
	if s.TaskID != "" {
		line += " task=" + s.TaskID
	}
	if s.Error != nil && !s.Status.Terminal() {
		line += " (retrying: " + s.Error.UserMessage + ")"
	}
	fmt.Fprintln(os.Stderr, line)
}

func reportFailure(parsed *imagegen.ParsedError) {
	if parsed == nil {
		fmt.Fprintln(os.Stderr, "generation failed")
		return
	}
	fmt.Fprintf(os.Stderr, "error: %s\n", parsed.UserMessage)
	if parsed.Suggestion != "" {
		fmt.Fprintf(os.Stderr, "hint: %s\n", parsed.Suggestion)
	}
	if parsed.TechnicalMessage != "" && parsed.TechnicalMessage != parsed.UserMessage {
		fmt.Fprintf(os.Stderr, "details: %s\n", parsed.TechnicalMessage)
	}
	if parsed.Retryable {
		fmt.Fprintln(os.Stderr, "this error is temporary, running the command again may succeed")
	}
}

func save(ctx context.Context, client *qwen.Client, dir, imageURL string) (string, error) {
	store, err := storage.NewFileStore(dir)
	if err != nil {
		return "", err
	}
	data, contentType, err := client.Download(ctx, imageURL)
	if err != nil {
		return "", err
	}
	key, err := storage.ImageKey(uuid.NewString(), contentType)
	if err != nil {
		return "", err
	}
	if _, err := store.Put(ctx, key, data, contentType); err != nil {
		return "", err
	}
	return store.Path(key)
}
