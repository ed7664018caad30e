package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/parlancehq/parlance/pkg/bridge"
	"github.com/parlancehq/parlance/pkg/config"
	"github.com/parlancehq/parlance/pkg/finalize"
	"github.com/parlancehq/parlance/pkg/kv"
	"github.com/parlancehq/parlance/pkg/realtime"
	"github.com/parlancehq/parlance/pkg/storage"
	"github.com/parlancehq/parlance/pkg/tts"
)

// defaultInstructions is the system prompt used when no instructions
// file is configured.
const defaultInstructions = `You are a warm, professional intake agent answering phone calls for a law firm. Keep replies short and conversational, one question at a time. Collect the caller's name, contact information, and a description of their legal matter. Never give legal advice and never quote fees.`

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the call bridge server",
	Long: `Run the websocket server that carries live calls.

The carrier connects each call's media stream to /call/stream. The
daemon bridges it to the realtime model, speaks responses through the
configured synthesis voices, and finalizes the call when the stream
stops.

Example:
  parlanced serve -c /etc/parlance/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	store, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	archive, err := openArchive(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	fin, err := buildFinalizer(cfg, store, archive, logger)
	if err != nil {
		return err
	}

	dial, err := buildDialer(cfg)
	if err != nil {
		return err
	}
	if dial == nil {
		logger.Warn("no realtime api key configured, calls will be refused")
	}

	primary, fallback, err := buildVoices(cfg)
	if err != nil {
		return err
	}
	if primary == nil {
		logger.Warn("no synthesis voice configured, calls will be refused")
	}

	registry := bridge.NewRegistry()
	srv := &bridge.Server{
		Dial:      dial,
		Registry:  registry,
		AuthToken: cfg.Carrier.AuthToken,
		Logger:    logger,
		Sessions: bridge.SessionOptions{
			Synthesizer:       primary,
			Fallback:          fallback,
			Finalizer:         fin,
			Registry:          registry,
			Thresholds:        cfg.Thresholds(),
			Greeting:          cfg.Realtime.Greeting,
			ReconnectAttempts: cfg.Realtime.ReconnectAttempts,
			FallbackDeadline:  time.Duration(cfg.TTS.FallbackAfterMs) * time.Millisecond,
			Logger:            logger,
		},
	}

	mux := http.NewServeMux()
	mux.Handle("/call/stream", srv)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok sessions=%d\n", registry.Len())
	})

	httpSrv := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", cfg.Server.Listen)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func openStore(cfg *config.Config, logger *slog.Logger) (kv.Store, error) {
	if cfg.Store.Dir == "" {
		logger.Warn("no store directory configured, call records are in-memory only")
		return kv.NewMemory(), nil
	}
	return kv.NewBadger(kv.BadgerOptions{Dir: cfg.Store.Dir})
}

func openArchive(ctx context.Context, cfg *config.Config) (storage.FileStore, error) {
	switch cfg.Archive.Backend {
	case "", "local":
		return storage.NewLocal(cfg.Archive.Dir)
	case "s3":
		if cfg.Archive.Bucket == "" {
			return nil, fmt.Errorf("archive backend s3 requires a bucket")
		}
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Archive.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Archive.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return storage.NewS3(s3.NewFromConfig(awsCfg), cfg.Archive.Bucket, cfg.Archive.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Archive.Backend)
	}
}

func buildFinalizer(cfg *config.Config, store kv.Store, archive storage.FileStore, logger *slog.Logger) (*finalize.Finalizer, error) {
	fin := &finalize.Finalizer{
		Store:              store,
		Archive:            archive,
		Logger:             logger,
		MinTranscriptChars: cfg.Finalize.MinTranscriptChars,
		RetryAttempts:      cfg.Finalize.RetryAttempts,
		RetryDelay:         time.Duration(cfg.Finalize.RetryDelayMs) * time.Millisecond,
	}
	if cfg.Finalize.OpenAIAPIKey != "" {
		var opts []finalize.OpenAIExtractorOption
		if cfg.Finalize.Model != "" {
			opts = append(opts, finalize.WithExtractModel(cfg.Finalize.Model))
		}
		ex, err := finalize.NewOpenAIExtractor(cfg.Finalize.OpenAIAPIKey, opts...)
		if err != nil {
			return nil, err
		}
		fin.Extract = ex
	}
	return fin, nil
}

// buildDialer returns nil when the model credentials are absent; the
// server then refuses calls with a config-missing close.
func buildDialer(cfg *config.Config) (bridge.ModelDialer, error) {
	if cfg.Realtime.APIKey == "" {
		return nil, nil
	}
	var opts []realtime.Option
	if cfg.Realtime.URL != "" {
		opts = append(opts, realtime.WithURL(cfg.Realtime.URL))
	}
	client, err := realtime.NewClient(cfg.Realtime.APIKey, opts...)
	if err != nil {
		return nil, err
	}

	instructions := defaultInstructions
	if cfg.Realtime.InstructionsFile != "" {
		data, err := os.ReadFile(cfg.Realtime.InstructionsFile)
		if err != nil {
			return nil, fmt.Errorf("read instructions: %w", err)
		}
		instructions = string(data)
	}

	sessCfg := &realtime.SessionConfig{
		Model:                   cfg.Realtime.Model,
		Modalities:              []string{"text"},
		Instructions:            instructions,
		InputAudioFormat:        realtime.AudioFormatULaw,
		InputAudioTranscription: &realtime.TranscriptionConfig{Model: "whisper-1"},
		TurnDetection:           realtime.ServerVAD(200),
	}
	return func(ctx context.Context) (bridge.ModelSession, error) {
		return client.Connect(ctx, sessCfg)
	}, nil
}

func buildVoices(cfg *config.Config) (primary, fallback tts.Synthesizer, err error) {
	if cfg.TTS.APIKey == "" || cfg.TTS.VoiceID == "" {
		return nil, nil, nil
	}
	var opts []tts.ElevenLabsOption
	if cfg.TTS.Model != "" {
		opts = append(opts, tts.WithElevenLabsModel(cfg.TTS.Model))
	}
	primary, err = tts.NewElevenLabsSynthesizer(cfg.TTS.APIKey, cfg.TTS.VoiceID, opts...)
	if err != nil {
		return nil, nil, err
	}
	if cfg.TTS.FallbackVoiceID != "" {
		fallback, err = tts.NewOneShotSynthesizer(cfg.TTS.APIKey, cfg.TTS.FallbackVoiceID)
		if err != nil {
			return nil, nil, err
		}
	}
	return primary, fallback, nil
}
