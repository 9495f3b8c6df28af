// Command imgrouter serves an OpenAI-compatible chat completion endpoint
// that routes image generation to VolcEngine, Gitee, ModelScope or
// HuggingFace depending on the caller's credential.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cheahjs/img-router/internal/api"
	"github.com/cheahjs/img-router/internal/config"
	"github.com/cheahjs/img-router/internal/imaging"
	"github.com/cheahjs/img-router/internal/provider"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "imgrouter",
		Short:         "Route chat completion requests to image generation providers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configPath string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	serve.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	detect := &cobra.Command{
		Use:   "detect <credential>",
		Short: "Print the provider a credential would be routed to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := provider.Detect(args[0])
			if id == provider.Unknown {
				return provider.ErrUnknownProvider
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	root.AddCommand(serve, detect)
	return root
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	httpClient := &http.Client{}
	store, err := imaging.NewStore(cfg.ImageStore, httpClient)
	if err != nil {
		return err
	}
	transcoder := imaging.NewTranscoder(imaging.Options{
		Guard:         imaging.NewGuard(store.Host(), cfg.TrustedHosts),
		Store:         store,
		Client:        httpClient,
		FetchTimeout:  cfg.Timeouts.Fetch,
		UploadTimeout: cfg.Timeouts.Upload,
		Concurrency:   cfg.Server.ConversionConcurrency,
	})

	registry := provider.NewRegistry(
		provider.NewVolcEngineAdapter(cfg.VolcEngine, httpClient, cfg.Timeouts.API),
		provider.NewGiteeAdapter(cfg.Gitee, httpClient, cfg.Timeouts.API, transcoder),
		provider.NewModelScopeAdapter(cfg.ModelScope, httpClient, cfg.Timeouts.API, transcoder),
		provider.NewHuggingFaceAdapter(cfg.HuggingFace, httpClient, cfg.Timeouts.API, transcoder),
	)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           api.NewRouter(registry, cfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Int("port", cfg.Server.Port).
			Str("image_store", cfg.ImageStore.Kind).
			Str("log_level", cfg.Log.Level).
			Msg("Server is running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
