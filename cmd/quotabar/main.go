package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/dvcrn/quotabar/internal/app"
	"github.com/dvcrn/quotabar/internal/config"
	"github.com/dvcrn/quotabar/internal/logger"
	"github.com/dvcrn/quotabar/internal/server"
)

func main() {
	serve := flag.Bool("serve", false, "Run the local usage HTTP API instead of a one-shot fetch")
	providersFlag := flag.String("providers", "", "Comma-separated providers to fetch (default: all)")
	flag.Parse()

	log := logger.New()

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	var providers []string
	if *providersFlag != "" {
		for _, name := range strings.Split(*providersFlag, ",") {
			if name = strings.TrimSpace(name); name != "" {
				providers = append(providers, name)
			}
		}
	}

	engine, err := app.New(cfg, providers, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build engine")
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine.ValidateCredentials(ctx)

	if !*serve {
		runOnce(ctx, engine, log)
		return
	}

	engine.Run(ctx)

	srv := server.New(log, engine)
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv}
	go func() {
		<-ctx.Done()
		httpSrv.Shutdown(context.Background())
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("🚀 Starting usage API")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func runOnce(ctx context.Context, engine *app.App, log zerolog.Logger) {
	outcomes := engine.FetchAll(ctx)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcomes); err != nil {
		log.Fatal().Err(err).Msg("Failed to encode results")
	}
}
