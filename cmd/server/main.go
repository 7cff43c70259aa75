package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"facture-fec/internal/api"
	"facture-fec/internal/app"
	"facture-fec/internal/config"
	"facture-fec/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger config depends on cfg; fall back to a production logger
		zap.Must(zap.NewProduction()).Fatal("load config", zap.Error(err))
	}

	logger := app.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	deps, err := app.Build(cfg, logger)
	if err != nil {
		logger.Fatal("build services", zap.Error(err))
	}
	defer deps.Close()

	if !deps.Generator.Available() {
		logger.Warn("MISTRAL_API_KEY is not set; conversions will fail until it is configured")
	}

	server := api.NewServer(deps.Converter, deps.Conversions, api.Options{
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Documents:      deps.Documents,
		Metrics:        deps.Metrics,
		Guard:          deps.Guard,
		Logger:         logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/", web.Index())
	mux.Handle("/api", server.Handler())
	mux.Handle("/api/", server.Handler())
	mux.Handle("/metrics", server.Handler())

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     mux,
		ReadTimeout: 60 * time.Second,
		// synchronous conversions wait on OCR and the model
		WriteTimeout: cfg.LLMTimeout*3 + time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening",
			zap.String("addr", srv.Addr),
			zap.String("mode", cfg.Mode),
			zap.String("ocr_engine", cfg.OCREngine),
			zap.String("model", cfg.MistralModel),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}
