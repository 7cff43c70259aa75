// Package app wires configuration into the service graph shared by the
// server and the command line tool.
package app

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"facture-fec/internal/config"
	"facture-fec/internal/db"
	"facture-fec/internal/metrics"
	"facture-fec/internal/ocr"
	"facture-fec/internal/services"
)

// Deps holds the constructed services.
type Deps struct {
	DB          *sql.DB
	Metrics     *metrics.Metrics
	Documents   *services.DocumentService
	Conversions *services.ConversionService
	Extractor   ocr.Extractor
	Guard       *services.LLMGuard
	Generator   *services.FECGenerator
	Converter   *services.Converter
}

// Close releases the database.
func (d *Deps) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}

// NewLogger returns a development logger for "debug" and a production one
// at the requested level otherwise.
func NewLogger(level string) *zap.Logger {
	if level == "debug" {
		return zap.Must(zap.NewDevelopment())
	}
	cfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return zap.Must(cfg.Build())
}

// Build opens the database and constructs every service from cfg.
func Build(cfg config.Config, logger *zap.Logger) (*Deps, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	m := metrics.New()
	docs := ocr.NewDocumentClient(ocr.ClientOptions{
		APIKey:    cfg.MistralKey,
		BaseURL:   cfg.MistralEndpoint,
		OCRModel:  cfg.MistralOCRModel,
		ChatModel: cfg.MistralModel,
		Timeout:   cfg.LLMTimeout,
		Logger:    logger.Named("provider"),
	})

	guard := services.NewLLMGuard(services.GuardConfig{RPM: cfg.LLMRPM}, m, logger.Named("guard"))

	var extractor ocr.Extractor
	switch cfg.OCREngine {
	case config.EngineMistral:
		extractor = ocr.NewMistralExtractor(docs, guard, logger.Named("ocr"))
	default:
		extractor = ocr.NewLocalExtractor(ocr.LocalOptions{
			DPI:         cfg.OCRDPI,
			Lang:        cfg.OCRLang,
			Full:        cfg.OCRFull,
			Ghostscript: cfg.GhostscriptBin,
			Tesseract:   cfg.TesseractBin,
			Logger:      logger.Named("ocr"),
		})
	}

	gen := services.NewFECGenerator(services.GeneratorConfig{
		APIKey:   cfg.MistralKey,
		Endpoint: cfg.MistralEndpoint,
		Model:    cfg.MistralModel,
		Timeout:  cfg.LLMTimeout,
	}, docs, guard, logger.Named("llm"))

	documents := services.NewDocumentService(conn, cfg.UploadDir)
	conversions := services.NewConversionService(conn)
	converter := services.NewConverter(documents, conversions, extractor, gen, cfg.Mode, m, logger.Named("converter"))

	return &Deps{
		DB:          conn,
		Metrics:     m,
		Documents:   documents,
		Conversions: conversions,
		Extractor:   extractor,
		Guard:       guard,
		Generator:   gen,
		Converter:   converter,
	}, nil
}
