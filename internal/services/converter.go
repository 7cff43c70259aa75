package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"facture-fec/internal/apperr"
	"facture-fec/internal/config"
	"facture-fec/internal/fec"
	"facture-fec/internal/metrics"
	"facture-fec/internal/models"
	"facture-fec/internal/ocr"
)

// ProgressCallback is called during a conversion to report progress
type ProgressCallback func(step, message string, current, total int)

// ConvertRequest is one uploaded invoice to convert.
type ConvertRequest struct {
	FileName string
	Data     []byte
	// Mode overrides the converter's default mode when set.
	Mode string
}

// ConvertResult is what the UI shows after a conversion. Text is the model's
// reply as received; FEC is only set when that reply parsed as a table.
type ConvertResult struct {
	ConversionID  int64         `json:"conversion_id"`
	InvoiceID     int64         `json:"invoice_id"`
	FileName      string        `json:"file_name"`
	Mode          string        `json:"mode"`
	Model         string        `json:"model"`
	Text          string        `json:"text"`
	ExtractedText string        `json:"extracted_text,omitempty"`
	Invoice       *InvoiceData  `json:"invoice,omitempty"`
	FEC           *fec.Document `json:"fec,omitempty"`
	Issues        []fec.Issue   `json:"issues,omitempty"`
	Balanced      bool          `json:"balanced"`
	Pages         int           `json:"pages"`
	Duration      time.Duration `json:"duration"`
	Warnings      []string      `json:"warnings,omitempty"`
}

// Converter runs the invoice to FEC pipeline and records every run.
type Converter struct {
	documents   *DocumentService
	conversions *ConversionService
	extractor   ocr.Extractor
	generator   *FECGenerator
	defaultMode string
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

func NewConverter(
	documents *DocumentService,
	conversions *ConversionService,
	extractor ocr.Extractor,
	generator *FECGenerator,
	defaultMode string,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultMode == "" {
		defaultMode = config.ModeText
	}
	return &Converter{
		documents:   documents,
		conversions: conversions,
		extractor:   extractor,
		generator:   generator,
		defaultMode: defaultMode,
		metrics:     m,
		logger:      logger,
	}
}

// DefaultMode is the mode used when a request does not name one.
func (c *Converter) DefaultMode() string {
	return c.defaultMode
}

// Available reports whether the LLM provider is configured.
func (c *Converter) Available() bool {
	return c.generator != nil && c.generator.Available()
}

func (c *Converter) Convert(ctx context.Context, req ConvertRequest) (*ConvertResult, error) {
	return c.ConvertWithProgress(ctx, req, nil)
}

func (c *Converter) ConvertWithProgress(ctx context.Context, req ConvertRequest, progress ProgressCallback) (*ConvertResult, error) {
	start := time.Now()
	report := func(step, message string, current int) {
		if progress != nil {
			progress(step, message, current, 100)
		}
	}

	mode := req.Mode
	if mode == "" {
		mode = c.defaultMode
	}
	if !config.ValidMode(mode) {
		return nil, apperr.New(apperr.CodeBadRequest, fmt.Sprintf("unknown conversion mode %q", mode))
	}
	if len(req.Data) == 0 {
		return nil, apperr.ErrNoFile
	}

	log := c.logger.With(zap.String("file", req.FileName), zap.String("mode", mode))

	report("store", "Enregistrement de la facture", 5)
	inv, err := c.documents.Create(ctx, req.FileName, req.Data)
	if err != nil {
		c.metrics.RecordConversion(mode, false, time.Since(start))
		log.Warn("invoice rejected", zap.Error(err))
		return nil, fmt.Errorf("store invoice: %w", err)
	}

	res := &ConvertResult{
		InvoiceID: inv.ID,
		FileName:  req.FileName,
		Mode:      mode,
		Model:     c.generator.Model(),
		Pages:     inv.PageCount,
	}
	record := &models.Conversion{
		InvoiceID: inv.ID,
		Mode:      mode,
		Model:     res.Model,
	}

	raw, err := c.generate(ctx, mode, req, res, record, report)
	if err != nil {
		return nil, c.fail(ctx, log, record, start, err)
	}
	res.Text = raw

	report("parse", "Analyse des écritures FEC", 85)
	doc, perr := fec.Parse(raw)
	if perr != nil {
		// the raw reply is still shown
		res.Warnings = append(res.Warnings, fmt.Sprintf("réponse non analysable comme CSV FEC: %v", perr))
		log.Info("fec output not parseable", zap.Error(perr))
	} else {
		res.FEC = doc
		res.Warnings = append(res.Warnings, doc.Warnings...)
		res.Issues = fec.Validate(doc)
		res.Balanced = fec.Balanced(doc)
	}

	report("save", "Enregistrement de la conversion", 95)
	res.Duration = time.Since(start)
	record.Status = models.ConversionSucceeded
	record.FECRaw = raw
	record.Balanced = res.Balanced
	record.DurationMS = res.Duration.Milliseconds()
	if res.FEC != nil {
		record.EntryCount = len(res.FEC.Entries)
	}
	if err := c.conversions.Create(ctx, record); err != nil {
		c.metrics.RecordConversion(mode, false, res.Duration)
		return nil, fmt.Errorf("save conversion: %w", err)
	}
	res.ConversionID = record.ID

	c.metrics.RecordConversion(mode, true, res.Duration)
	log.Info("conversion complete",
		zap.Int64("conversion_id", record.ID),
		zap.Int("entries", record.EntryCount),
		zap.Bool("balanced", res.Balanced),
		zap.Duration("duration", res.Duration),
	)
	report("complete", "Conversion terminée avec succès !", 100)
	return res, nil
}

// generate runs the mode-specific steps and returns the model's FEC reply.
func (c *Converter) generate(
	ctx context.Context,
	mode string,
	req ConvertRequest,
	res *ConvertResult,
	record *models.Conversion,
	report func(step, message string, current int),
) (string, error) {
	if !c.generator.Available() {
		return "", apperr.ErrLLMUnavailable
	}

	if mode == config.ModeDocument {
		report("extract", "Envoi du document au fournisseur", 15)
		docURL, err := c.generator.UploadDocument(ctx, req.FileName, req.Data)
		if err != nil {
			return "", fmt.Errorf("upload document: %w", err)
		}
		report("generate", "Génération des écritures FEC", 60)
		return c.generator.FromDocument(ctx, docURL)
	}

	report("extract", "Extraction du texte (OCR)", 15)
	extracted, err := c.extractor.Extract(ctx, req.Data)
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	for method, n := range extracted.PagesByMethod() {
		c.metrics.RecordOCRPages(method, n)
	}
	res.ExtractedText = extracted.Text
	res.Warnings = append(res.Warnings, extracted.Warnings...)
	record.ExtractedText = extracted.Text

	if mode == config.ModeJSON {
		report("invoice", "Extraction des données de la facture", 40)
		inv, rawJSON, err := c.generator.ExtractInvoice(ctx, extracted.Text)
		if err != nil {
			return "", fmt.Errorf("extract invoice data: %w", err)
		}
		res.Invoice = inv
		record.InvoiceJSON = sql.NullString{String: rawJSON, Valid: true}

		report("generate", "Génération des écritures FEC", 60)
		return c.generator.FromInvoice(ctx, inv)
	}

	report("generate", "Génération des écritures FEC", 60)
	return c.generator.FromText(ctx, extracted.Text)
}

// fail records a failed run and returns err.
func (c *Converter) fail(ctx context.Context, log *zap.Logger, record *models.Conversion, start time.Time, err error) error {
	elapsed := time.Since(start)
	c.metrics.RecordConversion(record.Mode, false, elapsed)
	log.Warn("conversion failed", zap.Error(err), zap.Duration("duration", elapsed))

	if errors.Is(err, context.Canceled) {
		return err
	}

	record.Status = models.ConversionFailed
	record.Error = sql.NullString{String: err.Error(), Valid: true}
	record.DurationMS = elapsed.Milliseconds()
	if saveErr := c.conversions.Create(context.WithoutCancel(ctx), record); saveErr != nil {
		log.Error("save failed conversion", zap.Error(saveErr))
	}
	return err
}
