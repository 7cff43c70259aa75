package services

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facture-fec/internal/apperr"
	"facture-fec/internal/metrics"
	"facture-fec/internal/models"
	"facture-fec/internal/ocr"
	"facture-fec/internal/testpdf"
)

type converterFixture struct {
	conv        *Converter
	conversions *ConversionService
	extractor   *stubExtractor
	llm         *fakeLLM
	metrics     *metrics.Metrics
}

func newConverterFixture(t *testing.T, reply func(prompt string) (string, int)) *converterFixture {
	t.Helper()
	conn := newTestDB(t)
	llm := newFakeLLM(t, reply)
	m := metrics.New()
	ex := &stubExtractor{result: ocr.Result{
		Text:        "FACTURE FA-2024-001\nDupont SARL\nTotal TTC 1200,00",
		Pages:       1,
		Method:      ocr.MethodTextLayer,
		PageResults: []ocr.PageResult{{Number: 1, Method: ocr.MethodTextLayer, Chars: 48}},
	}}
	conversions := NewConversionService(conn)
	conv := NewConverter(
		NewDocumentService(conn, t.TempDir()),
		conversions,
		ex,
		newTestGenerator(llm, NewLLMGuard(GuardConfig{}, m, nil)),
		"text",
		m,
		nil,
	)
	return &converterFixture{conv: conv, conversions: conversions, extractor: ex, llm: llm, metrics: m}
}

type progressLog struct {
	mu    sync.Mutex
	steps []string
}

func (p *progressLog) callback(step, _ string, _, _ int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, step)
}

func TestConverterTextMode(t *testing.T) {
	f := newConverterFixture(t, func(string) (string, int) {
		return "Voici le FEC :\n```csv\n" + sampleFEC + "\n```", http.StatusOK
	})
	ctx := context.Background()

	var progress progressLog
	res, err := f.conv.ConvertWithProgress(ctx, ConvertRequest{
		FileName: "facture.pdf",
		Data:     testpdf.Build("FACTURE"),
	}, progress.callback)
	require.NoError(t, err)

	assert.Equal(t, []string{"store", "extract", "generate", "parse", "save", "complete"}, progress.steps)
	assert.Equal(t, "text", res.Mode)
	assert.Equal(t, "mistral-large-latest", res.Model)
	assert.True(t, strings.HasPrefix(res.Text, "Voici le FEC"))
	require.NotNil(t, res.FEC)
	assert.Len(t, res.FEC.Entries, 3)
	assert.Empty(t, res.Issues)
	assert.True(t, res.Balanced)
	assert.Equal(t, 1, res.Pages)
	assert.NotZero(t, res.ConversionID)

	prompts := f.llm.Prompts()
	require.Len(t, prompts, 1)
	assert.Equal(t, FECPrompt+f.extractor.result.Text, prompts[0])

	saved, err := f.conversions.Get(ctx, res.ConversionID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversionSucceeded, saved.Status)
	assert.Equal(t, res.Text, saved.FECRaw)
	assert.Equal(t, 3, saved.EntryCount)
	assert.True(t, saved.Balanced)
	assert.Equal(t, f.extractor.result.Text, saved.ExtractedText)
	assert.False(t, saved.InvoiceJSON.Valid)

	body := scrape(t, f.metrics)
	assert.Contains(t, body, `fec_conversions_total{mode="text",status="success"} 1`)
	assert.Contains(t, body, `fec_ocr_pages_total{method="text_layer"} 1`)
	assert.Contains(t, body, `fec_llm_requests_total{kind="fec_text",status="success"} 1`)
}

func TestConverterJSONMode(t *testing.T) {
	f := newConverterFixture(t, func(prompt string) (string, int) {
		if strings.Contains(prompt, "objet JSON") {
			return `{"supplier":"Dupont SARL","invoice_number":"FA-2024-001","invoice_date":"2024-01-15","total_ht":1000,"total_tva":200,"total_ttc":1200}`, http.StatusOK
		}
		return sampleFEC, http.StatusOK
	})

	var progress progressLog
	res, err := f.conv.ConvertWithProgress(context.Background(), ConvertRequest{
		FileName: "facture.pdf",
		Data:     testpdf.Build("FACTURE"),
		Mode:     "json",
	}, progress.callback)
	require.NoError(t, err)

	assert.Equal(t, []string{"store", "extract", "invoice", "generate", "parse", "save", "complete"}, progress.steps)
	require.NotNil(t, res.Invoice)
	assert.Equal(t, "FA-2024-001", res.Invoice.InvoiceNumber)
	assert.Equal(t, sampleFEC, res.Text)

	saved, err := f.conversions.Get(context.Background(), res.ConversionID)
	require.NoError(t, err)
	assert.Equal(t, "json", saved.Mode)
	assert.True(t, saved.InvoiceJSON.Valid)
	assert.Contains(t, saved.InvoiceJSON.String, "Dupont SARL")
}

func TestConverterDocumentMode(t *testing.T) {
	f := newConverterFixture(t, func(string) (string, int) { return sampleFEC, http.StatusOK })

	res, err := f.conv.Convert(context.Background(), ConvertRequest{
		FileName: "facture.pdf",
		Data:     testpdf.Build("FACTURE"),
		Mode:     "document",
	})
	require.NoError(t, err)

	assert.Equal(t, 0, f.extractor.calls)
	assert.Empty(t, res.ExtractedText)
	assert.True(t, res.Balanced)

	prompts := f.llm.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "[https://signed.example/file-1]")
}

func TestConverterUnparseableOutputStillSucceeds(t *testing.T) {
	f := newConverterFixture(t, func(string) (string, int) {
		return "Désolé, je ne peux pas générer ce fichier.", http.StatusOK
	})

	res, err := f.conv.Convert(context.Background(), ConvertRequest{FileName: "f.pdf", Data: testpdf.Build("x")})
	require.NoError(t, err)
	assert.Equal(t, "Désolé, je ne peux pas générer ce fichier.", res.Text)
	assert.Nil(t, res.FEC)
	assert.False(t, res.Balanced)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "non analysable")
}

func TestConverterRecordsFailures(t *testing.T) {
	f := newConverterFixture(t, func(string) (string, int) { return "", http.StatusInternalServerError })
	ctx := context.Background()

	_, err := f.conv.Convert(ctx, ConvertRequest{FileName: "panne.pdf", Data: testpdf.Build("x")})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeLLM, apperr.GetCode(err))

	list, err := f.conversions.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.ConversionFailed, list[0].Status)
	assert.Equal(t, "panne.pdf", list[0].InvoiceName)
	assert.Contains(t, list[0].Error.String, "LLM_FAILED")

	assert.Contains(t, scrape(t, f.metrics), `fec_conversions_total{mode="text",status="error"} 1`)
}

func TestConverterExtractionFailure(t *testing.T) {
	f := newConverterFixture(t, func(string) (string, int) { return sampleFEC, http.StatusOK })
	f.extractor.err = apperr.New(apperr.CodeOCR, "no text found in any page")

	_, err := f.conv.Convert(context.Background(), ConvertRequest{FileName: "scan.pdf", Data: testpdf.Build("")})
	assert.ErrorIs(t, err, apperr.ErrOCR)
	assert.Empty(t, f.llm.Prompts())
}

func TestConverterRejectsInput(t *testing.T) {
	f := newConverterFixture(t, func(string) (string, int) { return sampleFEC, http.StatusOK })
	ctx := context.Background()

	_, err := f.conv.Convert(ctx, ConvertRequest{FileName: "vide.pdf"})
	assert.ErrorIs(t, err, apperr.ErrNoFile)

	_, err = f.conv.Convert(ctx, ConvertRequest{FileName: "f.pdf", Data: testpdf.Build("x"), Mode: "vision"})
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	_, err = f.conv.Convert(ctx, ConvertRequest{FileName: "image.png", Data: []byte("\x89PNG....")})
	assert.ErrorIs(t, err, apperr.ErrInvalidPDF)

	list, err := f.conversions.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, f.llm.Prompts())
}

func TestConverterWithoutProvider(t *testing.T) {
	conn := newTestDB(t)
	conv := NewConverter(
		NewDocumentService(conn, t.TempDir()),
		NewConversionService(conn),
		&stubExtractor{},
		NewFECGenerator(GeneratorConfig{Model: "mistral-large-latest"}, nil, nil, nil),
		"",
		nil,
		nil,
	)
	assert.Equal(t, "text", conv.DefaultMode())

	_, err := conv.Convert(context.Background(), ConvertRequest{FileName: "f.pdf", Data: testpdf.Build("x")})
	assert.ErrorIs(t, err, apperr.ErrLLMUnavailable)
}
