package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"facture-fec/internal/apperr"
	"facture-fec/internal/ocr"
)

// FECPrompt asks the model for the bare FEC CSV of an invoice. The invoice
// text or JSON is appended after the colon.
const FECPrompt = "Crée et retourne uniquement sans explication juste le csv des écritures comptables en format FEC (fichiers des écritures comptables) pour la saisie comptable de cette facture: \n"

// FECDocumentPrompt is used when the invoice is attached as a document.
const FECDocumentPrompt = "Crée et retourne uniquement sans explication juste le csv des écritures comptables en format FEC (fichiers des écritures comptables) pour la saisie comptable de la facture jointe."

const invoiceJSONPrompt = `Extrais les informations de cette facture et retourne uniquement un objet JSON, sans explication, avec exactement ces clés:
{
  "supplier": "nom du fournisseur",
  "supplier_vat": "numéro de TVA intracommunautaire ou vide",
  "customer": "nom du client",
  "invoice_number": "numéro de facture",
  "invoice_date": "AAAA-MM-JJ",
  "due_date": "AAAA-MM-JJ ou vide",
  "currency": "code ISO de la devise, EUR par défaut",
  "total_ht": 0.0,
  "total_tva": 0.0,
  "total_ttc": 0.0,
  "vat_lines": [{"rate": 20.0, "base": 0.0, "amount": 0.0}],
  "lines": [{"description": "", "quantity": 1, "unit_price": 0.0, "amount_ht": 0.0}]
}
Facture:
`

// VATLine is one VAT rate block of an invoice.
type VATLine struct {
	Rate   float64 `json:"rate"`
	Base   float64 `json:"base"`
	Amount float64 `json:"amount"`
}

// InvoiceLine is one billed item.
type InvoiceLine struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	AmountHT    float64 `json:"amount_ht"`
}

// InvoiceData is the structured form of an invoice used by the json mode.
type InvoiceData struct {
	Supplier      string        `json:"supplier"`
	SupplierVAT   string        `json:"supplier_vat,omitempty"`
	Customer      string        `json:"customer,omitempty"`
	InvoiceNumber string        `json:"invoice_number"`
	InvoiceDate   string        `json:"invoice_date"`
	DueDate       string        `json:"due_date,omitempty"`
	Currency      string        `json:"currency"`
	TotalHT       float64       `json:"total_ht"`
	TotalTVA      float64       `json:"total_tva"`
	TotalTTC      float64       `json:"total_ttc"`
	VATLines      []VATLine     `json:"vat_lines,omitempty"`
	Lines         []InvoiceLine `json:"lines,omitempty"`
}

// GeneratorConfig configures a FECGenerator.
type GeneratorConfig struct {
	APIKey   string
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// FECGenerator asks the chat model for FEC entries.
type FECGenerator struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	docs    *ocr.DocumentClient
	guard   *LLMGuard
	logger  *zap.Logger
}

// NewFECGenerator returns a generator; without an API key every call fails
// with LLM_UNAVAILABLE. docs may be nil when the document mode is not used.
func NewFECGenerator(cfg GeneratorConfig, docs *ocr.DocumentClient, guard *LLMGuard, logger *zap.Logger) *FECGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &FECGenerator{
		model:   cfg.Model,
		timeout: cfg.Timeout,
		docs:    docs,
		guard:   guard,
		logger:  logger,
	}
	if cfg.APIKey != "" {
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.Endpoint != "" {
			clientCfg.BaseURL = cfg.Endpoint
		}
		g.client = openai.NewClientWithConfig(clientCfg)
	}
	return g
}

func (g *FECGenerator) disabled() bool {
	return g.client == nil || g.model == ""
}

// Model is the chat model name recorded with each conversion.
func (g *FECGenerator) Model() string {
	return g.model
}

// Available reports whether the provider is configured.
func (g *FECGenerator) Available() bool {
	return !g.disabled()
}

// FromText sends the extracted invoice text with the FEC instruction and
// returns the model's reply unchanged.
func (g *FECGenerator) FromText(ctx context.Context, text string) (string, error) {
	return g.complete(ctx, "fec_text", FECPrompt+text)
}

// ExtractInvoice asks the model for a JSON description of the invoice. The
// raw JSON is returned along with the decoded value.
func (g *FECGenerator) ExtractInvoice(ctx context.Context, text string) (*InvoiceData, string, error) {
	content, err := g.complete(ctx, "invoice_json", invoiceJSONPrompt+text)
	if err != nil {
		return nil, "", err
	}

	jsonStr := extractJSON(content)
	var data InvoiceData
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		g.logger.Warn("invoice json did not decode",
			zap.Error(err),
			zap.String("raw", truncateText(content, 2000)),
		)
		return nil, content, apperr.New(apperr.CodeLLM, "model returned invalid invoice json", err)
	}
	if data.Currency == "" {
		data.Currency = "EUR"
	}
	return &data, jsonStr, nil
}

// FromInvoice runs the FEC instruction over the structured invoice.
func (g *FECGenerator) FromInvoice(ctx context.Context, inv *InvoiceData) (string, error) {
	payload, err := json.MarshalIndent(inv, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal invoice: %w", err)
	}
	return g.complete(ctx, "fec_json", FECPrompt+string(payload))
}

// FromDocument sends the FEC instruction with the uploaded document attached.
func (g *FECGenerator) FromDocument(ctx context.Context, documentURL string) (string, error) {
	if g.docs == nil || !g.docs.Configured() {
		return "", apperr.ErrLLMUnavailable
	}
	return g.guard.Do(ctx, "fec_document", func(ctx context.Context) (string, error) {
		ctx, cancel := g.withTimeout(ctx)
		defer cancel()
		return g.docs.ChatWithDocument(ctx, documentURL, FECDocumentPrompt)
	})
}

// UploadDocument hands the PDF to the provider and returns a signed URL.
func (g *FECGenerator) UploadDocument(ctx context.Context, name string, data []byte) (string, error) {
	if g.docs == nil || !g.docs.Configured() {
		return "", apperr.ErrLLMUnavailable
	}
	return g.guard.Do(ctx, "upload", func(ctx context.Context) (string, error) {
		ctx, cancel := g.withTimeout(ctx)
		defer cancel()
		return g.docs.UploadDocument(ctx, name, data)
	})
}

func (g *FECGenerator) complete(ctx context.Context, kind, prompt string) (string, error) {
	if g.disabled() {
		return "", apperr.ErrLLMUnavailable
	}

	return g.guard.Do(ctx, kind, func(ctx context.Context) (string, error) {
		ctx, cancel := g.withTimeout(ctx)
		defer cancel()

		req := openai.ChatCompletionRequest{
			Model: g.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		}

		start := time.Now()
		resp, err := g.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return "", apperr.New(apperr.CodeLLM, "chat completion request failed", err)
		}
		if len(resp.Choices) == 0 {
			return "", apperr.New(apperr.CodeLLM, "model returned no choices")
		}
		content := strings.TrimSpace(resp.Choices[0].Message.Content)
		if content == "" {
			return "", apperr.New(apperr.CodeLLM, "model returned empty content")
		}

		g.logger.Debug("chat completion",
			zap.String("kind", kind),
			zap.String("model", g.model),
			zap.Int("prompt_chars", len(prompt)),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			zap.Duration("duration", time.Since(start)),
		)
		return content, nil
	})
}

func (g *FECGenerator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// extractJSON removes markdown code block formatting if present and extracts the JSON
func extractJSON(content string) string {
	content = strings.TrimSpace(content)

	// Remove markdown code blocks like ```json ... ``` or ``` ... ```
	if strings.HasPrefix(content, "```") {
		start := 3
		if newlineIdx := strings.Index(content[start:], "\n"); newlineIdx != -1 {
			start += newlineIdx + 1
		}
		if endIdx := strings.Index(content[start:], "```"); endIdx != -1 {
			content = content[start : start+endIdx]
		} else {
			content = content[start:]
		}
	}

	content = strings.TrimSpace(content)

	// Additional safety: find the first { and last } to extract just the JSON object
	if startIdx := strings.Index(content, "{"); startIdx != -1 {
		if endIdx := strings.LastIndex(content, "}"); endIdx != -1 && endIdx > startIdx {
			content = content[startIdx : endIdx+1]
		}
	}

	return strings.TrimSpace(content)
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
