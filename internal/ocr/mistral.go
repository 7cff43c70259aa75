package ocr

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"facture-fec/internal/apperr"
)

// Guard runs one provider call under rate limiting and failure tracking.
// kind labels the call in metrics.
type Guard interface {
	Do(ctx context.Context, kind string, call func(ctx context.Context) (string, error)) (string, error)
}

// MistralExtractor delegates OCR to the provider: the PDF is uploaded, signed
// and passed to the OCR model.
type MistralExtractor struct {
	client *DocumentClient
	guard  Guard
	name   string
	logger *zap.Logger
}

// NewMistralExtractor returns an extractor using client. guard may be nil.
func NewMistralExtractor(client *DocumentClient, guard Guard, logger *zap.Logger) *MistralExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MistralExtractor{client: client, guard: guard, name: "facture.pdf", logger: logger}
}

func (e *MistralExtractor) do(ctx context.Context, kind string, call func(ctx context.Context) (string, error)) (string, error) {
	if e.guard == nil {
		return call(ctx)
	}
	return e.guard.Do(ctx, kind, call)
}

func (e *MistralExtractor) Extract(ctx context.Context, data []byte) (Result, error) {
	start := time.Now()

	total, err := PageCount(data)
	if err != nil {
		return Result{}, err
	}

	docURL, err := e.do(ctx, "ocr_upload", func(ctx context.Context) (string, error) {
		return e.client.UploadDocument(ctx, e.name, data)
	})
	if err != nil {
		return Result{}, err
	}
	var resp OCRResponse
	_, err = e.do(ctx, "ocr", func(ctx context.Context) (string, error) {
		r, err := e.client.OCR(ctx, docURL)
		resp = r
		return "", err
	})
	if err != nil {
		return Result{}, err
	}

	pages := append([]OCRPage(nil), resp.Pages...)
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Index < pages[j].Index })

	res := Result{Pages: total, Method: MethodMistral}
	texts := make([]string, 0, len(pages))
	nonEmpty := 0
	for _, p := range pages {
		text := strings.TrimSpace(p.Markdown)
		if text != "" {
			nonEmpty++
		}
		texts = append(texts, text)
		res.PageResults = append(res.PageResults, PageResult{Number: p.Index + 1, Method: MethodMistral, Chars: len(text)})
	}
	if nonEmpty == 0 {
		return Result{}, apperr.New(apperr.CodeOCR, "remote ocr returned no text")
	}

	res.Text = strings.Join(texts, "\n")
	res.Duration = time.Since(start)
	e.logger.Debug("remote ocr done", zap.Int("pages", len(pages)), zap.Duration("duration", res.Duration))
	return res, nil
}
