package ocr

import (
	"context"
	"time"
)

// Extractor turns PDF bytes into plain text.
type Extractor interface {
	Extract(ctx context.Context, pdf []byte) (Result, error)
}

// Page extraction methods.
const (
	MethodTextLayer = "text_layer"
	MethodTesseract = "tesseract"
	MethodMistral   = "mistral"
)

// PageResult describes how one page was read.
type PageResult struct {
	Number int    `json:"number"`
	Method string `json:"method"`
	Chars  int    `json:"chars"`
}

// Result is the outcome of an extraction. Text holds the page texts in page
// order, separated by a newline.
type Result struct {
	Text        string        `json:"text"`
	Pages       int           `json:"pages"`
	Method      string        `json:"method"`
	PageResults []PageResult  `json:"page_results"`
	Duration    time.Duration `json:"duration"`
	Warnings    []string      `json:"warnings,omitempty"`
}

// PagesByMethod counts pages per extraction method.
func (r Result) PagesByMethod() map[string]int {
	counts := make(map[string]int)
	for _, p := range r.PageResults {
		counts[p.Method]++
	}
	return counts
}
