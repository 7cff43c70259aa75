package ocr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"facture-fec/internal/apperr"
)

// LocalOptions configures a LocalExtractor.
type LocalOptions struct {
	DPI         int
	Lang        string
	Full        bool // OCR every page, ignoring text layers
	Ghostscript string
	Tesseract   string
	Runner      Runner
	Logger      *zap.Logger
}

// LocalExtractor reads the embedded text layer of each page and falls back to
// ghostscript + tesseract for pages without one.
type LocalExtractor struct {
	opts   LocalOptions
	logger *zap.Logger
}

// NewLocalExtractor fills unset options with defaults.
func NewLocalExtractor(opts LocalOptions) *LocalExtractor {
	if opts.DPI <= 0 {
		opts.DPI = 72
	}
	if opts.Lang == "" {
		opts.Lang = "fra"
	}
	if opts.Ghostscript == "" {
		opts.Ghostscript = "gs"
	}
	if opts.Tesseract == "" {
		opts.Tesseract = "tesseract"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{Logger: logger}
	}
	return &LocalExtractor{opts: opts, logger: logger}
}

func (e *LocalExtractor) Extract(ctx context.Context, data []byte) (Result, error) {
	start := time.Now()

	r, err := openPDF(data)
	if err != nil {
		return Result{}, err
	}
	total, err := PageCount(data)
	if err != nil {
		return Result{}, err
	}

	res := Result{Pages: total, Method: MethodTextLayer}

	// ghostscript needs a file; written lazily on the first page that needs OCR
	var pdfPath string
	var workDir string
	defer func() {
		if workDir != "" {
			os.RemoveAll(workDir)
		}
	}()

	texts := make([]string, 0, total)
	nonEmpty := 0
	for num := 1; num <= total; num++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		method := MethodTextLayer
		text := ""
		if !e.opts.Full {
			text, err = pageText(r, num)
			if err != nil {
				res.Warnings = append(res.Warnings, err.Error())
				text = ""
			}
			text = strings.TrimSpace(text)
		}

		if text == "" {
			if workDir == "" {
				workDir, err = os.MkdirTemp("", "facture-ocr-*")
				if err != nil {
					return Result{}, fmt.Errorf("create temp dir: %w", err)
				}
				pdfPath = filepath.Join(workDir, "input.pdf")
				if err := os.WriteFile(pdfPath, data, 0o600); err != nil {
					return Result{}, fmt.Errorf("write temp pdf: %w", err)
				}
			}

			method = MethodTesseract
			text, err = e.ocrPage(ctx, pdfPath, workDir, num)
			if err != nil {
				if ctx.Err() != nil {
					return Result{}, ctx.Err()
				}
				e.logger.Warn("page ocr failed", zap.Int("page", num), zap.Error(err))
				res.Warnings = append(res.Warnings, fmt.Sprintf("page %d: %v", num, err))
				text = ""
			}
			res.Method = MethodTesseract
		}

		if text != "" {
			nonEmpty++
		}
		texts = append(texts, text)
		res.PageResults = append(res.PageResults, PageResult{Number: num, Method: method, Chars: len(text)})
	}

	if nonEmpty == 0 {
		if len(res.Warnings) > 0 {
			return Result{}, apperr.New(apperr.CodeOCR, "no text found in any page", errors.New(strings.Join(res.Warnings, "; ")))
		}
		return Result{}, apperr.New(apperr.CodeOCR, "no text found in any page")
	}

	res.Text = strings.Join(texts, "\n")
	res.Duration = time.Since(start)
	e.logger.Debug("pdf text extracted",
		zap.Int("pages", total),
		zap.String("method", res.Method),
		zap.Int("chars", len(res.Text)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// ocrPage renders one page to PNG and runs tesseract on it.
func (e *LocalExtractor) ocrPage(ctx context.Context, pdfPath, dir string, num int) (string, error) {
	png := filepath.Join(dir, fmt.Sprintf("page-%03d.png", num))
	page := strconv.Itoa(num)

	_, stderr, err := e.opts.Runner.Run(ctx, e.opts.Ghostscript,
		"-dQUIET",
		"-dSAFER",
		"-dNOPAUSE",
		"-dBATCH",
		"-sDEVICE=png16m",
		"-r"+strconv.Itoa(e.opts.DPI),
		"-dFirstPage="+page,
		"-dLastPage="+page,
		"-sOutputFile="+png,
		pdfPath,
	)
	if err != nil {
		return "", fmt.Errorf("ghostscript: %w: %s", err, truncate(string(stderr), 512))
	}

	// tesseract <image> stdout -l <lang>
	out, stderr, err := e.opts.Runner.Run(ctx, e.opts.Tesseract, png, "stdout", "-l", e.opts.Lang)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, truncate(string(stderr), 512))
	}
	return strings.TrimSpace(string(out)), nil
}
