package ocr

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"

	"facture-fec/internal/apperr"
)

// openPDF parses data with the pdf library. The library panics on some
// malformed inputs, so panics are turned into INVALID_PDF errors.
func openPDF(data []byte) (r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r = nil
			err = apperr.New(apperr.CodeInvalidPDF, "unreadable pdf", fmt.Errorf("%v", rec))
		}
	}()

	if len(data) == 0 {
		return nil, apperr.New(apperr.CodeInvalidPDF, "empty pdf")
	}
	r, err = pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apperr.New(apperr.CodeInvalidPDF, "open pdf", err)
	}
	return r, nil
}

// PageCount returns the number of pages. A document without pages is invalid.
func PageCount(data []byte) (n int, err error) {
	r, err := openPDF(data)
	if err != nil {
		return 0, err
	}
	defer func() {
		if rec := recover(); rec != nil {
			n = 0
			err = apperr.New(apperr.CodeInvalidPDF, "read page tree", fmt.Errorf("%v", rec))
		}
	}()

	n = r.NumPage()
	if n == 0 {
		return 0, apperr.New(apperr.CodeInvalidPDF, "pdf has no pages")
	}
	return n, nil
}

// pageText returns the text layer of a 1-based page.
func pageText(r *pdf.Reader, num int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
			err = fmt.Errorf("read text layer of page %d: %v", num, rec)
		}
	}()

	p := r.Page(num)
	if p.V.IsNull() {
		return "", nil
	}
	return p.GetPlainText(nil)
}
